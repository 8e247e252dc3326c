// Package result holds the client side of every execution the driver has
// in flight.
//
// A command sent to the remote script is paired with a handle of one of
// three shapes. Single resolves once from a FINAL or ERROR frame. Stream
// yields the items of PARTIAL frames until FINAL or ERROR. Monitor yields
// items indefinitely and ends only on Cancel or an ERROR frame; it can
// also fan each item out to callbacks.
//
// The Registry issues execution ids, routes inbound frames to handles,
// and drops each handle as soon as it reaches its terminal state.
package result
