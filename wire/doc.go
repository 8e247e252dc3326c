// Package wire defines the envelope exchanged with the companion script
// running inside the page: outbound (executionId, command, params) triples
// and inbound (executionId, frameType, payload) frames.
//
// Two encodings are supported. The push stream carries length-prefixed
// CBOR records (FrameReader, FrameWriter). The poll transport exchanges a
// JSON array of commands for a JSON object of results and rejected
// commands (EncodePollRequest, DecodePollResponse); every inbound entry is
// checked against a JSON schema and malformed entries are reported rather
// than dispatched.
package wire
