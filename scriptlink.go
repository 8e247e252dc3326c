// Package scriptlink drives a command/result protocol spoken with a script
// running in a remote page.
//
// Every command carries an execution id. The remote side answers with
// FINAL, PARTIAL and ERROR frames tagged with that id, and a Driver routes
// each frame to the handle waiting for it: a single value, a finite
// stream, or a monitor that runs until cancelled. Commands are addressed
// through a tree of managers rooted at Driver.Root.
//
// The subpackages hold the parts; this file re-exports the names most
// callers need.
package scriptlink

import (
	"github.com/filegrind/scriptlink-go/result"
	"github.com/filegrind/scriptlink-go/router"
	"github.com/filegrind/scriptlink-go/transport"
	"github.com/filegrind/scriptlink-go/wire"
)

// Wire types
type Frame = wire.Frame
type FrameType = wire.FrameType
type Command = wire.Command
type ExecutionId = wire.ExecutionId
type Limits = wire.Limits

const (
	FrameTypeFinal   = wire.FrameTypeFinal
	FrameTypePartial = wire.FrameTypePartial
	FrameTypeError   = wire.FrameTypeError
)

var NewCommand = wire.NewCommand
var DefaultLimits = wire.DefaultLimits

// Result types
type Registry = result.Registry
type Handle = result.Handle
type Shape = result.Shape
type RemoteError = result.RemoteError
type MapError = result.MapError
type Kind = result.Kind

const (
	ShapeSingle  = result.ShapeSingle
	ShapeStream  = result.ShapeStream
	ShapeMonitor = result.ShapeMonitor
)

var (
	ErrStopped         = result.ErrStopped
	ErrUnknown         = result.ErrUnknown
	ErrCancelled       = result.ErrCancelled
	ErrStopIterator    = result.ErrStopIterator
	ErrStopMonitor     = result.ErrStopMonitor
	ErrChatNotFound    = result.ErrChatNotFound
	ErrContactNotFound = result.ErrContactNotFound
	ErrModelNotFound   = result.ErrModelNotFound
	IsStop             = result.IsStop
)

// Router types
type Node = router.Node

var ErrManagerNotFound = router.ErrManagerNotFound

// Transport types
type Transport = transport.Transport
type Push = transport.Push
type Poll = transport.Poll
type PollOptions = transport.PollOptions

var ErrClosed = transport.ErrClosed
