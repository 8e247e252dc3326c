// Package transport moves commands to the remote script and frames back.
//
// Two adapters exist. Push is fed by the remote side, one frame at a time,
// either through Deliver or from a length-prefixed CBOR stream. Poll
// queues outbound commands and exchanges them for a batch of frames on a
// fixed interval. Both hand every frame to a FrameSink, normally the
// result registry.
package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/filegrind/scriptlink-go/wire"
)

// ErrClosed is returned by Send and Run once a transport is closed.
var ErrClosed = errors.New("transport closed")

// FrameSink consumes inbound frames
type FrameSink interface {
	DispatchFrame(frame wire.Frame)
}

// Transport is what the driver needs from either adapter.
type Transport interface {
	// Send hands one command to the remote side, or queues it.
	Send(ctx context.Context, cmd wire.Command) error
	// Run drives inbound delivery until ctx is done, the transport is
	// closed, or the underlying stream fails.
	Run(ctx context.Context) error
	// Close stops the transport. It is safe to call more than once.
	Close() error
}

// SendFunc ships one command to the remote side
type SendFunc func(ctx context.Context, cmd wire.Command) error

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
