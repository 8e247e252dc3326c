package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/filegrind/scriptlink-go/wire"
)

// Push delivers frames as the remote side produces them. Frames for one
// execution arrive in the order the remote side emitted them; frames of
// different executions are not ordered.
type Push struct {
	sink   FrameSink
	send   SendFunc
	reader *wire.FrameReader
	logger *slog.Logger

	mu        sync.Mutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
	closer    io.Closer
}

// NewPush creates a push transport that ships commands with send. Frames
// come in through Deliver, DeliverCBOR or DeliverJSON.
func NewPush(sink FrameSink, send SendFunc, logger *slog.Logger) *Push {
	if logger == nil {
		logger = discardLogger()
	}
	return &Push{
		sink:   sink,
		send:   send,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// NewStreamPush creates a push transport over a pair of byte streams.
// Commands are written to w and frames are read from r, both as
// length-prefixed CBOR records. If r implements io.Closer it is closed by
// Close, which unblocks Run.
func NewStreamPush(sink FrameSink, r io.Reader, w io.Writer, limits wire.Limits, logger *slog.Logger) *Push {
	reader := wire.NewFrameReader(r)
	reader.SetLimits(limits)
	writer := wire.NewFrameWriter(w)
	writer.SetLimits(limits)

	p := NewPush(sink, func(_ context.Context, cmd wire.Command) error {
		return writer.WriteCommand(cmd)
	}, logger)
	p.reader = reader
	if c, ok := r.(io.Closer); ok {
		p.closer = c
	}
	return p
}

// Send validates cmd and ships it
func (p *Push) Send(ctx context.Context, cmd wire.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if p.isClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.send(ctx, cmd); err != nil {
		return fmt.Errorf("push %s: %w", cmd.Command, err)
	}
	p.logger.Debug("sent command", "execution", cmd.ExecutionId.String(), "command", cmd.Command)
	return nil
}

// Deliver is the local entry point the remote side calls once per frame
func (p *Push) Deliver(frame wire.Frame) {
	if p.isClosed() {
		p.logger.Debug("dropping frame after close", "execution", frame.ExecutionId.String())
		return
	}
	p.sink.DispatchFrame(frame)
}

// DeliverCBOR decodes one CBOR frame record and delivers it
func (p *Push) DeliverCBOR(data []byte) error {
	frame, err := wire.DecodeFrame(data)
	if err != nil {
		return err
	}
	p.Deliver(frame)
	return nil
}

// DeliverJSON decodes one JSON result object, as the remote script posts
// it, and delivers it.
func (p *Push) DeliverJSON(data []byte) error {
	frame, err := wire.DecodeResultFrame(data)
	if err != nil {
		return err
	}
	p.Deliver(frame)
	return nil
}

// Run reads frames from the stream until it ends. A clean end of stream
// returns nil. Malformed records are logged and skipped; only I/O errors
// and frame limit violations end Run. Without a stream, Run blocks until
// ctx is done or the transport is closed.
//
// A reader blocked in a read is only released by Close when the inbound
// stream is an io.Closer. Otherwise it exits on its next record once ctx
// is done.
func (p *Push) Run(ctx context.Context) error {
	if p.reader == nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return nil
		}
	}

	frames := make(chan wire.Frame, 64)
	readDone := make(chan error, 1)
	go func() {
		defer close(frames)
		for {
			frame, err := p.reader.ReadFrame()
			if err != nil {
				if errors.Is(err, wire.ErrMalformedFrame) {
					p.logger.Warn("skipping malformed frame", "error", err)
					continue
				}
				if errors.Is(err, io.EOF) {
					err = nil
				}
				readDone <- err
				return
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				readDone <- ctx.Err()
				return
			case <-p.done:
				readDone <- nil
				return
			}
		}
	}()

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				err := <-readDone
				if err != nil && p.isClosed() {
					return nil
				}
				return err
			}
			p.Deliver(frame)
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return nil
		}
	}
}

// Close stops delivery and closes the inbound stream if it can
func (p *Push) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.done)
		if p.closer != nil {
			err = p.closer.Close()
		}
	})
	return err
}

func (p *Push) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
