package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/filegrind/scriptlink-go/clock"
	"github.com/filegrind/scriptlink-go/wire"
)

// DefaultPollInterval is the delay between two poll round trips.
const DefaultPollInterval = 500 * time.Millisecond

// Poller performs one round trip: it ships batch and returns whatever
// frames the remote side has ready.
type Poller func(ctx context.Context, batch []wire.Command) (wire.PollResult, error)

// PollOptions tunes a Poll transport. Zero values select defaults.
type PollOptions struct {
	Interval time.Duration
	MaxBatch int
	Clock    clock.Clock
}

// Poll queues commands and exchanges them for frames on a fixed interval.
// A failed round trip keeps its commands queued for the next one.
type Poll struct {
	sink     FrameSink
	poll     Poller
	interval time.Duration
	maxBatch int
	clock    clock.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	pending []wire.Command
	closed  bool

	flushMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// NewPoll creates a poll transport
func NewPoll(sink FrameSink, poll Poller, opts PollOptions, logger *slog.Logger) *Poll {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = wire.DefaultMaxBatch
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Poll{
		sink:     sink,
		poll:     poll,
		interval: opts.Interval,
		maxBatch: opts.MaxBatch,
		clock:    opts.Clock,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Send queues cmd for the next flush
func (p *Poll) Send(ctx context.Context, cmd wire.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.pending = append(p.pending, cmd)
	return nil
}

// Pending returns the number of queued commands
func (p *Poll) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Flush performs one round trip with up to MaxBatch queued commands and
// dispatches the returned frames in order. On failure the commands go
// back to the front of the queue and the error is returned.
func (p *Poll) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	batch := p.take()
	res, err := p.poll(ctx, batch)
	if err != nil {
		p.requeue(batch)
		return fmt.Errorf("poll with %d commands: %w", len(batch), err)
	}

	for _, malformed := range res.Malformed {
		p.logger.Warn("skipping malformed poll entry", "error", malformed)
	}
	for _, frame := range res.Frames {
		p.sink.DispatchFrame(frame)
	}
	if len(batch) > 0 || len(res.Frames) > 0 {
		p.logger.Debug("poll complete", "sent", len(batch), "received", len(res.Frames))
	}
	return nil
}

// FlushAll flushes until the queue is empty. Each round trip carries at
// most MaxBatch commands, so a large backlog takes several round trips.
func (p *Poll) FlushAll(ctx context.Context) error {
	for {
		if err := p.Flush(ctx); err != nil {
			return err
		}
		if p.Pending() == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// Run drains the whole queue once per interval until ctx is done or the
// transport is closed. Failed flushes are logged and retried on the next
// tick.
func (p *Poll) Run(ctx context.Context) error {
	for {
		if err := p.FlushAll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("poll failed", "error", err, "pending", p.Pending())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return nil
		case <-p.clock.After(p.interval):
		}
	}
}

// Close stops Run and rejects further commands. Queued commands are
// discarded.
func (p *Poll) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.pending = nil
		p.mu.Unlock()
		close(p.done)
	})
	return nil
}

func (p *Poll) take() []wire.Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.pending)
	if n > p.maxBatch {
		n = p.maxBatch
	}
	batch := make([]wire.Command, n)
	copy(batch, p.pending[:n])
	p.pending = p.pending[n:]
	return batch
}

func (p *Poll) requeue(batch []wire.Command) {
	if len(batch) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.pending = append(batch, p.pending...)
}
