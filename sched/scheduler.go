// Package sched owns the background goroutines of a driver session.
//
// Every goroutine the engine starts (poll loops, stream readers, monitor
// callbacks, detached drains) is started through a Scheduler so that a
// single Shutdown call cancels and waits for all of them.
package sched

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
)

// ErrShutdown is returned by Go once Shutdown has been called.
var ErrShutdown = errors.New("scheduler is shut down")

// Task is a unit of background work. The context is cancelled on Shutdown.
type Task func(ctx context.Context) error

// Scheduler runs tasks on goroutines bound to one cancellable context.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu      sync.Mutex
	wg      sync.WaitGroup
	closed  bool
	running int
}

// New creates a Scheduler whose tasks are cancelled when parent is done or
// Shutdown is called.
func New(parent context.Context, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(parent)
	return &Scheduler{ctx: ctx, cancel: cancel, logger: logger}
}

// Context returns the context shared by all tasks
func (s *Scheduler) Context() context.Context {
	return s.ctx
}

// Go starts task on its own goroutine. A returned error other than
// context cancellation is logged; a panic is recovered and logged so one
// failing task cannot take down the process.
func (s *Scheduler) Go(name string, task Task) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("start %s: %w", name, ErrShutdown)
	}
	s.wg.Add(1)
	s.running++
	s.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("task panicked", "task", name, "panic", r, "stack", string(debug.Stack()))
			}
			s.mu.Lock()
			s.running--
			s.mu.Unlock()
			s.wg.Done()
		}()
		if err := task(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("task failed", "task", name, "error", err)
		}
	}()
	return nil
}

// Running returns the number of tasks that have not returned yet
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Shutdown cancels every task and waits for them to return, or for ctx to
// expire. It is idempotent.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d tasks: %w", s.Running(), ctx.Err())
	}
}
