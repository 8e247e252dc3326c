// Package scripttest runs an in-process stand-in for the remote script,
// for tests of code built on a driver.
//
// A Script maps qualified command names to handlers. It serves commands
// from a CBOR stream (Serve) or from poll batches (Poll), and answers with
// the same FINAL, PARTIAL and ERROR frames the real script sends.
package scripttest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/filegrind/scriptlink-go/wire"
)

// Emitter lets a handler answer its command. Frames sent after the
// handler's terminal frame are dropped.
type Emitter interface {
	// Item sends a PARTIAL frame carrying v under the "item" key, as
	// finite streams expect.
	Item(v any) error
	// Partial sends a PARTIAL frame with v as its payload, as monitors
	// expect.
	Partial(v any) error
	// Final sends the FINAL frame.
	Final(v any) error
	// Error sends an ERROR frame.
	Error(name, message string, params map[string]any) error
}

// HandlerFunc serves one command. ctx is cancelled when the command is
// stopped with stopMonitor or the script shuts down. A handler that
// returns an error without having answered is answered with
// UnknownError; one that returns nil without answering stays open, as a
// monitor does.
type HandlerFunc func(ctx context.Context, cmd wire.Command, out Emitter) error

// Script is the stand-in remote script
type Script struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	runMu   sync.Mutex
	running map[wire.ExecutionId]*execution
	wg      sync.WaitGroup

	outMu  sync.Mutex
	outbox []wire.Frame
}

// New creates a Script answering ping and stopMonitor
func New(logger *slog.Logger) *Script {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Script{
		logger:   logger,
		handlers: make(map[string]HandlerFunc),
		running:  make(map[wire.ExecutionId]*execution),
	}
	s.Handle("ping", func(_ context.Context, _ wire.Command, out Emitter) error {
		return out.Final("pong")
	})
	s.Handle("stopMonitor", s.stopMonitor)
	return s
}

// Handle registers h for the qualified command name
func (s *Script) Handle(command string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[command] = h
}

// Serve reads commands from r and writes frames to w until r ends or ctx
// is done. It waits for running handlers before returning.
func (s *Script) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := wire.NewFrameReader(r)
	writer := wire.NewFrameWriter(w)
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.wg.Wait()
	}()

	for {
		cmd, err := reader.ReadCommand()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			if errors.Is(err, wire.ErrMalformedFrame) {
				s.logger.Warn("skipping malformed command", "error", err)
				continue
			}
			return err
		}
		s.dispatch(ctx, cmd, writer.WriteFrame)
	}
}

// Poll accepts a batch of commands and returns every frame produced since
// the previous call. Commands missing an id or a name are rejected in
// the reply, as the real script does. It matches transport.Poller.
func (s *Script) Poll(ctx context.Context, batch []wire.Command) (wire.PollResult, error) {
	var rejected []wire.Frame
	for _, cmd := range batch {
		switch {
		case cmd.ExecutionId.IsZero():
			s.logger.Warn("rejecting command without execution id", "command", cmd.Command)
		case cmd.Command == "":
			rejected = append(rejected, wire.NewError(cmd.ExecutionId, "RequiredCommandName", "command name is required", nil))
		default:
			s.dispatch(context.WithoutCancel(ctx), cmd, s.collect)
		}
	}

	s.outMu.Lock()
	frames := append(rejected, s.outbox...)
	s.outbox = nil
	s.outMu.Unlock()
	return wire.PollResult{Frames: frames}, nil
}

// Wait blocks until every running handler has returned
func (s *Script) Wait() {
	s.wg.Wait()
}

// Running reports how many commands are still open
func (s *Script) Running() int {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return len(s.running)
}

func (s *Script) collect(frame wire.Frame) error {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	s.outbox = append(s.outbox, frame)
	return nil
}

func (s *Script) dispatch(ctx context.Context, cmd wire.Command, write func(wire.Frame) error) {
	out := &emitter{id: cmd.ExecutionId, write: write}

	s.mu.RLock()
	h, ok := s.handlers[cmd.Command]
	s.mu.RUnlock()
	if !ok {
		_ = out.Error("CommandNotFound", fmt.Sprintf("command %s not found", cmd.Command), map[string]any{"command": cmd.Command})
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.runMu.Lock()
	s.running[cmd.ExecutionId] = &execution{cancel: cancel, out: out}
	s.runMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := h(ctx, cmd, out)
		if out.ended() {
			s.release(cmd.ExecutionId)
		}
		if err != nil && !out.ended() {
			_ = out.Error("UnknownError", err.Error(), nil)
			s.release(cmd.ExecutionId)
		}
	}()
}

// execution is a command whose handler has not answered terminally
type execution struct {
	cancel context.CancelFunc
	out    *emitter
}

func (s *Script) take(id wire.ExecutionId) *execution {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	exec, ok := s.running[id]
	if !ok {
		return nil
	}
	delete(s.running, id)
	return exec
}

func (s *Script) release(id wire.ExecutionId) {
	if exec := s.take(id); exec != nil {
		exec.cancel()
	}
}

// stopMonitor ends the monitor named in params with StopMonitor and
// cancels its handler.
func (s *Script) stopMonitor(_ context.Context, cmd wire.Command, out Emitter) error {
	target, _ := cmd.Params["monitorId"].(string)
	exec := s.take(wire.ExecutionId(target))
	if exec == nil {
		return out.Error("ValueError", fmt.Sprintf("monitor %s not running", target), nil)
	}
	err := exec.out.Error("StopMonitor", "monitor stopped", nil)
	exec.cancel()
	if err != nil {
		return err
	}
	return out.Final(true)
}

// emitter writes frames for one execution
type emitter struct {
	id    wire.ExecutionId
	write func(wire.Frame) error

	mu   sync.Mutex
	done bool
}

func (e *emitter) Item(v any) error {
	return e.send(wire.NewItemPartial(e.id, v), false)
}

func (e *emitter) Partial(v any) error {
	return e.send(wire.NewPartial(e.id, v), false)
}

func (e *emitter) Final(v any) error {
	return e.send(wire.NewFinal(e.id, v), true)
}

func (e *emitter) Error(name, message string, params map[string]any) error {
	return e.send(wire.NewError(e.id, name, message, params), true)
}

func (e *emitter) send(frame wire.Frame, terminal bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return nil
	}
	if terminal {
		e.done = true
	}
	return e.write(frame)
}

func (e *emitter) ended() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}
