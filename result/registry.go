package result

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/filegrind/scriptlink-go/sched"
	"github.com/filegrind/scriptlink-go/wire"
)

// Registry owns every outstanding handle, keyed by execution id. It issues
// ids, routes inbound frames to handles, and drops a handle the moment it
// becomes terminal so unconsumed results cannot accumulate.
type Registry struct {
	mu      sync.Mutex
	nextId  uint64
	pending map[wire.ExecutionId]Handle

	kinds     *Kinds
	scheduler *sched.Scheduler
	logger    *slog.Logger
}

// NewRegistry creates an empty registry. Monitor callbacks and detached
// drains run on scheduler.
func NewRegistry(scheduler *sched.Scheduler, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		pending:   make(map[wire.ExecutionId]Handle),
		kinds:     NewKinds(),
		scheduler: scheduler,
		logger:    logger,
	}
}

// Kinds returns the error-kind table used to resolve ERROR frames
func (r *Registry) Kinds() *Kinds {
	return r.kinds
}

// register assigns the next id to b and stores h under it
func (r *Registry) register(b *base, shape Shape, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextId++
	id := wire.NewExecutionIdFromUint(r.nextId)

	b.id = id
	b.shape = shape
	b.kinds = r.kinds
	b.scheduler = r.scheduler
	b.logger = r.logger.With("execution", id.String(), "shape", shape.String())
	b.done = make(chan struct{})
	b.onTerminal = func() { r.evict(id) }

	r.pending[id] = h
}

func (r *Registry) evict(id wire.ExecutionId) {
	r.mu.Lock()
	_, ok := r.pending[id]
	delete(r.pending, id)
	r.mu.Unlock()
	if ok {
		r.logger.Debug("removed result", "execution", id.String())
	}
}

// NewSingle registers a one-shot handle. mapper may be nil when the raw
// payload already has type T.
func NewSingle[T any](r *Registry, mapper Mapper[T]) *Single[T] {
	s := &Single[T]{mapper: mapper}
	r.register(&s.base, ShapeSingle, s)
	return s
}

// NewStream registers a finite stream handle
func NewStream[T any](r *Registry, mapper Mapper[T]) *Stream[T] {
	s := &Stream[T]{}
	s.streamCore.init(mapper, extractItem, KindStopIterator)
	r.register(&s.base, ShapeStream, s)
	return s
}

// NewMonitor registers an infinite stream handle
func NewMonitor[T any](r *Registry, mapper Mapper[T]) *Monitor[T] {
	m := &Monitor[T]{}
	m.streamCore.init(mapper, nil, KindStopMonitor)
	r.register(&m.base, ShapeMonitor, m)
	return m
}

// NewHandle registers an untyped handle of the requested shape
func (r *Registry) NewHandle(shape Shape) (wire.ExecutionId, Handle, error) {
	var h Handle
	switch shape {
	case ShapeSingle:
		h = NewSingle[any](r, nil)
	case ShapeStream:
		h = NewStream[any](r, nil)
	case ShapeMonitor:
		h = NewMonitor[any](r, nil)
	default:
		return "", nil, fmt.Errorf("unknown result shape %s", shape)
	}
	return h.Id(), h, nil
}

// Get returns the outstanding handle for id
func (r *Registry) Get(id wire.ExecutionId) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.pending[id]
	return h, ok
}

// Len returns the number of outstanding handles
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// DispatchFrame routes one inbound frame to its handle. Malformed frames
// are logged and dropped; frames for unknown ids (already evicted, or
// never issued) are dropped silently. Nothing a single frame carries can
// fail the caller's loop.
func (r *Registry) DispatchFrame(frame wire.Frame) {
	if err := frame.Validate(); err != nil {
		r.logger.Warn("dropping malformed frame", "error", err)
		return
	}

	h, ok := r.Get(frame.ExecutionId)
	if !ok {
		r.logger.Debug("dropping frame for unknown execution",
			"execution", frame.ExecutionId.String(), "type", frame.Type.String())
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("result handler panicked",
				"execution", frame.ExecutionId.String(), "type", frame.Type.String(), "panic", rec)
		}
	}()

	switch frame.Type {
	case wire.FrameTypeFinal:
		h.SetFinalResult(frame.Payload)
	case wire.FrameTypePartial:
		h.SetPartialResult(frame.Payload)
	case wire.FrameTypeError:
		h.SetErrorResult(frame.Payload)
	}
}

// DispatchFrames routes a batch of frames in order
func (r *Registry) DispatchFrames(frames []wire.Frame) {
	for _, frame := range frames {
		r.DispatchFrame(frame)
	}
}

// SetFinalResult dispatches a FINAL frame for id
func (r *Registry) SetFinalResult(id wire.ExecutionId, raw any) {
	r.DispatchFrame(wire.NewFinal(id, raw))
}

// SetPartialResult dispatches a PARTIAL frame for id
func (r *Registry) SetPartialResult(id wire.ExecutionId, raw any) {
	r.DispatchFrame(wire.NewPartial(id, raw))
}

// SetErrorResult dispatches an ERROR frame for id
func (r *Registry) SetErrorResult(id wire.ExecutionId, raw any) {
	r.DispatchFrame(wire.Frame{ExecutionId: id, Type: wire.FrameTypeError, Payload: raw})
}

// Cancel cancels the handle for id. It reports whether id was outstanding.
func (r *Registry) Cancel(id wire.ExecutionId) bool {
	h, ok := r.Get(id)
	if !ok {
		return false
	}
	h.Cancel()
	return true
}

// CancelAll cancels every outstanding handle and returns how many there
// were. Handles that turn terminal concurrently are skipped harmlessly.
func (r *Registry) CancelAll() int {
	handles := r.snapshot(func(Handle) bool { return true })
	for _, h := range handles {
		h.Cancel()
	}
	return len(handles)
}

// SelectByShape returns every outstanding handle of the given shape
func (r *Registry) SelectByShape(shape Shape) []Handle {
	return r.snapshot(func(h Handle) bool { return h.Shape() == shape })
}

// CancelShape cancels every outstanding handle of the given shape
func (r *Registry) CancelShape(shape Shape) int {
	handles := r.SelectByShape(shape)
	for _, h := range handles {
		h.Cancel()
	}
	return len(handles)
}

func (r *Registry) snapshot(keep func(Handle) bool) []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	handles := make([]Handle, 0, len(r.pending))
	for _, h := range r.pending {
		if keep(h) {
			handles = append(handles, h)
		}
	}
	return handles
}
