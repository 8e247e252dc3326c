package result

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// streamCore holds the queueing behaviour shared by Stream and Monitor.
type streamCore[T any] struct {
	base
	mapper     Mapper[T]
	extract    func(raw any) (any, error)
	cancelKind Kind
	q          *queue[T]

	mu     sync.Mutex
	closed bool // terminal entry enqueued

	recvMu sync.Mutex
	end    *entry[T] // terminal entry once consumed
}

func (s *streamCore[T]) init(mapper Mapper[T], extract func(any) (any, error), cancelKind Kind) {
	s.mapper = mapper
	s.extract = extract
	s.cancelKind = cancelKind
	s.q = newQueue[T]()
}

// SetPartialResult maps raw and enqueues it. Items that fail to map are
// logged and dropped; the stream stays open.
func (s *streamCore[T]) SetPartialResult(raw any) {
	if s.isClosed() {
		s.logger.Warn("dropping PARTIAL frame for ended stream")
		return
	}
	payload := raw
	if s.extract != nil {
		var err error
		payload, err = s.extract(raw)
		if err != nil {
			s.logger.Warn("dropping malformed PARTIAL frame", "error", err)
			return
		}
	}
	item, err := applyMapper(s.mapper, payload)
	if err != nil {
		s.logger.Warn("dropping PARTIAL frame", "error", &MapError{ExecutionId: s.id, Err: err})
		return
	}
	s.q.push(entry[T]{item: item})
}

// SetFinalResult ends the stream cleanly. The payload carries no item.
func (s *streamCore[T]) SetFinalResult(raw any) {
	s.terminate(nil)
}

// SetErrorResult ends the stream with the error described by raw
func (s *streamCore[T]) SetErrorResult(raw any) {
	s.terminate(s.kinds.Resolve(raw))
}

// Cancel ends the stream with a local stop error
func (s *streamCore[T]) Cancel() {
	s.terminate(newStopError(s.cancelKind))
}

func (s *streamCore[T]) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// terminate enqueues the end marker and releases the registry entry at
// once, whether or not anyone is consuming.
func (s *streamCore[T]) terminate(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.q.push(entry[T]{err: err, terminal: true})
	s.finish()
}

// Recv returns the next item in arrival order. At the end of the stream
// it returns io.EOF after a FINAL frame, or the terminal error after an
// ERROR frame or a cancel; the same value is returned on every later call.
func (s *streamCore[T]) Recv(ctx context.Context) (T, error) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	var zero T
	if s.end != nil {
		return zero, endError(*s.end)
	}
	e, err := s.q.pop(ctx)
	if err != nil {
		return zero, err
	}
	if e.terminal {
		s.end = &e
		return zero, endError(e)
	}
	return e.item, nil
}

// Buffered returns the number of entries waiting to be received
func (s *streamCore[T]) Buffered() int {
	return s.q.len()
}

func endError[T any](e entry[T]) error {
	if e.err == nil {
		return io.EOF
	}
	return e.err
}

// isNormalEnd reports whether a Recv error means the stream finished
// rather than failed.
func isNormalEnd(err error) bool {
	return errors.Is(err, io.EOF) || IsStop(err)
}

// Stream is a finite stream result. Each PARTIAL frame carries one item
// under the "item" key; FINAL or ERROR ends it. A Stream is consumed once.
type Stream[T any] struct {
	streamCore[T]
}

func extractItem(raw any) (any, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("partial payload of type %T has no item", raw)
	}
	item, ok := m["item"]
	if !ok {
		return nil, errors.New(`partial payload has no "item" key`)
	}
	return item, nil
}

// Collect receives every remaining item. A FINAL frame or a stop error
// ends collection without error; any other error is returned along with
// the items received before it.
func (s *Stream[T]) Collect(ctx context.Context) ([]T, error) {
	var items []T
	err := s.Range(ctx, func(item T) error {
		items = append(items, item)
		return nil
	})
	return items, err
}

// Range calls fn for each remaining item until the stream ends, fn
// returns an error, or ctx is done.
func (s *Stream[T]) Range(ctx context.Context, fn func(T) error) error {
	for {
		item, err := s.Recv(ctx)
		if err != nil {
			if isNormalEnd(err) {
				return nil
			}
			return err
		}
		if err := fn(item); err != nil {
			return err
		}
	}
}

// Callback observes monitor items. Callbacks run on the scheduler, one
// goroutine per item and callback, in no particular order.
type Callback[T any] func(ctx context.Context, item T) error

// Monitor is an infinite stream result. It ends only on Cancel or an
// ERROR frame.
type Monitor[T any] struct {
	streamCore[T]

	cbMu      sync.Mutex
	callbacks []Callback[T]
	draining  bool
}

// SetFinalResult delivers the payload as an ordinary item. A FINAL frame
// never ends a monitor; only Cancel or an ERROR frame does.
func (m *Monitor[T]) SetFinalResult(raw any) {
	m.streamCore.SetPartialResult(raw)
}

// AddCallback registers fn to run for every item delivered from now on
func (m *Monitor[T]) AddCallback(fn Callback[T]) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Recv returns the next item and fires the registered callbacks for it
func (m *Monitor[T]) Recv(ctx context.Context) (T, error) {
	item, err := m.streamCore.Recv(ctx)
	if err != nil {
		return item, err
	}

	m.cbMu.Lock()
	callbacks := make([]Callback[T], len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.cbMu.Unlock()

	for _, fn := range callbacks {
		fn := fn
		if err := m.scheduler.Go("monitor callback "+m.id.String(), func(ctx context.Context) error {
			return fn(ctx, item)
		}); err != nil {
			m.logger.Warn("monitor callback not started", "error", err)
		}
	}
	return item, nil
}

// Range calls fn for each item until the monitor ends, fn returns an
// error, or ctx is done. A cancel or StopMonitor ends it without error.
func (m *Monitor[T]) Range(ctx context.Context, fn func(T) error) error {
	for {
		item, err := m.Recv(ctx)
		if err != nil {
			if isNormalEnd(err) {
				return nil
			}
			return err
		}
		if err := fn(item); err != nil {
			return err
		}
	}
}

// StartDetachedDrain consumes the monitor on a background task so that
// callbacks fire without a foreground consumer. It must not be combined
// with direct Recv calls. Calling it twice is a no-op.
func (m *Monitor[T]) StartDetachedDrain() error {
	m.cbMu.Lock()
	if m.draining {
		m.cbMu.Unlock()
		return nil
	}
	m.draining = true
	m.cbMu.Unlock()

	return m.scheduler.Go("monitor drain "+m.id.String(), func(ctx context.Context) error {
		err := m.Range(ctx, func(T) error { return nil })
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}
