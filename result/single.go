package result

import (
	"context"
	"sync"
)

// Single is a one-shot result: the first FINAL or ERROR frame resolves it
// and everything after that is ignored.
type Single[T any] struct {
	base
	mapper Mapper[T]

	mu       sync.Mutex
	resolved bool
	value    T
	err      error
}

// SetFinalResult resolves the handle with the mapped payload. A mapper
// failure resolves it with a *MapError instead.
func (s *Single[T]) SetFinalResult(raw any) {
	if s.Terminal() {
		s.logger.Warn("dropping FINAL frame for resolved result")
		return
	}
	value, err := applyMapper(s.mapper, raw)
	if err != nil {
		var zero T
		s.resolve(zero, &MapError{ExecutionId: s.id, Err: err})
		return
	}
	s.resolve(value, nil)
}

// SetPartialResult is a protocol violation for a single result; the frame
// is logged and dropped.
func (s *Single[T]) SetPartialResult(raw any) {
	s.logger.Warn("dropping PARTIAL frame sent to single result")
}

// SetErrorResult resolves the handle with the error described by raw
func (s *Single[T]) SetErrorResult(raw any) {
	var zero T
	s.resolve(zero, s.kinds.Resolve(raw))
}

// Cancel resolves the handle with a Cancelled stop error
func (s *Single[T]) Cancel() {
	var zero T
	s.resolve(zero, newStopError(KindCancelled))
}

func (s *Single[T]) resolve(value T, err error) {
	s.mu.Lock()
	if s.resolved {
		s.mu.Unlock()
		s.logger.Warn("dropping frame for resolved result")
		return
	}
	s.resolved = true
	s.value = value
	s.err = err
	s.mu.Unlock()

	s.finish()
}

// Wait blocks until the handle resolves or ctx is done. Context expiry
// leaves the handle outstanding.
func (s *Single[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.value, s.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
