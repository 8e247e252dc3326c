package result

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/filegrind/scriptlink-go/sched"
	"github.com/filegrind/scriptlink-go/wire"
)

// Shape selects how a handle consumes frames.
type Shape int

const (
	// ShapeSingle resolves once with a value or an error.
	ShapeSingle Shape = iota + 1
	// ShapeStream yields PARTIAL items until a FINAL or ERROR frame.
	ShapeStream
	// ShapeMonitor yields PARTIAL items until cancelled or an ERROR frame.
	ShapeMonitor
)

func (s Shape) String() string {
	switch s {
	case ShapeSingle:
		return "single"
	case ShapeStream:
		return "stream"
	case ShapeMonitor:
		return "monitor"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// Mapper converts a raw frame payload into the consumer's type.
type Mapper[T any] func(raw any) (T, error)

// Handle is the registry's view of an outstanding execution. Frames are
// fed to it by exactly one producer, the Registry.
type Handle interface {
	Id() wire.ExecutionId
	Shape() Shape

	SetFinalResult(raw any)
	SetPartialResult(raw any)
	SetErrorResult(raw any)

	// Cancel ends the handle with a local stop error. Cancelling a
	// terminal handle is a no-op.
	Cancel()

	// Done is closed when the handle reaches its terminal state, which
	// for streams is the arrival of the terminal frame, not its
	// consumption.
	Done() <-chan struct{}
	Terminal() bool
}

// base carries what every shape shares
type base struct {
	id         wire.ExecutionId
	shape      Shape
	kinds      *Kinds
	scheduler  *sched.Scheduler
	logger     *slog.Logger
	onTerminal func()

	done     chan struct{}
	doneOnce sync.Once
}

func (b *base) Id() wire.ExecutionId { return b.id }

func (b *base) Shape() Shape { return b.shape }

func (b *base) Done() <-chan struct{} { return b.done }

func (b *base) Terminal() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// finish marks the handle terminal and notifies the registry exactly once
func (b *base) finish() {
	b.doneOnce.Do(func() {
		close(b.done)
		if b.onTerminal != nil {
			b.onTerminal()
		}
	})
}

// applyMapper runs the handle's mapper, or asserts the raw payload to T
// when there is none.
func applyMapper[T any](mapper Mapper[T], raw any) (T, error) {
	if mapper != nil {
		return mapper(raw)
	}
	var zero T
	if raw == nil {
		return zero, nil
	}
	if value, ok := raw.(T); ok {
		return value, nil
	}
	return zero, fmt.Errorf("payload of type %T does not match result type %T", raw, zero)
}
