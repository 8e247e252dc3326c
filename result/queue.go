package result

import (
	"context"
	"sync"
)

// entry is one slot of a stream queue: an item, or the terminal marker.
type entry[T any] struct {
	item     T
	err      error // terminal error; nil with terminal set means a clean end
	terminal bool
}

// queue is an unbounded FIFO with one producer (the registry) and one
// consumer. push never blocks; pop blocks until an entry is available or
// ctx is done.
type queue[T any] struct {
	mu      sync.Mutex
	entries []entry[T]
	ready   chan struct{} // capacity 1; signalled when entries becomes non-empty
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{ready: make(chan struct{}, 1)}
}

func (q *queue[T]) push(e entry[T]) {
	q.mu.Lock()
	q.entries = append(q.entries, e)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *queue[T]) pop(ctx context.Context) (entry[T], error) {
	for {
		q.mu.Lock()
		if len(q.entries) > 0 {
			e := q.entries[0]
			var zero entry[T]
			q.entries[0] = zero
			q.entries = q.entries[1:]
			more := len(q.entries) > 0
			q.mu.Unlock()
			if more {
				// Keep the signal armed for the next pop.
				select {
				case q.ready <- struct{}{}:
				default:
				}
			}
			return e, nil
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return entry[T]{}, ctx.Err()
		}
	}
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
