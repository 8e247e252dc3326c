package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/filegrind/scriptlink-go/wire"
)

// recordingSink collects dispatched frames
type recordingSink struct {
	mu     sync.Mutex
	frames []wire.Frame
	notify chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{notify: make(chan struct{}, 128)}
}

func (s *recordingSink) DispatchFrame(frame wire.Frame) {
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.mu.Unlock()
	s.notify <- struct{}{}
}

func (s *recordingSink) snapshot() []wire.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *recordingSink) waitFor(t *testing.T, n int) []wire.Frame {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if frames := s.snapshot(); len(frames) >= n {
			return frames
		}
		select {
		case <-s.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d frames, have %d", n, len(s.snapshot()))
		}
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
