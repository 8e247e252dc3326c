package result

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filegrind/scriptlink-go/wire"
)

func TestRegistryIssuesUniqueIds(t *testing.T) {
	r := newTestRegistry(t)

	seen := make(map[wire.ExecutionId]bool)
	for i := 0; i < 100; i++ {
		s := NewSingle[any](r, nil)
		require.False(t, seen[s.Id()], "duplicate id %s", s.Id())
		seen[s.Id()] = true
	}
	assert.Equal(t, 100, r.Len())
}

func TestRegistryIssuesUniqueIdsConcurrently(t *testing.T) {
	r := newTestRegistry(t)

	var mu sync.Mutex
	seen := make(map[wire.ExecutionId]bool)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := NewStream[any](r, nil).Id()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 400)
}

func TestRegistryEvictsResolvedSingleWithoutAwait(t *testing.T) {
	r := newTestRegistry(t)

	for i := 0; i < 1000; i++ {
		s := NewSingle[any](r, nil)
		r.DispatchFrame(wire.NewFinal(s.Id(), i))
	}
	assert.Equal(t, 0, r.Len())
}

func TestRegistryEvictsStreamOnTerminalFrameBeforeConsumption(t *testing.T) {
	r := newTestRegistry(t)

	s := NewStream[int](r, Decode[int]())
	r.DispatchFrame(wire.NewItemPartial(s.Id(), 1))
	r.DispatchFrame(wire.NewFinal(s.Id(), nil))

	assert.Equal(t, 0, r.Len())
	assert.True(t, s.Terminal())
	assert.Equal(t, 2, s.Buffered())
}

func TestRegistryDropsUnknownId(t *testing.T) {
	r := newTestRegistry(t)

	assert.NotPanics(t, func() {
		r.DispatchFrame(wire.NewFinal("999", "late"))
	})
	assert.Equal(t, 0, r.Len())
}

func TestRegistryDropsMalformedFrame(t *testing.T) {
	r := newTestRegistry(t)
	s := NewSingle[any](r, nil)

	r.DispatchFrame(wire.Frame{ExecutionId: s.Id(), Type: wire.FrameTypeUnknown})
	r.DispatchFrame(wire.Frame{Type: wire.FrameTypeFinal})

	assert.False(t, s.Terminal())
	assert.Equal(t, 1, r.Len())
}

func TestRegistryRecoversHandlerPanic(t *testing.T) {
	r := newTestRegistry(t)
	s := NewSingle[int](r, func(any) (int, error) { panic("boom") })

	assert.NotPanics(t, func() {
		r.SetFinalResult(s.Id(), 1)
	})
}

func TestRegistryCancelAll(t *testing.T) {
	r := newTestRegistry(t)
	ctx := testContext(t)

	single := NewSingle[any](r, nil)
	stream := NewStream[any](r, nil)
	monitor := NewMonitor[any](r, nil)

	assert.Equal(t, 3, r.CancelAll())
	assert.Equal(t, 0, r.Len())

	_, err := single.Wait(ctx)
	assert.ErrorIs(t, err, ErrCancelled)
	_, err = stream.Recv(ctx)
	assert.ErrorIs(t, err, ErrStopIterator)
	_, err = monitor.Recv(ctx)
	assert.ErrorIs(t, err, ErrStopMonitor)

	assert.Equal(t, 0, r.CancelAll())
}

func TestRegistryCancelByShape(t *testing.T) {
	r := newTestRegistry(t)

	single := NewSingle[any](r, nil)
	stream := NewStream[any](r, nil)
	monitor := NewMonitor[any](r, nil)

	assert.Len(t, r.SelectByShape(ShapeMonitor), 1)
	assert.Equal(t, 1, r.CancelShape(ShapeMonitor))
	assert.True(t, monitor.Terminal())
	assert.False(t, stream.Terminal())
	assert.False(t, single.Terminal())

	assert.Equal(t, 1, r.CancelShape(ShapeStream))
	assert.True(t, stream.Terminal())
	assert.Equal(t, 1, r.Len())
}

func TestRegistryCancel(t *testing.T) {
	r := newTestRegistry(t)
	s := NewSingle[any](r, nil)

	assert.True(t, r.Cancel(s.Id()))
	assert.False(t, r.Cancel(s.Id()))
}

func TestRegistryNewHandle(t *testing.T) {
	r := newTestRegistry(t)

	for _, shape := range []Shape{ShapeSingle, ShapeStream, ShapeMonitor} {
		id, h, err := r.NewHandle(shape)
		require.NoError(t, err)
		assert.Equal(t, shape, h.Shape())
		got, ok := r.Get(id)
		require.True(t, ok)
		assert.Equal(t, h, got)
	}

	_, _, err := r.NewHandle(Shape(42))
	assert.Error(t, err)
}

func TestRegistryDispatchFramesInOrder(t *testing.T) {
	r := newTestRegistry(t)
	ctx := testContext(t)
	s := NewStream[int](r, Decode[int]())

	r.DispatchFrames([]wire.Frame{
		wire.NewItemPartial(s.Id(), 1),
		wire.NewItemPartial(s.Id(), 2),
		wire.NewFinal(s.Id(), map[string]any{}),
	})

	items, err := s.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, items)
}
