package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filegrind/scriptlink-go/wire"
)

func TestPushSendValidatesAndForwards(t *testing.T) {
	var sent []wire.Command
	p := NewPush(newRecordingSink(), func(_ context.Context, cmd wire.Command) error {
		sent = append(sent, cmd)
		return nil
	}, nil)
	ctx := testContext(t)

	require.NoError(t, p.Send(ctx, wire.NewCommand("1", "ping", nil)))
	assert.Error(t, p.Send(ctx, wire.NewCommand("", "ping", nil)))
	assert.Error(t, p.Send(ctx, wire.NewCommand("2", "", nil)))
	require.Len(t, sent, 1)
	assert.Equal(t, "ping", sent[0].Command)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Send(ctx, wire.NewCommand("3", "ping", nil)), ErrClosed)
}

func TestPushSendWrapsFailure(t *testing.T) {
	down := errors.New("page gone")
	p := NewPush(newRecordingSink(), func(context.Context, wire.Command) error { return down }, nil)

	err := p.Send(testContext(t), wire.NewCommand("1", "chats|getItems", nil))
	assert.ErrorIs(t, err, down)
	assert.ErrorContains(t, err, "chats|getItems")
}

func TestPushDeliver(t *testing.T) {
	sink := newRecordingSink()
	p := NewPush(sink, nil, nil)

	p.Deliver(wire.NewFinal("1", "a"))
	require.NoError(t, p.DeliverJSON([]byte(`{"exId": 2, "type": "PARTIAL", "params": {"item": 1}}`)))

	encoded, err := wire.EncodeFrame(wire.NewError("3", "ValueError", "", nil))
	require.NoError(t, err)
	require.NoError(t, p.DeliverCBOR(encoded))

	assert.Error(t, p.DeliverJSON([]byte(`{"type": "FINAL"}`)))

	frames := sink.snapshot()
	require.Len(t, frames, 3)
	assert.Equal(t, wire.ExecutionId("1"), frames[0].ExecutionId)
	assert.Equal(t, wire.ExecutionId("2"), frames[1].ExecutionId)
	assert.Equal(t, "ValueError", frames[2].ErrorName())

	require.NoError(t, p.Close())
	p.Deliver(wire.NewFinal("4", nil))
	assert.Len(t, sink.snapshot(), 3)
}

func TestPushRunWithoutStreamBlocksUntilClose(t *testing.T) {
	p := NewPush(newRecordingSink(), nil, nil)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	require.NoError(t, p.Close())
	assert.NoError(t, <-done)
}

func TestStreamPushReadsFramesInOrder(t *testing.T) {
	sink := newRecordingSink()
	inR, inW := io.Pipe()
	var out bytes.Buffer
	p := NewStreamPush(sink, inR, &out, wire.DefaultLimits(), nil)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	remote := wire.NewFrameWriter(inW)
	require.NoError(t, remote.WriteFrame(wire.NewItemPartial("7", 1)))
	require.NoError(t, remote.WriteFrame(wire.NewItemPartial("7", 2)))
	require.NoError(t, remote.WriteFrame(wire.NewFinal("7", nil)))

	frames := sink.waitFor(t, 3)
	assert.Equal(t, []wire.FrameType{wire.FrameTypePartial, wire.FrameTypePartial, wire.FrameTypeFinal},
		[]wire.FrameType{frames[0].Type, frames[1].Type, frames[2].Type})

	require.NoError(t, inW.Close())
	assert.NoError(t, <-done)
}

func TestStreamPushWritesCommands(t *testing.T) {
	inR, _ := io.Pipe()
	var out bytes.Buffer
	p := NewStreamPush(newRecordingSink(), inR, &out, wire.DefaultLimits(), nil)

	require.NoError(t, p.Send(testContext(t), wire.NewCommand("5", "conn|getModel", nil)))

	cmd, err := wire.NewFrameReader(&out).ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, wire.ExecutionId("5"), cmd.ExecutionId)
	assert.Equal(t, "conn|getModel", cmd.Command)
	require.NoError(t, p.Close())
}

func TestStreamPushCloseUnblocksRun(t *testing.T) {
	inR, _ := io.Pipe()
	p := NewStreamPush(newRecordingSink(), inR, io.Discard, wire.DefaultLimits(), nil)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	require.NoError(t, p.Close())
	assert.NoError(t, <-done)
}

func TestStreamPushRunHonoursContext(t *testing.T) {
	inR, _ := io.Pipe()
	p := NewStreamPush(newRecordingSink(), inR, io.Discard, wire.DefaultLimits(), nil)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Run(ctx), context.Canceled)
}

func writeRecord(t *testing.T, buf *bytes.Buffer, body []byte) {
	t.Helper()
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	buf.Write(prefix[:])
	buf.Write(body)
}

func TestStreamPushSkipsUndecodableRecords(t *testing.T) {
	var in bytes.Buffer
	remote := wire.NewFrameWriter(&in)
	require.NoError(t, remote.WriteFrame(wire.NewFinal("1", "a")))
	writeRecord(t, &in, []byte{0xff, 0x00, 0x13})
	futureVersion, err := wire.Marshal(map[int]any{0: uint8(9), 1: uint8(wire.FrameTypeFinal), 2: "2"})
	require.NoError(t, err)
	writeRecord(t, &in, futureVersion)
	require.NoError(t, remote.WriteFrame(wire.NewFinal("3", "c")))

	sink := newRecordingSink()
	p := NewStreamPush(sink, &in, io.Discard, wire.DefaultLimits(), nil)
	require.NoError(t, p.Run(testContext(t)))

	frames := sink.snapshot()
	require.Len(t, frames, 2)
	assert.Equal(t, wire.ExecutionId("1"), frames[0].ExecutionId)
	assert.Equal(t, wire.ExecutionId("3"), frames[1].ExecutionId)
}

func TestStreamPushStopsOnOversizedRecord(t *testing.T) {
	var in bytes.Buffer
	writeRecord(t, &in, make([]byte, 64))

	p := NewStreamPush(newRecordingSink(), &in, io.Discard, wire.Limits{MaxFrame: 16, MaxBatch: 1}, nil)
	assert.ErrorContains(t, p.Run(testContext(t)), "exceeds max_frame limit")
}

// endlessRecords yields the same length-prefixed record forever
type endlessRecords struct {
	record []byte
	off    int
}

func (r *endlessRecords) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		c := copy(p[n:], r.record[r.off:])
		n += c
		r.off = (r.off + c) % len(r.record)
	}
	return n, nil
}

// blockingSink holds the first frame until release is closed
type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) DispatchFrame(wire.Frame) { <-s.release }

func TestStreamPushReaderExitsOnContext(t *testing.T) {
	var record bytes.Buffer
	require.NoError(t, wire.NewFrameWriter(&record).WriteFrame(wire.NewFinal("1", nil)))

	before := runtime.NumGoroutine()
	sink := &blockingSink{release: make(chan struct{})}
	p := NewStreamPush(sink, &endlessRecords{record: record.Bytes()}, io.Discard, wire.DefaultLimits(), nil)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	cancel()
	close(sink.release)
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, 5*time.Second, 10*time.Millisecond)
}
