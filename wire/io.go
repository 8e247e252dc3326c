package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// FrameReader reads length-prefixed CBOR frames from a stream
type FrameReader struct {
	reader io.Reader
	limits Limits
}

// NewFrameReader creates a new FrameReader
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		reader: r,
		limits: DefaultLimits(),
	}
}

// SetLimits updates the reader's limits
func (fr *FrameReader) SetLimits(limits Limits) {
	fr.limits = limits
}

// ReadFrame reads a single frame from the stream.
//
// A record whose body is not a valid frame returns an error wrapping
// ErrMalformedFrame; the stream is still positioned at the next record so
// the caller may keep reading. I/O errors and limit violations do not wrap
// it, since the stream cannot be trusted after them.
func (fr *FrameReader) ReadFrame() (Frame, error) {
	buf, err := fr.readRecord()
	if err != nil {
		return Frame{}, err
	}
	return DecodeFrame(buf)
}

// ReadCommand reads a single command from the stream
func (fr *FrameReader) ReadCommand() (Command, error) {
	buf, err := fr.readRecord()
	if err != nil {
		return Command{}, err
	}
	return DecodeCommand(buf)
}

// ReadRaw reads the next record without decoding it
func (fr *FrameReader) ReadRaw() ([]byte, error) {
	return fr.readRecord()
}

func (fr *FrameReader) readRecord() ([]byte, error) {
	// 4-byte big-endian length prefix
	var lengthBuf [4]byte
	if _, err := io.ReadFull(fr.reader, lengthBuf[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])

	if int(length) > fr.limits.MaxFrame {
		return nil, fmt.Errorf("frame size %d exceeds max_frame limit %d", length, fr.limits.MaxFrame)
	}
	if int(length) > MaxFrameHardLimit {
		return nil, fmt.Errorf("frame size %d exceeds hard limit %d", length, MaxFrameHardLimit)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(fr.reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// FrameWriter writes length-prefixed CBOR records to a stream. It is safe
// for concurrent use: each record is written under a lock so prefixes and
// bodies from different goroutines never interleave.
type FrameWriter struct {
	mu     sync.Mutex
	writer io.Writer
	limits Limits
}

// NewFrameWriter creates a new FrameWriter
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{
		writer: w,
		limits: DefaultLimits(),
	}
}

// SetLimits updates the writer's limits
func (fw *FrameWriter) SetLimits(limits Limits) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.limits = limits
}

// WriteFrame writes a single frame to the stream
func (fw *FrameWriter) WriteFrame(frame Frame) error {
	buf, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	return fw.writeRecord(buf)
}

// WriteCommand writes a single command to the stream
func (fw *FrameWriter) WriteCommand(cmd Command) error {
	buf, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return fw.writeRecord(buf)
}

func (fw *FrameWriter) writeRecord(buf []byte) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if len(buf) > fw.limits.MaxFrame {
		return fmt.Errorf("encoded frame size %d exceeds max_frame limit %d", len(buf), fw.limits.MaxFrame)
	}
	if len(buf) > MaxFrameHardLimit {
		return fmt.Errorf("encoded frame size %d exceeds hard limit %d", len(buf), MaxFrameHardLimit)
	}

	var lengthBuf [4]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(buf)))
	if _, err := fw.writer.Write(lengthBuf[:]); err != nil {
		return err
	}
	if _, err := fw.writer.Write(buf); err != nil {
		return err
	}
	return nil
}
