package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"unicode/utf8"

	"github.com/tanq16/mydm/internal/types"
	"github.com/tanq16/mydm/internal/utils"
)

const headerSize = 4

// MaxOutboundFrame is the largest message the browser accepts from a host.
const MaxOutboundFrame = 1024 * 1024

// FrameReader reads native-messaging frames: a 4-byte little-endian length
// followed by that many bytes of UTF-8 JSON.
type FrameReader struct {
	r       io.Reader
	maxSize int
}

func NewFrameReader(r io.Reader, maxSize int) *FrameReader {
	if maxSize <= 0 {
		maxSize = utils.DefaultMaxFrameSize
	}
	return &FrameReader{r: r, maxSize: maxSize}
}

// ReadFrame returns io.EOF when the stream ends cleanly between frames. Any
// other failure is a *types.ProtocolError; the stream cannot be resynchronised
// after one.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(fr.r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, &types.ProtocolError{Reason: "truncated frame header", Err: err}
	}
	length := binary.LittleEndian.Uint32(header[:])
	if length == 0 {
		return nil, &types.ProtocolError{Reason: "empty frame"}
	}
	if uint64(length) > uint64(fr.maxSize) {
		return nil, &types.ProtocolError{Reason: fmt.Sprintf("frame of %d bytes exceeds limit of %d", length, fr.maxSize)}
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return nil, &types.ProtocolError{Reason: fmt.Sprintf("truncated frame (expected %d bytes)", length), Err: err}
	}
	if !utf8.Valid(payload) {
		return nil, &types.ProtocolError{Reason: "frame is not valid UTF-8"}
	}
	return payload, nil
}

type flusher interface {
	Flush() error
}

// FrameWriter is the single serialization point for outbound frames. Header
// and payload go out in one write under the lock so concurrent callers never
// interleave bytes.
type FrameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

func (fw *FrameWriter) WriteFrame(payload []byte) error {
	if len(payload) == 0 {
		return errors.New("refusing to write an empty frame")
	}
	if len(payload) > MaxOutboundFrame {
		return fmt.Errorf("outbound frame of %d bytes exceeds limit of %d", len(payload), MaxOutboundFrame)
	}
	buf := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[headerSize:], payload)

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if _, err := fw.w.Write(buf); err != nil {
		return fmt.Errorf("error writing frame: %w", err)
	}
	if f, ok := fw.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("error flushing frame: %w", err)
		}
	}
	return nil
}
