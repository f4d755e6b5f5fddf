package guac

import (
	"bytes"
	"errors"
)

// MaxFrameLen bounds a single buffered instruction frame. A stream that
// never terminates a frame within this many bytes is treated as corrupt.
const MaxFrameLen = 8 * 1024 * 1024

// ErrFrameTooLong is returned when a frame exceeds MaxFrameLen without a
// terminator.
var ErrFrameTooLong = errors.New("instruction frame exceeds maximum length")

// FrameSplitter reassembles ';'-terminated instruction frames from an
// arbitrary byte stream. Writes may carry partial frames or several frames
// at once; emit is called once per complete frame, terminator included.
type FrameSplitter struct {
	emit func(frame string)
	buf  []byte
}

func NewFrameSplitter(emit func(frame string)) *FrameSplitter {
	return &FrameSplitter{emit: emit}
}

// Write implements io.Writer.
func (f *FrameSplitter) Write(p []byte) (int, error) {
	f.buf = append(f.buf, p...)
	for {
		idx := bytes.IndexByte(f.buf, ';')
		if idx < 0 {
			break
		}
		frame := string(f.buf[:idx+1])
		f.buf = f.buf[idx+1:]
		f.emit(frame)
	}
	if len(f.buf) > MaxFrameLen {
		f.buf = nil
		return len(p), ErrFrameTooLong
	}
	return len(p), nil
}
