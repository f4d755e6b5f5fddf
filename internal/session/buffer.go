package session

import (
	"sync"
)

// defaultPendingBufferSize is the default cap for buffered output (1 MiB).
const defaultPendingBufferSize = 1024 * 1024

// PendingBuffer is a thread-safe, bounded byte buffer holding backend output
// for replay after a resume. When the buffer exceeds maxLen, the oldest
// bytes are trimmed from the front; order is never changed.
type PendingBuffer struct {
	mu     sync.Mutex
	data   []byte
	maxLen int
	closed bool
}

// NewPendingBuffer creates a buffer with the given maximum size.
// If maxLen <= 0, defaultPendingBufferSize is used.
func NewPendingBuffer(maxLen int) *PendingBuffer {
	if maxLen <= 0 {
		maxLen = defaultPendingBufferSize
	}
	return &PendingBuffer{maxLen: maxLen}
}

// Write appends data, trimming from the front when the total exceeds maxLen.
func (b *PendingBuffer) Write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.data = append(b.data, p...)
	if len(b.data) > b.maxLen {
		b.data = b.data[len(b.data)-b.maxLen:]
	}
}

// Reset replaces the buffer contents, applying the same size cap.
func (b *PendingBuffer) Reset(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if len(p) > b.maxLen {
		p = p[len(p)-b.maxLen:]
	}
	b.data = append(b.data[:0], p...)
}

// Snapshot returns a copy of the current contents.
func (b *PendingBuffer) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Len returns the current buffered length.
func (b *PendingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Close marks the buffer closed; further writes are discarded.
func (b *PendingBuffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}
