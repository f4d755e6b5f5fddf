package session

import (
	"strings"
	"testing"
)

func TestPendingBuffer_OrderPreserved(t *testing.T) {
	b := NewPendingBuffer(1024)
	b.Write([]byte("one "))
	b.Write([]byte("two "))
	b.Write([]byte("three"))
	if got := string(b.Snapshot()); got != "one two three" {
		t.Errorf("Snapshot = %q", got)
	}
}

func TestPendingBuffer_TrimsOldestFirst(t *testing.T) {
	b := NewPendingBuffer(8)
	b.Write([]byte("abcdefgh"))
	b.Write([]byte("XY"))
	if got := string(b.Snapshot()); got != "cdefghXY" {
		t.Errorf("Snapshot after overflow = %q, want cdefghXY", got)
	}
	if b.Len() != 8 {
		t.Errorf("Len = %d, want 8", b.Len())
	}
}

func TestPendingBuffer_SingleOversizedWrite(t *testing.T) {
	b := NewPendingBuffer(4)
	b.Write([]byte("abcdefgh"))
	if got := string(b.Snapshot()); got != "efgh" {
		t.Errorf("Snapshot = %q, want efgh", got)
	}
}

func TestPendingBuffer_ResetReplacesAndCaps(t *testing.T) {
	b := NewPendingBuffer(4)
	b.Write([]byte("old"))
	b.Reset([]byte("abcdef"))
	if got := string(b.Snapshot()); got != "cdef" {
		t.Errorf("Snapshot after Reset = %q, want cdef", got)
	}
}

func TestPendingBuffer_DefaultSize(t *testing.T) {
	b := NewPendingBuffer(0)
	big := strings.Repeat("x", defaultPendingBufferSize+10)
	b.Write([]byte(big))
	if b.Len() != defaultPendingBufferSize {
		t.Errorf("Len = %d, want %d", b.Len(), defaultPendingBufferSize)
	}
}

func TestPendingBuffer_CloseDropsWrites(t *testing.T) {
	b := NewPendingBuffer(64)
	b.Write([]byte("kept"))
	b.Close()
	b.Write([]byte(" dropped"))
	b.Reset([]byte("also dropped"))
	if got := string(b.Snapshot()); got != "kept" {
		t.Errorf("Snapshot after Close = %q, want kept", got)
	}
}

func TestPendingBuffer_SnapshotIsACopy(t *testing.T) {
	b := NewPendingBuffer(64)
	b.Write([]byte("data"))
	snap := b.Snapshot()
	snap[0] = 'X'
	if got := string(b.Snapshot()); got != "data" {
		t.Errorf("buffer mutated through snapshot: %q", got)
	}
}
