package transfer

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"
)

// memFile is an in-memory FileHandle recording offset writes.
type memFile struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	end := int(off) + len(p)
	if end > len(f.data) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[off:], p)
	return len(p), nil
}

func (f *memFile) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func startUpload(t *testing.T, c *Controller, id string, fileSize, chunkSize int64) (*Transfer, *memFile, *bool) {
	t.Helper()
	f := &memFile{}
	discarded := false
	tr, err := c.Start(id, "data.bin", "/tmp", fileSize, chunkSize, f, func() error {
		discarded = true
		return nil
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return tr, f, &discarded
}

func TestController_CompleteInOrder(t *testing.T) {
	c := NewController(0)
	tr, f, _ := startUpload(t, c, "u1", 10, 4)

	chunks := [][]byte{[]byte("aaaa"), []byte("bbbb"), []byte("cc")}
	for i, payload := range chunks {
		done, err := c.Chunk("u1", i, payload)
		if err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		if done != (i == len(chunks)-1) {
			t.Errorf("chunk %d: done=%v", i, done)
		}
	}

	if tr.State() != StateCompleted {
		t.Errorf("state = %s, want completed", tr.State())
	}
	if !bytes.Equal(f.data, []byte("aaaabbbbcc")) {
		t.Errorf("assembled file = %q", f.data)
	}
	if !f.closed {
		t.Error("backend file not closed after completion")
	}
}

func TestController_OutOfOrderChunks(t *testing.T) {
	c := NewController(0)
	tr, f, _ := startUpload(t, c, "u1", 8, 4)

	if _, err := c.Chunk("u1", 1, []byte("7890")); err != nil {
		t.Fatalf("chunk 1: %v", err)
	}
	done, err := c.Chunk("u1", 0, []byte("1234"))
	if err != nil {
		t.Fatalf("chunk 0: %v", err)
	}
	if !done {
		t.Error("expected completion after final missing chunk")
	}
	if tr.State() != StateCompleted {
		t.Errorf("state = %s, want completed", tr.State())
	}
	if !bytes.Equal(f.data, []byte("12347890")) {
		t.Errorf("assembled file = %q", f.data)
	}
}

func TestController_DuplicateChunkIdempotent(t *testing.T) {
	c := NewController(0)
	tr, _, _ := startUpload(t, c, "u1", 8, 4)

	if _, err := c.Chunk("u1", 0, []byte("1234")); err != nil {
		t.Fatalf("chunk 0: %v", err)
	}
	if _, err := c.Chunk("u1", 0, []byte("1234")); err != nil {
		t.Fatalf("duplicate chunk 0: %v", err)
	}
	if got := tr.ReceivedBytes(); got != 4 {
		t.Errorf("received bytes after duplicate = %d, want 4", got)
	}

	done, err := c.Chunk("u1", 1, []byte("5678"))
	if err != nil || !done {
		t.Fatalf("final chunk: done=%v err=%v", done, err)
	}
}

func TestController_DuplicateStartRejected(t *testing.T) {
	c := NewController(0)
	startUpload(t, c, "u1", 8, 4)

	_, err := c.Start("u1", "other.bin", "/tmp", 8, 4, &memFile{}, nil)
	if !errors.Is(err, ErrDuplicateUpload) {
		t.Fatalf("expected ErrDuplicateUpload, got %v", err)
	}
}

func TestController_SizeMismatchFails(t *testing.T) {
	c := NewController(0)
	tr, _, discarded := startUpload(t, c, "u1", 8, 4)

	if _, err := c.Chunk("u1", 0, []byte("1234")); err != nil {
		t.Fatalf("chunk 0: %v", err)
	}
	// Final chunk shorter than declared: total 6 != 8.
	_, err := c.Chunk("u1", 1, []byte("56"))
	if !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
	if tr.State() != StateFailed {
		t.Errorf("state = %s, want failed", tr.State())
	}
	if !*discarded {
		t.Error("partial file not discarded after failure")
	}
}

func TestController_ChunkAfterCancelRejected(t *testing.T) {
	c := NewController(0)
	tr, _, discarded := startUpload(t, c, "u1", 8, 4)

	if err := c.Cancel("u1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if tr.State() != StateCancelled {
		t.Errorf("state = %s, want cancelled", tr.State())
	}
	if !*discarded {
		t.Error("partial file not discarded after cancel")
	}

	if _, err := c.Chunk("u1", 1, []byte("5678")); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState, got %v", err)
	}
}

func TestController_UnknownUpload(t *testing.T) {
	c := NewController(0)
	if _, err := c.Chunk("nope", 0, []byte("x")); !errors.Is(err, ErrUnknownUpload) {
		t.Fatalf("expected ErrUnknownUpload, got %v", err)
	}
	if err := c.Cancel("nope"); !errors.Is(err, ErrUnknownUpload) {
		t.Fatalf("expected ErrUnknownUpload, got %v", err)
	}
}

func TestController_IdleSweep(t *testing.T) {
	c := NewController(10 * time.Millisecond)
	tr, _, _ := startUpload(t, c, "u1", 8, 4)

	if _, err := c.Chunk("u1", 0, []byte("1234")); err != nil {
		t.Fatalf("chunk 0: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	timedOut := c.SweepIdle()
	if len(timedOut) != 1 || timedOut[0] != "u1" {
		t.Fatalf("SweepIdle = %v, want [u1]", timedOut)
	}
	if tr.State() != StateFailed {
		t.Errorf("state = %s, want failed", tr.State())
	}

	// Sweep is idempotent.
	if extra := c.SweepIdle(); len(extra) != 0 {
		t.Errorf("second sweep reported %v", extra)
	}
}

func TestController_CancelAll(t *testing.T) {
	c := NewController(0)
	t1, _, _ := startUpload(t, c, "u1", 8, 4)
	t2, _, _ := startUpload(t, c, "u2", 8, 4)

	c.CancelAll()
	if t1.State() != StateCancelled || t2.State() != StateCancelled {
		t.Errorf("states after CancelAll: %s, %s", t1.State(), t2.State())
	}
}

func TestController_RestartAfterCancel(t *testing.T) {
	c := NewController(0)
	startUpload(t, c, "u1", 8, 4)
	if err := c.Cancel("u1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// Same id may start fresh once the previous transfer is terminal.
	if _, err := c.Start("u1", "again.bin", "/tmp", 4, 4, &memFile{}, nil); err != nil {
		t.Fatalf("restart after cancel: %v", err)
	}
}
