// Package transfer tracks chunked file uploads: per-upload state machines
// with idempotent chunk accounting, random-offset writes to the backend
// file handle, cancellation, and an inactivity sweep. A transfer failing
// never affects the session that owns it.
package transfer

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

// State is the lifecycle state of one upload.
type State int

const (
	StateReceiving State = iota
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceiving:
		return "receiving"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

var (
	// ErrDuplicateUpload rejects a start for an id that is still active.
	ErrDuplicateUpload = errors.New("upload id already active")
	// ErrUnknownUpload rejects chunks for ids never started or already
	// swept away.
	ErrUnknownUpload = errors.New("unknown upload id")
	// ErrTerminalState rejects chunks after completion/cancel/failure.
	ErrTerminalState = errors.New("upload already finished")
	// ErrSizeMismatch is the checksum/size-mismatch failure after all
	// expected chunks arrived.
	ErrSizeMismatch = errors.New("received bytes do not match declared file size")
)

// FileHandle is the backend file a transfer writes into. SFTP handles
// support WriteAt, so chunks land at their offset regardless of arrival
// order.
type FileHandle interface {
	io.WriterAt
	io.Closer
}

// Transfer is one chunked upload.
type Transfer struct {
	ID         string
	FileName   string
	TargetPath string
	FileSize   int64
	ChunkSize  int64

	mu            sync.Mutex
	state         State
	received      map[int]struct{}
	receivedBytes int64
	lastChunkAt   time.Time
	file          FileHandle
	discard       func() error // removes the partial backend file
}

// State returns the transfer's current state.
func (t *Transfer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// ReceivedBytes returns the number of distinct payload bytes recorded.
func (t *Transfer) ReceivedBytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.receivedBytes
}

// expectedChunks is the number of indices a complete upload needs.
func (t *Transfer) expectedChunks() int {
	return int((t.FileSize + t.ChunkSize - 1) / t.ChunkSize)
}

// Controller owns every transfer of one client connection, indexed by
// upload id. Upload ids are unique per session; a new id may only be
// reused after an explicit cancel or a terminal state.
type Controller struct {
	mu          sync.Mutex
	transfers   map[string]*Transfer
	idleTimeout time.Duration
}

// NewController creates a controller. idleTimeout bounds the gap between
// chunks before a transfer fails; zero disables the sweep.
func NewController(idleTimeout time.Duration) *Controller {
	return &Controller{
		transfers:   make(map[string]*Transfer),
		idleTimeout: idleTimeout,
	}
}

// Start registers a new upload around an opened backend file handle.
// discard is called to remove the partial file on cancel or failure.
func (c *Controller) Start(id, fileName, targetPath string, fileSize, chunkSize int64, file FileHandle, discard func() error) (*Transfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.transfers[id]; ok && existing.State() == StateReceiving {
		return nil, ErrDuplicateUpload
	}

	t := &Transfer{
		ID:          id,
		FileName:    fileName,
		TargetPath:  targetPath,
		FileSize:    fileSize,
		ChunkSize:   chunkSize,
		state:       StateReceiving,
		received:    make(map[int]struct{}),
		lastChunkAt: time.Now(),
		file:        file,
		discard:     discard,
	}
	c.transfers[id] = t
	log.Printf("[transfer] started upload %s (%s, %d bytes, chunk %d)", id, fileName, fileSize, chunkSize)
	return t, nil
}

// Chunk records one chunk. Duplicate indices are idempotently ignored.
// It returns true once the transfer has completed.
func (c *Controller) Chunk(id string, index int, payload []byte) (bool, error) {
	c.mu.Lock()
	t, ok := c.transfers[id]
	c.mu.Unlock()
	if !ok {
		return false, ErrUnknownUpload
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateReceiving {
		return false, ErrTerminalState
	}

	if _, dup := t.received[index]; dup {
		return false, nil
	}

	if index >= t.expectedChunks() {
		t.failLocked()
		return false, fmt.Errorf("chunk index %d out of range: %w", index, ErrSizeMismatch)
	}

	offset := t.ChunkSize * int64(index)
	if _, err := t.file.WriteAt(payload, offset); err != nil {
		t.failLocked()
		return false, fmt.Errorf("write chunk %d: %w", index, err)
	}

	t.received[index] = struct{}{}
	t.receivedBytes += int64(len(payload))
	t.lastChunkAt = time.Now()

	if len(t.received) == t.expectedChunks() {
		if t.receivedBytes != t.FileSize {
			t.failLocked()
			return false, ErrSizeMismatch
		}
		t.state = StateCompleted
		t.file.Close()
		log.Printf("[transfer] upload %s completed (%d bytes)", t.ID, t.receivedBytes)
		return true, nil
	}
	return false, nil
}

// Cancel aborts an upload and releases the partial backend file.
func (c *Controller) Cancel(id string) error {
	c.mu.Lock()
	t, ok := c.transfers[id]
	c.mu.Unlock()
	if !ok {
		return ErrUnknownUpload
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateReceiving {
		return ErrTerminalState
	}
	t.state = StateCancelled
	t.releaseLocked()
	log.Printf("[transfer] upload %s cancelled", t.ID)
	return nil
}

// SweepIdle fails transfers whose last chunk is older than the idle
// timeout. Returns the ids that timed out.
func (c *Controller) SweepIdle() []string {
	if c.idleTimeout <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-c.idleTimeout)

	c.mu.Lock()
	var stale []*Transfer
	for _, t := range c.transfers {
		stale = append(stale, t)
	}
	c.mu.Unlock()

	var timedOut []string
	for _, t := range stale {
		t.mu.Lock()
		if t.state == StateReceiving && t.lastChunkAt.Before(cutoff) {
			t.failLocked()
			timedOut = append(timedOut, t.ID)
			log.Printf("[transfer] upload %s timed out waiting for chunks", t.ID)
		}
		t.mu.Unlock()
	}
	return timedOut
}

// CancelAll aborts every in-flight transfer; used when the owning client
// socket closes.
func (c *Controller) CancelAll() {
	c.mu.Lock()
	var active []*Transfer
	for _, t := range c.transfers {
		active = append(active, t)
	}
	c.mu.Unlock()

	for _, t := range active {
		t.mu.Lock()
		if t.state == StateReceiving {
			t.state = StateCancelled
			t.releaseLocked()
		}
		t.mu.Unlock()
	}
}

// failLocked moves the transfer to failed and releases the backend file.
// Caller holds t.mu.
func (t *Transfer) failLocked() {
	t.state = StateFailed
	t.releaseLocked()
}

// releaseLocked closes and discards the partial backend file, logging but
// not propagating cleanup errors. Caller holds t.mu.
func (t *Transfer) releaseLocked() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
	if t.discard != nil {
		if err := t.discard(); err != nil {
			log.Printf("[transfer] upload %s: discard partial file: %v", t.ID, err)
		}
		t.discard = nil
	}
}
