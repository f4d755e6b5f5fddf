// Package session owns the lifecycle of every terminal and remote-desktop
// session: creation, input/resize forwarding, suspend and resume across
// client disconnects, and teardown. A Session exclusively owns its backend
// channel; the client socket is an optional, clearable attachment.
package session

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/termgate/termgate/internal/backend"
)

// State is the lifecycle state of a session.
type State int

const (
	StateActive State = iota
	StateSuspendRequested
	StateSuspended
	StateResuming
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateSuspendRequested:
		return "suspend_requested"
	case StateSuspended:
		return "suspended"
	case StateResuming:
		return "resuming"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// Transport names the backend protocol behind a session.
type Transport string

const (
	TransportSSH Transport = "ssh"
	TransportRDP Transport = "rdp"
	TransportVNC Transport = "vnc"
)

var (
	// ErrNotActive is returned for operations that require an active session.
	ErrNotActive = errors.New("session is not active")
	// ErrTerminated is returned for any operation on a terminated session.
	ErrTerminated = errors.New("session is terminated")
)

// Session is one logical terminal or remote-desktop connection, independent
// of which physical client socket is currently attached.
type Session struct {
	ID             string
	ConnectionID   uint
	ConnectionName string
	UserID         uint
	Transport      Transport
	CreatedAt      time.Time

	channel backend.Channel
	pending *PendingBuffer

	mu           sync.Mutex
	state        State
	client       io.Writer // nil while detached
	lastActivity time.Time
	readerDone   chan struct{}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity returns the time of the last state change or input.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Channel exposes the owned backend channel, for callers that need
// transport-specific capabilities (e.g. the SSH client behind a shell).
func (s *Session) Channel() backend.Channel {
	return s.channel
}

// Done is closed when the backend channel ends.
func (s *Session) Done() <-chan struct{} {
	return s.channel.Done()
}

// IsAttached reports whether a client socket is currently attached.
func (s *Session) IsAttached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// Input forwards bytes verbatim to the backend channel. Valid only while
// active. If the channel is not writable at the moment of the call, the
// bytes are dropped and logged; nothing is queued.
func (s *Session) Input(p []byte) error {
	s.mu.Lock()
	state := s.state
	s.lastActivity = time.Now()
	s.mu.Unlock()

	switch state {
	case StateActive, StateSuspendRequested:
	case StateTerminated:
		return ErrTerminated
	default:
		return ErrNotActive
	}

	if _, err := s.channel.Write(p); err != nil {
		log.Printf("[session] %s: dropped %d input bytes, channel not writable: %v", s.ID, len(p), err)
	}
	return nil
}

// Resize propagates a geometry change to the backend. Valid only while
// active; idempotent.
func (s *Session) Resize(cols, rows uint16) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch state {
	case StateActive, StateSuspendRequested:
	case StateTerminated:
		return ErrTerminated
	default:
		return ErrNotActive
	}

	return s.channel.Resize(cols, rows)
}

// MarkForSuspend transitions an active session to suspend-requested and
// primes the pending buffer with the client-echoed tail, so a following
// disconnect suspends instead of terminating.
func (s *Session) MarkForSuspend(initial []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateActive:
	case StateSuspendRequested:
		return nil // idempotent
	case StateTerminated:
		return ErrTerminated
	default:
		return ErrNotActive
	}

	s.state = StateSuspendRequested
	s.lastActivity = time.Now()
	if len(initial) > 0 {
		s.pending.Reset(initial)
	}
	return nil
}

// UnmarkSuspend reverts a suspend request; a later disconnect terminates.
func (s *Session) UnmarkSuspend() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateSuspendRequested:
		s.state = StateActive
		s.lastActivity = time.Now()
		return nil
	case StateActive:
		return nil // idempotent
	case StateTerminated:
		return ErrTerminated
	default:
		return ErrNotActive
	}
}

// Attach flushes the pending output tail to w in original order, then
// installs w as the live output mirror. The flush and the install happen
// under the session lock, so no output can arrive out of order.
func (s *Session) Attach(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateTerminated {
		return ErrTerminated
	}
	if s.client != nil {
		return fmt.Errorf("session %s already attached", s.ID)
	}

	if tail := s.pending.Snapshot(); len(tail) > 0 {
		if _, err := w.Write(tail); err != nil {
			return fmt.Errorf("flush pending output: %w", err)
		}
	}
	s.client = w
	s.lastActivity = time.Now()
	return nil
}

// Detach clears the client attachment without touching the backend channel.
func (s *Session) Detach() {
	s.mu.Lock()
	s.client = nil
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// readLoop relays backend output into the pending buffer and, while a
// client is attached, mirrors it to the client. Runs for the lifetime of
// the backend channel.
func (s *Session) readLoop() {
	defer close(s.readerDone)
	buf := make([]byte, 32*1024)
	for {
		n, err := s.channel.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])

			s.mu.Lock()
			s.pending.Write(data)
			w := s.client
			s.mu.Unlock()

			if w != nil {
				if _, werr := w.Write(data); werr != nil {
					// Client sink failed; drop it and keep buffering.
					s.Detach()
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// terminate closes the backend channel and finalizes the session. The
// terminated state is final.
func (s *Session) terminate() {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	s.state = StateTerminated
	s.client = nil
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.channel.Close()
	s.pending.Close()
}
