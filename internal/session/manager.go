package session

import (
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/termgate/termgate/internal/backend"
)

var (
	// ErrSuspendEntryNotFound is returned for resume/terminate/remove with
	// an unknown suspend session id. No state changes.
	ErrSuspendEntryNotFound = errors.New("suspend entry not found")
	// ErrSessionNotFound is returned for operations on unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
)

// SuspendEntry records one suspended session, keyed by an opaque
// server-generated id so the original session id cannot be guessed to
// reattach.
type SuspendEntry struct {
	SuspendSessionID string
	Session          *Session
	ConnectionName   string
	UserID           uint
	SuspendedAt      time.Time
}

// SuspendInfo is the client-visible view of a suspend entry. No backend
// channel details are exposed.
type SuspendInfo struct {
	SuspendSessionID string    `json:"suspendSessionId"`
	ConnectionName   string    `json:"connectionName"`
	Transport        Transport `json:"transport"`
	SuspendedAt      time.Time `json:"suspendedAt"`
}

// Config are the manager's tunables, typically sourced from the settings
// store at startup.
type Config struct {
	// PendingBufferSize caps each session's buffered output tail.
	PendingBufferSize int
	// SuspendExpiry is how long a suspended session survives before the
	// sweep force-terminates it. Zero disables the sweep.
	SuspendExpiry time.Duration
	// MaxSuspendedPerUser bounds concurrently suspended sessions per
	// principal; further disconnects terminate instead of suspending.
	// Zero means unlimited.
	MaxSuspendedPerUser int
}

// Manager is the session table plus the suspend/resume registry. These are
// the only globally shared mutable structures; mutation is key-scoped (the
// table lock is held only for map access, per-session state is guarded by
// the session's own lock), so unrelated sessions never contend.
type Manager struct {
	cfg Config

	mu        sync.RWMutex
	sessions  map[string]*Session
	suspended map[string]*SuspendEntry
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:       cfg,
		sessions:  make(map[string]*Session),
		suspended: make(map[string]*SuspendEntry),
	}
}

// Create registers a new session around an opened backend channel and
// starts relaying its output. The session starts active and detached;
// callers attach the client sink themselves.
func (m *Manager) Create(userID uint, connectionID uint, connectionName string, transport Transport, ch backend.Channel) *Session {
	s := &Session{
		ID:             uuid.New().String(),
		ConnectionID:   connectionID,
		ConnectionName: connectionName,
		UserID:         userID,
		Transport:      transport,
		CreatedAt:      time.Now(),
		channel:        ch,
		pending:        NewPendingBuffer(m.cfg.PendingBufferSize),
		state:          StateActive,
		lastActivity:   time.Now(),
		readerDone:     make(chan struct{}),
	}

	go s.readLoop()
	go m.watchBackend(s)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	log.Printf("[session-mgr] created session %s (%s, connection %q, user %d)",
		s.ID, transport, connectionName, userID)
	return s
}

// watchBackend finalizes the session when its backend channel ends, from
// whatever state it was in. A dead backend also invalidates any suspend
// entry pointing at it.
func (m *Manager) watchBackend(s *Session) {
	<-s.channel.Done()
	log.Printf("[session-mgr] backend channel ended for session %s", s.ID)
	m.Terminate(s.ID)
}

// Get returns a session by id, or nil.
func (m *Manager) Get(sessionID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// HandleClientClose applies the disconnect transition for one session:
// suspend-requested sessions detach into the suspend registry, everything
// else terminates so no orphan backend channels remain.
func (m *Manager) HandleClientClose(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	switch s.state {
	case StateSuspendRequested:
		entry := &SuspendEntry{
			SuspendSessionID: uuid.New().String(),
			Session:          s,
			ConnectionName:   s.ConnectionName,
			UserID:           s.UserID,
			SuspendedAt:      time.Now(),
		}
		// Cap check and insertion share one critical section so two
		// simultaneous disconnects cannot both slip under the cap.
		m.mu.Lock()
		if m.cfg.MaxSuspendedPerUser > 0 && m.suspendedCountForUser(s.UserID) >= m.cfg.MaxSuspendedPerUser {
			m.mu.Unlock()
			s.mu.Unlock()
			log.Printf("[session-mgr] suspend cap reached for user %d, terminating session %s", s.UserID, s.ID)
			m.Terminate(sessionID)
			return
		}
		m.suspended[entry.SuspendSessionID] = entry
		m.mu.Unlock()

		s.state = StateSuspended
		s.client = nil
		s.lastActivity = time.Now()
		s.mu.Unlock()
		log.Printf("[session-mgr] suspended session %s as %s", s.ID, entry.SuspendSessionID)

	case StateTerminated:
		s.mu.Unlock()

	default:
		s.mu.Unlock()
		m.Terminate(sessionID)
	}
}

// suspendedCountForUser counts entries for one principal. Caller holds
// m.mu.
func (m *Manager) suspendedCountForUser(userID uint) int {
	n := 0
	for _, e := range m.suspended {
		if e.UserID == userID {
			n++
		}
	}
	return n
}

// SuspendedInfo returns the client-visible view of one suspend entry, for
// callers that need to inspect (e.g. the transport) before resuming.
func (m *Manager) SuspendedInfo(suspendSessionID string, userID uint) (SuspendInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.suspended[suspendSessionID]
	if !ok || e.UserID != userID {
		return SuspendInfo{}, ErrSuspendEntryNotFound
	}
	return SuspendInfo{
		SuspendSessionID: e.SuspendSessionID,
		ConnectionName:   e.ConnectionName,
		Transport:        e.Session.Transport,
		SuspendedAt:      e.SuspendedAt,
	}, nil
}

// Resume reattaches a suspended session to a new client sink, flushing the
// pending output tail in original order, and deletes the suspend entry.
func (m *Manager) Resume(suspendSessionID string, userID uint, w io.Writer) (*Session, error) {
	m.mu.Lock()
	entry, ok := m.suspended[suspendSessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrSuspendEntryNotFound
	}
	if entry.UserID != userID {
		m.mu.Unlock()
		return nil, ErrSuspendEntryNotFound
	}
	delete(m.suspended, suspendSessionID)
	m.mu.Unlock()

	s := entry.Session

	s.mu.Lock()
	if s.state != StateSuspended {
		s.mu.Unlock()
		return nil, ErrSuspendEntryNotFound
	}
	s.state = StateResuming
	s.mu.Unlock()

	if err := s.Attach(w); err != nil {
		// Attach failed (e.g. dead sink); put the entry back so the
		// session stays resumable. A terminate that raced the attach
		// wins: the terminated state is final, and an entry must never
		// point at a closed backend channel.
		s.mu.Lock()
		resumable := s.state == StateResuming
		if resumable {
			s.state = StateSuspended
		}
		s.mu.Unlock()
		if resumable {
			m.mu.Lock()
			if _, live := m.sessions[s.ID]; live {
				m.suspended[suspendSessionID] = entry
			}
			m.mu.Unlock()
		}
		return nil, err
	}

	s.mu.Lock()
	if s.state == StateResuming {
		s.state = StateActive
	}
	s.mu.Unlock()

	log.Printf("[session-mgr] resumed session %s (entry %s)", s.ID, suspendSessionID)
	return s, nil
}

// TerminateSuspended closes the backend channel of a suspended session and
// removes its entry. Unlike Resume, nothing is reattached.
func (m *Manager) TerminateSuspended(suspendSessionID string, userID uint) error {
	m.mu.Lock()
	entry, ok := m.suspended[suspendSessionID]
	if !ok || entry.UserID != userID {
		m.mu.Unlock()
		return ErrSuspendEntryNotFound
	}
	delete(m.suspended, suspendSessionID)
	m.mu.Unlock()

	m.Terminate(entry.Session.ID)
	return nil
}

// Terminate closes the backend channel unconditionally, removes any
// suspend entry pointing at the session, and finalizes it.
func (m *Manager) Terminate(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
		for id, e := range m.suspended {
			if e.Session == s {
				delete(m.suspended, id)
			}
		}
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	s.terminate()
	log.Printf("[session-mgr] terminated session %s", s.ID)
}

// ListSuspended returns the suspend entries visible to one principal.
func (m *Manager) ListSuspended(userID uint) []SuspendInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SuspendInfo, 0)
	for _, e := range m.suspended {
		if e.UserID != userID {
			continue
		}
		out = append(out, SuspendInfo{
			SuspendSessionID: e.SuspendSessionID,
			ConnectionName:   e.ConnectionName,
			Transport:        e.Session.Transport,
			SuspendedAt:      e.SuspendedAt,
		})
	}
	return out
}

// SweepExpired force-terminates suspend entries older than the configured
// expiry. Failures are per-entry; the sweep itself never aborts. Returns
// the number of entries cleaned.
func (m *Manager) SweepExpired() int {
	if m.cfg.SuspendExpiry <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-m.cfg.SuspendExpiry)

	m.mu.RLock()
	var expired []*SuspendEntry
	for _, e := range m.suspended {
		if e.SuspendedAt.Before(cutoff) {
			expired = append(expired, e)
		}
	}
	m.mu.RUnlock()

	cleaned := 0
	for _, e := range expired {
		// Re-check under the table lock so a resume that won the race
		// keeps its session.
		m.mu.Lock()
		_, still := m.suspended[e.SuspendSessionID]
		if still {
			delete(m.suspended, e.SuspendSessionID)
		}
		m.mu.Unlock()
		if !still {
			continue
		}
		log.Printf("[session-mgr] sweep: suspend entry %s expired (suspended %s)",
			e.SuspendSessionID, e.SuspendedAt.Format(time.RFC3339))
		m.Terminate(e.Session.ID)
		cleaned++
	}
	return cleaned
}

// Count returns the number of tracked sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SuspendedCount returns the number of suspend entries.
func (m *Manager) SuspendedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.suspended)
}

// CloseAll terminates every session; used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Terminate(id)
	}
}
