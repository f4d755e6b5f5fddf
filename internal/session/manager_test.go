package session

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// fakeChannel is an in-memory backend channel. Output pushed via emit is
// returned from Read; Write records input.
type fakeChannel struct {
	mu      sync.Mutex
	out     chan []byte
	written bytes.Buffer
	resizes []int
	done    chan struct{}
	once    sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		out:  make(chan []byte, 64),
		done: make(chan struct{}),
	}
}

func (f *fakeChannel) emit(s string) { f.out <- []byte(s) }

func (f *fakeChannel) Read(p []byte) (int, error) {
	select {
	case data, ok := <-f.out:
		if !ok {
			return 0, io.EOF
		}
		return copy(p, data), nil
	case <-f.done:
		return 0, io.EOF
	}
}

func (f *fakeChannel) Write(p []byte) (int, error) {
	select {
	case <-f.done:
		return 0, errors.New("channel closed")
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written.Write(p)
	return len(p), nil
}

func (f *fakeChannel) Resize(cols, rows uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, int(cols)<<16|int(rows))
	return nil
}

func (f *fakeChannel) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeChannel) Done() <-chan struct{} { return f.done }

func (f *fakeChannel) input() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String()
}

// collectWriter is a client sink accumulating everything written to it.
type collectWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *collectWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *collectWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newTestManager() *Manager {
	return NewManager(Config{
		PendingBufferSize:   1024,
		SuspendExpiry:       time.Hour,
		MaxSuspendedPerUser: 2,
	})
}

func TestManager_CreateAndInput(t *testing.T) {
	m := newTestManager()
	ch := newFakeChannel()
	s := m.Create(10, 1, "web-1", TransportSSH, ch)

	if s.State() != StateActive {
		t.Fatalf("state = %s, want active", s.State())
	}

	w := &collectWriter{}
	if err := s.Attach(w); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	if err := s.Input([]byte("ls\n")); err != nil {
		t.Fatalf("Input: %v", err)
	}
	if got := ch.input(); got != "ls\n" {
		t.Errorf("backend received %q", got)
	}

	ch.emit("total 0\r\n")
	waitFor(t, func() bool { return w.String() == "total 0\r\n" }, "output not mirrored to client")

	if err := s.Resize(120, 40); err != nil {
		t.Fatalf("Resize: %v", err)
	}

	m.Terminate(s.ID)
	if s.State() != StateTerminated {
		t.Errorf("state = %s, want terminated", s.State())
	}
}

func TestManager_UnmarkedDisconnectTerminates(t *testing.T) {
	m := newTestManager()
	ch := newFakeChannel()
	s := m.Create(10, 1, "web-1", TransportSSH, ch)

	m.HandleClientClose(s.ID)

	if s.State() != StateTerminated {
		t.Errorf("state = %s, want terminated", s.State())
	}
	select {
	case <-ch.Done():
	default:
		t.Error("backend channel left open after unmarked disconnect")
	}
	if m.SuspendedCount() != 0 {
		t.Errorf("suspend entries = %d, want 0", m.SuspendedCount())
	}
}

func TestManager_SuspendResumeRoundTrip(t *testing.T) {
	m := newTestManager()
	ch := newFakeChannel()
	s := m.Create(10, 1, "web-1", TransportSSH, ch)

	if err := s.MarkForSuspend([]byte("$ tail")); err != nil {
		t.Fatalf("MarkForSuspend: %v", err)
	}
	m.HandleClientClose(s.ID)

	if s.State() != StateSuspended {
		t.Fatalf("state = %s, want suspended", s.State())
	}
	if m.SuspendedCount() != 1 {
		t.Fatalf("suspend entries = %d, want exactly 1", m.SuspendedCount())
	}
	select {
	case <-ch.Done():
		t.Fatal("backend channel closed despite suspend mark")
	default:
	}

	// Output produced while detached lands in the pending buffer.
	ch.emit(" output-while-away")
	waitFor(t, func() bool { return s.pending.Len() > len("$ tail") }, "detached output not buffered")

	entries := m.ListSuspended(10)
	if len(entries) != 1 || entries[0].ConnectionName != "web-1" {
		t.Fatalf("ListSuspended = %+v", entries)
	}

	w := &collectWriter{}
	resumed, err := m.Resume(entries[0].SuspendSessionID, 10, w)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.ID != s.ID {
		t.Errorf("resumed a different session")
	}
	if s.State() != StateActive {
		t.Errorf("state after resume = %s, want active", s.State())
	}
	if m.SuspendedCount() != 0 {
		t.Errorf("suspend entries after resume = %d, want 0", m.SuspendedCount())
	}

	// The buffered tail arrives first, in original order.
	waitFor(t, func() bool { return w.String() == "$ tail output-while-away" },
		"pending buffer not flushed in order: "+w.String())

	// Live output continues after the flush.
	ch.emit("!")
	waitFor(t, func() bool { return w.String() == "$ tail output-while-away!" }, "live output after resume")
}

func TestManager_ResumeUnknownEntry(t *testing.T) {
	m := newTestManager()
	if _, err := m.Resume("nope", 10, &collectWriter{}); !errors.Is(err, ErrSuspendEntryNotFound) {
		t.Fatalf("expected ErrSuspendEntryNotFound, got %v", err)
	}
}

func TestManager_ResumeWrongUserRejected(t *testing.T) {
	m := newTestManager()
	ch := newFakeChannel()
	s := m.Create(10, 1, "web-1", TransportSSH, ch)
	s.MarkForSuspend(nil)
	m.HandleClientClose(s.ID)

	entries := m.ListSuspended(10)
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}

	if _, err := m.Resume(entries[0].SuspendSessionID, 99, &collectWriter{}); !errors.Is(err, ErrSuspendEntryNotFound) {
		t.Fatalf("expected ErrSuspendEntryNotFound for foreign principal, got %v", err)
	}
	// The entry survives a rejected resume.
	if m.SuspendedCount() != 1 {
		t.Errorf("suspend entries = %d, want 1", m.SuspendedCount())
	}
}

// blockedFailWriter blocks the attach flush until released, then fails the
// write.
type blockedFailWriter struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (w *blockedFailWriter) Write(p []byte) (int, error) {
	w.once.Do(func() { close(w.entered) })
	<-w.release
	return 0, errors.New("sink gone")
}

func TestManager_TerminateDuringResumeLeavesNoEntry(t *testing.T) {
	m := newTestManager()
	ch := newFakeChannel()
	s := m.Create(10, 1, "web-1", TransportSSH, ch)
	s.MarkForSuspend([]byte("$ tail"))
	m.HandleClientClose(s.ID)

	entries := m.ListSuspended(10)
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}

	w := &blockedFailWriter{entered: make(chan struct{}), release: make(chan struct{})}
	resumeErr := make(chan error, 1)
	go func() {
		_, err := m.Resume(entries[0].SuspendSessionID, 10, w)
		resumeErr <- err
	}()
	<-w.entered

	// Terminate while the attach flush holds the session lock, then let
	// the flush fail.
	termDone := make(chan struct{})
	go func() {
		m.Terminate(s.ID)
		close(termDone)
	}()
	time.Sleep(20 * time.Millisecond)
	close(w.release)

	if err := <-resumeErr; err == nil {
		t.Fatal("Resume succeeded against a failing sink")
	}
	<-termDone

	waitFor(t, func() bool { return s.State() == StateTerminated },
		"session left terminated state after failed resume")
	if m.SuspendedCount() != 0 {
		t.Errorf("suspend entries = %d, want 0 (entry would point at a closed backend)", m.SuspendedCount())
	}
	if m.Count() != 0 {
		t.Errorf("sessions = %d, want 0 after terminate", m.Count())
	}
}

func TestManager_FailedResumeKeepsEntryWhenSessionLives(t *testing.T) {
	m := newTestManager()
	ch := newFakeChannel()
	s := m.Create(10, 1, "web-1", TransportSSH, ch)
	s.MarkForSuspend([]byte("$ tail"))
	m.HandleClientClose(s.ID)

	entries := m.ListSuspended(10)
	w := &blockedFailWriter{entered: make(chan struct{}), release: make(chan struct{})}
	close(w.release)

	if _, err := m.Resume(entries[0].SuspendSessionID, 10, w); err == nil {
		t.Fatal("Resume succeeded against a failing sink")
	}
	if s.State() != StateSuspended {
		t.Errorf("state = %s, want suspended after failed resume", s.State())
	}
	if m.SuspendedCount() != 1 {
		t.Errorf("suspend entries = %d, want 1 (session still resumable)", m.SuspendedCount())
	}

	// A later resume with a working sink still succeeds.
	cw := &collectWriter{}
	if _, err := m.Resume(entries[0].SuspendSessionID, 10, cw); err != nil {
		t.Fatalf("second Resume: %v", err)
	}
	if cw.String() != "$ tail" {
		t.Errorf("flushed tail = %q", cw.String())
	}
}

func TestManager_TerminateSuspendedClosesBackend(t *testing.T) {
	m := newTestManager()
	ch := newFakeChannel()
	s := m.Create(10, 1, "web-1", TransportSSH, ch)
	s.MarkForSuspend(nil)
	m.HandleClientClose(s.ID)

	entries := m.ListSuspended(10)
	if err := m.TerminateSuspended(entries[0].SuspendSessionID, 10); err != nil {
		t.Fatalf("TerminateSuspended: %v", err)
	}

	select {
	case <-ch.Done():
	default:
		t.Error("backend channel still open after terminate")
	}
	if m.SuspendedCount() != 0 || m.Count() != 0 {
		t.Errorf("entries=%d sessions=%d after terminate", m.SuspendedCount(), m.Count())
	}
}

func TestManager_SuspendCapPerUser(t *testing.T) {
	m := newTestManager() // cap is 2
	var sessions []*Session
	for i := 0; i < 3; i++ {
		ch := newFakeChannel()
		s := m.Create(10, 1, "web-1", TransportSSH, ch)
		s.MarkForSuspend(nil)
		sessions = append(sessions, s)
	}
	for _, s := range sessions {
		m.HandleClientClose(s.ID)
	}

	if m.SuspendedCount() != 2 {
		t.Errorf("suspend entries = %d, want cap of 2", m.SuspendedCount())
	}
	if sessions[2].State() != StateTerminated {
		t.Errorf("over-cap session state = %s, want terminated", sessions[2].State())
	}
}

func TestManager_ConcurrentDisconnectsRespectCap(t *testing.T) {
	m := newTestManager() // cap is 2
	var sessions []*Session
	for i := 0; i < 8; i++ {
		ch := newFakeChannel()
		s := m.Create(10, 1, "web-1", TransportSSH, ch)
		s.MarkForSuspend(nil)
		sessions = append(sessions, s)
	}

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			m.HandleClientClose(id)
		}(s.ID)
	}
	wg.Wait()

	if got := m.SuspendedCount(); got != 2 {
		t.Errorf("suspend entries = %d, want cap of 2", got)
	}
	terminated := 0
	for _, s := range sessions {
		if s.State() == StateTerminated {
			terminated++
		}
	}
	if terminated != 6 {
		t.Errorf("terminated sessions = %d, want 6", terminated)
	}
}

func TestManager_SweepExpired(t *testing.T) {
	m := NewManager(Config{
		PendingBufferSize: 1024,
		SuspendExpiry:     10 * time.Millisecond,
	})
	ch := newFakeChannel()
	s := m.Create(10, 1, "web-1", TransportSSH, ch)
	s.MarkForSuspend(nil)
	m.HandleClientClose(s.ID)

	time.Sleep(30 * time.Millisecond)
	if n := m.SweepExpired(); n != 1 {
		t.Fatalf("SweepExpired = %d, want 1", n)
	}
	if s.State() != StateTerminated {
		t.Errorf("state = %s, want terminated after sweep", s.State())
	}
	select {
	case <-ch.Done():
	default:
		t.Error("backend channel still open after sweep")
	}
}

func TestManager_BackendDeathInvalidatesSuspendEntry(t *testing.T) {
	m := newTestManager()
	ch := newFakeChannel()
	s := m.Create(10, 1, "web-1", TransportSSH, ch)
	s.MarkForSuspend(nil)
	m.HandleClientClose(s.ID)

	// Backend dies while the session is suspended.
	ch.Close()

	waitFor(t, func() bool { return m.SuspendedCount() == 0 },
		"suspend entry survived backend channel death")
	waitFor(t, func() bool { return s.State() == StateTerminated },
		"session not terminated after backend death")
}

func TestSession_InputInvalidStates(t *testing.T) {
	m := newTestManager()
	ch := newFakeChannel()
	s := m.Create(10, 1, "web-1", TransportSSH, ch)
	s.MarkForSuspend(nil)
	m.HandleClientClose(s.ID)

	if err := s.Input([]byte("x")); !errors.Is(err, ErrNotActive) {
		t.Errorf("Input while suspended: %v, want ErrNotActive", err)
	}

	m.Terminate(s.ID)
	if err := s.Input([]byte("x")); !errors.Is(err, ErrTerminated) {
		t.Errorf("Input after terminate: %v, want ErrTerminated", err)
	}
	if err := s.Resize(80, 24); !errors.Is(err, ErrTerminated) {
		t.Errorf("Resize after terminate: %v, want ErrTerminated", err)
	}
}

func TestSession_UnmarkRestoresTerminateOnClose(t *testing.T) {
	m := newTestManager()
	ch := newFakeChannel()
	s := m.Create(10, 1, "web-1", TransportSSH, ch)

	s.MarkForSuspend(nil)
	if err := s.UnmarkSuspend(); err != nil {
		t.Fatalf("UnmarkSuspend: %v", err)
	}
	m.HandleClientClose(s.ID)

	if s.State() != StateTerminated {
		t.Errorf("state = %s, want terminated after unmarked close", s.State())
	}
	if m.SuspendedCount() != 0 {
		t.Errorf("suspend entries = %d, want 0", m.SuspendedCount())
	}
}
