package heartbeat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// scriptedPinger answers pings from a fixed script: true = pong received,
// false = miss.
type scriptedPinger struct {
	mu     sync.Mutex
	script []bool
	calls  int
}

func (p *scriptedPinger) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if i < len(p.script) && p.script[i] {
		return nil
	}
	return errors.New("no pong")
}

func (p *scriptedPinger) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func runMonitor(t *testing.T, script []bool, threshold int) (timedOut bool, calls int) {
	t.Helper()

	p := &scriptedPinger{script: script}
	fired := make(chan struct{}, 1)
	m := &Monitor{
		Pinger:    p,
		Profile:   Profile{Interval: 5 * time.Millisecond, MissedThreshold: threshold},
		OnTimeout: func() { fired <- struct{}{} },
		Label:     "test",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	select {
	case <-fired:
		<-done
		return true, p.callCount()
	case <-done:
		return false, p.callCount()
	}
}

func TestMonitor_ClosesAfterThresholdMisses(t *testing.T) {
	timedOut, calls := runMonitor(t, nil, 3)
	if !timedOut {
		t.Fatal("expected timeout after consecutive misses")
	}
	if calls != 3 {
		t.Errorf("monitor pinged %d times, want exactly the threshold (3)", calls)
	}
}

func TestMonitor_PongResetsCounter(t *testing.T) {
	// Two misses, a pong, then misses again: the pong must reset the
	// counter, so the timeout lands on the third consecutive miss after it.
	script := []bool{false, false, true, false, false, false}
	timedOut, calls := runMonitor(t, script, 3)
	if !timedOut {
		t.Fatal("expected eventual timeout")
	}
	if calls != 6 {
		t.Errorf("monitor pinged %d times, want 6", calls)
	}
}

func TestMonitor_StopsOnContextCancel(t *testing.T) {
	p := &scriptedPinger{script: []bool{true, true, true, true, true, true, true, true}}
	m := &Monitor{
		Pinger:  p,
		Profile: Profile{Interval: 5 * time.Millisecond, MissedThreshold: 2},
		OnTimeout: func() {
			t.Error("timeout fired for a live connection")
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on cancel")
	}
}
