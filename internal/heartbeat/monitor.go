// Package heartbeat runs ping/pong liveness checks alongside every client
// socket and closes sockets whose owner stops answering.
package heartbeat

import (
	"context"
	"log"
	"time"
)

// Pinger is the liveness probe of one client socket. Ping blocks until the
// peer answers or the context expires.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Profile pairs a ping interval with the number of consecutive misses a
// client may accumulate before the socket is considered dead.
type Profile struct {
	Interval        time.Duration
	MissedThreshold int
}

// DefaultDesktop and DefaultMobile are the fallback profiles when the
// settings store has nothing better.
var (
	DefaultDesktop = Profile{Interval: 30 * time.Second, MissedThreshold: 2}
	DefaultMobile  = Profile{Interval: 15 * time.Second, MissedThreshold: 3}
)

// Monitor drives the liveness loop for one socket. OnTimeout fires once,
// after the missed-pong counter reaches the profile threshold.
type Monitor struct {
	Pinger    Pinger
	Profile   Profile
	OnTimeout func()
	// Label appears in log lines; typically the remote address.
	Label string
}

// Run loops until the context is cancelled or the threshold is exceeded.
// Any answered ping resets the missed counter to zero.
func (m *Monitor) Run(ctx context.Context) {
	interval := m.Profile.Interval
	if interval <= 0 {
		interval = DefaultDesktop.Interval
	}
	threshold := m.Profile.MissedThreshold
	if threshold <= 0 {
		threshold = DefaultDesktop.MissedThreshold
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pingCtx, cancel := context.WithTimeout(ctx, interval)
		err := m.Pinger.Ping(pingCtx)
		cancel()

		if ctx.Err() != nil {
			return
		}

		if err != nil {
			missed++
			log.Printf("[heartbeat] %s: missed pong %d/%d", m.Label, missed, threshold)
			if missed >= threshold {
				log.Printf("[heartbeat] %s: liveness timeout, closing socket", m.Label)
				if m.OnTimeout != nil {
					m.OnTimeout()
				}
				return
			}
			continue
		}
		missed = 0
	}
}
