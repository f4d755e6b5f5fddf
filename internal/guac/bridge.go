package guac

import (
	"context"
	"log"
	"time"
)

// Conn is one leg of the bridge: the browser socket or the gateway socket.
// Both sides carry instruction frames as text messages.
type Conn interface {
	ReadFrame(ctx context.Context) (string, error)
	WriteFrame(ctx context.Context, frame string) error
}

// DefaultWriteTimeout bounds a single relay write. A consumer that cannot
// drain within this window ends the relay instead of growing buffers.
const DefaultWriteTimeout = 30 * time.Second

// Bridge relays instruction frames in both directions between a client
// socket and the remote-desktop gateway. Frames that fail to parse are
// dropped; everything else passes through unrewritten. Each direction is
// one goroutine with synchronous writes, so a slow consumer pauses reads
// from its source rather than buffering without bound.
type Bridge struct {
	Client       Conn
	Upstream     Conn
	WriteTimeout time.Duration
}

// Run relays until the context is cancelled or either leg fails. It returns
// after both directions have stopped.
func (b *Bridge) Run(ctx context.Context) {
	timeout := b.WriteTimeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}

	relayCtx, relayCancel := context.WithCancel(ctx)
	defer relayCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer relayCancel()
		b.relay(relayCtx, b.Client, b.Upstream, timeout, "client->gateway")
	}()

	b.relay(relayCtx, b.Upstream, b.Client, timeout, "gateway->client")
	relayCancel()
	<-done
}

func (b *Bridge) relay(ctx context.Context, src, dst Conn, timeout time.Duration, dir string) {
	for {
		frame, err := src.ReadFrame(ctx)
		if err != nil {
			return
		}

		// Malformed frames are dropped; the relay itself survives.
		if Parse(frame) == nil {
			log.Printf("[guac] dropping malformed frame (%s, %d bytes)", dir, len(frame))
			continue
		}

		writeCtx, cancel := context.WithTimeout(ctx, timeout)
		err = dst.WriteFrame(writeCtx, frame)
		cancel()
		if err != nil {
			return
		}
	}
}
