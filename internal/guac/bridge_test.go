package guac

import (
	"context"
	"io"
	"testing"
	"time"
)

// chanConn is an in-memory Conn for bridge tests. Reads come from in;
// writes land on out. Closing in ends the read side.
type chanConn struct {
	in  chan string
	out chan string
}

func newChanConn() *chanConn {
	return &chanConn{
		in:  make(chan string, 16),
		out: make(chan string, 16),
	}
}

func (c *chanConn) ReadFrame(ctx context.Context) (string, error) {
	select {
	case frame, ok := <-c.in:
		if !ok {
			return "", io.EOF
		}
		return frame, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *chanConn) WriteFrame(ctx context.Context, frame string) error {
	select {
	case c.out <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestBridge_PassThroughBothDirections(t *testing.T) {
	client := newChanConn()
	upstream := newChanConn()

	b := &Bridge{Client: client, Upstream: upstream}
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(context.Background())
	}()

	client.in <- "5.mouse,960,540,0;"
	upstream.in <- "4.sync,99;"

	if got := <-upstream.out; got != "5.mouse,960,540,0;" {
		t.Errorf("client frame arrived as %q", got)
	}
	if got := <-client.out; got != "4.sync,99;" {
		t.Errorf("upstream frame arrived as %q", got)
	}

	close(client.in)
	close(upstream.in)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop after both legs closed")
	}
}

func TestBridge_DropsMalformedFrames(t *testing.T) {
	client := newChanConn()
	upstream := newChanConn()

	b := &Bridge{Client: client, Upstream: upstream}
	go b.Run(context.Background())
	defer close(upstream.in)

	client.in <- "garbage"
	client.in <- "3.key,65,1;"
	close(client.in)

	// Only the valid frame crosses; the malformed one is silently dropped.
	if got := <-upstream.out; got != "3.key,65,1;" {
		t.Errorf("expected valid frame after dropping garbage, got %q", got)
	}
	select {
	case extra := <-upstream.out:
		t.Errorf("malformed frame leaked through: %q", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBridge_OrderPreservedWithinDirection(t *testing.T) {
	client := newChanConn()
	upstream := newChanConn()

	b := &Bridge{Client: client, Upstream: upstream}
	go b.Run(context.Background())
	defer close(upstream.in)

	frames := []string{
		Build("mouse", "1", "1", "0"),
		Build("mouse", "2", "2", "0"),
		Build("mouse", "3", "3", "0"),
		Build("key", "97", "1"),
	}
	for _, f := range frames {
		client.in <- f
	}
	close(client.in)

	for i, want := range frames {
		got := <-upstream.out
		if got != want {
			t.Fatalf("frame %d: got %q, want %q", i, got, want)
		}
	}
}
