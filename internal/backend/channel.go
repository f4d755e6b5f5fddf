// Package backend provides the transports a session can own: an SSH PTY
// shell, a remote-desktop gateway WebSocket leg, and a Docker control link.
// Sessions treat all of them as an opaque duplex byte stream.
package backend

import "io"

// Channel is the duplex stream to an actual backend, owned by exactly one
// session. Read returns backend output; Write forwards client bytes; Done
// is closed when the backend side ends for any reason.
type Channel interface {
	io.ReadWriteCloser

	// Resize propagates a terminal geometry change where the transport
	// supports it; transports without a geometry ignore it.
	Resize(cols, rows uint16) error

	// Done is closed once the backend has ended. Close always results in
	// Done being closed, but not necessarily synchronously.
	Done() <-chan struct{}
}
