// Package transport adapts byte-stream connections (plain TCP or TLS)
// to the event-driven Socket surface the connection manager is written
// against.  Dialers handle the "how" of reaching the peer; sockets turn
// a dialed connection into lifecycle events on an event loop.
package transport

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"time"

	"sockwrap/internal/event"
)

// Dialer opens outbound network connections.  Implementations include
// a plain TCP dialer and an SSH-tunnelled dialer that routes traffic
// through a gateway.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}

// DialerFunc adapts a plain dial function to the Dialer interface.
type DialerFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	return f(ctx, network, address)
}

// Close is a no-op.
func (f DialerFunc) Close() error { return nil }

// Options selects what an Opener connects to.  A non-nil TLS config
// selects the secured path.
type Options struct {
	Network string
	Address string
	TLS     *tls.Config
}

// Socket is a live transport handle.  All methods, and all listeners,
// run on the goroutine that owns the socket's event loop.
//
// Events: Connect or SecureConnect once the handle is usable, Data for
// each inbound chunk, Drain after a refused Write has been flushed,
// Timeout after an idle period, End when the peer finishes sending,
// Error on failure and Close exactly once at the end of the handle's
// life.
type Socket interface {
	On(name string, fn event.Listener) event.ListenerID
	Off(name string, id event.ListenerID)

	// SetTimeout arms an idle timer of d (0 disables) and registers
	// onTimeout, when non-nil, as a Timeout listener.  Timeouts are
	// advisory: the socket stays open.
	SetTimeout(d time.Duration, onTimeout func())
	SetNoDelay(noDelay bool)

	// Write queues chunks in order and reports whether the socket
	// accepted them without exceeding its buffer limit.  false means
	// the data is still queued but the caller should wait for Drain.
	Write(chunks ...[]byte) bool

	// End flushes queued data, then shuts down the write side.  Close
	// follows once the peer has closed too.
	End()

	// Destroy closes the handle at once, discarding queued data.  Close
	// follows unless the handle is already closed.
	Destroy()

	Writable() bool

	// Pipe forwards every Data chunk to dst and returns dst.
	Pipe(dst io.Writer) io.Writer
}

// Opener creates sockets.  Open never blocks; the outcome arrives as
// a connect, error or close event.
type Opener interface {
	Open(opts Options) Socket
}
