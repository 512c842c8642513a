// Package transporttest provides a scripted, synchronous Socket for
// testing code written against the transport interfaces.  Nothing runs
// in the background: a test emits events itself, in whatever order it
// wants to exercise.
package transporttest

import (
	"io"
	"time"

	"sockwrap/internal/event"
	"sockwrap/internal/transport"
)

// Socket is a mock transport.Socket.
type Socket struct {
	event.Emitter

	// Opts is what the socket was opened with.
	Opts transport.Options

	// Accept is the result returned by Write.  It defaults to true.
	Accept bool

	Writes    [][]byte
	Ended     bool
	Destroyed bool
	NoDelay   *bool
	Timeout   time.Duration
	Pipes     []io.Writer
}

// NewSocket returns a socket that accepts writes immediately.
func NewSocket(opts transport.Options) *Socket {
	return &Socket{Opts: opts, Accept: true}
}

func (s *Socket) SetTimeout(d time.Duration, onTimeout func()) {
	s.Timeout = d
	if onTimeout != nil {
		s.On(event.Timeout, func(any) { onTimeout() })
	}
}

func (s *Socket) SetNoDelay(noDelay bool) { s.NoDelay = &noDelay }

func (s *Socket) Write(chunks ...[]byte) bool {
	s.Writes = append(s.Writes, chunks...)
	return s.Accept
}

func (s *Socket) End() { s.Ended = true }

// Destroy emits a clean close unless the socket is already closed.
func (s *Socket) Destroy() {
	if s.Destroyed {
		return
	}
	s.Close()
}

func (s *Socket) Writable() bool { return !s.Ended && !s.Destroyed }

func (s *Socket) Pipe(dst io.Writer) io.Writer {
	s.Pipes = append(s.Pipes, dst)
	s.On(event.Data, func(arg any) { dst.Write(arg.([]byte)) }) //nolint:errcheck
	return dst
}

// ── scripting helpers ────────────────────────────────────────────────

// Connect emits the connect event matching how the socket was opened.
func (s *Socket) Connect() {
	if s.Opts.TLS != nil {
		s.Emit(event.SecureConnect, nil)
		return
	}
	s.Emit(event.Connect, nil)
}

// Fail emits err followed by close, the way a transport reports a
// fatal error.
func (s *Socket) Fail(err error) {
	s.Destroyed = true
	s.Emit(event.Error, err)
	s.Emit(event.Close, true)
}

// Close emits a clean close.
func (s *Socket) Close() {
	s.Destroyed = true
	s.Emit(event.Close, false)
}

// Drain emits drain.
func (s *Socket) Drain() { s.Emit(event.Drain, nil) }

// Idle emits timeout.
func (s *Socket) Idle() { s.Emit(event.Timeout, nil) }

// Data emits an inbound chunk.
func (s *Socket) Data(chunk []byte) { s.Emit(event.Data, chunk) }

// Opener records every socket it opens.
type Opener struct {
	Sockets []*Socket

	// Configure, when set, runs on each new socket before it is returned.
	Configure func(*Socket)
}

func (o *Opener) Open(opts transport.Options) transport.Socket {
	s := NewSocket(opts)
	if o.Configure != nil {
		o.Configure(s)
	}
	o.Sockets = append(o.Sockets, s)
	return s
}

// Last returns the most recently opened socket, or nil.
func (o *Opener) Last() *Socket {
	if len(o.Sockets) == 0 {
		return nil
	}
	return o.Sockets[len(o.Sockets)-1]
}
