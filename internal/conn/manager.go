// Package conn implements the connection lifecycle on top of a
// transport.Socket: a Manager that drives one handle through
// IDLE → CONNECTING → CONNECTED → IDLE with callback completion, and a
// Client that exposes the same operations as blocking, context-aware
// calls.
package conn

import (
	"io"

	"github.com/google/uuid"

	"sockwrap/config"
	"sockwrap/internal/completion"
	ncerr "sockwrap/internal/errors"
	"sockwrap/internal/event"
	"sockwrap/internal/metrics"
	"sockwrap/internal/transport"
)

// State is the lifecycle state of a Manager.
type State int

const (
	Idle State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Manager owns at most one transport handle at a time.
//
// A Manager is not safe for concurrent use: every method, every
// callback and both hooks run on the goroutine that drives the
// underlying sockets (see Client for a goroutine-safe wrapper).
// Callbacks are always invoked, exactly once, and never panic the
// process on transport failure.
type Manager struct {
	// OnTimeout is called each time the handle has been idle for the
	// configured timeout.  The connection stays open.
	OnTimeout func()
	// OnDisconnect is called when a connected handle closes without a
	// call to Disconnect.
	OnDisconnect func()

	cfg     config.Config
	opener  transport.Opener
	metrics *metrics.Collector
	id      uuid.UUID

	sock       transport.Socket
	state      State
	closeWatch completion.Disposer

	// closing holds disconnected handles still waiting for the peer.
	closing map[transport.Socket]struct{}
}

// NewManager returns an idle manager.  cfg is copied; m may be nil.
func NewManager(cfg config.Config, opener transport.Opener, m *metrics.Collector) *Manager {
	return &Manager{
		cfg:     cfg,
		opener:  opener,
		metrics: m,
		id:      uuid.New(),
	}
}

// ID identifies this manager in trace output.
func (m *Manager) ID() uuid.UUID { return m.id }

// State returns the current lifecycle state.
func (m *Manager) State() State { return m.state }

// ── Connect ──────────────────────────────────────────────────────────

// Connect opens a new handle and calls cb once it is usable or has
// failed.  A handle carrying a private key is opened over TLS, anything
// else over plain TCP.
//
// cb receives ErrAlreadyConnected if a handle already exists,
// ErrDisconnected if Disconnect was called before the connect
// completed, a *ConfigError if the TLS material is unusable, and a
// *NetworkError wrapping the transport's error otherwise.
func (m *Manager) Connect(cb func(error)) {
	if m.sock != nil {
		cb(ncerr.ErrAlreadyConnected)
		return
	}

	opts := transport.Options{Network: "tcp", Address: m.cfg.Address()}
	success := event.Connect
	if m.cfg.TLS.Secure() {
		conf, err := transport.NewTLSConfig(m.cfg.TLS, m.cfg.Host)
		if err != nil {
			m.tracef("tls setup failed: %v", err)
			cb(err)
			return
		}
		opts.TLS = conf
		success = event.SecureConnect
		m.tracef("creating secure connection to %s", opts.Address)
		if m.cfg.TLS.RequestCert {
			m.tracef("requestCert has no effect on an outbound connection")
		}
	} else {
		m.tracef("creating insecure connection to %s", opts.Address)
	}

	sock := m.opener.Open(opts)
	m.sock = sock
	m.state = Connecting

	m.tracef("setting timeout to %s", m.cfg.Timeout)
	sock.SetTimeout(m.cfg.Timeout, func() { m.handleTimeout(sock) })
	m.tracef("setting no delay to %t", m.cfg.NoDelay)
	sock.SetNoDelay(m.cfg.NoDelay)
	sock.On(event.Data, func(arg any) {
		if chunk, ok := arg.([]byte); ok {
			m.metrics.BytesReceived(int64(len(chunk)))
		}
	})

	m.tracef("adding %s handler", success)
	completion.Bind(sock, success, func(err error, _ any) {
		m.tracef("%s handler completed", success)
		if err != nil {
			if m.sock == sock {
				m.clear()
			}
			m.metrics.ConnectFailed()
			m.metrics.RecordError(err.Error())
			cb(ncerr.Wrap("connect", opts.Address, err))
			return
		}
		if m.sock != sock {
			// Disconnect won the race.
			cb(ncerr.ErrDisconnected)
			return
		}

		m.state = Connected
		m.metrics.ConnectionOpened()
		m.watchClose(sock)
		cb(nil)
	})
}

// watchClose arms the post-connect watcher that turns a close nobody
// asked for into an OnDisconnect call.
func (m *Manager) watchClose(sock transport.Socket) {
	m.tracef("adding close handler")
	m.closeWatch = completion.Bind(sock, event.Close, func(err error, _ any) {
		m.tracef("close handler completed")
		m.closeWatch = nil
		if m.sock != sock {
			return
		}
		if err != nil {
			m.tracef("unexpected socket error: %v", err)
			m.metrics.RecordError(err.Error())
		}
		m.clear()
		m.metrics.ConnectionClosed(true)
		if m.OnDisconnect != nil {
			m.OnDisconnect()
		}
	})
}

func (m *Manager) handleTimeout(sock transport.Socket) {
	if m.sock != sock {
		return
	}
	m.tracef("timeout")
	m.metrics.Timeout()
	if m.OnTimeout != nil {
		m.OnTimeout()
	}
}

// ── Disconnect ───────────────────────────────────────────────────────

// Disconnect ends the handle gracefully and calls cb once the transport
// has closed.  The handle is released immediately, so a pending Connect
// completes with ErrDisconnected and a new Connect may start before cb
// runs.  Without a handle Disconnect just calls cb.
//
// cb receives a *NetworkError if the transport failed while closing.
// cb may be nil.
func (m *Manager) Disconnect(cb func(error)) {
	sock := m.sock
	if sock == nil {
		if cb != nil {
			cb(nil)
		}
		return
	}

	m.tracef("disconnecting")
	wasConnected := m.state == Connected
	if m.closeWatch != nil {
		m.closeWatch()
		m.closeWatch = nil
	}
	addr := m.cfg.Address()
	if m.closing == nil {
		m.closing = make(map[transport.Socket]struct{})
	}
	m.closing[sock] = struct{}{}
	completion.Bind(sock, event.Close, func(err error, _ any) {
		delete(m.closing, sock)
		m.tracef("disconnected")
		if err != nil {
			err = ncerr.Wrap("close", addr, err)
		}
		if cb != nil {
			cb(err)
		}
	})
	sock.End()

	m.clear()
	if wasConnected {
		m.metrics.ConnectionClosed(false)
	}
}

// Abort disconnects and then destroys every handle that is still
// waiting for its peer to close.  Pending Disconnect callbacks complete
// with nil.
func (m *Manager) Abort() {
	m.Disconnect(nil)
	for sock := range m.closing {
		m.tracef("destroying handle")
		sock.Destroy()
	}
}

func (m *Manager) clear() {
	m.sock = nil
	m.state = Idle
}

// ── Write ────────────────────────────────────────────────────────────

// Write sends chunks in order.  If the transport accepts them without
// backpressure cb runs before Write returns; otherwise cb runs once the
// transport drains, fails, or closes (ErrUnexpectedClose).
func (m *Manager) Write(chunks [][]byte, cb func(error)) {
	sock := m.sock
	if sock == nil {
		cb(ncerr.ErrNotConnected)
		return
	}

	var n int
	for _, c := range chunks {
		n += len(c)
	}
	m.metrics.BytesSent(int64(n))

	if sock.Write(chunks...) {
		cb(nil)
		return
	}

	m.tracef("adding drain handler")
	m.metrics.DrainWait()
	addr := m.cfg.Address()
	completion.BindWithClose(sock, event.Drain, func(err error, _ any) {
		m.tracef("drain handler completed")
		if err != nil && !ncerr.Is(err, ncerr.ErrUnexpectedClose) {
			err = ncerr.Wrap("write", addr, err)
		}
		cb(err)
	})
}

// IsWritable reports whether a handle exists and accepts writes.
func (m *Manager) IsWritable() bool {
	return m.sock != nil && m.sock.Writable()
}

// ── Inbound data ─────────────────────────────────────────────────────

// OnData registers fn for every inbound chunk on the current handle.
// The registration ends with the handle.
func (m *Manager) OnData(fn func([]byte)) error {
	if m.sock == nil {
		return ncerr.ErrNotConnected
	}
	m.sock.On(event.Data, func(arg any) {
		if chunk, ok := arg.([]byte); ok {
			fn(chunk)
		}
	})
	return nil
}

// Pipe forwards every inbound chunk on the current handle to dst.
func (m *Manager) Pipe(dst io.Writer) (io.Writer, error) {
	if m.sock == nil {
		return nil, ncerr.ErrNotConnected
	}
	return m.sock.Pipe(dst), nil
}

func (m *Manager) tracef(format string, args ...interface{}) {
	if m.cfg.Trace == nil {
		return
	}
	m.cfg.Trace.Debug("[%s] "+format, append([]interface{}{m.id.String()[:8]}, args...)...)
}
