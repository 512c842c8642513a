package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	ncerr "sockwrap/internal/errors"
	"sockwrap/internal/event"
	"sockwrap/internal/loop"
	"sockwrap/util"
)

// NetOpener opens sockets over a Dialer, delivering every event on Loop.
type NetOpener struct {
	Loop   *loop.Loop
	Dialer Dialer

	// ConnectTimeout bounds dialing plus the TLS handshake (0 = none).
	ConnectTimeout time.Duration
	// CloseTimeout is how long End waits for the peer to close before
	// the socket is destroyed (0 = wait forever).
	CloseTimeout time.Duration
	// HighWaterMark is the number of queued outbound bytes at which
	// Write starts returning false (0 = 16 KiB).
	HighWaterMark int
}

const defaultHighWaterMark = 16 * 1024

// Open starts dialing in the background and returns the handle
// immediately.  Open must be called on the loop goroutine.
func (o *NetOpener) Open(opts Options) Socket {
	if opts.Network == "" {
		opts.Network = "tcp"
	}
	hwm := o.HighWaterMark
	if hwm <= 0 {
		hwm = defaultHighWaterMark
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &netSocket{
		loop:           o.Loop,
		dialer:         o.Dialer,
		opts:           opts,
		connectTimeout: o.ConnectTimeout,
		closeTimeout:   o.CloseTimeout,
		hwm:            hwm,
		ctx:            ctx,
		cancel:         cancel,
		wq:             newWriteQueue(),
	}
	go s.dial()
	return s
}

// netSocket implements Socket over a net.Conn.  Its fields are owned by
// the loop goroutine; the dial, read and write goroutines only post.
type netSocket struct {
	event.Emitter

	loop           *loop.Loop
	dialer         Dialer
	opts           Options
	connectTimeout time.Duration
	closeTimeout   time.Duration
	hwm            int

	ctx    context.Context
	cancel context.CancelFunc

	conn    net.Conn
	tcp     *net.TCPConn
	noDelay *bool

	ending      bool
	destroyed   bool
	readDone    bool
	writeClosed bool

	wq        *writeQueue
	queued    int
	needDrain bool

	idle       time.Duration
	idleTimer  *time.Timer
	lastActive time.Time
	timedOut   bool
	closeTimer *time.Timer
}

// ── dialing ──────────────────────────────────────────────────────────

func (s *netSocket) dial() {
	ctx := s.ctx
	if s.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.connectTimeout)
		defer cancel()
	}

	raw, err := s.dialer.Dial(ctx, s.opts.Network, s.opts.Address)
	conn := raw
	if err == nil && s.opts.TLS != nil {
		tc := tls.Client(raw, s.opts.TLS)
		if err = tc.HandshakeContext(ctx); err != nil {
			raw.Close()
		} else {
			conn = tc
		}
	}

	if !s.loop.Post(func() { s.onDial(conn, raw, err) }) && err == nil {
		conn.Close()
	}
}

func (s *netSocket) onDial(conn, raw net.Conn, err error) {
	if s.destroyed {
		if err == nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		s.destroy(err)
		return
	}

	s.conn = conn
	if tcp, ok := raw.(*net.TCPConn); ok {
		s.tcp = tcp
		if s.noDelay != nil {
			tcp.SetNoDelay(*s.noDelay) //nolint:errcheck
		}
	}
	s.touch()

	go s.readLoop(conn)
	go s.writeLoop(conn)

	if s.opts.TLS != nil {
		s.Emit(event.SecureConnect, nil)
	} else {
		s.Emit(event.Connect, nil)
	}
}

// ── Socket ───────────────────────────────────────────────────────────

func (s *netSocket) SetTimeout(d time.Duration, onTimeout func()) {
	if onTimeout != nil {
		s.On(event.Timeout, func(any) { onTimeout() })
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.idle = d
	if d <= 0 || s.destroyed {
		return
	}
	s.lastActive = time.Now()
	s.timedOut = false
	s.idleTimer = time.AfterFunc(d, func() { s.loop.Post(s.onIdleTimer) })
}

func (s *netSocket) SetNoDelay(noDelay bool) {
	if s.tcp != nil {
		s.tcp.SetNoDelay(noDelay) //nolint:errcheck
		return
	}
	s.noDelay = &noDelay
}

func (s *netSocket) Write(chunks ...[]byte) bool {
	if s.ending || s.destroyed {
		s.loop.Post(func() {
			if !s.destroyed {
				s.Emit(event.Error, ncerr.ErrWriteAfterEnd)
			}
		})
		return false
	}

	owned := make([][]byte, 0, len(chunks))
	for _, c := range chunks {
		if len(c) == 0 {
			continue
		}
		owned = append(owned, append([]byte(nil), c...))
		s.queued += len(c)
	}
	if len(owned) > 0 {
		s.wq.push(owned)
	}

	if s.queued >= s.hwm {
		s.needDrain = true
		return false
	}
	return true
}

func (s *netSocket) End() {
	if s.ending || s.destroyed {
		return
	}
	s.ending = true
	s.wq.finish()
	if s.closeTimeout > 0 {
		s.closeTimer = time.AfterFunc(s.closeTimeout, func() {
			s.loop.Post(func() { s.destroy(ncerr.ErrCloseTimeout) })
		})
	}
}

func (s *netSocket) Destroy() { s.destroy(nil) }

// Writable mirrors a stream's writable flag: true from creation until
// End or destruction, including while the dial is still in flight.
func (s *netSocket) Writable() bool {
	return !s.ending && !s.destroyed
}

func (s *netSocket) Pipe(dst io.Writer) io.Writer {
	var id event.ListenerID
	id = s.On(event.Data, func(arg any) {
		if _, err := dst.Write(arg.([]byte)); err != nil {
			s.Off(event.Data, id)
		}
	})
	return dst
}

// ── I/O goroutines ───────────────────────────────────────────────────

func (s *netSocket) readLoop(conn net.Conn) {
	bufp := util.GetBuf()
	defer util.PutBuf(bufp)
	buf := *bufp

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			done := make(chan struct{})
			if !s.loop.Post(func() {
				defer close(done)
				s.onData(chunk)
			}) {
				return
			}
			// Wait for listeners so a slow consumer throttles the reader.
			select {
			case <-done:
			case <-s.loop.Done():
				return
			}
		}
		if err != nil {
			s.loop.Post(func() { s.onReadError(err) })
			return
		}
	}
}

func (s *netSocket) writeLoop(conn net.Conn) {
	for {
		batch, eof, ok := s.wq.take()
		if !ok {
			return
		}
		if len(batch) > 0 {
			bufs := net.Buffers(batch)
			n, err := bufs.WriteTo(conn)
			if !s.loop.Post(func() { s.onWritten(int(n), err) }) || err != nil {
				return
			}
		}
		if eof {
			if util.CloseWrite(conn) {
				s.loop.Post(s.onWriteClosed)
			} else {
				s.loop.Post(func() { s.destroy(nil) })
			}
			return
		}
	}
}

// ── loop-side handlers ───────────────────────────────────────────────

func (s *netSocket) onData(chunk []byte) {
	if s.destroyed {
		return
	}
	s.touch()
	s.Emit(event.Data, chunk)
}

func (s *netSocket) onReadError(err error) {
	if s.destroyed {
		return
	}
	switch {
	case errors.Is(err, io.EOF):
		s.readDone = true
		s.Emit(event.End, nil)
		if s.writeClosed {
			s.destroy(nil)
		} else {
			s.End()
		}
	case util.IsClosedConn(err):
		s.destroy(nil)
	default:
		s.destroy(err)
	}
}

func (s *netSocket) onWritten(n int, err error) {
	if s.destroyed {
		return
	}
	if err != nil {
		s.destroy(err)
		return
	}
	s.queued -= n
	s.touch()
	if s.queued <= 0 {
		s.queued = 0
		if s.needDrain {
			s.needDrain = false
			s.Emit(event.Drain, nil)
		}
	}
}

func (s *netSocket) onWriteClosed() {
	s.writeClosed = true
	if s.readDone {
		s.destroy(nil)
	}
}

func (s *netSocket) onIdleTimer() {
	if s.destroyed || s.idleTimer == nil {
		return
	}
	if idle := time.Since(s.lastActive); idle < s.idle {
		s.idleTimer.Reset(s.idle - idle)
		return
	}
	// Re-armed by the next read or write.
	s.timedOut = true
	s.Emit(event.Timeout, nil)
}

// touch records I/O activity for the idle timer.
func (s *netSocket) touch() {
	s.lastActive = time.Now()
	if s.timedOut && s.idleTimer != nil {
		s.timedOut = false
		s.idleTimer.Reset(s.idle)
	}
}

// destroy tears the socket down, emitting Error (if err != nil) and
// then Close, exactly once.  Errors are emitted as the transport
// reported them; callers add operation context.
func (s *netSocket) destroy(err error) {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.cancel()
	s.wq.stop()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	if s.closeTimer != nil {
		s.closeTimer.Stop()
	}
	if s.conn != nil {
		s.conn.Close()
	}

	if err != nil {
		s.Emit(event.Error, err)
	}
	s.Emit(event.Close, err != nil)
}

// ── write queue ──────────────────────────────────────────────────────

// writeQueue hands chunks from the loop to the writer goroutine without
// ever blocking the loop.
type writeQueue struct {
	mu     sync.Mutex
	bufs   [][]byte
	eof    bool
	closed bool
	signal chan struct{}
}

func newWriteQueue() *writeQueue {
	return &writeQueue{signal: make(chan struct{}, 1)}
}

func (q *writeQueue) push(chunks [][]byte) {
	q.mu.Lock()
	q.bufs = append(q.bufs, chunks...)
	q.mu.Unlock()
	q.notify()
}

// finish asks the writer to half-close once everything queued is out.
func (q *writeQueue) finish() {
	q.mu.Lock()
	q.eof = true
	q.mu.Unlock()
	q.notify()
}

func (q *writeQueue) stop() {
	q.mu.Lock()
	q.closed = true
	q.bufs = nil
	q.mu.Unlock()
	q.notify()
}

func (q *writeQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// take blocks until there is data or an end marker, returning all queued
// chunks.  ok is false once the queue is stopped.
func (q *writeQueue) take() (batch [][]byte, eof, ok bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, false, false
		}
		if len(q.bufs) > 0 || q.eof {
			batch, q.bufs = q.bufs, nil
			eof = q.eof
			q.mu.Unlock()
			return batch, eof, true
		}
		q.mu.Unlock()
		<-q.signal
	}
}
