package conn

import (
	"context"
	"io"
	"time"

	"sockwrap/config"
	ncerr "sockwrap/internal/errors"
	"sockwrap/internal/loop"
	"sockwrap/internal/metrics"
	"sockwrap/internal/transport"
)

// Client runs a Manager on its own event loop and exposes its
// operations as blocking calls that are safe for concurrent use.
//
// Hooks and data callbacks run on the loop goroutine.  They must not
// call back into the Client; doing so deadlocks.
type Client struct {
	loop       *loop.Loop
	mgr        *Manager
	closeGrace time.Duration
	output     io.Writer // loop-owned
}

// NewClient returns an idle client that dials through dialer.
func NewClient(cfg config.Config, dialer transport.Dialer, m *metrics.Collector) *Client {
	l := loop.New()
	opener := &transport.NetOpener{
		Loop:           l,
		Dialer:         dialer,
		ConnectTimeout: cfg.ConnectTimeout,
		CloseTimeout:   cfg.CloseTimeout,
		HighWaterMark:  cfg.HighWaterMark,
	}
	grace := cfg.CloseTimeout
	if grace <= 0 {
		grace = config.DefaultCloseTimeout
	}
	return &Client{
		loop:       l,
		mgr:        NewManager(cfg, opener, m),
		closeGrace: grace + time.Second,
	}
}

// Connect blocks until the connection is established or has failed.
// Cancelling ctx disconnects the pending attempt and returns ctx.Err().
func (c *Client) Connect(ctx context.Context) error {
	res := make(chan error, 1)
	if !c.loop.Post(func() {
		c.mgr.Connect(func(err error) {
			if err == nil && c.output != nil {
				c.mgr.Pipe(c.output) //nolint:errcheck // connected
			}
			res <- err
		})
	}) {
		return ncerr.ErrLoopClosed
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		c.loop.Post(func() { c.mgr.Disconnect(nil) })
		return ctx.Err()
	case <-c.loop.Done():
		return ncerr.ErrLoopClosed
	}
}

// Disconnect ends the connection gracefully and waits for the transport
// to close.  It returns nil at once when not connected.
func (c *Client) Disconnect(ctx context.Context) error {
	res := make(chan error, 1)
	if !c.loop.Post(func() { c.mgr.Disconnect(func(err error) { res <- err }) }) {
		return ncerr.ErrLoopClosed
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.loop.Done():
		return ncerr.ErrLoopClosed
	}
}

// Write sends chunks in order, blocking while the transport applies
// backpressure.  The chunks have been copied by the time Write returns,
// even when ctx is cancelled, so the caller may reuse them.
func (c *Client) Write(ctx context.Context, chunks ...[]byte) error {
	res := make(chan error, 1)
	queued := make(chan struct{})
	if !c.loop.Post(func() {
		defer close(queued)
		c.mgr.Write(chunks, func(err error) { res <- err })
	}) {
		return ncerr.ErrLoopClosed
	}
	select {
	case <-queued:
	case <-c.loop.Done():
		return ncerr.ErrLoopClosed
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.loop.Done():
		return ncerr.ErrLoopClosed
	}
}

// Writable reports whether a write would reach a live handle.
func (c *Client) Writable() bool {
	var ok bool
	if err := c.do(func() { ok = c.mgr.IsWritable() }); err != nil {
		return false
	}
	return ok
}

// State returns the manager's lifecycle state.
func (c *Client) State() State {
	st := Idle
	c.do(func() { st = c.mgr.State() }) //nolint:errcheck
	return st
}

// OnData registers fn for inbound chunks on the current connection.
func (c *Client) OnData(fn func([]byte)) error {
	var err error
	if lerr := c.do(func() { err = c.mgr.OnData(fn) }); lerr != nil {
		return lerr
	}
	return err
}

// Pipe forwards inbound data on the current connection to dst.
func (c *Client) Pipe(dst io.Writer) error {
	var err error
	if lerr := c.do(func() { _, err = c.mgr.Pipe(dst) }); lerr != nil {
		return lerr
	}
	return err
}

// SetOutput makes every future connection pipe its inbound data to
// dst from the moment it connects, so no early chunk is missed.
func (c *Client) SetOutput(dst io.Writer) {
	c.do(func() { c.output = dst }) //nolint:errcheck
}

// SetHooks installs the idle-timeout and unsolicited-disconnect hooks.
// Either may be nil.
func (c *Client) SetHooks(onTimeout, onDisconnect func()) {
	c.do(func() { //nolint:errcheck
		c.mgr.OnTimeout = onTimeout
		c.mgr.OnDisconnect = onDisconnect
	})
}

// Close disconnects, waiting at most the close timeout, and stops the
// event loop.  A handle whose peer has not closed by then is destroyed.
// The client is unusable afterwards.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.closeGrace)
	defer cancel()
	err := c.Disconnect(ctx)
	if ncerr.Is(err, context.DeadlineExceeded) {
		c.do(c.mgr.Abort) //nolint:errcheck
	}
	c.loop.Close()
	<-c.loop.Done()
	if ncerr.Is(err, ncerr.ErrLoopClosed) {
		return nil
	}
	return err
}

// do runs fn on the loop and waits for it.
func (c *Client) do(fn func()) error {
	done := make(chan struct{})
	if !c.loop.Post(func() {
		defer close(done)
		fn()
	}) {
		return ncerr.ErrLoopClosed
	}
	select {
	case <-done:
		return nil
	case <-c.loop.Done():
		return ncerr.ErrLoopClosed
	}
}
