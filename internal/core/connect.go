package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"sockwrap/config"
	"sockwrap/internal/conn"
	ncerr "sockwrap/internal/errors"
	"sockwrap/internal/metrics"
	"sockwrap/internal/retry"
	"sockwrap/internal/transport"
	"sockwrap/util"
)

// ConnectMode connects to the configured peer and relays the terminal
// over it: peer data to Stdout, Stdin to the peer with backpressure.
// It ends when the peer closes, or when Stdin reaches EOF and the
// graceful disconnect that follows completes.
type ConnectMode struct {
	Config  config.Config
	Dialer  transport.Dialer
	Logger  *util.Logger
	Metrics *metrics.Collector

	// Stdin/Stdout default to os.Stdin/os.Stdout when nil.
	// Override in tests for deterministic I/O.
	Stdin  io.Reader
	Stdout io.Writer
}

func (m *ConnectMode) stdin() io.Reader {
	if m.Stdin != nil {
		return m.Stdin
	}
	return os.Stdin
}

func (m *ConnectMode) stdout() io.Writer {
	if m.Stdout != nil {
		return m.Stdout
	}
	return os.Stdout
}

// Run connects, retrying per Config.Retry, then relays until either
// side is done.  The dialer is closed when Run returns.
func (m *ConnectMode) Run(ctx context.Context) error {
	defer m.Dialer.Close()

	client := conn.NewClient(m.Config, m.Dialer, m.Metrics)
	defer client.Close()

	peerGone := make(chan struct{})
	var once sync.Once
	client.SetHooks(
		func() { m.Logger.Verbose("no activity for %s", m.Config.Timeout) },
		func() { once.Do(func() { close(peerGone) }) },
	)
	client.SetOutput(m.stdout())

	addr := m.Config.Address()
	b := retry.ForReconnect(m.Config.Retry, m.Config.RetryMaxDelay)
	b.OnRetry = func(attempt int, err error, wait time.Duration) {
		m.Logger.Warn("attempt %d: %v (retrying in %s)", attempt, err, wait.Truncate(time.Millisecond))
		m.Metrics.Reconnect()
	}

	m.Logger.Verbose("connecting to %s", addr)
	if err := b.Do(ctx, func(int) error { return client.Connect(ctx) }); err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	m.Logger.Verbose("connected to %s", addr)

	sent := make(chan error, 1)
	go func() { sent <- m.pump(ctx, client) }()

	select {
	case <-peerGone:
		m.Logger.Verbose("connection closed by peer")
		return nil
	case err := <-sent:
		return err
	case <-ctx.Done():
		return nil
	}
}

// pump copies Stdin to the peer one chunk at a time, waiting out
// backpressure on each, and disconnects gracefully at EOF.
func (m *ConnectMode) pump(ctx context.Context, client *conn.Client) error {
	bufp := util.GetBuf()
	defer util.PutBuf(bufp)
	buf := *bufp

	in := m.stdin()
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			if err := client.Write(ctx, buf[:n]); err != nil {
				if ncerr.Is(err, ncerr.ErrNotConnected) || ncerr.Is(err, ncerr.ErrUnexpectedClose) || util.IsReset(err) {
					// The disconnect hook reports this.
					return nil
				}
				return fmt.Errorf("write: %w", err)
			}
		}
		if rerr != nil {
			if rerr != io.EOF {
				return fmt.Errorf("read stdin: %w", rerr)
			}
			m.Logger.Verbose("stdin closed, disconnecting")
			return client.Disconnect(ctx)
		}
	}
}
