// Package tunnel routes sockwrap connections through an SSH jump host.
//
// A Dialer satisfies transport.Dialer: the connection manager opens its
// socket exactly as it would over plain TCP, and the byte stream is
// carried inside an SSH direct-tcpip channel instead.
package tunnel

import (
	"context"
	"net"
	"sync"

	"sockwrap/internal/metrics"
	"sockwrap/util"
)

// Tunnel abstracts an encrypted channel through which TCP connections
// can be forwarded.
type Tunnel interface {
	// Connect establishes the tunnel to the gateway.
	Connect(ctx context.Context) error

	// Dial opens a connection to address through the tunnel.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close tears down the tunnel and frees resources.
	Close() error

	// IsAlive reports whether the underlying connection is still up.
	IsAlive() bool
}

// Dialer connects its Tunnel on first use, and again whenever the
// gateway connection has dropped, before dialing through it.
type Dialer struct {
	tunnel  Tunnel
	logger  *util.Logger
	metrics *metrics.Collector

	mu        sync.Mutex
	connected bool
}

// NewDialer returns a Dialer over t.  logger and m may be nil.
func NewDialer(t Tunnel, logger *util.Logger, m *metrics.Collector) *Dialer {
	return &Dialer{tunnel: t, logger: logger, metrics: m}
}

// Dial opens a connection to address through the tunnel.
func (d *Dialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	if err := d.ensure(ctx); err != nil {
		return nil, err
	}
	return d.tunnel.Dial(ctx, network, address)
}

func (d *Dialer) ensure(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected && d.tunnel.IsAlive() {
		return nil
	}
	if d.connected {
		d.logger.Warn("SSH tunnel connection lost, reconnecting")
		d.metrics.Reconnect()
		d.tunnel.Close() //nolint:errcheck
	}
	if err := d.tunnel.Connect(ctx); err != nil {
		d.connected = false
		return err
	}
	d.connected = true
	return nil
}

// Close tears down the tunnel.
func (d *Dialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	return d.tunnel.Close()
}
