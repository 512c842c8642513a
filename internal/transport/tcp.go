package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// TCPDialer establishes plain TCP connections.  TLS, when requested, is
// layered on top by the socket, so this dialer serves both paths.
type TCPDialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration // 0 = OS default, negative disables
	LocalPort int           // optional source-port binding (0 = ephemeral)
}

// Dial connects to address over TCP.
func (d *TCPDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}

	if d.LocalPort > 0 {
		a, err := net.ResolveTCPAddr(network, net.JoinHostPort("", strconv.Itoa(d.LocalPort)))
		if err != nil {
			return nil, fmt.Errorf("resolve local port %d: %w", d.LocalPort, err)
		}
		dialer.LocalAddr = a
	}

	return dialer.DialContext(ctx, network, address)
}

// Close is a no-op for stateless TCP dialers.
func (d *TCPDialer) Close() error { return nil }
