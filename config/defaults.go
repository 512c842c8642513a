package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config files, and environment variable loading.

const (
	// DefaultTimeout is the idle timeout armed on every connection.
	DefaultTimeout = 1000 * time.Millisecond

	// DefaultNoDelay disables Nagle's algorithm on new connections.
	DefaultNoDelay = true

	// DefaultRejectUnauthorized verifies the peer certificate chain.
	DefaultRejectUnauthorized = true

	// DefaultConnTimeout bounds dialing plus the TLS handshake.
	DefaultConnTimeout = 30 * time.Second

	// DefaultCloseTimeout is how long a graceful disconnect waits for the
	// peer to close before the socket is destroyed.
	DefaultCloseTimeout = 5 * time.Second

	// DefaultHighWaterMark is the number of buffered outbound bytes at
	// which writes start reporting backpressure.
	DefaultHighWaterMark = 16 * 1024

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultMaxRetryDelay caps the exponential backoff between
	// reconnection attempts.
	DefaultMaxRetryDelay = 30 * time.Second
)
