// Package metrics provides lightweight, lock-free counters for tracking
// the lifecycle of sockwrap connections.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks connection lifecycle metrics.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	connectionsActive atomic.Int64
	connectionsTotal  atomic.Int64
	connectFailures   atomic.Int64
	disconnects       atomic.Int64
	unsolicited       atomic.Int64
	bytesIn           atomic.Int64
	bytesOut          atomic.Int64
	drainWaits        atomic.Int64
	timeouts          atomic.Int64
	reconnects        atomic.Int64
	errorsTotal       atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastConnect  time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connection metrics ───────────────────────────────────────────────

// ConnectionOpened records a completed connect.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
	c.mu.Lock()
	c.lastConnect = time.Now()
	c.mu.Unlock()
}

// ConnectionClosed records the end of a connected session.  unsolicited
// is true when the peer or the transport ended it rather than the caller.
func (c *Collector) ConnectionClosed(unsolicited bool) {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
	if unsolicited {
		c.unsolicited.Add(1)
	} else {
		c.disconnects.Add(1)
	}
}

// ConnectFailed records a connect that completed with an error.
func (c *Collector) ConnectFailed() {
	if c == nil {
		return
	}
	c.connectFailures.Add(1)
}

// ActiveConnections returns the current number of open connections.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// TotalConnections returns the lifetime connection count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsTotal.Load()
}

// UnsolicitedDisconnects returns how many sessions the peer ended.
func (c *Collector) UnsolicitedDisconnects() int64 {
	if c == nil {
		return 0
	}
	return c.unsolicited.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes read from the network.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes handed to the transport.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// DrainWait records a write that hit backpressure.
func (c *Collector) DrainWait() {
	if c == nil {
		return
	}
	c.drainWaits.Add(1)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// DrainWaits returns how many writes waited for drain.
func (c *Collector) DrainWaits() int64 {
	if c == nil {
		return 0
	}
	return c.drainWaits.Load()
}

// ── Lifecycle hooks ──────────────────────────────────────────────────

// Timeout records an idle timeout.
func (c *Collector) Timeout() {
	if c == nil {
		return
	}
	c.timeouts.Add(1)
}

// Timeouts returns the number of idle timeouts observed.
func (c *Collector) Timeouts() int64 {
	if c == nil {
		return 0
	}
	return c.timeouts.Load()
}

// Reconnect records a reconnection attempt made by the caller.
func (c *Collector) Reconnect() {
	if c == nil {
		return
	}
	c.reconnects.Add(1)
}

// Reconnects returns the number of reconnection attempts.
func (c *Collector) Reconnects() int64 {
	if c == nil {
		return 0
	}
	return c.reconnects.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime                 string `json:"uptime"`
	ConnectionsActive      int64  `json:"connections_active"`
	ConnectionsTotal       int64  `json:"connections_total"`
	ConnectFailures        int64  `json:"connect_failures"`
	Disconnects            int64  `json:"disconnects"`
	UnsolicitedDisconnects int64  `json:"unsolicited_disconnects"`
	BytesIn                int64  `json:"bytes_in"`
	BytesOut               int64  `json:"bytes_out"`
	DrainWaits             int64  `json:"drain_waits"`
	Timeouts               int64  `json:"timeouts"`
	Reconnects             int64  `json:"reconnects"`
	ErrorsTotal            int64  `json:"errors_total"`
	LastConnect            string `json:"last_connect,omitempty"`
	LastError              string `json:"last_error,omitempty"`
	LastErrorMessage       string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:                 time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive:      c.connectionsActive.Load(),
		ConnectionsTotal:       c.connectionsTotal.Load(),
		ConnectFailures:        c.connectFailures.Load(),
		Disconnects:            c.disconnects.Load(),
		UnsolicitedDisconnects: c.unsolicited.Load(),
		BytesIn:                c.bytesIn.Load(),
		BytesOut:               c.bytesOut.Load(),
		DrainWaits:             c.drainWaits.Load(),
		Timeouts:               c.timeouts.Load(),
		Reconnects:             c.reconnects.Load(),
		ErrorsTotal:            c.errorsTotal.Load(),
	}
	if !c.lastConnect.IsZero() {
		s.LastConnect = c.lastConnect.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
