package conn

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sockwrap/config"
	ncerr "sockwrap/internal/errors"
	"sockwrap/internal/event"
	"sockwrap/internal/metrics"
	"sockwrap/internal/transport/transporttest"
)

func testConfig() config.Config {
	cfg := *config.Default()
	cfg.Host = "h"
	cfg.Port = 1
	return cfg
}

// result records how many times a callback ran and with what.
type result struct {
	calls int
	err   error
}

func (r *result) errCb() func(error) {
	return func(err error) {
		r.calls++
		r.err = err
	}
}

func newTestManager(t *testing.T) (*Manager, *transporttest.Opener, *metrics.Collector) {
	t.Helper()
	op := &transporttest.Opener{}
	mc := metrics.New()
	return NewManager(testConfig(), op, mc), op, mc
}

// connected returns a manager whose first connect has completed.
func connected(t *testing.T) (*Manager, *transporttest.Socket, *metrics.Collector) {
	t.Helper()
	m, op, mc := newTestManager(t)
	var r result
	m.Connect(r.errCb())
	sock := op.Last()
	require.NotNil(t, sock)
	sock.Connect()
	require.Equal(t, 1, r.calls)
	require.NoError(t, r.err)
	require.Equal(t, Connected, m.State())
	return m, sock, mc
}

// ── Connect ──────────────────────────────────────────────────────────

func TestConnect_PlainTCP(t *testing.T) {
	m, op, mc := newTestManager(t)
	var r result

	m.Connect(r.errCb())
	require.Len(t, op.Sockets, 1)
	sock := op.Last()

	assert.Equal(t, Connecting, m.State())
	assert.Equal(t, "tcp", sock.Opts.Network)
	assert.Equal(t, "h:1", sock.Opts.Address)
	assert.Nil(t, sock.Opts.TLS)
	assert.Equal(t, config.DefaultTimeout, sock.Timeout)
	require.NotNil(t, sock.NoDelay)
	assert.True(t, *sock.NoDelay)
	assert.Equal(t, 0, r.calls, "callback must wait for the transport")

	sock.Connect()
	assert.Equal(t, 1, r.calls)
	assert.NoError(t, r.err)
	assert.Equal(t, Connected, m.State())
	assert.True(t, m.IsWritable())
	assert.Equal(t, int64(1), mc.ActiveConnections())

	// The connect binding is gone; only the close watcher listens.
	assert.Equal(t, 0, sock.ListenerCount(event.Connect))
	assert.Equal(t, 1, sock.ListenerCount(event.Close))
	assert.Equal(t, 1, sock.ListenerCount(event.Error))
}

func TestConnect_AppliesConfiguredSocketOptions(t *testing.T) {
	cfg := testConfig()
	cfg.NoDelay = false
	cfg.Timeout = 0
	op := &transporttest.Opener{}
	m := NewManager(cfg, op, nil)

	m.Connect(func(error) {})
	sock := op.Last()
	require.NotNil(t, sock.NoDelay)
	assert.False(t, *sock.NoDelay)
	assert.Zero(t, sock.Timeout)
}

func TestConnect_SecureWhenKeyPresent(t *testing.T) {
	cfg := testConfig()
	cfg.TLS.Key = testKeyPEM
	cfg.TLS.Cert = testCertPEM
	cfg.TLS.ServerName = "sni.example"
	op := &transporttest.Opener{}
	m := NewManager(cfg, op, nil)
	var r result

	m.Connect(r.errCb())
	sock := op.Last()
	require.NotNil(t, sock.Opts.TLS)
	assert.Equal(t, "sni.example", sock.Opts.TLS.ServerName)
	assert.Len(t, sock.Opts.TLS.Certificates, 1)

	// A plain connect event does not complete a secure connect.
	sock.Emit(event.Connect, nil)
	assert.Equal(t, 0, r.calls)

	sock.Connect()
	assert.Equal(t, 1, r.calls)
	assert.NoError(t, r.err)
	assert.Equal(t, Connected, m.State())
}

func TestConnect_BadTLSMaterialStaysIdle(t *testing.T) {
	cfg := testConfig()
	cfg.TLS.Key = []byte("not a key")
	cfg.TLS.Cert = []byte("not a cert")
	op := &transporttest.Opener{}
	m := NewManager(cfg, op, nil)
	var r result

	m.Connect(r.errCb())
	assert.Equal(t, 1, r.calls)
	var ce *ncerr.ConfigError
	assert.ErrorAs(t, r.err, &ce)
	assert.Empty(t, op.Sockets, "no handle may be opened")
	assert.Equal(t, Idle, m.State())
}

func TestConnect_TwiceFailsWithAlreadyConnected(t *testing.T) {
	m, op, _ := newTestManager(t)
	var first, second result

	m.Connect(first.errCb())
	m.Connect(second.errCb())

	assert.Equal(t, 1, second.calls)
	assert.ErrorIs(t, second.err, ncerr.ErrAlreadyConnected)
	assert.Len(t, op.Sockets, 1, "second connect must not open a handle")
	assert.Equal(t, 0, first.calls)

	op.Last().Connect()
	assert.Equal(t, 1, first.calls)
	assert.NoError(t, first.err)
	assert.Equal(t, Connected, m.State())

	var third result
	m.Connect(third.errCb())
	assert.ErrorIs(t, third.err, ncerr.ErrAlreadyConnected)
}

func TestConnect_RefusedReturnsTransportErrorAndIdle(t *testing.T) {
	m, op, mc := newTestManager(t)
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	var r result

	m.Connect(r.errCb())
	op.Last().Fail(refused)

	require.Equal(t, 1, r.calls)
	var ne *ncerr.NetworkError
	require.ErrorAs(t, r.err, &ne)
	assert.Same(t, refused, ne.Err)
	assert.Equal(t, "connect", ne.Op)
	assert.Equal(t, "h:1", ne.Addr)
	assert.ErrorIs(t, r.err, syscall.ECONNREFUSED)
	assert.True(t, ncerr.IsRetryable(r.err))

	assert.Equal(t, Idle, m.State())
	assert.False(t, m.IsWritable())
	assert.Equal(t, int64(1), mc.Snapshot().ConnectFailures)

	var again result
	m.Connect(again.errCb())
	assert.Equal(t, 0, again.calls, "second connect must be attempted, not rejected")
	assert.Len(t, op.Sockets, 2)
}

func TestConnect_ErrorAndConnectSameTickFiresOnce(t *testing.T) {
	m, op, _ := newTestManager(t)
	var r result

	m.Connect(r.errCb())
	sock := op.Last()
	sock.Connect()
	sock.Emit(event.Error, fmt.Errorf("late"))

	assert.Equal(t, 1, r.calls)
	assert.NoError(t, r.err)
}

// ── Disconnect ───────────────────────────────────────────────────────

func TestDisconnect_WhileConnectingCancelsConnect(t *testing.T) {
	m, op, _ := newTestManager(t)
	hookCalls := 0
	m.OnDisconnect = func() { hookCalls++ }
	var conn, disc result

	m.Connect(conn.errCb())
	sock := op.Last()
	m.Disconnect(disc.errCb())

	assert.True(t, sock.Ended)
	assert.Equal(t, Idle, m.State(), "handle must be cleared before close arrives")
	assert.Equal(t, 0, disc.calls)

	sock.Connect()
	assert.Equal(t, 1, conn.calls)
	assert.ErrorIs(t, conn.err, ncerr.ErrDisconnected)

	sock.Close()
	assert.Equal(t, 1, disc.calls)
	assert.NoError(t, disc.err)
	assert.Equal(t, 0, hookCalls)
}

func TestDisconnect_WhenIdleIsNoOp(t *testing.T) {
	m, op, _ := newTestManager(t)
	var r result

	m.Disconnect(r.errCb())
	assert.Equal(t, 1, r.calls)
	assert.NoError(t, r.err)
	assert.Empty(t, op.Sockets)

	assert.NotPanics(t, func() { m.Disconnect(nil) })
}

func TestDisconnect_GracefulDoesNotFireHook(t *testing.T) {
	m, sock, mc := connected(t)
	hookCalls := 0
	m.OnDisconnect = func() { hookCalls++ }
	var r result

	m.Disconnect(r.errCb())
	assert.True(t, sock.Ended)
	assert.False(t, m.IsWritable())
	assert.Equal(t, 0, r.calls, "callback waits for close")

	sock.Close()
	assert.Equal(t, 1, r.calls)
	assert.NoError(t, r.err)
	assert.Equal(t, 0, hookCalls)
	assert.Equal(t, 0, sock.ListenerCount(event.Close))
	assert.Equal(t, int64(0), mc.ActiveConnections())
	assert.Equal(t, int64(0), mc.UnsolicitedDisconnects())
}

func TestDisconnect_TransportErrorWhileClosing(t *testing.T) {
	m, sock, _ := connected(t)
	var r result

	m.Disconnect(r.errCb())
	sock.Fail(ncerr.ErrCloseTimeout)

	assert.Equal(t, 1, r.calls)
	var ne *ncerr.NetworkError
	require.ErrorAs(t, r.err, &ne)
	assert.Equal(t, "close", ne.Op)
	assert.ErrorIs(t, r.err, ncerr.ErrCloseTimeout)
}

func TestDisconnect_ThenReconnect(t *testing.T) {
	m, op, _ := newTestManager(t)
	m.Connect(func(error) {})
	first := op.Last()
	first.Connect()

	m.Disconnect(nil)
	var r result
	m.Connect(r.errCb())
	second := op.Last()
	require.NotSame(t, first, second)

	// The old handle closing late must not disturb the new one.
	first.Close()
	assert.Equal(t, Connecting, m.State())

	second.Connect()
	assert.NoError(t, r.err)
	assert.Equal(t, Connected, m.State())
}

func TestAbort_DestroysHandleWaitingForPeer(t *testing.T) {
	m, sock, _ := connected(t)
	hookCalls := 0
	m.OnDisconnect = func() { hookCalls++ }
	var r result

	m.Disconnect(r.errCb())
	require.Equal(t, 0, r.calls, "peer has not closed yet")

	m.Abort()
	assert.True(t, sock.Destroyed)
	assert.Equal(t, 1, r.calls)
	assert.NoError(t, r.err)
	assert.Empty(t, m.closing)
	assert.Equal(t, 0, hookCalls)

	m.Abort()
	assert.Equal(t, 1, r.calls, "second abort is a no-op")
}

func TestAbort_WhileConnected(t *testing.T) {
	m, sock, mc := connected(t)
	hookCalls := 0
	m.OnDisconnect = func() { hookCalls++ }

	m.Abort()
	assert.True(t, sock.Ended)
	assert.True(t, sock.Destroyed)
	assert.Equal(t, Idle, m.State())
	assert.Equal(t, 0, hookCalls)
	assert.Equal(t, int64(0), mc.ActiveConnections())
}

// ── Close watcher ────────────────────────────────────────────────────

func TestCloseWatcher_UnsolicitedCloseFiresHookOnce(t *testing.T) {
	m, sock, mc := connected(t)
	hookCalls := 0
	m.OnDisconnect = func() { hookCalls++ }

	sock.Close()
	assert.Equal(t, 1, hookCalls)
	assert.Equal(t, Idle, m.State())
	assert.False(t, m.IsWritable())

	sock.Close()
	assert.Equal(t, 1, hookCalls, "hook fires once per occurrence")

	var r result
	m.Disconnect(r.errCb())
	assert.Equal(t, 1, r.calls)
	assert.NoError(t, r.err)
	assert.False(t, sock.Ended, "no-op disconnect must not touch the old handle")
	assert.Equal(t, int64(1), mc.UnsolicitedDisconnects())
}

func TestCloseWatcher_TransportErrorFiresHook(t *testing.T) {
	m, sock, mc := connected(t)
	hookCalls := 0
	m.OnDisconnect = func() { hookCalls++ }

	sock.Fail(syscall.ECONNRESET)
	assert.Equal(t, 1, hookCalls)
	assert.Equal(t, Idle, m.State())
	assert.Equal(t, int64(1), mc.ErrorCount())
}

func TestCloseWatcher_NoHookRegistered(t *testing.T) {
	m, sock, _ := connected(t)
	assert.NotPanics(t, sock.Close)
	assert.Equal(t, Idle, m.State())
}

// ── Write ────────────────────────────────────────────────────────────

func TestWrite_AcceptedCompletesSynchronously(t *testing.T) {
	m, sock, mc := connected(t)
	var r result

	m.Write([][]byte{[]byte("ab"), []byte("cd")}, r.errCb())
	assert.Equal(t, 1, r.calls, "accepted write completes before Write returns")
	assert.NoError(t, r.err)
	assert.Equal(t, [][]byte{[]byte("ab"), []byte("cd")}, sock.Writes)
	assert.Equal(t, 0, sock.ListenerCount(event.Drain))
	assert.Equal(t, int64(4), mc.TotalBytesOut())
}

func TestWrite_BackpressureWaitsForDrain(t *testing.T) {
	m, sock, mc := connected(t)
	sock.Accept = false
	var r result

	m.Write([][]byte{[]byte("big")}, r.errCb())
	assert.Equal(t, 0, r.calls)
	assert.Equal(t, 1, sock.ListenerCount(event.Drain))

	sock.Drain()
	assert.Equal(t, 1, r.calls)
	assert.NoError(t, r.err)
	assert.Equal(t, 0, sock.ListenerCount(event.Drain))
	assert.Equal(t, int64(1), mc.DrainWaits())
}

func TestWrite_CloseDuringDrainIsUnexpectedClose(t *testing.T) {
	m, sock, _ := connected(t)
	sock.Accept = false
	hookCalls := 0
	m.OnDisconnect = func() { hookCalls++ }
	var r result

	closeBefore := sock.ListenerCount(event.Close)
	errorBefore := sock.ListenerCount(event.Error)
	m.Write([][]byte{[]byte("big")}, r.errCb())
	assert.Equal(t, closeBefore+1, sock.ListenerCount(event.Close))
	assert.Equal(t, errorBefore+1, sock.ListenerCount(event.Error))

	sock.Close()
	assert.Equal(t, 1, r.calls)
	assert.ErrorIs(t, r.err, ncerr.ErrUnexpectedClose)
	assert.Equal(t, 0, sock.ListenerCount(event.Drain), "drain listener leaked")
	assert.Equal(t, 0, sock.ListenerCount(event.Close))
	assert.Equal(t, 0, sock.ListenerCount(event.Error))
	assert.Equal(t, 1, hookCalls, "close watcher and drain wait are independent")

	sock.Drain()
	assert.Equal(t, 1, r.calls)
}

func TestWrite_ErrorDuringDrain(t *testing.T) {
	m, sock, _ := connected(t)
	sock.Accept = false
	var r result

	m.Write([][]byte{[]byte("big")}, r.errCb())
	sock.Emit(event.Error, syscall.EPIPE)

	assert.Equal(t, 1, r.calls)
	var ne *ncerr.NetworkError
	require.ErrorAs(t, r.err, &ne)
	assert.Equal(t, "write", ne.Op)
	assert.ErrorIs(t, r.err, syscall.EPIPE)
	assert.Equal(t, 0, sock.ListenerCount(event.Drain))
}

func TestWrite_ConcurrentDrainWaitsAreIndependent(t *testing.T) {
	m, sock, _ := connected(t)
	sock.Accept = false
	var a, b result

	m.Write([][]byte{[]byte("a")}, a.errCb())
	m.Write([][]byte{[]byte("b")}, b.errCb())
	assert.Equal(t, 2, sock.ListenerCount(event.Drain))

	sock.Drain()
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, 0, sock.ListenerCount(event.Drain))
}

func TestWrite_WhenIdle(t *testing.T) {
	m, _, _ := newTestManager(t)
	var r result

	m.Write([][]byte{[]byte("x")}, r.errCb())
	assert.Equal(t, 1, r.calls)
	assert.ErrorIs(t, r.err, ncerr.ErrNotConnected)
}

func TestWrite_CallbackStartsNewWrite(t *testing.T) {
	m, sock, _ := connected(t)
	sock.Accept = false
	var second result

	m.Write([][]byte{[]byte("1")}, func(err error) {
		require.NoError(t, err)
		m.Write([][]byte{[]byte("2")}, second.errCb())
	})
	sock.Drain()

	// The nested write registered its own drain wait; the first
	// binding's listener was already gone.
	assert.Equal(t, 1, sock.ListenerCount(event.Drain))
	sock.Drain()
	assert.Equal(t, 1, second.calls)
}

// ── Timeout ──────────────────────────────────────────────────────────

func TestTimeout_HookIsAdvisory(t *testing.T) {
	m, sock, mc := connected(t)
	hookCalls := 0
	m.OnTimeout = func() { hookCalls++ }

	sock.Idle()
	sock.Idle()
	assert.Equal(t, 2, hookCalls)
	assert.Equal(t, Connected, m.State())
	assert.True(t, m.IsWritable())
	assert.False(t, sock.Ended)
	assert.Equal(t, int64(2), mc.Timeouts())

	var r result
	m.Write([][]byte{[]byte("still here")}, r.errCb())
	assert.NoError(t, r.err)
}

func TestTimeout_NoHookRegistered(t *testing.T) {
	_, sock, _ := connected(t)
	assert.NotPanics(t, sock.Idle)
}

func TestTimeout_StaleHandleIgnored(t *testing.T) {
	m, sock, _ := connected(t)
	hookCalls := 0
	m.OnTimeout = func() { hookCalls++ }

	m.Disconnect(nil)
	sock.Idle()
	assert.Equal(t, 0, hookCalls)
}

// ── Data ─────────────────────────────────────────────────────────────

func TestOnData(t *testing.T) {
	m, sock, mc := connected(t)
	var got [][]byte

	require.NoError(t, m.OnData(func(b []byte) { got = append(got, b) }))
	sock.Data([]byte("one"))
	sock.Data([]byte("two"))

	assert.Equal(t, [][]byte{[]byte("one"), []byte("two")}, got)
	assert.Equal(t, int64(6), mc.TotalBytesIn())
}

func TestPipe(t *testing.T) {
	m, sock, _ := connected(t)
	var buf bytes.Buffer

	w, err := m.Pipe(&buf)
	require.NoError(t, err)
	assert.Same(t, &buf, w)

	sock.Data([]byte("piped"))
	assert.Equal(t, "piped", buf.String())
}

func TestOnDataAndPipe_WhenIdle(t *testing.T) {
	m, _, _ := newTestManager(t)

	assert.ErrorIs(t, m.OnData(func([]byte) {}), ncerr.ErrNotConnected)
	_, err := m.Pipe(&bytes.Buffer{})
	assert.ErrorIs(t, err, ncerr.ErrNotConnected)
}

// ── Trace ────────────────────────────────────────────────────────────

type recordingTracer struct{ lines []string }

func (r *recordingTracer) Debug(format string, args ...interface{}) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func TestTrace_LinesCarryManagerID(t *testing.T) {
	tr := &recordingTracer{}
	cfg := testConfig()
	cfg.Trace = tr
	op := &transporttest.Opener{}
	m := NewManager(cfg, op, nil)

	m.Connect(func(error) {})
	op.Last().Connect()

	require.NotEmpty(t, tr.lines)
	prefix := "[" + m.ID().String()[:8] + "] "
	for _, line := range tr.lines {
		assert.Contains(t, line, prefix)
	}
	assert.Contains(t, tr.lines[0], "creating insecure connection to h:1")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "unknown", State(9).String())
}
