package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
	"testing"
	"time"

	"sockwrap/config"
	"sockwrap/internal/metrics"
	"sockwrap/internal/transport"
	"sockwrap/util"
)

// loopback starts a TCP listener that hands its first conn to serve
// and returns a config pointing at it.
func loopback(t *testing.T, serve func(net.Conn)) config.Config {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		serve(conn)
	}()

	cfg := *config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	cfg.CloseTimeout = 200 * time.Millisecond
	return cfg
}

func newMode(cfg config.Config, stdin io.Reader, stdout io.Writer) *ConnectMode {
	return &ConnectMode{
		Config: cfg,
		Dialer: &transport.TCPDialer{Timeout: 2 * time.Second},
		Logger: util.NewLogger(0),
		Stdin:  stdin,
		Stdout: stdout,
	}
}

// TestConnectMode_TCP verifies that peer output reaches Stdout and
// that Run returns once the peer closes.
func TestConnectMode_TCP(t *testing.T) {
	cfg := loopback(t, func(conn net.Conn) {
		defer conn.Close()
		conn.Write([]byte("hello from server\n")) //nolint:errcheck
	})

	// Stdin stays open so only the peer can end the session.
	pr, pw := io.Pipe()
	defer pw.Close()
	output := &bytes.Buffer{}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := newMode(cfg, pr, output).Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := output.String(); got != "hello from server\n" {
		t.Errorf("output = %q, want %q", got, "hello from server\n")
	}
}

// TestConnectMode_SendData verifies that Stdin is delivered and that
// EOF on Stdin ends the session with a graceful disconnect.
func TestConnectMode_SendData(t *testing.T) {
	received := make(chan string, 1)
	cfg := loopback(t, func(conn net.Conn) {
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- string(data)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	input := strings.NewReader("payload from client")
	if err := newMode(cfg, input, io.Discard).Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	select {
	case got := <-received:
		if got != "payload from client" {
			t.Errorf("server received %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw EOF")
	}
}

// TestConnectMode_RefusedWithRetry verifies that --retry re-attempts
// a refused connection and reports the last failure.
func TestConnectMode_RefusedWithRetry(t *testing.T) {
	port, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	cfg := *config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = port
	cfg.Retry = 1

	mode := newMode(cfg, strings.NewReader(""), io.Discard)
	mode.Metrics = metrics.New()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err = mode.Run(ctx)
	if !errors.Is(err, syscall.ECONNREFUSED) {
		t.Fatalf("err = %v, want ECONNREFUSED", err)
	}
	if got := mode.Metrics.Reconnects(); got != 1 {
		t.Errorf("reconnects = %d, want 1", got)
	}
	if got := mode.Metrics.Snapshot().ConnectFailures; got != 2 {
		t.Errorf("connect failures = %d, want 2", got)
	}
}

// TestConnectMode_ContextCancel verifies that cancelling the context
// ends a session where neither side has finished.
func TestConnectMode_ContextCancel(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	cfg := loopback(t, func(conn net.Conn) {
		defer conn.Close()
		<-hold
	})

	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() { done <- newMode(cfg, pr, io.Discard).Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
