package util

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsClosedConn reports whether err only says that the connection was
// closed, either by us or by an orderly peer shutdown.  Such errors end
// a read loop without being reported as transport failures.
func IsClosedConn(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	// net.OpError wrapping "use of closed network connection"
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}

// IsReset reports whether err is a connection reset or broken pipe.
func IsReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE)
}

// CloseWrite half-closes the write side of conn when the connection
// type supports it and reports whether it did.
func CloseWrite(conn net.Conn) bool {
	cw, ok := conn.(interface{ CloseWrite() error })
	if !ok {
		return false
	}
	return cw.CloseWrite() == nil
}
