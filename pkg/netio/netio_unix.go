// Package netio provides the single-attempt, never-blocking read/write
// primitives that httpserver and httpclient drive from a caller-supplied
// readiness.Selector instead of Go's runtime netpoller.
//
// net.Conn.Read/Write cannot be used for this: on EAGAIN the runtime parks
// the calling goroutine on its internal poller and only returns once the fd
// becomes ready, which defeats an external event loop. Going through
// syscall.RawConn.Read/Write with a callback that always reports "done"
// gets the syscall issued exactly once, off the same non-blocking fd
// net.Dial/net.Listen already configured, without the runtime's own wait.
//
//go:build unix

package netio

import (
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	httperrors "github.com/loopwire/uhttp/pkg/errors"
)

// RawConn unwraps conn (following through *tls.Conn) down to the
// syscall.RawConn exposing its underlying file descriptor.
func RawConn(conn net.Conn) (syscall.RawConn, error) {
	type netConner interface{ NetConn() net.Conn }
	if nc, ok := conn.(netConner); ok {
		return RawConn(nc.NetConn())
	}
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil, httperrors.NewIOError("raw_conn", fmt.Errorf("%T exposes no raw file descriptor", conn))
	}
	return sc.SyscallConn()
}

// FD returns the OS file descriptor backing raw, for registration with a
// readiness.Selector.
func FD(raw syscall.RawConn) (uintptr, error) {
	var fd uintptr
	err := raw.Control(func(f uintptr) { fd = f })
	if err != nil {
		return 0, httperrors.NewIOError("raw_conn_control", err)
	}
	return fd, nil
}

// Read performs exactly one read attempt against raw, never blocking:
// EAGAIN becomes a transient error the caller must treat as "no data yet",
// and a zero-byte read with no error becomes a disconnected error.
func Read(raw syscall.RawConn, buf []byte) (int, error) {
	var n int
	var opErr error
	if err := raw.Read(func(fd uintptr) bool {
		n, opErr = unix.Read(int(fd), buf)
		return true
	}); err != nil {
		return 0, httperrors.NewIOError("read", err)
	}
	if opErr != nil {
		if opErr == unix.EAGAIN || opErr == unix.EWOULDBLOCK {
			return 0, httperrors.NewTransientError("read", opErr)
		}
		return 0, httperrors.NewIOError("read", opErr)
	}
	if n == 0 {
		return 0, httperrors.NewDisconnectedError("read", nil)
	}
	return n, nil
}

// Write performs exactly one write attempt against raw. A partial write
// (n < len(buf)) is not an error: the caller re-queues the remainder and
// waits for the next write-readiness notification.
func Write(raw syscall.RawConn, buf []byte) (int, error) {
	var n int
	var opErr error
	if err := raw.Write(func(fd uintptr) bool {
		n, opErr = unix.Write(int(fd), buf)
		return true
	}); err != nil {
		return 0, httperrors.NewIOError("write", err)
	}
	if opErr != nil {
		if opErr == unix.EAGAIN || opErr == unix.EWOULDBLOCK {
			return 0, httperrors.NewTransientError("write", opErr)
		}
		return 0, httperrors.NewIOError("write", opErr)
	}
	return n, nil
}
