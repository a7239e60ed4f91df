// Package errs classifies socket errors from the splice loops as
// recoverable or fatal, the way the teacher's pkg/proxy read loop does
// (handleReadErr in connection.go).
package errs

import (
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// Recoverable reports whether err is a transient condition: EAGAIN or a
// temporary net.OpError. EOF and closed-pipe conditions are never
// recoverable. The splice loops do not consult it; they stop on any read
// error.
func Recoverable(err error) bool {
	if errors.Is(err, syscall.EAGAIN) {
		return true
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) && netErr.Temporary() {
		return true
	}
	return false
}

// Fatal reports whether err signals the connection is gone and should be
// closed without further logging noise (spec.md §7 "Per-connection
// recoverable": either socket EOF or error tears the ProxiedConnection
// down with no retry).
func Fatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && IsConnClosedErr(opErr.Err) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed file")
}

// IsConnClosedErr reports whether err is one of the platform-specific
// "connection already closed" errors a net.OpError can wrap.
func IsConnClosedErr(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		strings.Contains(err.Error(), "use of closed network connection")
}
