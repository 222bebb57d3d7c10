// Package netutil classifies network failures seen while calling the Bot API.
package netutil

import (
	"errors"
	"net"
	"syscall"
)

// ShouldRetry reports whether err proves the request never left the host:
// the connection was refused or could not be dialed. Timeouts and resets are
// not retried because Telegram may already have acted on the request.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
