package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
)

// ErrNotFound reports a document that does not exist in the store.
var ErrNotFound = errors.New("record not found")

// IsTransient reports whether a store failure is worth retrying:
// connection-level problems and timeouts, never missing records or
// constraint violations.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
