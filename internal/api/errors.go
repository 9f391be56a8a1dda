// Package api is the HTTP client for the operations backend.
package api

import (
	"errors"
	"fmt"
)

// ErrUnreachable wraps transport-level failures (DNS, connect, timeout).
// The backend was never reached, so the request may be retried safely.
var ErrUnreachable = errors.New("api: backend unreachable")

// Error is an application-level rejection: the backend was reached and
// answered with a non-2xx status.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsUnreachable reports whether err is a transport failure rather than a
// backend rejection.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// IsNotFound reports whether the backend answered 404.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 404
	}
	return false
}

// IsUnauthorized reports whether the backend answered 401.
func IsUnauthorized(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 401
	}
	return false
}
