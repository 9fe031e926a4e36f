package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorCategory classifies a provider failure for retry decisions.
type ErrorCategory string

const (
	CategoryNotFound    ErrorCategory = "not_found"
	CategoryRateLimited ErrorCategory = "rate_limited"
	CategoryConnection  ErrorCategory = "connection_failed"
	CategoryUnknown     ErrorCategory = "unknown"
)

// ProviderError wraps a raw transport or API error with its category and
// the operation that failed. Raw errors never leave this package.
type ProviderError struct {
	Op       string
	Category ErrorCategory
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("identity provider %s: %s: %v", e.Op, e.Category, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ErrNotFound reports a user the provider does not know about.
var ErrNotFound = errors.New("user not found in identity provider")

// CategoryOf returns the category of a provider error, or CategoryUnknown
// for anything this package did not produce.
func CategoryOf(err error) ErrorCategory {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Category
	}
	if errors.Is(err, ErrNotFound) {
		return CategoryNotFound
	}
	return CategoryUnknown
}

// IsRetryable reports whether a provider error is transient. Not-found and
// unknown failures are permanent; rate limits, connection failures and
// timeouts are worth another attempt.
func IsRetryable(err error) bool {
	switch CategoryOf(err) {
	case CategoryRateLimited, CategoryConnection:
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// categorize wraps a transport-level error. HTTP status mapping happens at
// the call site; this handles errors where no response arrived at all.
func categorize(op string, err error) error {
	category := CategoryUnknown

	var netErr net.Error
	if errors.As(err, &netErr) {
		category = CategoryConnection
	}
	if errors.Is(err, context.DeadlineExceeded) {
		category = CategoryConnection
	}

	return &ProviderError{Op: op, Category: category, Err: err}
}
