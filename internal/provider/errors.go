package provider

import (
	"errors"
	"fmt"
)

// Error wraps a provider API failure with retryability classification.
// Network errors, 5xx and 429 responses are retryable; other 4xx responses
// mean the provider rejected the request and retrying the same call is
// pointless.
type Error struct {
	Op        string // operation, e.g. "create zone"
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	kind := "rejected"
	if e.Retryable {
		kind = "unavailable"
	}
	return fmt.Sprintf("provider %s (%s): %v", kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Unavailable creates a retryable provider error
func Unavailable(op string, err error) *Error {
	return &Error{Op: op, Retryable: true, Err: err}
}

// Rejected creates a non-retryable provider error
func Rejected(op string, err error) *Error {
	return &Error{Op: op, Retryable: false, Err: err}
}

// IsUnavailable reports whether err is a transient provider failure
func IsUnavailable(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Retryable
}

// IsRejected reports whether err is a permanent provider rejection
func IsRejected(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && !pe.Retryable
}
