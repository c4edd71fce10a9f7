package driver

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Read when the provider has no resource with the
// requested identity.
var ErrNotFound = errors.New("resource not found")

// TerminalError marks a provider failure that retrying cannot fix, such as a
// quota denial or an invalid attribute the provider rejected. The executor
// fails the operation immediately.
type TerminalError struct {
	Op  string
	Err error
}

func (e *TerminalError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TerminalError) Unwrap() error { return e.Err }

// RetryableError marks a transient provider failure, such as a timeout or a
// rate limit. The executor retries the operation with backoff.
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string { return fmt.Sprintf("%s (retryable): %v", e.Op, e.Err) }
func (e *RetryableError) Unwrap() error { return e.Err }

// IsTerminal reports whether err (or any error in its chain) is terminal.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}

// IsRetryable reports whether err (or any error in its chain) is retryable.
// Errors carrying neither classification are treated as terminal by callers,
// so IsRetryable is the gate that matters.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// Terminal wraps err as a terminal failure of the named operation.
func Terminal(op string, err error) error { return &TerminalError{Op: op, Err: err} }

// Retryable wraps err as a retryable failure of the named operation.
func Retryable(op string, err error) error { return &RetryableError{Op: op, Err: err} }

// Terminalf builds a terminal failure from a format string.
func Terminalf(op, format string, a ...any) error {
	return Terminal(op, fmt.Errorf(format, a...))
}

// Retryablef builds a retryable failure from a format string.
func Retryablef(op, format string, a ...any) error {
	return Retryable(op, fmt.Errorf(format, a...))
}
