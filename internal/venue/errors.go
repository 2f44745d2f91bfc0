package venue

import (
	"errors"
	"fmt"
)

// Error taxonomy. Transient errors may be retried with backoff; fatal errors
// are surfaced to the operator and never retried. Unknown outcomes (timeouts
// after submission) must be resolved by reconciliation before retrying.
var (
	ErrUnavailable = errors.New("venue: data unavailable")
	ErrTransient   = errors.New("venue: transient error")
	ErrFatal       = errors.New("venue: fatal error")
	ErrUnknown     = errors.New("venue: outcome unknown")
)

// Transient wraps err as a retryable venue error.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Fatal wraps err as a non-retryable venue error.
func Fatal(err error) error {
	return fmt.Errorf("%w: %w", ErrFatal, err)
}

// IsTransient reports whether err may be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrUnavailable)
}

// IsFatal reports whether err must not be retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// IsUnknown reports whether the outcome of a call is unresolved, e.g. a
// submission timeout. The caller must wait for reconciliation before acting.
func IsUnknown(err error) bool {
	return errors.Is(err, ErrUnknown)
}
