// Package apperr holds error values shared across the service packages so
// the HTTP layer can map them to responses with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or incomplete input.
	ErrValidation = errors.New("invalid input")
	// ErrNotFound marks a missing event, location, or attendance record.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable marks a transient persistence failure. Callers may
	// retry; background work retries on the next scheduler tick.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Unavailable wraps a driver-level failure as a retryable store error.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
