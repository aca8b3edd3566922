package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors. All of these are non-retriable: retrying would
// produce the same outcome.
var (
	// ErrNotFound indicates the entity does not exist upstream or in the store.
	ErrNotFound = errors.New("not found")

	// ErrMissingIdentifier indicates a capture request lacked a required ID.
	ErrMissingIdentifier = errors.New("missing required identifier")

	// ErrRecentlySynced indicates the repository was synced within the
	// throttle window and has complete data.
	ErrRecentlySynced = errors.New("repository recently synced")

	// ErrFeatureDisabled indicates the requested capture is disabled for
	// this repository.
	ErrFeatureDisabled = errors.New("feature disabled")

	// ErrInvalidInput indicates a malformed argument.
	ErrInvalidInput = errors.New("invalid input")
)

// RateLimitError indicates the upstream API budget is exhausted.
// Retriable once ResetAt has passed.
type RateLimitError struct {
	ResetAt   time.Time
	Remaining int
	Limit     int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, resets at %s", e.ResetAt.Format(time.RFC3339))
}

// TransientError wraps a retriable upstream failure. For operations
// with a REST equivalent it also triggers the GraphQL-to-REST fallback.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient upstream failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsRetriable reports whether the error is worth retrying. Rate limit
// and transient upstream errors are retriable; everything else
// (missing IDs, not found, disabled features) is not.
func IsRetriable(err error) bool {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	var te *TransientError
	return errors.As(err, &te)
}

// IsTransient reports whether the error is a transient upstream failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
