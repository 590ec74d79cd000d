// README: Error taxonomy shared by the matching engine and the HTTP layer.
package types

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrAlreadyMatched   = errors.New("intent already matched")
	ErrCapacityExceeded = errors.New("driver has no free seats")
	ErrAlreadyFinalized = errors.New("trip already finalized")
	ErrNotEligible      = errors.New("operation not permitted in current state")
	ErrDuplicateRating  = errors.New("rating already submitted")
	ErrTransient        = errors.New("temporary failure, retry later")

	ErrNotFound     = errors.New("not found")
	ErrBadRequest   = errors.New("bad request")
	ErrForbidden    = errors.New("forbidden")
	ErrActiveIntent = errors.New("participant already has an active intent")
	// ErrNoActiveTrip means the caller's view is stale; it must resynchronize, not retry.
	ErrNoActiveTrip = errors.New("no trip in progress")
)

var domainErrors = []error{
	ErrAlreadyMatched,
	ErrCapacityExceeded,
	ErrAlreadyFinalized,
	ErrNotEligible,
	ErrDuplicateRating,
	ErrTransient,
	ErrNotFound,
	ErrBadRequest,
	ErrForbidden,
	ErrActiveIntent,
	ErrNoActiveTrip,
}

// IsDomain reports whether err already belongs to the taxonomy.
func IsDomain(err error) bool {
	for _, d := range domainErrors {
		if errors.Is(err, d) {
			return true
		}
	}
	return false
}

// Transient wraps an infrastructure failure so callers can match ErrTransient
// while the cause stays reachable through errors.Unwrap.
func Transient(err error) error {
	if err == nil || IsDomain(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsRetryable reports whether the caller may retry the same call.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

// WithStoreTimeout bounds a single store round trip. A non-positive d leaves ctx untouched.
func WithStoreTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
