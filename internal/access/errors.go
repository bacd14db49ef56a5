package access

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds. Every error returned by this package matches exactly one of them with errors.Is.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrConflict     = errors.New("conflict")
	ErrUnavailable  = errors.New("dependency unavailable")
)

var (
	ErrLinkNotFound  = fmt.Errorf("%w: access link", ErrNotFound)
	ErrDuplicateLink = fmt.Errorf("%w: live access link already exists for resource and stakeholder", ErrConflict)
	ErrStaleState    = fmt.Errorf("%w: access link changed concurrently", ErrConflict)
	ErrOTPMismatch   = fmt.Errorf("%w: passcode mismatch", ErrUnauthorized)
	ErrOTPExpired    = fmt.Errorf("%w: passcode expired or not issued", ErrUnauthorized)
	ErrOTPLockedOut  = fmt.Errorf("%w: too many passcode attempts", ErrRateLimited)
	ErrOTPThrottled  = fmt.Errorf("%w: passcode requested too recently", ErrRateLimited)
)

// RateLimitError carries the retry hint for a throttled or locked out caller.
type RateLimitError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", e.Err, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// RetryAfter extracts the retry hint from err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// unavailable wraps a backend failure so callers can tell it apart from domain errors.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrInvalidInput, ErrNotFound, ErrUnauthorized, ErrRateLimited, ErrConflict, ErrUnavailable} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
