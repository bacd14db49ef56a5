package access

import "time"

// ChallengeState is the passcode state of a link, derived from the stored
// attempt counter and passcode fields. Lockout is never persisted separately.
type ChallengeState string

const (
	NoChallenge        ChallengeState = "none"
	ChallengePending   ChallengeState = "pending"
	ChallengeExpired   ChallengeState = "expired"
	ChallengeLockedOut ChallengeState = "locked_out"
)

// ChallengeStateOf derives the passcode state of l at now under cfg.
func ChallengeStateOf(l Link, cfg Config, now time.Time) ChallengeState {
	if !l.HasChallenge() {
		if l.VerificationAttempts >= cfg.MaxAttempts {
			return ChallengeLockedOut
		}
		return NoChallenge
	}
	if l.OTPExpiresAt == nil || !l.OTPExpiresAt.After(now) {
		return ChallengeExpired
	}
	return ChallengePending
}

// nextRequestAt is the earliest time a new passcode may be requested.
func nextRequestAt(l Link, cfg Config) time.Time {
	if l.OTPIssuedAt == nil {
		return time.Time{}
	}
	return l.OTPIssuedAt.Add(cfg.MinOTPInterval)
}

// retryAfter is how long the caller has to wait before requesting a passcode.
func retryAfter(l Link, cfg Config, now time.Time) time.Duration {
	wait := nextRequestAt(l, cfg).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// allowRequest enforces the minimum interval between passcode requests.
func allowRequest(l Link, cfg Config, now time.Time) error {
	if wait := retryAfter(l, cfg, now); wait > 0 {
		return &RateLimitError{Err: ErrOTPThrottled, RetryAfter: wait}
	}
	return nil
}

func lockedOut(l Link, cfg Config, now time.Time) error {
	return &RateLimitError{Err: ErrOTPLockedOut, RetryAfter: retryAfter(l, cfg, now)}
}
