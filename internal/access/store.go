package access

import (
	"context"
	"time"

	"accessgate.dev/internal/secret"
)

// Store persists access links. Every mutating method is a single conditional
// update against one link row; when its precondition does not hold the method
// returns ErrStaleState and changes nothing.
type Store interface {
	// CreateLink inserts l. ErrDuplicateLink when a live link exists for the pair.
	CreateLink(ctx context.Context, l Link) (Link, error)
	// FindLink loads a link by id, revoked or not. ErrLinkNotFound when missing.
	FindLink(ctx context.Context, id string) (Link, error)
	// FindLinkByTokenHash loads a link by its invitation digest, revoked or not.
	FindLinkByTokenHash(ctx context.Context, digest secret.Digest) (Link, error)
	// FindLiveLink loads the non-revoked link for the pair.
	FindLiveLink(ctx context.Context, resourceID, stakeholderID string) (Link, error)
	// ListLinksByResource returns every link for a resource, newest first.
	ListLinksByResource(ctx context.Context, resourceID string) ([]Link, error)

	// RotateLinkToken replaces the invitation digest of a live link.
	RotateLinkToken(ctx context.Context, id string, digest secret.Digest, actor string, now time.Time) (Link, error)
	// IssueChallenge installs a new passcode on a live link whose previous
	// passcode was issued no later than c.NotIssuedAfter, resetting attempts.
	IssueChallenge(ctx context.Context, id string, c Challenge) (Link, error)
	// RecordFailedAttempt advances the attempt counter while otpHash is still
	// the pending passcode. Reaching maxAttempts clears the passcode.
	RecordFailedAttempt(ctx context.Context, id string, otpHash secret.Digest, maxAttempts int, now time.Time) (Link, error)
	// ConsumeChallenge clears the pending passcode otpHash, resets attempts and
	// installs the session in one step. The passcode must be unexpired at s.Now
	// and the stored session version must equal s.ExpectedVersion.
	ConsumeChallenge(ctx context.Context, id string, otpHash secret.Digest, s SessionUpdate) (Link, error)
	// RotateSession installs a new session on a live link whose session version
	// equals s.ExpectedVersion.
	RotateSession(ctx context.Context, id string, s SessionUpdate) (Link, error)
	// RevokeSession advances the session version and clears the session hash.
	RevokeSession(ctx context.Context, id, actor string, now time.Time) (Link, error)
	// RevokeLink marks the link revoked and advances its session version.
	// Revoking a revoked link returns it unchanged with changed=false.
	RevokeLink(ctx context.Context, id, actor, reason string, now time.Time) (l Link, changed bool, err error)
	// RevokeResource revokes every live link of a resource and returns them.
	RevokeResource(ctx context.Context, resourceID, actor, reason string, now time.Time) ([]Link, error)
}

// Challenge is a passcode about to be installed.
type Challenge struct {
	OTPHash        secret.Digest
	ExpiresAt      time.Time
	IssuedAt       time.Time
	NotIssuedAfter time.Time
	Actor          string
}

// SessionUpdate is a session about to be installed at version ExpectedVersion+1.
type SessionUpdate struct {
	TokenHash       secret.Digest
	ExpiresAt       time.Time
	ExpectedVersion int64
	Now             time.Time
	Actor           string
}
