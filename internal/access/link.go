package access

import (
	"time"

	"accessgate.dev/internal/audit"
	"accessgate.dev/internal/secret"
)

// Link grants one external stakeholder portal access to one resource.
// Hash fields never leave the process in JSON.
type Link struct {
	ID                   string            `json:"id"`
	ResourceID           string            `json:"resource_id"`
	StakeholderID        string            `json:"stakeholder_id"`
	ContactEmail         string            `json:"contact_email"`
	ContactName          string            `json:"contact_name,omitempty"`
	TokenHash            secret.Digest     `json:"-"`
	OTPHash              secret.Digest     `json:"-"`
	OTPExpiresAt         *time.Time        `json:"otp_expires_at,omitempty"`
	OTPIssuedAt          *time.Time        `json:"otp_issued_at,omitempty"`
	SessionTokenHash     secret.Digest     `json:"-"`
	SessionExpiresAt     *time.Time        `json:"session_expires_at,omitempty"`
	SessionVersion       int64             `json:"session_version"`
	VerificationAttempts int               `json:"verification_attempts"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	RevokedAt            *time.Time        `json:"revoked_at,omitempty"`
	RevokeReason         string            `json:"revoke_reason,omitempty"`
	CreatedBy            string            `json:"created_by"`
	UpdatedBy            string            `json:"updated_by"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// Revoked reports whether the link is terminally revoked.
func (l Link) Revoked() bool { return l.RevokedAt != nil }

// HasChallenge reports whether a passcode is pending, regardless of expiry.
func (l Link) HasChallenge() bool { return l.OTPHash != "" }

// HasSession reports whether a session hash is installed, regardless of expiry.
func (l Link) HasSession() bool { return l.SessionTokenHash != "" }

// Actor is the audit actor string for the stakeholder behind the link.
func (l Link) Actor() string { return audit.ExternalActor(l.ContactEmail) }

// Clone returns a deep copy, so callers never share maps or time pointers with a store.
func (l Link) Clone() Link {
	out := l
	out.OTPExpiresAt = cloneTime(l.OTPExpiresAt)
	out.OTPIssuedAt = cloneTime(l.OTPIssuedAt)
	out.SessionExpiresAt = cloneTime(l.SessionExpiresAt)
	out.RevokedAt = cloneTime(l.RevokedAt)
	if l.Metadata != nil {
		out.Metadata = make(map[string]string, len(l.Metadata))
		for k, v := range l.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Revoke reasons.
const (
	ReasonRevoked        = "revoked"
	ReasonCompromise     = "compromise"
	ReasonResourceClosed = "resource_closed"
)

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtr(t time.Time) *time.Time { return &t }
