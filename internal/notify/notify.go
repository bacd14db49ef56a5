// Package notify is the hand-off point between the access core and whatever
// delivers invitations and passcodes to stakeholders (email, SMS). Delivery
// transports live outside this module.
package notify

import (
	"context"
	"time"

	"accessgate.dev/internal/secret"
)

// Recipient identifies who a message is for.
type Recipient struct {
	LinkID     string
	ResourceID string
	Email      string
	Name       string
}

// Notifier delivers credentials out of band. Implementations must not log
// or persist the plaintext they are handed.
type Notifier interface {
	SendInvitation(ctx context.Context, to Recipient, linkToken secret.Secret) error
	SendOTP(ctx context.Context, to Recipient, code secret.Secret, expiresAt time.Time) error
}
