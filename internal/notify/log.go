package notify

import (
	"context"
	"sync"
	"time"

	"accessgate.dev/internal/obs"
	"accessgate.dev/internal/secret"
)

// LogNotifier records that a delivery would happen without transmitting anything.
// It is meant for development, where staff read invitation tokens from the API response.
// Passcodes are redacted like every other secret, so with LogNotifier a stakeholder
// can request a passcode but never verify one; deployments that complete the portal
// flow must supply a Notifier backed by a real email or SMS transport.
type LogNotifier struct{}

var _ Notifier = LogNotifier{}

func (LogNotifier) SendInvitation(_ context.Context, to Recipient, linkToken secret.Secret) error {
	obs.Info("invitation ready for delivery", map[string]any{
		"link_id":     to.LinkID,
		"resource_id": to.ResourceID,
		"email":       to.Email,
		"token":       linkToken,
	})
	return nil
}

func (LogNotifier) SendOTP(_ context.Context, to Recipient, code secret.Secret, expiresAt time.Time) error {
	obs.Info("passcode ready for delivery", map[string]any{
		"link_id":    to.LinkID,
		"email":      to.Email,
		"code":       code,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
	return nil
}

// Recorder keeps deliveries in memory. Tests use it to read the plaintext a
// stakeholder would have received.
type Recorder struct {
	mu          sync.Mutex
	Invitations []Delivery
	Codes       []Delivery
	Err         error
}

// Delivery is one captured message.
type Delivery struct {
	To        Recipient
	Secret    secret.Secret
	ExpiresAt time.Time
}

var _ Notifier = (*Recorder)(nil)

func (r *Recorder) SendInvitation(_ context.Context, to Recipient, linkToken secret.Secret) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Invitations = append(r.Invitations, Delivery{To: to, Secret: linkToken})
	return nil
}

func (r *Recorder) SendOTP(_ context.Context, to Recipient, code secret.Secret, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Codes = append(r.Codes, Delivery{To: to, Secret: code, ExpiresAt: expiresAt})
	return nil
}

// LastCode returns the most recent passcode delivered to linkID.
func (r *Recorder) LastCode(linkID string) (secret.Secret, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.Codes) - 1; i >= 0; i-- {
		if r.Codes[i].To.LinkID == linkID {
			return r.Codes[i].Secret, true
		}
	}
	return secret.Secret{}, false
}
