package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"accessgate.dev/internal/audit"
	"accessgate.dev/internal/ids"
	"accessgate.dev/internal/notify"
	"accessgate.dev/internal/obs"
	"accessgate.dev/internal/secret"
)

// Config holds the portal credential policy.
type Config struct {
	LinkTokenBytes    int
	SessionTokenBytes int
	OTPLength         int
	OTPAlphabet       string
	OTPTTL            time.Duration
	SessionTTL        time.Duration
	MaxAttempts       int
	MinOTPInterval    time.Duration
}

// DefaultConfig returns the policy used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		LinkTokenBytes:    32,
		SessionTokenBytes: 32,
		OTPLength:         6,
		OTPAlphabet:       secret.Digits,
		OTPTTL:            10 * time.Minute,
		SessionTTL:        24 * time.Hour,
		MaxAttempts:       5,
		MinOTPInterval:    30 * time.Second,
	}
}

// Validate rejects policies that would weaken or break the protocol.
func (c Config) Validate() error {
	switch {
	case c.LinkTokenBytes < 16:
		return fmt.Errorf("%w: link token must carry at least 16 bytes", ErrInvalidInput)
	case c.SessionTokenBytes < 16:
		return fmt.Errorf("%w: session token must carry at least 16 bytes", ErrInvalidInput)
	case c.OTPLength < 4 || c.OTPLength > 12:
		return fmt.Errorf("%w: otp length must be between 4 and 12", ErrInvalidInput)
	case len(c.OTPAlphabet) < 2:
		return fmt.Errorf("%w: otp alphabet needs at least two symbols", ErrInvalidInput)
	case strings.ContainsAny(c.OTPAlphabet, " \t\r\n"):
		return fmt.Errorf("%w: otp alphabet must not contain whitespace", ErrInvalidInput)
	case c.OTPTTL <= 0 || c.SessionTTL <= 0:
		return fmt.Errorf("%w: ttls must be positive", ErrInvalidInput)
	case c.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts must be positive", ErrInvalidInput)
	case c.MinOTPInterval < 0:
		return fmt.Errorf("%w: otp interval must not be negative", ErrInvalidInput)
	}
	return nil
}

// Service implements the access link, passcode and session protocol on top of a Store.
type Service struct {
	store    Store
	audit    *audit.Recorder
	notifier notify.Notifier
	cfg      Config
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithConfig replaces the default policy.
func WithConfig(cfg Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithNotifier hands invitation tokens and passcodes to a delivery collaborator.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// NewService constructs a Service. rec may be nil.
func NewService(store Store, rec *audit.Recorder, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("access: store is required")
	}
	s := &Service{store: store, audit: rec, cfg: DefaultConfig(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Config returns the active policy.
func (s *Service) Config() Config { return s.cfg }

func (s *Service) clock() time.Time { return s.now().UTC() }

// CreateLinkInput describes a new share.
type CreateLinkInput struct {
	ResourceID    string            `json:"resource_id"`
	StakeholderID string            `json:"stakeholder_id"`
	ContactEmail  string            `json:"contact_email"`
	ContactName   string            `json:"contact_name"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

const (
	maxIdentifierLen = 200
	maxMetadataKeys  = 32
	maxTokenLen      = 256
)

func (in CreateLinkInput) normalize() (CreateLinkInput, error) {
	in.ResourceID = strings.TrimSpace(in.ResourceID)
	in.StakeholderID = strings.TrimSpace(in.StakeholderID)
	in.ContactEmail = strings.ToLower(strings.TrimSpace(in.ContactEmail))
	in.ContactName = strings.TrimSpace(in.ContactName)
	if in.ResourceID == "" || len(in.ResourceID) > maxIdentifierLen {
		return in, fmt.Errorf("%w: resource_id is required", ErrInvalidInput)
	}
	if in.StakeholderID == "" || len(in.StakeholderID) > maxIdentifierLen {
		return in, fmt.Errorf("%w: stakeholder_id is required", ErrInvalidInput)
	}
	at := strings.IndexByte(in.ContactEmail, '@')
	if at <= 0 || at == len(in.ContactEmail)-1 || len(in.ContactEmail) > maxIdentifierLen {
		return in, fmt.Errorf("%w: contact_email is invalid", ErrInvalidInput)
	}
	if len(in.Metadata) > maxMetadataKeys {
		return in, fmt.Errorf("%w: too many metadata keys", ErrInvalidInput)
	}
	return in, nil
}

func requireActor(actor string) (string, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return "", fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}
	return actor, nil
}

// CreateLink registers a share and returns the invitation token. The token is
// returned exactly once; only its digest is stored.
func (s *Service) CreateLink(ctx context.Context, in CreateLinkInput, actor string) (Link, secret.Secret, error) {
	in, err := in.normalize()
	if err != nil {
		return Link{}, secret.Secret{}, err
	}
	if actor, err = requireActor(actor); err != nil {
		return Link{}, secret.Secret{}, err
	}
	token, err := secret.Generate(s.cfg.LinkTokenBytes)
	if err != nil {
		return Link{}, secret.Secret{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	now := s.clock()
	link, err := s.store.CreateLink(ctx, Link{
		ID:            ids.New(),
		ResourceID:    in.ResourceID,
		StakeholderID: in.StakeholderID,
		ContactEmail:  in.ContactEmail,
		ContactName:   in.ContactName,
		TokenHash:     secret.Hash(token),
		Metadata:      in.Metadata,
		CreatedBy:     actor,
		UpdatedBy:     actor,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return Link{}, secret.Secret{}, unavailable("create link", err)
	}
	s.record(ctx, link, actor, audit.ActionCreate, map[string]string{"stakeholder_id": link.StakeholderID})
	s.deliverInvitation(ctx, link, token)
	return link, token, nil
}

// FetchOrCreate returns the live link for the pair, creating it if needed.
// An existing link gets a fresh invitation token, so earlier invitations stop working.
func (s *Service) FetchOrCreate(ctx context.Context, in CreateLinkInput, actor string) (Link, secret.Secret, bool, error) {
	norm, err := in.normalize()
	if err != nil {
		return Link{}, secret.Secret{}, false, err
	}
	if actor, err = requireActor(actor); err != nil {
		return Link{}, secret.Secret{}, false, err
	}
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := s.store.FindLiveLink(ctx, norm.ResourceID, norm.StakeholderID)
		switch {
		case err == nil:
			link, token, err := s.rotateLinkToken(ctx, existing, actor)
			if errors.Is(err, ErrStaleState) {
				continue
			}
			return link, token, false, err
		case !errors.Is(err, ErrLinkNotFound):
			return Link{}, secret.Secret{}, false, unavailable("find live link", err)
		}
		link, token, err := s.CreateLink(ctx, norm, actor)
		if errors.Is(err, ErrDuplicateLink) {
			continue
		}
		return link, token, err == nil, err
	}
	return Link{}, secret.Secret{}, false, ErrStaleState
}

func (s *Service) rotateLinkToken(ctx context.Context, link Link, actor string) (Link, secret.Secret, error) {
	token, err := secret.Generate(s.cfg.LinkTokenBytes)
	if err != nil {
		return Link{}, secret.Secret{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	updated, err := s.store.RotateLinkToken(ctx, link.ID, secret.Hash(token), actor, s.clock())
	if err != nil {
		return Link{}, secret.Secret{}, unavailable("rotate link token", err)
	}
	s.record(ctx, updated, actor, audit.ActionUpdate, map[string]string{"change": "link_token_rotated"})
	s.deliverInvitation(ctx, updated, token)
	return updated, token, nil
}

// ResolveByToken maps an invitation token to its live link.
func (s *Service) ResolveByToken(ctx context.Context, token secret.Secret) (Link, error) {
	if token.IsZero() || token.Len() > maxTokenLen {
		return Link{}, fmt.Errorf("%w: link token is malformed", ErrInvalidInput)
	}
	link, err := s.store.FindLinkByTokenHash(ctx, secret.Hash(token))
	if err != nil {
		return Link{}, unavailable("resolve link", err)
	}
	if link.Revoked() {
		return Link{}, ErrLinkNotFound
	}
	return link, nil
}

// Get loads a link for staff tooling and records the read.
func (s *Service) Get(ctx context.Context, linkID, actor string) (Link, error) {
	linkID = strings.TrimSpace(linkID)
	if linkID == "" {
		return Link{}, fmt.Errorf("%w: link id is required", ErrInvalidInput)
	}
	link, err := s.store.FindLink(ctx, linkID)
	if err != nil {
		return Link{}, unavailable("find link", err)
	}
	if actor != "" {
		s.record(ctx, link, actor, audit.ActionView, nil)
	}
	return link, nil
}

// ListByResource returns every link ever created for a resource, newest first.
func (s *Service) ListByResource(ctx context.Context, resourceID string) ([]Link, error) {
	resourceID = strings.TrimSpace(resourceID)
	if resourceID == "" {
		return nil, fmt.Errorf("%w: resource id is required", ErrInvalidInput)
	}
	links, err := s.store.ListLinksByResource(ctx, resourceID)
	if err != nil {
		return nil, unavailable("list links", err)
	}
	return links, nil
}

// Revoke terminally revokes a link and every session issued for it. Idempotent.
func (s *Service) Revoke(ctx context.Context, linkID, actor, reason string) (Link, error) {
	linkID = strings.TrimSpace(linkID)
	if linkID == "" {
		return Link{}, fmt.Errorf("%w: link id is required", ErrInvalidInput)
	}
	actor, err := requireActor(actor)
	if err != nil {
		return Link{}, err
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = ReasonRevoked
	}
	link, changed, err := s.store.RevokeLink(ctx, linkID, actor, reason, s.clock())
	if err != nil {
		return Link{}, unavailable("revoke link", err)
	}
	if changed {
		s.record(ctx, link, actor, audit.ActionLinkRevoked, map[string]string{"reason": reason})
	}
	return link, nil
}

// RevokeResource revokes every live link of a closed resource.
func (s *Service) RevokeResource(ctx context.Context, resourceID, actor string) ([]Link, error) {
	resourceID = strings.TrimSpace(resourceID)
	if resourceID == "" {
		return nil, fmt.Errorf("%w: resource id is required", ErrInvalidInput)
	}
	actor, err := requireActor(actor)
	if err != nil {
		return nil, err
	}
	links, err := s.store.RevokeResource(ctx, resourceID, actor, ReasonResourceClosed, s.clock())
	if err != nil {
		return nil, unavailable("revoke resource", err)
	}
	for _, link := range links {
		s.record(ctx, link, actor, audit.ActionLinkRevoked, map[string]string{"reason": ReasonResourceClosed})
	}
	return links, nil
}

func (s *Service) record(ctx context.Context, link Link, actor string, action audit.Action, details map[string]string) {
	s.audit.Record(ctx, audit.Event{
		Subject:    link.ID,
		ResourceID: link.ResourceID,
		Actor:      actor,
		Action:     action,
		Details:    details,
	})
}

func (s *Service) deliverInvitation(ctx context.Context, link Link, token secret.Secret) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.SendInvitation(ctx, notify.Recipient{
		LinkID:     link.ID,
		ResourceID: link.ResourceID,
		Email:      link.ContactEmail,
		Name:       link.ContactName,
	}, token)
	if err != nil {
		// The token is also returned to the staff caller, who can deliver it by hand.
		obs.Warn("invitation delivery failed", map[string]any{
			"link_id":     link.ID,
			"resource_id": link.ResourceID,
			"error":       err.Error(),
		})
	}
}
