package access

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"accessgate.dev/internal/audit"
	"accessgate.dev/internal/ids"
	"accessgate.dev/internal/obs"
	"accessgate.dev/internal/secret"
)

const (
	timeLayout     = time.RFC3339
	tokenSeparator = '.'
	unknownSubject = "unknown"
)

var unknownActor = audit.ExternalActor("unknown")

// SessionGrant is a freshly issued portal session. Token is shown to the
// stakeholder once; only its digest is stored.
type SessionGrant struct {
	Link      Link          `json:"-"`
	Token     secret.Secret `json:"-"`
	Version   int64         `json:"session_version"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// newSessionToken builds "<linkID>.<version>.<secret>". The digest covers the
// whole token, so the embedded id and version cannot be altered.
func (s *Service) newSessionToken(linkID string, version int64) (secret.Secret, error) {
	raw, err := secret.Generate(s.cfg.SessionTokenBytes)
	if err != nil {
		return secret.Secret{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	prefix := linkID + string(tokenSeparator) + strconv.FormatInt(version, 10) + string(tokenSeparator)
	return secret.Prefixed(prefix, raw), nil
}

// parseSessionToken extracts the routing fields of a session token.
func parseSessionToken(token secret.Secret) (linkID string, version int64, ok bool) {
	if token.IsZero() || token.Len() > maxTokenLen {
		return "", 0, false
	}
	prefix, rest, ok := secret.Cut(token, tokenSeparator)
	if !ok || rest.IsZero() {
		return "", 0, false
	}
	linkID, v, ok := strings.Cut(prefix, string(tokenSeparator))
	if !ok || !ids.Valid(linkID) {
		return "", 0, false
	}
	version, err := strconv.ParseInt(v, 10, 64)
	if err != nil || version < 1 {
		return "", 0, false
	}
	return linkID, version, true
}

// IssueSession installs a new session on a live link, advancing its session
// version so every earlier token stops validating. Callers must already have
// authenticated the stakeholder (a verified passcode or a valid session).
func (s *Service) IssueSession(ctx context.Context, link Link) (SessionGrant, error) {
	if link.Revoked() {
		return SessionGrant{}, ErrLinkNotFound
	}
	now := s.clock()
	version := link.SessionVersion + 1
	token, err := s.newSessionToken(link.ID, version)
	if err != nil {
		return SessionGrant{}, err
	}
	expires := now.Add(s.cfg.SessionTTL)
	updated, err := s.store.RotateSession(ctx, link.ID, SessionUpdate{
		TokenHash:       secret.Hash(token),
		ExpiresAt:       expires,
		ExpectedVersion: link.SessionVersion,
		Now:             now,
		Actor:           link.Actor(),
	})
	if err != nil {
		return SessionGrant{}, unavailable("rotate session", err)
	}
	s.record(ctx, updated, updated.Actor(), audit.ActionSessionIssued, map[string]string{
		"session_version": strconv.FormatInt(updated.SessionVersion, 10),
	})
	return SessionGrant{Link: updated, Token: token, Version: updated.SessionVersion, ExpiresAt: expires}, nil
}

// ValidateSession authorizes a portal request. Every failure is reported as
// ErrUnauthorized; the specific reason only reaches the audit trail.
func (s *Service) ValidateSession(ctx context.Context, token secret.Secret) (Link, error) {
	linkID, version, ok := parseSessionToken(token)
	if !ok {
		s.deny(ctx, unknownSubject, "", unknownActor, "malformed session token", nil)
		obs.ObserveSessionValidation("malformed")
		return Link{}, ErrUnauthorized
	}
	link, err := s.store.FindLink(ctx, linkID)
	if errors.Is(err, ErrLinkNotFound) {
		s.deny(ctx, linkID, "", unknownActor, "unknown link", nil)
		obs.ObserveSessionValidation("unknown_link")
		return Link{}, ErrUnauthorized
	}
	if err != nil {
		obs.ObserveSessionValidation("error")
		return Link{}, unavailable("load link", err)
	}
	if reason, label := s.sessionDefect(link, token, version); reason != "" {
		s.deny(ctx, link.ID, link.ResourceID, link.Actor(), reason, map[string]string{
			"presented_version": strconv.FormatInt(version, 10),
		})
		obs.ObserveSessionValidation(label)
		return Link{}, ErrUnauthorized
	}
	obs.ObserveSessionValidation("ok")
	return link, nil
}

// sessionDefect returns the audit reason and metric label for a rejected token.
func (s *Service) sessionDefect(link Link, token secret.Secret, version int64) (string, string) {
	switch {
	case link.Revoked():
		return "link revoked", "revoked"
	case !link.HasSession():
		return "no active session", "no_session"
	case version != link.SessionVersion:
		return "stale session version", "stale_version"
	case !secret.Compare(token, link.SessionTokenHash):
		return "session token mismatch", "mismatch"
	case link.SessionExpiresAt == nil || !link.SessionExpiresAt.After(s.clock()):
		return "session expired", "expired"
	}
	return "", ""
}

// RevokeSession ends the current session without revoking the link; the
// stakeholder can sign in again with a fresh passcode.
func (s *Service) RevokeSession(ctx context.Context, linkID, actor string) (Link, error) {
	linkID = strings.TrimSpace(linkID)
	if linkID == "" {
		return Link{}, fmt.Errorf("%w: link id is required", ErrInvalidInput)
	}
	actor, err := requireActor(actor)
	if err != nil {
		return Link{}, err
	}
	link, err := s.store.RevokeSession(ctx, linkID, actor, s.clock())
	if err != nil {
		return Link{}, unavailable("revoke session", err)
	}
	s.record(ctx, link, actor, audit.ActionSessionRevoked, map[string]string{
		"session_version": strconv.FormatInt(link.SessionVersion, 10),
	})
	return link, nil
}

// RefreshSession validates token and replaces it with a new one carrying a
// fresh expiry. Concurrent refreshes of the same token yield one winner; the
// others get ErrStaleState.
func (s *Service) RefreshSession(ctx context.Context, token secret.Secret) (SessionGrant, error) {
	link, err := s.ValidateSession(ctx, token)
	if err != nil {
		return SessionGrant{}, err
	}
	return s.IssueSession(ctx, link)
}

func (s *Service) deny(ctx context.Context, subject, resourceID, actor, reason string, details map[string]string) {
	d := map[string]string{"reason": reason}
	for k, v := range details {
		d[k] = v
	}
	s.audit.Record(ctx, audit.Event{
		Subject:    subject,
		ResourceID: resourceID,
		Actor:      actor,
		Action:     audit.ActionAccessDenied,
		Details:    d,
	})
}
