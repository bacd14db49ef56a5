package access

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"accessgate.dev/internal/audit"
	"accessgate.dev/internal/notify"
	"accessgate.dev/internal/obs"
	"accessgate.dev/internal/secret"
)

const maxCodeLen = 64

// RequestOTP issues a fresh passcode for the link behind linkToken, superseding
// any pending one. The plaintext is returned for delivery and never stored.
func (s *Service) RequestOTP(ctx context.Context, linkToken secret.Secret) (Link, secret.Secret, error) {
	link, err := s.resolvePortal(ctx, linkToken, "otp_request")
	if err != nil {
		obs.ObserveOTPRequest(outcomeOf(err))
		return Link{}, secret.Secret{}, err
	}
	now := s.clock()
	if err := allowRequest(link, s.cfg, now); err != nil {
		s.deny(ctx, link.ID, link.ResourceID, link.Actor(), "otp requested too recently", nil)
		obs.ObserveOTPRequest("throttled")
		return Link{}, secret.Secret{}, err
	}
	code, err := secret.GenerateCode(s.cfg.OTPLength, s.cfg.OTPAlphabet)
	if err != nil {
		obs.ObserveOTPRequest("error")
		return Link{}, secret.Secret{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	expires := now.Add(s.cfg.OTPTTL)
	updated, err := s.store.IssueChallenge(ctx, link.ID, Challenge{
		OTPHash:        secret.Hash(code),
		ExpiresAt:      expires,
		IssuedAt:       now,
		NotIssuedAfter: now.Add(-s.cfg.MinOTPInterval),
		Actor:          link.Actor(),
	})
	if errors.Is(err, ErrStaleState) {
		err = s.classifyChallengeRace(ctx, link.ID)
	}
	if err != nil {
		obs.ObserveOTPRequest(outcomeOf(err))
		return Link{}, secret.Secret{}, unavailable("issue challenge", err)
	}
	s.record(ctx, updated, updated.Actor(), audit.ActionOTPRequested, map[string]string{
		"expires_at": expires.Format(timeLayout),
	})
	if s.notifier != nil {
		err := s.notifier.SendOTP(ctx, notify.Recipient{
			LinkID:     updated.ID,
			ResourceID: updated.ResourceID,
			Email:      updated.ContactEmail,
			Name:       updated.ContactName,
		}, code, expires)
		if err != nil {
			obs.ObserveOTPRequest("error")
			return Link{}, secret.Secret{}, fmt.Errorf("%w: deliver passcode: %v", ErrUnavailable, err)
		}
	}
	obs.ObserveOTPRequest("issued")
	return updated, code, nil
}

// classifyChallengeRace explains why IssueChallenge lost its precondition.
func (s *Service) classifyChallengeRace(ctx context.Context, linkID string) error {
	current, err := s.store.FindLink(ctx, linkID)
	if err != nil {
		return err
	}
	if current.Revoked() {
		return ErrLinkNotFound
	}
	if err := allowRequest(current, s.cfg, s.clock()); err != nil {
		return err
	}
	return ErrStaleState
}

// VerifyOTP checks code against the pending passcode. On a match the passcode
// is consumed and a session is installed in the same store transition.
func (s *Service) VerifyOTP(ctx context.Context, linkToken, code secret.Secret) (SessionGrant, error) {
	if code.IsZero() || code.Len() > maxCodeLen {
		obs.ObserveOTPVerification("invalid")
		return SessionGrant{}, fmt.Errorf("%w: passcode is malformed", ErrInvalidInput)
	}
	link, err := s.resolvePortal(ctx, linkToken, "otp_verify")
	if err != nil {
		obs.ObserveOTPVerification(outcomeOf(err))
		return SessionGrant{}, err
	}
	now := s.clock()
	switch ChallengeStateOf(link, s.cfg, now) {
	case ChallengeLockedOut:
		s.deny(ctx, link.ID, link.ResourceID, link.Actor(), "otp locked out", nil)
		obs.ObserveOTPVerification("locked_out")
		return SessionGrant{}, lockedOut(link, s.cfg, now)
	case NoChallenge:
		s.deny(ctx, link.ID, link.ResourceID, link.Actor(), "no pending otp", nil)
		obs.ObserveOTPVerification("expired")
		return SessionGrant{}, ErrOTPExpired
	case ChallengeExpired:
		s.deny(ctx, link.ID, link.ResourceID, link.Actor(), "otp expired", nil)
		obs.ObserveOTPVerification("expired")
		return SessionGrant{}, ErrOTPExpired
	}

	if !secret.Compare(code, link.OTPHash) {
		return SessionGrant{}, s.recordMismatch(ctx, link, now)
	}

	version := link.SessionVersion + 1
	token, err := s.newSessionToken(link.ID, version)
	if err != nil {
		obs.ObserveOTPVerification("error")
		return SessionGrant{}, err
	}
	expires := now.Add(s.cfg.SessionTTL)
	updated, err := s.store.ConsumeChallenge(ctx, link.ID, link.OTPHash, SessionUpdate{
		TokenHash:       secret.Hash(token),
		ExpiresAt:       expires,
		ExpectedVersion: link.SessionVersion,
		Now:             now,
		Actor:           link.Actor(),
	})
	if errors.Is(err, ErrStaleState) {
		err = s.classifyConsumeRace(ctx, link)
		s.deny(ctx, link.ID, link.ResourceID, link.Actor(), "otp consumed concurrently", nil)
	}
	if err != nil {
		obs.ObserveOTPVerification(outcomeOf(err))
		return SessionGrant{}, unavailable("consume challenge", err)
	}
	s.record(ctx, updated, updated.Actor(), audit.ActionOTPVerified, nil)
	s.record(ctx, updated, updated.Actor(), audit.ActionSessionIssued, map[string]string{
		"session_version": strconv.FormatInt(updated.SessionVersion, 10),
	})
	obs.ObserveOTPVerification("verified")
	return SessionGrant{
		Link:      updated,
		Token:     token,
		Version:   updated.SessionVersion,
		ExpiresAt: expires,
	}, nil
}

func (s *Service) recordMismatch(ctx context.Context, link Link, now time.Time) error {
	updated, err := s.store.RecordFailedAttempt(ctx, link.ID, link.OTPHash, s.cfg.MaxAttempts, now)
	if errors.Is(err, ErrStaleState) {
		// The passcode was superseded or consumed meanwhile; the guess is still wrong.
		s.deny(ctx, link.ID, link.ResourceID, link.Actor(), "otp mismatch", nil)
		obs.ObserveOTPVerification("mismatch")
		return ErrOTPMismatch
	}
	if err != nil {
		obs.ObserveOTPVerification("error")
		return unavailable("record failed attempt", err)
	}
	attempts := map[string]string{"attempts": strconv.Itoa(updated.VerificationAttempts)}
	if updated.VerificationAttempts >= s.cfg.MaxAttempts {
		s.deny(ctx, link.ID, link.ResourceID, link.Actor(), "otp locked out", attempts)
		obs.ObserveOTPVerification("locked_out")
		return lockedOut(updated, s.cfg, now)
	}
	s.deny(ctx, link.ID, link.ResourceID, link.Actor(), "otp mismatch", attempts)
	obs.ObserveOTPVerification("mismatch")
	return ErrOTPMismatch
}

// classifyConsumeRace explains why ConsumeChallenge lost its precondition.
func (s *Service) classifyConsumeRace(ctx context.Context, seen Link) error {
	current, err := s.store.FindLink(ctx, seen.ID)
	if err != nil {
		return err
	}
	switch {
	case current.Revoked():
		return ErrLinkNotFound
	case current.OTPHash != seen.OTPHash:
		return ErrOTPExpired
	case ChallengeStateOf(current, s.cfg, s.clock()) == ChallengeExpired:
		return ErrOTPExpired
	}
	return ErrStaleState
}

// resolvePortal resolves a stakeholder-presented link token, auditing failures.
func (s *Service) resolvePortal(ctx context.Context, linkToken secret.Secret, op string) (Link, error) {
	details := map[string]string{"op": op}
	if linkToken.IsZero() || linkToken.Len() > maxTokenLen {
		s.deny(ctx, unknownSubject, "", unknownActor, "malformed link token", details)
		return Link{}, fmt.Errorf("%w: link token is malformed", ErrInvalidInput)
	}
	link, err := s.store.FindLinkByTokenHash(ctx, secret.Hash(linkToken))
	if errors.Is(err, ErrLinkNotFound) {
		s.deny(ctx, unknownSubject, "", unknownActor, "unknown link token", details)
		return Link{}, ErrLinkNotFound
	}
	if err != nil {
		return Link{}, unavailable("resolve link", err)
	}
	if link.Revoked() {
		s.deny(ctx, link.ID, link.ResourceID, link.Actor(), "link revoked", details)
		return Link{}, ErrLinkNotFound
	}
	return link, nil
}

// outcomeOf maps an error to a metric label.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrOTPLockedOut):
		return "locked_out"
	case errors.Is(err, ErrRateLimited):
		return "throttled"
	case errors.Is(err, ErrOTPExpired):
		return "expired"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
