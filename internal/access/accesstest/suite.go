// Package accesstest holds the behavioural contract every access.Store must meet.
package accesstest

import (
	"context"
	"errors"
	"testing"
	"time"

	"accessgate.dev/internal/access"
	"accessgate.dev/internal/ids"
	"accessgate.dev/internal/secret"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) access.Store

var base = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// Run exercises the Store contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndFind", func(t *testing.T) { testCreateAndFind(t, newStore(t)) })
	t.Run("UniqueLivePair", func(t *testing.T) { testUniqueLivePair(t, newStore(t)) })
	t.Run("RotateLinkToken", func(t *testing.T) { testRotateLinkToken(t, newStore(t)) })
	t.Run("IssueChallenge", func(t *testing.T) { testIssueChallenge(t, newStore(t)) })
	t.Run("FailedAttempts", func(t *testing.T) { testFailedAttempts(t, newStore(t)) })
	t.Run("ConsumeChallenge", func(t *testing.T) { testConsumeChallenge(t, newStore(t)) })
	t.Run("RotateSession", func(t *testing.T) { testRotateSession(t, newStore(t)) })
	t.Run("RevokeSession", func(t *testing.T) { testRevokeSession(t, newStore(t)) })
	t.Run("RevokeLink", func(t *testing.T) { testRevokeLink(t, newStore(t)) })
	t.Run("RevokeResource", func(t *testing.T) { testRevokeResource(t, newStore(t)) })
}

func newLink(resource, stakeholder string, created time.Time) access.Link {
	return access.Link{
		ID:            ids.NewAt(created),
		ResourceID:    resource,
		StakeholderID: stakeholder,
		ContactEmail:  stakeholder + "@example.com",
		ContactName:   "Stake Holder",
		TokenHash:     secret.Hash(secret.Parse("token-" + resource + "-" + stakeholder + created.String())),
		Metadata:      map[string]string{"project": "p-1"},
		CreatedBy:     "staff-1",
		UpdatedBy:     "staff-1",
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func mustCreate(t *testing.T, s access.Store, l access.Link) access.Link {
	t.Helper()
	out, err := s.CreateLink(context.Background(), l)
	if err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	return out
}

func withChallenge(t *testing.T, s access.Store, l access.Link, code string, at time.Time) access.Link {
	t.Helper()
	out, err := s.IssueChallenge(context.Background(), l.ID, access.Challenge{
		OTPHash:        secret.Hash(secret.Parse(code)),
		ExpiresAt:      at.Add(10 * time.Minute),
		IssuedAt:       at,
		NotIssuedAfter: at,
		Actor:          l.Actor(),
	})
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	return out
}

func testCreateAndFind(t *testing.T, s access.Store) {
	ctx := context.Background()
	in := newLink("shade-1", "designer-1", base)
	created := mustCreate(t, s, in)
	if created.ID != in.ID || created.SessionVersion != 0 || created.VerificationAttempts != 0 {
		t.Fatalf("unexpected created link: %+v", created)
	}

	got, err := s.FindLink(ctx, in.ID)
	if err != nil {
		t.Fatalf("FindLink: %v", err)
	}
	if got.ContactEmail != in.ContactEmail || got.TokenHash != in.TokenHash || got.Metadata["project"] != "p-1" {
		t.Fatalf("unexpected link: %+v", got)
	}
	if !got.CreatedAt.Equal(base) {
		t.Fatalf("created_at not preserved: %v", got.CreatedAt)
	}

	byToken, err := s.FindLinkByTokenHash(ctx, in.TokenHash)
	if err != nil || byToken.ID != in.ID {
		t.Fatalf("FindLinkByTokenHash: %+v %v", byToken, err)
	}
	live, err := s.FindLiveLink(ctx, "shade-1", "designer-1")
	if err != nil || live.ID != in.ID {
		t.Fatalf("FindLiveLink: %+v %v", live, err)
	}

	if _, err := s.FindLink(ctx, ids.New()); !errors.Is(err, access.ErrLinkNotFound) {
		t.Fatalf("expected ErrLinkNotFound, got %v", err)
	}
	if _, err := s.FindLinkByTokenHash(ctx, secret.Hash(secret.Parse("nope"))); !errors.Is(err, access.ErrLinkNotFound) {
		t.Fatalf("expected ErrLinkNotFound, got %v", err)
	}
	if _, err := s.FindLiveLink(ctx, "shade-1", "someone-else"); !errors.Is(err, access.ErrLinkNotFound) {
		t.Fatalf("expected ErrLinkNotFound, got %v", err)
	}
}

func testUniqueLivePair(t *testing.T, s access.Store) {
	ctx := context.Background()
	first := mustCreate(t, s, newLink("shade-1", "designer-1", base))

	if _, err := s.CreateLink(ctx, newLink("shade-1", "designer-1", base.Add(time.Second))); !errors.Is(err, access.ErrDuplicateLink) {
		t.Fatalf("expected ErrDuplicateLink, got %v", err)
	}
	mustCreate(t, s, newLink("shade-1", "designer-2", base.Add(2*time.Second)))

	if _, _, err := s.RevokeLink(ctx, first.ID, "staff-1", access.ReasonRevoked, base.Add(3*time.Second)); err != nil {
		t.Fatalf("RevokeLink: %v", err)
	}
	second := mustCreate(t, s, newLink("shade-1", "designer-1", base.Add(4*time.Second)))

	links, err := s.ListLinksByResource(ctx, "shade-1")
	if err != nil {
		t.Fatalf("ListLinksByResource: %v", err)
	}
	if len(links) != 3 {
		t.Fatalf("expected 3 links, got %d", len(links))
	}
	if links[0].ID != second.ID || links[2].ID != first.ID {
		t.Fatalf("expected newest first, got %s..%s", links[0].ID, links[2].ID)
	}
	if !links[2].Revoked() {
		t.Fatal("expected first link to stay revoked")
	}
}

func testRotateLinkToken(t *testing.T, s access.Store) {
	ctx := context.Background()
	l := mustCreate(t, s, newLink("shade-1", "designer-1", base))
	fresh := secret.Hash(secret.Parse("fresh"))
	rotated, err := s.RotateLinkToken(ctx, l.ID, fresh, "staff-2", base.Add(time.Minute))
	if err != nil {
		t.Fatalf("RotateLinkToken: %v", err)
	}
	if rotated.TokenHash != fresh || rotated.UpdatedBy != "staff-2" {
		t.Fatalf("unexpected rotated link: %+v", rotated)
	}
	if _, err := s.FindLinkByTokenHash(ctx, l.TokenHash); !errors.Is(err, access.ErrLinkNotFound) {
		t.Fatalf("old digest should no longer resolve, got %v", err)
	}
	if _, _, err := s.RevokeLink(ctx, l.ID, "staff-1", access.ReasonRevoked, base.Add(2*time.Minute)); err != nil {
		t.Fatalf("RevokeLink: %v", err)
	}
	if _, err := s.RotateLinkToken(ctx, l.ID, secret.Hash(secret.Parse("later")), "staff-2", base.Add(3*time.Minute)); !errors.Is(err, access.ErrStaleState) {
		t.Fatalf("expected ErrStaleState on revoked link, got %v", err)
	}
}

func testIssueChallenge(t *testing.T, s access.Store) {
	ctx := context.Background()
	l := mustCreate(t, s, newLink("shade-1", "designer-1", base))
	got := withChallenge(t, s, l, "111111", base)
	if got.OTPHash != secret.Hash(secret.Parse("111111")) || got.OTPExpiresAt == nil || got.OTPIssuedAt == nil {
		t.Fatalf("challenge not stored: %+v", got)
	}
	if !got.OTPIssuedAt.Equal(base) || !got.OTPExpiresAt.Equal(base.Add(10*time.Minute)) {
		t.Fatalf("unexpected challenge times: %v %v", got.OTPIssuedAt, got.OTPExpiresAt)
	}

	// A request inside the minimum interval loses its precondition.
	_, err := s.IssueChallenge(ctx, l.ID, access.Challenge{
		OTPHash:        secret.Hash(secret.Parse("222222")),
		ExpiresAt:      base.Add(11 * time.Minute),
		IssuedAt:       base.Add(10 * time.Second),
		NotIssuedAfter: base.Add(-20 * time.Second),
	})
	if !errors.Is(err, access.ErrStaleState) {
		t.Fatalf("expected ErrStaleState, got %v", err)
	}

	if _, err := s.RecordFailedAttempt(ctx, l.ID, got.OTPHash, 5, base.Add(time.Minute)); err != nil {
		t.Fatalf("RecordFailedAttempt: %v", err)
	}
	later := withChallenge(t, s, l, "333333", base.Add(time.Minute))
	if later.VerificationAttempts != 0 {
		t.Fatalf("new challenge must reset attempts, got %d", later.VerificationAttempts)
	}
	if later.OTPHash == got.OTPHash {
		t.Fatal("new challenge must supersede the previous one")
	}
}

func testFailedAttempts(t *testing.T, s access.Store) {
	ctx := context.Background()
	l := mustCreate(t, s, newLink("shade-1", "designer-1", base))
	l = withChallenge(t, s, l, "111111", base)

	for i := 1; i <= 2; i++ {
		got, err := s.RecordFailedAttempt(ctx, l.ID, l.OTPHash, 3, base.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if got.VerificationAttempts != i || !got.HasChallenge() {
			t.Fatalf("attempt %d: unexpected state %+v", i, got)
		}
	}
	got, err := s.RecordFailedAttempt(ctx, l.ID, l.OTPHash, 3, base.Add(3*time.Second))
	if err != nil {
		t.Fatalf("final attempt: %v", err)
	}
	if got.VerificationAttempts != 3 || got.HasChallenge() || got.OTPExpiresAt != nil {
		t.Fatalf("threshold must clear the challenge: %+v", got)
	}
	if _, err := s.RecordFailedAttempt(ctx, l.ID, l.OTPHash, 3, base.Add(4*time.Second)); !errors.Is(err, access.ErrStaleState) {
		t.Fatalf("expected ErrStaleState once cleared, got %v", err)
	}
}

func sessionUpdate(l access.Link, token string, now time.Time) access.SessionUpdate {
	return access.SessionUpdate{
		TokenHash:       secret.Hash(secret.Parse(token)),
		ExpiresAt:       now.Add(24 * time.Hour),
		ExpectedVersion: l.SessionVersion,
		Now:             now,
		Actor:           l.Actor(),
	}
}

func testConsumeChallenge(t *testing.T, s access.Store) {
	ctx := context.Background()
	l := mustCreate(t, s, newLink("shade-1", "designer-1", base))
	l = withChallenge(t, s, l, "111111", base)
	if _, err := s.RecordFailedAttempt(ctx, l.ID, l.OTPHash, 5, base.Add(time.Second)); err != nil {
		t.Fatalf("RecordFailedAttempt: %v", err)
	}

	now := base.Add(time.Minute)
	got, err := s.ConsumeChallenge(ctx, l.ID, l.OTPHash, sessionUpdate(l, "session-1", now))
	if err != nil {
		t.Fatalf("ConsumeChallenge: %v", err)
	}
	if got.HasChallenge() || got.OTPExpiresAt != nil {
		t.Fatalf("passcode must be cleared: %+v", got)
	}
	if got.VerificationAttempts != 0 {
		t.Fatalf("attempts must reset, got %d", got.VerificationAttempts)
	}
	if got.SessionVersion != 1 || got.SessionTokenHash != secret.Hash(secret.Parse("session-1")) {
		t.Fatalf("session not installed: %+v", got)
	}
	if got.SessionExpiresAt == nil || !got.SessionExpiresAt.Equal(now.Add(24*time.Hour)) {
		t.Fatalf("unexpected session expiry: %v", got.SessionExpiresAt)
	}

	// Replay of the consumed passcode.
	if _, err := s.ConsumeChallenge(ctx, l.ID, l.OTPHash, sessionUpdate(got, "session-2", now)); !errors.Is(err, access.ErrStaleState) {
		t.Fatalf("expected ErrStaleState on replay, got %v", err)
	}

	// Expired passcode.
	l2 := withChallenge(t, s, got, "222222", base.Add(2*time.Minute))
	if _, err := s.ConsumeChallenge(ctx, l2.ID, l2.OTPHash, sessionUpdate(l2, "session-3", base.Add(30*time.Minute))); !errors.Is(err, access.ErrStaleState) {
		t.Fatalf("expected ErrStaleState on expired passcode, got %v", err)
	}

	// Session version moved underneath the caller.
	stale := l2
	stale.SessionVersion = 0
	if _, err := s.ConsumeChallenge(ctx, l2.ID, l2.OTPHash, sessionUpdate(stale, "session-4", base.Add(3*time.Minute))); !errors.Is(err, access.ErrStaleState) {
		t.Fatalf("expected ErrStaleState on version race, got %v", err)
	}
	after, err := s.FindLink(ctx, l2.ID)
	if err != nil {
		t.Fatalf("FindLink: %v", err)
	}
	if after.OTPHash != l2.OTPHash || after.SessionVersion != 1 {
		t.Fatalf("failed consume must not change state: %+v", after)
	}
}

func testRotateSession(t *testing.T, s access.Store) {
	ctx := context.Background()
	l := mustCreate(t, s, newLink("shade-1", "designer-1", base))
	now := base.Add(time.Minute)
	first, err := s.RotateSession(ctx, l.ID, sessionUpdate(l, "s1", now))
	if err != nil {
		t.Fatalf("RotateSession: %v", err)
	}
	if first.SessionVersion != 1 {
		t.Fatalf("expected version 1, got %d", first.SessionVersion)
	}
	if _, err := s.RotateSession(ctx, l.ID, sessionUpdate(l, "s1b", now)); !errors.Is(err, access.ErrStaleState) {
		t.Fatalf("expected ErrStaleState for lost race, got %v", err)
	}
	second, err := s.RotateSession(ctx, l.ID, sessionUpdate(first, "s2", now.Add(time.Hour)))
	if err != nil {
		t.Fatalf("RotateSession: %v", err)
	}
	if second.SessionVersion != 2 || second.SessionTokenHash != secret.Hash(secret.Parse("s2")) {
		t.Fatalf("unexpected session: %+v", second)
	}
}

func testRevokeSession(t *testing.T, s access.Store) {
	ctx := context.Background()
	l := mustCreate(t, s, newLink("shade-1", "designer-1", base))
	withSession, err := s.RotateSession(ctx, l.ID, sessionUpdate(l, "s1", base))
	if err != nil {
		t.Fatalf("RotateSession: %v", err)
	}
	got, err := s.RevokeSession(ctx, l.ID, "staff-1", base.Add(time.Minute))
	if err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	if got.SessionVersion != withSession.SessionVersion+1 || got.HasSession() || got.SessionExpiresAt != nil {
		t.Fatalf("session not revoked: %+v", got)
	}
	if got.Revoked() {
		t.Fatal("revoking a session must not revoke the link")
	}
	if _, err := s.RevokeSession(ctx, ids.New(), "staff-1", base); !errors.Is(err, access.ErrLinkNotFound) {
		t.Fatalf("expected ErrLinkNotFound, got %v", err)
	}
}

func testRevokeLink(t *testing.T, s access.Store) {
	ctx := context.Background()
	l := mustCreate(t, s, newLink("shade-1", "designer-1", base))
	l = withChallenge(t, s, l, "111111", base)
	l, err := s.RotateSession(ctx, l.ID, sessionUpdate(l, "s1", base))
	if err != nil {
		t.Fatalf("RotateSession: %v", err)
	}

	at := base.Add(time.Hour)
	got, changed, err := s.RevokeLink(ctx, l.ID, "staff-9", access.ReasonCompromise, at)
	if err != nil {
		t.Fatalf("RevokeLink: %v", err)
	}
	if !changed || !got.Revoked() || !got.RevokedAt.Equal(at) {
		t.Fatalf("link not revoked: %+v", got)
	}
	if got.RevokeReason != access.ReasonCompromise || got.UpdatedBy != "staff-9" {
		t.Fatalf("unexpected revoke metadata: %+v", got)
	}
	if got.SessionVersion != l.SessionVersion+1 || got.HasSession() || got.HasChallenge() {
		t.Fatalf("revocation must end sessions and challenges: %+v", got)
	}

	again, changed, err := s.RevokeLink(ctx, l.ID, "staff-1", access.ReasonRevoked, at.Add(time.Hour))
	if err != nil {
		t.Fatalf("RevokeLink again: %v", err)
	}
	if changed || again.SessionVersion != got.SessionVersion || !again.RevokedAt.Equal(at) {
		t.Fatalf("second revoke must be a no-op: %+v", again)
	}
	if _, _, err := s.RevokeLink(ctx, ids.New(), "staff-1", access.ReasonRevoked, at); !errors.Is(err, access.ErrLinkNotFound) {
		t.Fatalf("expected ErrLinkNotFound, got %v", err)
	}

	if _, err := s.IssueChallenge(ctx, l.ID, access.Challenge{
		OTPHash:        secret.Hash(secret.Parse("999999")),
		ExpiresAt:      at.Add(time.Hour),
		IssuedAt:       at.Add(time.Hour),
		NotIssuedAfter: at.Add(time.Hour),
	}); !errors.Is(err, access.ErrStaleState) {
		t.Fatalf("revoked link must not accept challenges, got %v", err)
	}
	if _, err := s.RotateSession(ctx, l.ID, sessionUpdate(got, "s2", at)); !errors.Is(err, access.ErrStaleState) {
		t.Fatalf("revoked link must not accept sessions, got %v", err)
	}
}

func testRevokeResource(t *testing.T, s access.Store) {
	ctx := context.Background()
	a := mustCreate(t, s, newLink("shade-1", "designer-1", base))
	b := mustCreate(t, s, newLink("shade-1", "designer-2", base.Add(time.Second)))
	other := mustCreate(t, s, newLink("shade-2", "designer-1", base.Add(2*time.Second)))
	if _, _, err := s.RevokeLink(ctx, a.ID, "staff-1", access.ReasonRevoked, base.Add(time.Minute)); err != nil {
		t.Fatalf("RevokeLink: %v", err)
	}

	revoked, err := s.RevokeResource(ctx, "shade-1", "staff-2", access.ReasonResourceClosed, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("RevokeResource: %v", err)
	}
	if len(revoked) != 1 || revoked[0].ID != b.ID {
		t.Fatalf("expected only the live link to be revoked, got %+v", revoked)
	}
	if revoked[0].RevokeReason != access.ReasonResourceClosed {
		t.Fatalf("unexpected reason %q", revoked[0].RevokeReason)
	}
	untouched, err := s.FindLink(ctx, other.ID)
	if err != nil {
		t.Fatalf("FindLink: %v", err)
	}
	if untouched.Revoked() {
		t.Fatal("links of other resources must stay live")
	}
	first, err := s.FindLink(ctx, a.ID)
	if err != nil {
		t.Fatalf("FindLink: %v", err)
	}
	if first.RevokeReason != access.ReasonRevoked {
		t.Fatalf("already revoked link must keep its reason, got %q", first.RevokeReason)
	}
}
