package access_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"accessgate.dev/internal/access"
	"accessgate.dev/internal/audit"
	"accessgate.dev/internal/notify"
	"accessgate.dev/internal/secret"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc   *access.Service
	store *access.InMemory
	sink  *audit.InMemory
	mail  *notify.Recorder
	clock *fakeClock
}

func newFixture(t *testing.T, opts ...access.Option) *fixture {
	t.Helper()
	f := &fixture{
		store: access.NewInMemory(),
		sink:  audit.NewInMemory(),
		mail:  &notify.Recorder{},
		clock: &fakeClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)},
	}
	base := []access.Option{access.WithClock(f.clock.Now), access.WithNotifier(f.mail)}
	svc, err := access.NewService(f.store, audit.NewRecorder(f.sink, audit.WithClock(f.clock.Now)), append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.svc = svc
	return f
}

func (f *fixture) share(t *testing.T, resource, stakeholder string) (access.Link, secret.Secret) {
	t.Helper()
	link, token, err := f.svc.CreateLink(context.Background(), access.CreateLinkInput{
		ResourceID:    resource,
		StakeholderID: stakeholder,
		ContactEmail:  stakeholder + "@Example.com",
		ContactName:   "Dana Designer",
	}, "staff-1")
	if err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	return link, token
}

func (f *fixture) requestCode(t *testing.T, token secret.Secret) secret.Secret {
	t.Helper()
	_, code, err := f.svc.RequestOTP(context.Background(), token)
	if err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	return code
}

func (f *fixture) signIn(t *testing.T, token secret.Secret) access.SessionGrant {
	t.Helper()
	code := f.requestCode(t, token)
	grant, err := f.svc.VerifyOTP(context.Background(), token, code)
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	return grant
}

func (f *fixture) denials(reason string) int {
	n := 0
	for _, ev := range f.sink.Events() {
		if ev.Action == audit.ActionAccessDenied && ev.Details["reason"] == reason {
			n++
		}
	}
	return n
}

func (f *fixture) count(action audit.Action) int {
	n := 0
	for _, ev := range f.sink.Events() {
		if ev.Action == action {
			n++
		}
	}
	return n
}

func wrongCode(code secret.Secret) secret.Secret {
	if code.Reveal() == "000000" {
		return secret.Parse("111111")
	}
	return secret.Parse("000000")
}

func TestCreateLinkStoresOnlyDigest(t *testing.T) {
	f := newFixture(t)
	link, token := f.share(t, "shade-7", "designer-1")

	if token.Len() < 40 {
		t.Fatalf("expected a long invitation token, got %d chars", token.Len())
	}
	if link.TokenHash != secret.Hash(token) {
		t.Fatal("stored digest must match the returned token")
	}
	if link.ContactEmail != "designer-1@example.com" {
		t.Fatalf("email not normalized: %s", link.ContactEmail)
	}
	if len(f.mail.Invitations) != 1 || !secret.Compare(f.mail.Invitations[0].Secret, link.TokenHash) {
		t.Fatalf("invitation not handed to the notifier: %+v", f.mail.Invitations)
	}
	resolved, err := f.svc.ResolveByToken(context.Background(), token)
	if err != nil || resolved.ID != link.ID {
		t.Fatalf("ResolveByToken: %+v %v", resolved, err)
	}
	if f.count(audit.ActionCreate) != 1 {
		t.Fatal("expected create audit event")
	}
}

func TestCreateLinkValidationAndDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bad := []access.CreateLinkInput{
		{StakeholderID: "s", ContactEmail: "s@example.com"},
		{ResourceID: "r", ContactEmail: "s@example.com"},
		{ResourceID: "r", StakeholderID: "s", ContactEmail: "not-an-email"},
		{ResourceID: "r", StakeholderID: "s", ContactEmail: "s@"},
	}
	for i, in := range bad {
		if _, _, err := f.svc.CreateLink(ctx, in, "staff-1"); !errors.Is(err, access.ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
	good := access.CreateLinkInput{ResourceID: "r", StakeholderID: "s", ContactEmail: "s@example.com"}
	if _, _, err := f.svc.CreateLink(ctx, good, " "); !errors.Is(err, access.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing actor, got %v", err)
	}
	if _, _, err := f.svc.CreateLink(ctx, good, "staff-1"); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	_, _, err := f.svc.CreateLink(ctx, good, "staff-1")
	if !errors.Is(err, access.ErrDuplicateLink) || !errors.Is(err, access.ErrConflict) {
		t.Fatalf("expected ErrDuplicateLink, got %v", err)
	}
}

func TestFetchOrCreateRotatesInvitation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := access.CreateLinkInput{ResourceID: "shade-1", StakeholderID: "s1", ContactEmail: "s1@example.com"}

	first, firstToken, created, err := f.svc.FetchOrCreate(ctx, in, "staff-1")
	if err != nil || !created {
		t.Fatalf("FetchOrCreate: created=%v err=%v", created, err)
	}
	second, secondToken, created, err := f.svc.FetchOrCreate(ctx, in, "staff-2")
	if err != nil || created {
		t.Fatalf("FetchOrCreate again: created=%v err=%v", created, err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the same link, got %s and %s", first.ID, second.ID)
	}
	if _, err := f.svc.ResolveByToken(ctx, firstToken); !errors.Is(err, access.ErrLinkNotFound) {
		t.Fatalf("old invitation must stop working, got %v", err)
	}
	if _, err := f.svc.ResolveByToken(ctx, secondToken); err != nil {
		t.Fatalf("new invitation: %v", err)
	}
}

func TestResolveByTokenRejectsMalformedAndRevoked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.ResolveByToken(ctx, secret.Secret{}); !errors.Is(err, access.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := f.svc.ResolveByToken(ctx, secret.Parse("unknown-token")); !errors.Is(err, access.ErrLinkNotFound) {
		t.Fatalf("expected ErrLinkNotFound, got %v", err)
	}
	link, token := f.share(t, "shade-1", "s1")
	if _, err := f.svc.Revoke(ctx, link.ID, "staff-1", ""); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := f.svc.ResolveByToken(ctx, token); !errors.Is(err, access.ErrLinkNotFound) {
		t.Fatalf("expected ErrLinkNotFound for revoked link, got %v", err)
	}
}

func TestVerifyClearsPasscode(t *testing.T) {
	f := newFixture(t)
	link, token := f.share(t, "shade-1", "s1")
	grant := f.signIn(t, token)

	stored, err := f.store.FindLink(context.Background(), link.ID)
	if err != nil {
		t.Fatalf("FindLink: %v", err)
	}
	if stored.HasChallenge() || stored.OTPExpiresAt != nil {
		t.Fatalf("passcode must be cleared after verification: %+v", stored)
	}
	if stored.VerificationAttempts != 0 {
		t.Fatalf("attempts must reset, got %d", stored.VerificationAttempts)
	}
	if grant.Version != 1 || stored.SessionVersion != 1 {
		t.Fatalf("expected session version 1, got grant=%d stored=%d", grant.Version, stored.SessionVersion)
	}
	if f.count(audit.ActionOTPVerified) != 1 || f.count(audit.ActionSessionIssued) != 1 {
		t.Fatal("expected otp_verified and session_issued events")
	}
}

func TestReplayedPasscodeFails(t *testing.T) {
	f := newFixture(t)
	_, token := f.share(t, "shade-1", "s1")
	code := f.requestCode(t, token)
	if _, err := f.svc.VerifyOTP(context.Background(), token, code); err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	_, err := f.svc.VerifyOTP(context.Background(), token, code)
	if !errors.Is(err, access.ErrOTPExpired) || !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("expected replay to fail with ErrOTPExpired, got %v", err)
	}
}

func TestSecondRequestSupersedesFirst(t *testing.T) {
	f := newFixture(t)
	_, token := f.share(t, "shade-1", "s1")
	first := f.requestCode(t, token)
	f.clock.Advance(time.Minute)
	second := f.requestCode(t, token)

	if first.Reveal() != second.Reveal() {
		if _, err := f.svc.VerifyOTP(context.Background(), token, first); !errors.Is(err, access.ErrOTPMismatch) {
			t.Fatalf("expected superseded code to fail with ErrOTPMismatch, got %v", err)
		}
	}
	if _, err := f.svc.VerifyOTP(context.Background(), token, second); err != nil {
		t.Fatalf("latest code must verify: %v", err)
	}
}

func TestRequestOTPMinimumInterval(t *testing.T) {
	f := newFixture(t)
	_, token := f.share(t, "shade-1", "s1")
	f.requestCode(t, token)

	f.clock.Advance(10 * time.Second)
	_, _, err := f.svc.RequestOTP(context.Background(), token)
	if !errors.Is(err, access.ErrOTPThrottled) || !errors.Is(err, access.ErrRateLimited) {
		t.Fatalf("expected ErrOTPThrottled, got %v", err)
	}
	wait, ok := access.RetryAfter(err)
	if !ok || wait != 20*time.Second {
		t.Fatalf("expected 20s retry hint, got %v %v", wait, ok)
	}
	if f.denials("otp requested too recently") != 1 {
		t.Fatal("throttled request must be audited")
	}

	f.clock.Advance(20 * time.Second)
	f.requestCode(t, token)
	if len(f.mail.Codes) != 2 {
		t.Fatalf("expected 2 delivered codes, got %d", len(f.mail.Codes))
	}
}

func TestLockoutAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	link, token := f.share(t, "shade-1", "s1")
	code := f.requestCode(t, token)
	wrong := wrongCode(code)

	for i := 1; i <= 4; i++ {
		if _, err := f.svc.VerifyOTP(ctx, token, wrong); !errors.Is(err, access.ErrOTPMismatch) {
			t.Fatalf("attempt %d: expected ErrOTPMismatch, got %v", i, err)
		}
	}
	_, err := f.svc.VerifyOTP(ctx, token, wrong)
	if !errors.Is(err, access.ErrOTPLockedOut) {
		t.Fatalf("attempt 5: expected ErrOTPLockedOut, got %v", err)
	}
	// The correct code no longer helps.
	_, err = f.svc.VerifyOTP(ctx, token, code)
	if !errors.Is(err, access.ErrOTPLockedOut) || !errors.Is(err, access.ErrRateLimited) {
		t.Fatalf("attempt 6: expected ErrOTPLockedOut, got %v", err)
	}
	if _, ok := access.RetryAfter(err); !ok {
		t.Fatal("lockout must carry a retry hint")
	}

	stored, err := f.store.FindLink(ctx, link.ID)
	if err != nil {
		t.Fatalf("FindLink: %v", err)
	}
	if stored.HasChallenge() {
		t.Fatal("lockout must clear the challenge")
	}
	if got := access.ChallengeStateOf(stored, f.svc.Config(), f.clock.Now()); got != access.ChallengeLockedOut {
		t.Fatalf("expected derived lockout state, got %s", got)
	}

	// A fresh request after the interval starts over.
	f.clock.Advance(time.Minute)
	fresh := f.requestCode(t, token)
	if _, err := f.svc.VerifyOTP(ctx, token, fresh); err != nil {
		t.Fatalf("fresh code after lockout: %v", err)
	}
}

func TestExpiredPasscode(t *testing.T) {
	f := newFixture(t)
	_, token := f.share(t, "shade-1", "s1")
	code := f.requestCode(t, token)
	f.clock.Advance(10*time.Minute + time.Second)
	if _, err := f.svc.VerifyOTP(context.Background(), token, code); !errors.Is(err, access.ErrOTPExpired) {
		t.Fatalf("expected ErrOTPExpired, got %v", err)
	}
	if f.denials("otp expired") != 1 {
		t.Fatal("expiry must be audited")
	}
}

func TestVerifyWithoutChallenge(t *testing.T) {
	f := newFixture(t)
	_, token := f.share(t, "shade-1", "s1")
	if _, err := f.svc.VerifyOTP(context.Background(), token, secret.Parse("123456")); !errors.Is(err, access.ErrOTPExpired) {
		t.Fatalf("expected ErrOTPExpired, got %v", err)
	}
	if _, err := f.svc.VerifyOTP(context.Background(), token, secret.Secret{}); !errors.Is(err, access.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestConcurrentVerifyGrantsOneSession(t *testing.T) {
	f := newFixture(t)
	link, token := f.share(t, "shade-1", "s1")
	code := f.requestCode(t, token)

	const callers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.VerifyOTP(context.Background(), token, code); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if granted != 1 {
		t.Fatalf("expected exactly one session, got %d", granted)
	}
	stored, err := f.store.FindLink(context.Background(), link.ID)
	if err != nil {
		t.Fatalf("FindLink: %v", err)
	}
	if stored.SessionVersion != 1 {
		t.Fatalf("expected one version bump, got %d", stored.SessionVersion)
	}
}

func TestSessionRejectedAfterVersionBump(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	link, token := f.share(t, "shade-1", "s1")
	grant := f.signIn(t, token)

	if _, err := f.svc.ValidateSession(ctx, grant.Token); err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if _, err := f.svc.RevokeSession(ctx, link.ID, "staff-1"); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	if _, err := f.svc.ValidateSession(ctx, grant.Token); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized after session revocation, got %v", err)
	}
	if f.count(audit.ActionSessionRevoked) != 1 {
		t.Fatal("expected session_revoked event")
	}

	// The link survives, so the stakeholder can sign in again.
	f.clock.Advance(time.Minute)
	again := f.signIn(t, token)
	if again.Version != 3 {
		t.Fatalf("expected version 3 after revoke and re-issue, got %d", again.Version)
	}
	if _, err := f.svc.ValidateSession(ctx, again.Token); err != nil {
		t.Fatalf("new session: %v", err)
	}
}

func TestValidateSessionFailuresAreUniform(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	link, token := f.share(t, "shade-1", "s1")
	grant := f.signIn(t, token)

	prefix, _, _ := secret.Cut(grant.Token, '.')
	forged := secret.Prefixed(prefix+".", secret.Parse("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"))
	cases := map[string]secret.Secret{
		"malformed session token": secret.Parse("garbage"),
		"session token mismatch":  forged,
		"unknown link":            secret.Parse("01ARZ3NDEKTSV4RRFFQ69G5FAV.1.abc"),
	}
	for reason, tok := range cases {
		_, err := f.svc.ValidateSession(ctx, tok)
		if err != access.ErrUnauthorized {
			t.Fatalf("%s: expected bare ErrUnauthorized, got %v", reason, err)
		}
		if f.denials(reason) != 1 {
			t.Fatalf("%s: denial not audited", reason)
		}
	}

	f.clock.Advance(24*time.Hour + time.Second)
	if _, err := f.svc.ValidateSession(ctx, grant.Token); err != access.ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized for expired session, got %v", err)
	}
	if f.denials("session expired") != 1 {
		t.Fatal("expiry not audited")
	}
	events, err := audit.NewRecorder(f.sink).QueryBySubject(ctx, link.ID, 0)
	if err != nil {
		t.Fatalf("QueryBySubject: %v", err)
	}
	if len(events) == 0 || events[0].Action != audit.ActionAccessDenied {
		t.Fatalf("expected newest event to be the denial, got %+v", events)
	}
}

func TestRefreshSessionRotatesToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, token := f.share(t, "shade-1", "s1")
	grant := f.signIn(t, token)

	f.clock.Advance(time.Hour)
	refreshed, err := f.svc.RefreshSession(ctx, grant.Token)
	if err != nil {
		t.Fatalf("RefreshSession: %v", err)
	}
	if refreshed.Version != grant.Version+1 {
		t.Fatalf("expected version %d, got %d", grant.Version+1, refreshed.Version)
	}
	if !refreshed.ExpiresAt.After(grant.ExpiresAt) {
		t.Fatal("refresh must extend the expiry")
	}
	if _, err := f.svc.ValidateSession(ctx, grant.Token); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("old token must be rejected, got %v", err)
	}
	if _, err := f.svc.RefreshSession(ctx, grant.Token); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("old token cannot refresh, got %v", err)
	}
	if _, err := f.svc.ValidateSession(ctx, refreshed.Token); err != nil {
		t.Fatalf("refreshed token: %v", err)
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	link, _ := f.share(t, "shade-1", "s1")
	first, err := f.svc.Revoke(ctx, link.ID, "staff-1", access.ReasonCompromise)
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	second, err := f.svc.Revoke(ctx, link.ID, "staff-2", "")
	if err != nil {
		t.Fatalf("Revoke again: %v", err)
	}
	if second.SessionVersion != first.SessionVersion || second.RevokeReason != access.ReasonCompromise {
		t.Fatalf("second revoke must not change the link: %+v", second)
	}
	if f.count(audit.ActionLinkRevoked) != 1 {
		t.Fatalf("expected one link_revoked event, got %d", f.count(audit.ActionLinkRevoked))
	}
	if _, err := f.svc.Revoke(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV", "staff-1", ""); !errors.Is(err, access.ErrLinkNotFound) {
		t.Fatalf("expected ErrLinkNotFound, got %v", err)
	}
}

func TestRevokeResourceEndsEverySession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, tokenA := f.share(t, "shade-1", "s1")
	_, tokenB := f.share(t, "shade-1", "s2")
	_, tokenC := f.share(t, "shade-2", "s1")
	a := f.signIn(t, tokenA)
	b := f.signIn(t, tokenB)
	c := f.signIn(t, tokenC)

	revoked, err := f.svc.RevokeResource(ctx, "shade-1", "staff-1")
	if err != nil {
		t.Fatalf("RevokeResource: %v", err)
	}
	if len(revoked) != 2 {
		t.Fatalf("expected 2 revoked links, got %d", len(revoked))
	}
	for _, g := range []access.SessionGrant{a, b} {
		if _, err := f.svc.ValidateSession(ctx, g.Token); !errors.Is(err, access.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	}
	if _, err := f.svc.ValidateSession(ctx, c.Token); err != nil {
		t.Fatalf("other resource must stay live: %v", err)
	}
	links, err := f.svc.ListByResource(ctx, "shade-1")
	if err != nil || len(links) != 2 {
		t.Fatalf("ListByResource: %d %v", len(links), err)
	}
}

func TestNotifierFailureSurfacesAsUnavailable(t *testing.T) {
	f := newFixture(t)
	_, token := f.share(t, "shade-1", "s1")
	f.mail.Err = errors.New("smtp relay down")
	if _, _, err := f.svc.RequestOTP(context.Background(), token); !errors.Is(err, access.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	cfg := access.DefaultConfig()
	cfg.OTPLength = 2
	if _, err := access.NewService(access.NewInMemory(), nil, access.WithConfig(cfg)); !errors.Is(err, access.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	cfg = access.DefaultConfig()
	cfg.MaxAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero attempts")
	}
	if err := access.DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
}

// Staff shares R with S, S signs in, staff revokes, and nothing S holds works afterwards.
func TestEndToEndRevocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	link, token := f.share(t, "resource-R", "stakeholder-S")

	code := f.requestCode(t, token)
	if code.Len() != 6 {
		t.Fatalf("expected a 6 digit code, got %d", code.Len())
	}
	t1, err := f.svc.VerifyOTP(ctx, token, code)
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if t1.Version != 1 {
		t.Fatalf("expected version 1, got %d", t1.Version)
	}
	authorized, err := f.svc.ValidateSession(ctx, t1.Token)
	if err != nil || authorized.ID != link.ID {
		t.Fatalf("ValidateSession: %+v %v", authorized, err)
	}

	if _, err := f.svc.Revoke(ctx, link.ID, "staff-1", ""); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := f.svc.ValidateSession(ctx, t1.Token); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("T1 must be rejected after revocation, got %v", err)
	}

	f.clock.Advance(time.Minute)
	if _, _, err := f.svc.RequestOTP(ctx, token); !errors.Is(err, access.ErrLinkNotFound) {
		t.Fatalf("revoked link must not issue passcodes, got %v", err)
	}
	if _, err := f.svc.VerifyOTP(ctx, token, code); !errors.Is(err, access.ErrLinkNotFound) {
		t.Fatalf("revoked link must not verify passcodes, got %v", err)
	}
	if _, err := f.svc.ValidateSession(ctx, t1.Token); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("T1 must stay rejected, got %v", err)
	}

	history, err := audit.NewRecorder(f.sink).QueryByResource(ctx, "resource-R", 0)
	if err != nil {
		t.Fatalf("QueryByResource: %v", err)
	}
	seen := map[audit.Action]bool{}
	for _, ev := range history {
		seen[ev.Action] = true
	}
	for _, want := range []audit.Action{
		audit.ActionCreate, audit.ActionOTPRequested, audit.ActionOTPVerified,
		audit.ActionSessionIssued, audit.ActionLinkRevoked, audit.ActionAccessDenied,
	} {
		if !seen[want] {
			t.Fatalf("missing %s in audit trail", want)
		}
	}
}
