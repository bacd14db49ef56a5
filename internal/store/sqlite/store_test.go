package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"accessgate.dev/internal/access"
	"accessgate.dev/internal/access/accesstest"
	"accessgate.dev/internal/audit"
	"accessgate.dev/internal/auth"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	accesstest.Run(t, func(t *testing.T) access.Store { return newTestStore(t) })
}

func TestOpenFileCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "accessgate.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	// Reopening runs the migrations again without error.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	s2.Close()
}

func TestPrincipals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreatePrincipal(ctx, auth.Principal{Email: " Dir@Example.com ", Name: "Dir", Role: auth.RoleDirector, Active: true})
	if err != nil {
		t.Fatalf("CreatePrincipal: %v", err)
	}
	if p.ID == "" || p.Email != "dir@example.com" || !p.Active {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if _, err := s.CreatePrincipal(ctx, auth.Principal{Email: "dir@example.com", Role: auth.RoleManager}); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := s.CreatePrincipal(ctx, auth.Principal{Email: "x@example.com", Role: auth.Role("boss")}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	byEmail, err := s.FindPrincipalByEmail(ctx, "DIR@example.com")
	if err != nil || byEmail.ID != p.ID {
		t.Fatalf("FindPrincipalByEmail: %+v %v", byEmail, err)
	}
	if _, err := s.FindPrincipal(ctx, "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	updated, err := s.UpdatePrincipalRole(ctx, p.ID, auth.RoleAdmin)
	if err != nil || updated.Role != auth.RoleAdmin {
		t.Fatalf("UpdatePrincipalRole: %+v %v", updated, err)
	}
	disabled, err := s.SetPrincipalActive(ctx, p.ID, false)
	if err != nil || disabled.Active {
		t.Fatalf("SetPrincipalActive: %+v %v", disabled, err)
	}
	if _, err := s.SetPrincipalActive(ctx, "missing", true); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	all, err := s.ListPrincipals(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("ListPrincipals: %+v %v", all, err)
	}
}

func TestAuditAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	events := []audit.Event{
		{ID: "e1", Subject: "link-1", ResourceID: "shade-1", Actor: "p1", Action: audit.ActionCreate, OccurredAt: base},
		{ID: "e2", Subject: "link-1", ResourceID: "shade-1", Actor: "external:a@example.com", Action: audit.ActionOTPRequested,
			OccurredAt: base.Add(time.Minute), Source: audit.Source{IP: "203.0.113.5", RequestID: "req-1"}},
		{ID: "e3", Subject: "link-2", ResourceID: "shade-2", Actor: "p1", Action: audit.ActionLinkRevoked,
			OccurredAt: base.Add(2 * time.Minute), Details: map[string]string{"reason": "revoked"}},
	}
	for _, ev := range events {
		if err := s.Append(ctx, ev); err != nil {
			t.Fatalf("Append(%s): %v", ev.ID, err)
		}
	}

	byActor, err := s.Query(ctx, audit.Filter{Actor: "p1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(byActor) != 2 || byActor[0].ID != "e3" || byActor[1].ID != "e1" {
		t.Fatalf("unexpected actor events: %+v", byActor)
	}
	if byActor[0].Details["reason"] != "revoked" {
		t.Fatalf("details not decoded: %+v", byActor[0].Details)
	}
	if !byActor[1].OccurredAt.Equal(base) {
		t.Fatalf("unexpected timestamp: %v", byActor[1].OccurredAt)
	}

	byResource, err := s.Query(ctx, audit.Filter{ResourceID: "shade-1", Limit: 1})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(byResource) != 1 || byResource[0].Source.IP != "203.0.113.5" {
		t.Fatalf("unexpected resource events: %+v", byResource)
	}

	if _, err := s.Query(ctx, audit.Filter{}); err == nil {
		t.Fatal("expected error for empty filter")
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE audit_events SET actor = 'x' WHERE id = 'e1'`); err == nil {
		t.Fatal("expected update to be rejected")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE id = 'e1'`); err == nil {
		t.Fatal("expected delete to be rejected")
	}
}

func TestRecorderOverSQLite(t *testing.T) {
	s := newTestStore(t)
	rec := audit.NewRecorder(s)
	ctx := context.Background()
	rec.Record(ctx, audit.Event{Subject: "link-9", ResourceID: "shade-9", Actor: "p2", Action: audit.ActionView})

	got, err := rec.QueryBySubject(ctx, "link-9", 10)
	if err != nil {
		t.Fatalf("QueryBySubject: %v", err)
	}
	if len(got) != 1 || got[0].Action != audit.ActionView {
		t.Fatalf("unexpected events: %+v", got)
	}
}
