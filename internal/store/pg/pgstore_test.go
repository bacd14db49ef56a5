package pg

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"accessgate.dev/internal/access"
	"accessgate.dev/internal/audit"
	"accessgate.dev/internal/auth"
	"accessgate.dev/internal/secret"
)

var linkColumnNames = []string{
	"id", "resource_id", "stakeholder_id", "contact_email", "contact_name",
	"token_hash", "otp_hash", "otp_expires_at", "otp_issued_at",
	"session_token_hash", "session_expires_at", "session_version", "verification_attempts",
	"metadata", "revoked_at", "revoke_reason", "created_by", "updated_by", "created_at", "updated_at",
}

var now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

const linkID = "01HZY3B6M8Q4K8F2T7V9W0XABC"

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func linkRow(values map[string]driver.Value) *sqlmock.Rows {
	row := map[string]driver.Value{
		"id":                    linkID,
		"resource_id":           "shade-1",
		"stakeholder_id":        "designer-1",
		"contact_email":         "designer@example.com",
		"contact_name":          "Dana",
		"token_hash":            "tokenhash",
		"otp_hash":              nil,
		"otp_expires_at":        nil,
		"otp_issued_at":         nil,
		"session_token_hash":    nil,
		"session_expires_at":    nil,
		"session_version":       int64(0),
		"verification_attempts": int64(0),
		"metadata":              []byte(`{"project":"p-1"}`),
		"revoked_at":            nil,
		"revoke_reason":         "",
		"created_by":            "staff-1",
		"updated_by":            "staff-1",
		"created_at":            now,
		"updated_at":            now,
	}
	for k, v := range values {
		row[k] = v
	}
	out := make([]driver.Value, len(linkColumnNames))
	for i, c := range linkColumnNames {
		out[i] = row[c]
	}
	return sqlmock.NewRows(linkColumnNames).AddRow(out...)
}

func TestCreateLink(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("insert into access_links").
		WithArgs(linkID, "shade-1", "designer-1", "designer@example.com", "Dana", "tokenhash",
			sqlmock.AnyArg(), "staff-1", "staff-1", now, now).
		WillReturnRows(linkRow(nil))

	got, err := store.CreateLink(context.Background(), access.Link{
		ID:            linkID,
		ResourceID:    "shade-1",
		StakeholderID: "designer-1",
		ContactEmail:  "designer@example.com",
		ContactName:   "Dana",
		TokenHash:     "tokenhash",
		Metadata:      map[string]string{"project": "p-1"},
		CreatedBy:     "staff-1",
		UpdatedBy:     "staff-1",
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	if got.ID != linkID || got.Metadata["project"] != "p-1" || got.HasChallenge() || got.Revoked() {
		t.Fatalf("unexpected link: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateLinkMapsUniqueViolation(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("insert into access_links").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := store.CreateLink(context.Background(), access.Link{ID: linkID, ResourceID: "shade-1", StakeholderID: "designer-1"})
	if !errors.Is(err, access.ErrDuplicateLink) {
		t.Fatalf("expected ErrDuplicateLink, got %v", err)
	}
}

func TestFindLinkNotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("select .* from access_links where id = \\$1").
		WithArgs(linkID).
		WillReturnRows(sqlmock.NewRows(linkColumnNames))

	if _, err := store.FindLink(context.Background(), linkID); !errors.Is(err, access.ErrLinkNotFound) {
		t.Fatalf("expected ErrLinkNotFound, got %v", err)
	}
}

func TestConsumeChallengeIsConditional(t *testing.T) {
	store, mock := newMock(t)
	expires := now.Add(24 * time.Hour)
	otp := secret.Digest("otphash")
	update := access.SessionUpdate{
		TokenHash:       "sessionhash",
		ExpiresAt:       expires,
		ExpectedVersion: 0,
		Now:             now,
		Actor:           "external:designer@example.com",
	}
	query := regexp.QuoteMeta("where id = $1 and otp_hash = $2 and revoked_at is null")

	mock.ExpectQuery(query).
		WithArgs(linkID, "otphash", "sessionhash", expires, update.Actor, now, int64(0)).
		WillReturnRows(linkRow(map[string]driver.Value{
			"session_token_hash": "sessionhash",
			"session_expires_at": expires,
			"session_version":    int64(1),
		}))
	got, err := store.ConsumeChallenge(context.Background(), linkID, otp, update)
	if err != nil {
		t.Fatalf("ConsumeChallenge: %v", err)
	}
	if got.SessionVersion != 1 || got.SessionTokenHash != "sessionhash" || got.HasChallenge() {
		t.Fatalf("unexpected link: %+v", got)
	}
	if got.SessionExpiresAt == nil || !got.SessionExpiresAt.Equal(expires) {
		t.Fatalf("unexpected session expiry: %v", got.SessionExpiresAt)
	}

	// The replay matches no row.
	mock.ExpectQuery(query).WillReturnRows(sqlmock.NewRows(linkColumnNames))
	if _, err := store.ConsumeChallenge(context.Background(), linkID, otp, update); !errors.Is(err, access.ErrStaleState) {
		t.Fatalf("expected ErrStaleState, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecordFailedAttemptPassesThreshold(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("set verification_attempts = verification_attempts \\+ 1").
		WithArgs(linkID, "otphash", 5, now).
		WillReturnRows(linkRow(map[string]driver.Value{"verification_attempts": int64(5)}))

	got, err := store.RecordFailedAttempt(context.Background(), linkID, "otphash", 5, now)
	if err != nil {
		t.Fatalf("RecordFailedAttempt: %v", err)
	}
	if got.VerificationAttempts != 5 || got.HasChallenge() {
		t.Fatalf("unexpected link: %+v", got)
	}
}

func TestRevokeLinkIsIdempotent(t *testing.T) {
	store, mock := newMock(t)
	revokedAt := now.Add(-time.Hour)
	mock.ExpectQuery("update access_links.*where id = \\$1 and revoked_at is null").
		WithArgs(linkID, "staff-2", now, access.ReasonRevoked).
		WillReturnRows(sqlmock.NewRows(linkColumnNames))
	mock.ExpectQuery("select .* from access_links where id = \\$1").
		WithArgs(linkID).
		WillReturnRows(linkRow(map[string]driver.Value{
			"revoked_at":      revokedAt,
			"revoke_reason":   access.ReasonCompromise,
			"session_version": int64(4),
		}))

	got, changed, err := store.RevokeLink(context.Background(), linkID, "staff-2", access.ReasonRevoked, now)
	if err != nil {
		t.Fatalf("RevokeLink: %v", err)
	}
	if changed {
		t.Fatal("already revoked link must report no change")
	}
	if !got.Revoked() || got.RevokeReason != access.ReasonCompromise || got.SessionVersion != 4 {
		t.Fatalf("unexpected link: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuditAppendAndQuery(t *testing.T) {
	store, mock := newMock(t)
	ev := audit.Event{
		ID:         "01HZY3B6M8Q4K8F2T7V9W0XEVT",
		Subject:    linkID,
		ResourceID: "shade-1",
		Actor:      "staff-1",
		Action:     audit.ActionLinkRevoked,
		OccurredAt: now,
		Source:     audit.Source{IP: "203.0.113.7"},
		Details:    map[string]string{"reason": "revoked"},
	}
	mock.ExpectExec("insert into audit_events").
		WithArgs(ev.ID, linkID, "shade-1", "staff-1", "link_revoked", now, "203.0.113.7", nil, nil, []byte(`{"reason":"revoked"}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := store.Append(context.Background(), ev); err != nil {
		t.Fatalf("Append: %v", err)
	}

	cols := []string{"id", "subject", "resource_id", "actor", "action", "occurred_at", "source_ip", "user_agent", "request_id", "details"}
	mock.ExpectQuery(regexp.QuoteMeta("where resource_id = $1") + ".*" + regexp.QuoteMeta("limit $2")).
		WithArgs("shade-1", 100).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(ev.ID, linkID, "shade-1", "staff-1", "link_revoked", now, "203.0.113.7", "", "", []byte(`{"reason":"revoked"}`)))
	events, err := store.Query(context.Background(), audit.Filter{ResourceID: "shade-1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 || events[0].Action != audit.ActionLinkRevoked || events[0].Details["reason"] != "revoked" {
		t.Fatalf("unexpected events: %+v", events)
	}
	if _, err := store.Query(context.Background(), audit.Filter{}); err == nil {
		t.Fatal("expected error for empty filter")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPrincipalStore(t *testing.T) {
	store, mock := newMock(t)
	cols := []string{"id", "email", "name", "role", "is_active", "created_at", "updated_at"}

	mock.ExpectQuery("insert into staff_principals").
		WithArgs("p1", "boss@example.com", "Boss", "owner", true, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("p1", "boss@example.com", "Boss", "owner", true, now, now))
	p, err := store.CreatePrincipal(context.Background(), auth.Principal{ID: "p1", Email: "Boss@Example.com", Name: "Boss", Role: auth.RoleOwner, Active: true})
	if err != nil {
		t.Fatalf("CreatePrincipal: %v", err)
	}
	if p.Role != auth.RoleOwner || !p.Active {
		t.Fatalf("unexpected principal: %+v", p)
	}

	mock.ExpectQuery("insert into staff_principals").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	if _, err := store.CreatePrincipal(context.Background(), auth.Principal{ID: "p2", Email: "boss@example.com", Role: auth.RoleAdmin}); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	mock.ExpectQuery("select .* from staff_principals where id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(cols))
	if _, err := store.FindPrincipal(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	mock.ExpectQuery("update staff_principals").
		WithArgs("p1", "director").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("p1", "boss@example.com", "Boss", "director", true, now, now))
	updated, err := store.UpdatePrincipalRole(context.Background(), "p1", auth.RoleDirector)
	if err != nil || updated.Role != auth.RoleDirector {
		t.Fatalf("UpdatePrincipalRole: %+v %v", updated, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
