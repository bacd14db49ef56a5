package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"accessgate.dev/internal/access"
	"accessgate.dev/internal/secret"
)

// Store persists access links, staff principals and audit events in PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ access.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle (tests pass a sqlmock connection).
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const linkColumns = `id, resource_id, stakeholder_id, contact_email, contact_name,
	token_hash, otp_hash, otp_expires_at, otp_issued_at,
	session_token_hash, session_expires_at, session_version, verification_attempts,
	metadata, revoked_at, revoke_reason, created_by, updated_by, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanLink(row scanner) (access.Link, error) {
	var (
		l                                           access.Link
		tokenHash                                   string
		otpHash, sessionHash                        sql.NullString
		otpExpires, otpIssued, sessExpires, revoked sql.NullTime
		rawMeta                                     []byte
	)
	err := row.Scan(&l.ID, &l.ResourceID, &l.StakeholderID, &l.ContactEmail, &l.ContactName,
		&tokenHash, &otpHash, &otpExpires, &otpIssued,
		&sessionHash, &sessExpires, &l.SessionVersion, &l.VerificationAttempts,
		&rawMeta, &revoked, &l.RevokeReason, &l.CreatedBy, &l.UpdatedBy, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return access.Link{}, err
	}
	l.TokenHash = secret.Digest(tokenHash)
	l.OTPHash = secret.Digest(otpHash.String)
	l.SessionTokenHash = secret.Digest(sessionHash.String)
	l.OTPExpiresAt = timeOrNil(otpExpires)
	l.OTPIssuedAt = timeOrNil(otpIssued)
	l.SessionExpiresAt = timeOrNil(sessExpires)
	l.RevokedAt = timeOrNil(revoked)
	if len(rawMeta) > 0 {
		if err := json.Unmarshal(rawMeta, &l.Metadata); err != nil {
			return access.Link{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return l, nil
}

// queryLink runs a single-row statement and maps "no row" to missing.
func (s *Store) queryLink(ctx context.Context, missing error, query string, args ...any) (access.Link, error) {
	l, err := scanLink(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return access.Link{}, missing
	}
	if err != nil {
		return access.Link{}, err
	}
	return l, nil
}

func (s *Store) queryLinks(ctx context.Context, query string, args ...any) ([]access.Link, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []access.Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateLink(ctx context.Context, l access.Link) (access.Link, error) {
	metaJSON := []byte("{}")
	if len(l.Metadata) > 0 {
		b, err := json.Marshal(l.Metadata)
		if err != nil {
			return access.Link{}, fmt.Errorf("marshal metadata: %w", err)
		}
		metaJSON = b
	}
	created, err := s.queryLink(ctx, access.ErrLinkNotFound, `
		insert into access_links (id, resource_id, stakeholder_id, contact_email, contact_name,
			token_hash, metadata, created_by, updated_by, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		returning `+linkColumns,
		l.ID, l.ResourceID, l.StakeholderID, l.ContactEmail, l.ContactName,
		string(l.TokenHash), metaJSON, l.CreatedBy, l.UpdatedBy, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return access.Link{}, access.ErrDuplicateLink
		}
		return access.Link{}, err
	}
	return created, nil
}

func (s *Store) FindLink(ctx context.Context, id string) (access.Link, error) {
	return s.queryLink(ctx, access.ErrLinkNotFound, `select `+linkColumns+` from access_links where id = $1`, id)
}

func (s *Store) FindLinkByTokenHash(ctx context.Context, digest secret.Digest) (access.Link, error) {
	return s.queryLink(ctx, access.ErrLinkNotFound, `select `+linkColumns+` from access_links where token_hash = $1`, string(digest))
}

func (s *Store) FindLiveLink(ctx context.Context, resourceID, stakeholderID string) (access.Link, error) {
	return s.queryLink(ctx, access.ErrLinkNotFound, `
		select `+linkColumns+`
		from access_links
		where resource_id = $1 and stakeholder_id = $2 and revoked_at is null
	`, resourceID, stakeholderID)
}

func (s *Store) ListLinksByResource(ctx context.Context, resourceID string) ([]access.Link, error) {
	return s.queryLinks(ctx, `
		select `+linkColumns+`
		from access_links
		where resource_id = $1
		order by created_at desc, id desc
	`, resourceID)
}

func (s *Store) RotateLinkToken(ctx context.Context, id string, digest secret.Digest, actor string, now time.Time) (access.Link, error) {
	return s.queryLink(ctx, access.ErrStaleState, `
		update access_links
		set token_hash = $2, updated_by = $3, updated_at = $4
		where id = $1 and revoked_at is null
		returning `+linkColumns, id, string(digest), actor, now)
}

func (s *Store) IssueChallenge(ctx context.Context, id string, c access.Challenge) (access.Link, error) {
	return s.queryLink(ctx, access.ErrStaleState, `
		update access_links
		set otp_hash = $2, otp_expires_at = $3, otp_issued_at = $4,
			verification_attempts = 0, updated_by = $5, updated_at = $4
		where id = $1 and revoked_at is null
			and (otp_issued_at is null or otp_issued_at <= $6)
		returning `+linkColumns,
		id, string(c.OTPHash), c.ExpiresAt, c.IssuedAt, c.Actor, c.NotIssuedAfter)
}

func (s *Store) RecordFailedAttempt(ctx context.Context, id string, otpHash secret.Digest, maxAttempts int, now time.Time) (access.Link, error) {
	return s.queryLink(ctx, access.ErrStaleState, `
		update access_links
		set verification_attempts = verification_attempts + 1,
			otp_hash = case when verification_attempts + 1 >= $3 then null else otp_hash end,
			otp_expires_at = case when verification_attempts + 1 >= $3 then null else otp_expires_at end,
			updated_at = $4
		where id = $1 and otp_hash = $2 and revoked_at is null
		returning `+linkColumns, id, string(otpHash), maxAttempts, now)
}

func (s *Store) ConsumeChallenge(ctx context.Context, id string, otpHash secret.Digest, su access.SessionUpdate) (access.Link, error) {
	return s.queryLink(ctx, access.ErrStaleState, `
		update access_links
		set otp_hash = null, otp_expires_at = null, verification_attempts = 0,
			session_token_hash = $3, session_expires_at = $4,
			session_version = session_version + 1,
			updated_by = $5, updated_at = $6
		where id = $1 and otp_hash = $2 and revoked_at is null
			and otp_expires_at > $6 and session_version = $7
		returning `+linkColumns,
		id, string(otpHash), string(su.TokenHash), su.ExpiresAt, su.Actor, su.Now, su.ExpectedVersion)
}

func (s *Store) RotateSession(ctx context.Context, id string, su access.SessionUpdate) (access.Link, error) {
	return s.queryLink(ctx, access.ErrStaleState, `
		update access_links
		set session_token_hash = $2, session_expires_at = $3,
			session_version = session_version + 1,
			updated_by = $4, updated_at = $5
		where id = $1 and revoked_at is null and session_version = $6
		returning `+linkColumns,
		id, string(su.TokenHash), su.ExpiresAt, su.Actor, su.Now, su.ExpectedVersion)
}

func (s *Store) RevokeSession(ctx context.Context, id, actor string, now time.Time) (access.Link, error) {
	return s.queryLink(ctx, access.ErrLinkNotFound, `
		update access_links
		set session_version = session_version + 1,
			session_token_hash = null, session_expires_at = null,
			updated_by = $2, updated_at = $3
		where id = $1
		returning `+linkColumns, id, actor, now)
}

const revokeSet = `
		set revoked_at = $3, revoke_reason = $4,
			session_version = session_version + 1,
			session_token_hash = null, session_expires_at = null,
			otp_hash = null, otp_expires_at = null,
			updated_by = $2, updated_at = $3`

func (s *Store) RevokeLink(ctx context.Context, id, actor, reason string, now time.Time) (access.Link, bool, error) {
	l, err := s.queryLink(ctx, access.ErrStaleState, `
		update access_links`+revokeSet+`
		where id = $1 and revoked_at is null
		returning `+linkColumns, id, actor, now, reason)
	if errors.Is(err, access.ErrStaleState) {
		existing, err := s.FindLink(ctx, id)
		return existing, false, err
	}
	if err != nil {
		return access.Link{}, false, err
	}
	return l, true, nil
}

func (s *Store) RevokeResource(ctx context.Context, resourceID, actor, reason string, now time.Time) ([]access.Link, error) {
	return s.queryLinks(ctx, `
		update access_links`+revokeSet+`
		where resource_id = $1 and revoked_at is null
		returning `+linkColumns, resourceID, actor, now, reason)
}

func timeOrNil(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
