package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"accessgate.dev/internal/access"
	"accessgate.dev/internal/secret"
)

var _ access.Store = (*Store)(nil)

// linkRow maps 1:1 to the access_links columns.
type linkRow struct {
	ID                   string         `db:"id"`
	ResourceID           string         `db:"resource_id"`
	StakeholderID        string         `db:"stakeholder_id"`
	ContactEmail         string         `db:"contact_email"`
	ContactName          string         `db:"contact_name"`
	TokenHash            string         `db:"token_hash"`
	OTPHash              sql.NullString `db:"otp_hash"`
	OTPExpiresAt         *int64         `db:"otp_expires_at"`
	OTPIssuedAt          *int64         `db:"otp_issued_at"`
	SessionTokenHash     sql.NullString `db:"session_token_hash"`
	SessionExpiresAt     *int64         `db:"session_expires_at"`
	SessionVersion       int64          `db:"session_version"`
	VerificationAttempts int            `db:"verification_attempts"`
	Metadata             string         `db:"metadata"`
	RevokedAt            *int64         `db:"revoked_at"`
	RevokeReason         string         `db:"revoke_reason"`
	CreatedBy            string         `db:"created_by"`
	UpdatedBy            string         `db:"updated_by"`
	CreatedAt            int64          `db:"created_at"`
	UpdatedAt            int64          `db:"updated_at"`
}

func linkRowFromModel(l access.Link) (linkRow, error) {
	meta := "{}"
	if len(l.Metadata) > 0 {
		b, err := json.Marshal(l.Metadata)
		if err != nil {
			return linkRow{}, fmt.Errorf("marshal metadata: %w", err)
		}
		meta = string(b)
	}
	return linkRow{
		ID:                   l.ID,
		ResourceID:           l.ResourceID,
		StakeholderID:        l.StakeholderID,
		ContactEmail:         l.ContactEmail,
		ContactName:          l.ContactName,
		TokenHash:            string(l.TokenHash),
		OTPHash:              nullString(string(l.OTPHash)),
		OTPExpiresAt:         optMillis(l.OTPExpiresAt),
		OTPIssuedAt:          optMillis(l.OTPIssuedAt),
		SessionTokenHash:     nullString(string(l.SessionTokenHash)),
		SessionExpiresAt:     optMillis(l.SessionExpiresAt),
		SessionVersion:       l.SessionVersion,
		VerificationAttempts: l.VerificationAttempts,
		Metadata:             meta,
		RevokedAt:            optMillis(l.RevokedAt),
		RevokeReason:         l.RevokeReason,
		CreatedBy:            l.CreatedBy,
		UpdatedBy:            l.UpdatedBy,
		CreatedAt:            toMillis(l.CreatedAt),
		UpdatedAt:            toMillis(l.UpdatedAt),
	}, nil
}

func (r linkRow) toModel() (access.Link, error) {
	l := access.Link{
		ID:                   r.ID,
		ResourceID:           r.ResourceID,
		StakeholderID:        r.StakeholderID,
		ContactEmail:         r.ContactEmail,
		ContactName:          r.ContactName,
		TokenHash:            secret.Digest(r.TokenHash),
		OTPHash:              secret.Digest(r.OTPHash.String),
		OTPExpiresAt:         optTime(r.OTPExpiresAt),
		OTPIssuedAt:          optTime(r.OTPIssuedAt),
		SessionTokenHash:     secret.Digest(r.SessionTokenHash.String),
		SessionExpiresAt:     optTime(r.SessionExpiresAt),
		SessionVersion:       r.SessionVersion,
		VerificationAttempts: r.VerificationAttempts,
		RevokedAt:            optTime(r.RevokedAt),
		RevokeReason:         r.RevokeReason,
		CreatedBy:            r.CreatedBy,
		UpdatedBy:            r.UpdatedBy,
		CreatedAt:            fromMillis(r.CreatedAt),
		UpdatedAt:            fromMillis(r.UpdatedAt),
	}
	if r.Metadata != "" && r.Metadata != "{}" {
		if err := json.Unmarshal([]byte(r.Metadata), &l.Metadata); err != nil {
			return access.Link{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return l, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// getLink runs a single-row statement and maps "no row" to missing.
func (s *Store) getLink(ctx context.Context, missing error, query string, args ...any) (access.Link, error) {
	var row linkRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return access.Link{}, missing
		}
		return access.Link{}, err
	}
	return row.toModel()
}

func (s *Store) selectLinks(ctx context.Context, query string, args ...any) ([]access.Link, error) {
	var rows []linkRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]access.Link, 0, len(rows))
	for _, r := range rows {
		l, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *Store) CreateLink(ctx context.Context, l access.Link) (access.Link, error) {
	row, err := linkRowFromModel(l)
	if err != nil {
		return access.Link{}, err
	}
	const q = `INSERT INTO access_links
		(id, resource_id, stakeholder_id, contact_email, contact_name, token_hash,
		 metadata, created_by, updated_by, created_at, updated_at)
		VALUES
		(:id, :resource_id, :stakeholder_id, :contact_email, :contact_name, :token_hash,
		 :metadata, :created_by, :updated_by, :created_at, :updated_at)`
	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		if isUniqueViolation(err) {
			return access.Link{}, access.ErrDuplicateLink
		}
		return access.Link{}, fmt.Errorf("insert access link: %w", err)
	}
	return s.FindLink(ctx, l.ID)
}

func (s *Store) FindLink(ctx context.Context, id string) (access.Link, error) {
	return s.getLink(ctx, access.ErrLinkNotFound, `SELECT * FROM access_links WHERE id = ?`, id)
}

func (s *Store) FindLinkByTokenHash(ctx context.Context, digest secret.Digest) (access.Link, error) {
	return s.getLink(ctx, access.ErrLinkNotFound, `SELECT * FROM access_links WHERE token_hash = ?`, string(digest))
}

func (s *Store) FindLiveLink(ctx context.Context, resourceID, stakeholderID string) (access.Link, error) {
	return s.getLink(ctx, access.ErrLinkNotFound,
		`SELECT * FROM access_links WHERE resource_id = ? AND stakeholder_id = ? AND revoked_at IS NULL`,
		resourceID, stakeholderID)
}

func (s *Store) ListLinksByResource(ctx context.Context, resourceID string) ([]access.Link, error) {
	return s.selectLinks(ctx,
		`SELECT * FROM access_links WHERE resource_id = ? ORDER BY created_at DESC, id DESC`, resourceID)
}

func (s *Store) RotateLinkToken(ctx context.Context, id string, digest secret.Digest, actor string, now time.Time) (access.Link, error) {
	return s.getLink(ctx, access.ErrStaleState, `UPDATE access_links
		SET token_hash = ?, updated_by = ?, updated_at = ?
		WHERE id = ? AND revoked_at IS NULL
		RETURNING *`, string(digest), actor, toMillis(now), id)
}

func (s *Store) IssueChallenge(ctx context.Context, id string, c access.Challenge) (access.Link, error) {
	issued := toMillis(c.IssuedAt)
	return s.getLink(ctx, access.ErrStaleState, `UPDATE access_links
		SET otp_hash = ?, otp_expires_at = ?, otp_issued_at = ?,
			verification_attempts = 0, updated_by = ?, updated_at = ?
		WHERE id = ? AND revoked_at IS NULL
			AND (otp_issued_at IS NULL OR otp_issued_at <= ?)
		RETURNING *`,
		string(c.OTPHash), toMillis(c.ExpiresAt), issued, c.Actor, issued, id, toMillis(c.NotIssuedAfter))
}

func (s *Store) RecordFailedAttempt(ctx context.Context, id string, otpHash secret.Digest, maxAttempts int, now time.Time) (access.Link, error) {
	return s.getLink(ctx, access.ErrStaleState, `UPDATE access_links
		SET verification_attempts = verification_attempts + 1,
			otp_hash = CASE WHEN verification_attempts + 1 >= ? THEN NULL ELSE otp_hash END,
			otp_expires_at = CASE WHEN verification_attempts + 1 >= ? THEN NULL ELSE otp_expires_at END,
			updated_at = ?
		WHERE id = ? AND otp_hash = ? AND revoked_at IS NULL
		RETURNING *`, maxAttempts, maxAttempts, toMillis(now), id, string(otpHash))
}

func (s *Store) ConsumeChallenge(ctx context.Context, id string, otpHash secret.Digest, su access.SessionUpdate) (access.Link, error) {
	now := toMillis(su.Now)
	return s.getLink(ctx, access.ErrStaleState, `UPDATE access_links
		SET otp_hash = NULL, otp_expires_at = NULL, verification_attempts = 0,
			session_token_hash = ?, session_expires_at = ?,
			session_version = session_version + 1,
			updated_by = ?, updated_at = ?
		WHERE id = ? AND otp_hash = ? AND revoked_at IS NULL
			AND otp_expires_at > ? AND session_version = ?
		RETURNING *`,
		string(su.TokenHash), toMillis(su.ExpiresAt), su.Actor, now,
		id, string(otpHash), now, su.ExpectedVersion)
}

func (s *Store) RotateSession(ctx context.Context, id string, su access.SessionUpdate) (access.Link, error) {
	return s.getLink(ctx, access.ErrStaleState, `UPDATE access_links
		SET session_token_hash = ?, session_expires_at = ?,
			session_version = session_version + 1,
			updated_by = ?, updated_at = ?
		WHERE id = ? AND revoked_at IS NULL AND session_version = ?
		RETURNING *`,
		string(su.TokenHash), toMillis(su.ExpiresAt), su.Actor, toMillis(su.Now), id, su.ExpectedVersion)
}

func (s *Store) RevokeSession(ctx context.Context, id, actor string, now time.Time) (access.Link, error) {
	return s.getLink(ctx, access.ErrLinkNotFound, `UPDATE access_links
		SET session_version = session_version + 1,
			session_token_hash = NULL, session_expires_at = NULL,
			updated_by = ?, updated_at = ?
		WHERE id = ?
		RETURNING *`, actor, toMillis(now), id)
}

const revokeSet = `
		SET revoked_at = ?, revoke_reason = ?,
			session_version = session_version + 1,
			session_token_hash = NULL, session_expires_at = NULL,
			otp_hash = NULL, otp_expires_at = NULL,
			updated_by = ?, updated_at = ?`

func (s *Store) RevokeLink(ctx context.Context, id, actor, reason string, now time.Time) (access.Link, bool, error) {
	at := toMillis(now)
	l, err := s.getLink(ctx, access.ErrStaleState, `UPDATE access_links`+revokeSet+`
		WHERE id = ? AND revoked_at IS NULL
		RETURNING *`, at, reason, actor, at, id)
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
	at := toMillis(now)
	links, err := s.selectLinks(ctx, `UPDATE access_links`+revokeSet+`
		WHERE resource_id = ? AND revoked_at IS NULL
		RETURNING *`, at, reason, actor, at, resourceID)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(links)
	return links, nil
}

func sortNewestFirst(links []access.Link) {
	sort.Slice(links, func(i, j int) bool {
		if links[i].CreatedAt.Equal(links[j].CreatedAt) {
			return links[i].ID > links[j].ID
		}
		return links[i].CreatedAt.After(links[j].CreatedAt)
	})
}
