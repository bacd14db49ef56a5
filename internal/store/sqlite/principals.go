package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"accessgate.dev/internal/auth"
	"accessgate.dev/internal/ids"
)

var _ auth.PrincipalStore = (*Store)(nil)

type principalRow struct {
	ID        string `db:"id"`
	Email     string `db:"email"`
	Name      string `db:"name"`
	Role      string `db:"role"`
	Active    bool   `db:"is_active"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r principalRow) toModel() auth.Principal {
	return auth.Principal{
		ID:        r.ID,
		Email:     r.Email,
		Name:      r.Name,
		Role:      auth.Role(r.Role),
		Active:    r.Active,
		CreatedAt: fromMillis(r.CreatedAt),
		UpdatedAt: fromMillis(r.UpdatedAt),
	}
}

func (s *Store) getPrincipal(ctx context.Context, query string, args ...any) (auth.Principal, error) {
	var row principalRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return auth.Principal{}, auth.ErrNotFound
		case isUniqueViolation(err):
			return auth.Principal{}, auth.ErrConflict
		case strings.Contains(err.Error(), "CHECK constraint failed"):
			return auth.Principal{}, auth.ErrInvalidInput
		}
		return auth.Principal{}, err
	}
	return row.toModel(), nil
}

func (s *Store) CreatePrincipal(ctx context.Context, p auth.Principal) (auth.Principal, error) {
	if p.ID == "" {
		p.ID = ids.New()
	}
	now := toMillis(time.Now())
	return s.getPrincipal(ctx, `INSERT INTO staff_principals
		(id, email, name, role, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING *`,
		p.ID, strings.ToLower(strings.TrimSpace(p.Email)), p.Name, string(p.Role), p.Active, now, now)
}

func (s *Store) FindPrincipal(ctx context.Context, id string) (auth.Principal, error) {
	return s.getPrincipal(ctx, `SELECT * FROM staff_principals WHERE id = ?`, id)
}

func (s *Store) FindPrincipalByEmail(ctx context.Context, email string) (auth.Principal, error) {
	return s.getPrincipal(ctx, `SELECT * FROM staff_principals WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) ListPrincipals(ctx context.Context) ([]auth.Principal, error) {
	var rows []principalRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM staff_principals ORDER BY email`); err != nil {
		return nil, err
	}
	out := make([]auth.Principal, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *Store) UpdatePrincipalRole(ctx context.Context, id string, role auth.Role) (auth.Principal, error) {
	return s.getPrincipal(ctx, `UPDATE staff_principals SET role = ?, updated_at = ? WHERE id = ? RETURNING *`,
		string(role), toMillis(time.Now()), id)
}

func (s *Store) SetPrincipalActive(ctx context.Context, id string, active bool) (auth.Principal, error) {
	return s.getPrincipal(ctx, `UPDATE staff_principals SET is_active = ?, updated_at = ? WHERE id = ? RETURNING *`,
		active, toMillis(time.Now()), id)
}
