package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"accessgate.dev/internal/auth"
	"accessgate.dev/internal/ids"
)

const (
	pgErrUniqueViolation = "23505"
	pgErrCheckViolation  = "23514"
)

var _ auth.PrincipalStore = (*Store)(nil)

const principalColumns = `id, email, name, role, is_active, created_at, updated_at`

func scanPrincipal(row scanner) (auth.Principal, error) {
	var (
		p    auth.Principal
		role string
	)
	if err := row.Scan(&p.ID, &p.Email, &p.Name, &role, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return auth.Principal{}, err
	}
	p.Role = auth.Role(role)
	return p, nil
}

func (s *Store) queryPrincipal(ctx context.Context, query string, args ...any) (auth.Principal, error) {
	if s.db == nil {
		return auth.Principal{}, errors.New("database connection unavailable")
	}
	p, err := scanPrincipal(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Principal{}, auth.ErrNotFound
	}
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return auth.Principal{}, auth.ErrConflict
			case pgErrCheckViolation:
				return auth.Principal{}, auth.ErrInvalidInput
			}
		}
		return auth.Principal{}, err
	}
	return p, nil
}

func (s *Store) CreatePrincipal(ctx context.Context, p auth.Principal) (auth.Principal, error) {
	if p.ID == "" {
		p.ID = ids.New()
	}
	now := time.Now().UTC()
	return s.queryPrincipal(ctx, `
		insert into staff_principals (id, email, name, role, is_active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $6)
		returning `+principalColumns,
		p.ID, strings.ToLower(strings.TrimSpace(p.Email)), p.Name, string(p.Role), p.Active, now)
}

func (s *Store) FindPrincipal(ctx context.Context, id string) (auth.Principal, error) {
	return s.queryPrincipal(ctx, `select `+principalColumns+` from staff_principals where id = $1`, id)
}

func (s *Store) FindPrincipalByEmail(ctx context.Context, email string) (auth.Principal, error) {
	return s.queryPrincipal(ctx, `select `+principalColumns+` from staff_principals where email = $1`,
		strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) ListPrincipals(ctx context.Context) ([]auth.Principal, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+principalColumns+`
		from staff_principals
		order by email
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdatePrincipalRole(ctx context.Context, id string, role auth.Role) (auth.Principal, error) {
	return s.queryPrincipal(ctx, `
		update staff_principals
		set role = $2, updated_at = now()
		where id = $1
		returning `+principalColumns, id, string(role))
}

func (s *Store) SetPrincipalActive(ctx context.Context, id string, active bool) (auth.Principal, error) {
	return s.queryPrincipal(ctx, `
		update staff_principals
		set is_active = $2, updated_at = now()
		where id = $1
		returning `+principalColumns, id, active)
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
