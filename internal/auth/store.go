package auth

import "context"

// PrincipalStore persists staff principals.
type PrincipalStore interface {
	CreatePrincipal(ctx context.Context, p Principal) (Principal, error)
	FindPrincipal(ctx context.Context, id string) (Principal, error)
	FindPrincipalByEmail(ctx context.Context, email string) (Principal, error)
	ListPrincipals(ctx context.Context) ([]Principal, error)
	UpdatePrincipalRole(ctx context.Context, id string, role Role) (Principal, error)
	SetPrincipalActive(ctx context.Context, id string, active bool) (Principal, error)
}
