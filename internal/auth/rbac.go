package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"accessgate.dev/internal/audit"
)

// Authorizer applies the role hierarchy to staff requests and records every denial.
type Authorizer struct {
	store        PrincipalStore
	audit        *audit.Recorder
	capabilities map[Capability]Role
}

// AuthorizerOption configures an Authorizer.
type AuthorizerOption func(*Authorizer) error

// WithCapability overrides the minimum role for a capability.
func WithCapability(c Capability, min Role) AuthorizerOption {
	return func(a *Authorizer) error {
		if !min.Known() {
			return fmt.Errorf("%w: unknown role %q for %s", ErrInvalidInput, min, c)
		}
		a.capabilities[c] = min
		return nil
	}
}

// NewAuthorizer constructs an Authorizer. rec may be nil.
func NewAuthorizer(store PrincipalStore, rec *audit.Recorder, opts ...AuthorizerOption) (*Authorizer, error) {
	if store == nil {
		return nil, errors.New("principal store is required")
	}
	a := &Authorizer{
		store:        store,
		audit:        rec,
		capabilities: make(map[Capability]Role, len(DefaultCapabilities)),
	}
	for c, r := range DefaultCapabilities {
		a.capabilities[c] = r
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// CreatePrincipal registers a staff principal. Used for bootstrap and operator tooling.
func (a *Authorizer) CreatePrincipal(ctx context.Context, email, name string, role Role) (Principal, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return Principal{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	role, ok := ParseRole(string(role))
	if !ok {
		return Principal{}, fmt.Errorf("%w: unsupported role %q", ErrInvalidInput, role)
	}
	return a.store.CreatePrincipal(ctx, Principal{
		Email:  email,
		Name:   strings.TrimSpace(name),
		Role:   role,
		Active: true,
	})
}

// Principal loads a principal by id.
func (a *Authorizer) Principal(ctx context.Context, id string) (Principal, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Principal{}, fmt.Errorf("%w: principal id is required", ErrInvalidInput)
	}
	return a.store.FindPrincipal(ctx, id)
}

// ListPrincipals returns every known principal.
func (a *Authorizer) ListPrincipals(ctx context.Context) ([]Principal, error) {
	return a.store.ListPrincipals(ctx)
}

// ResolveIdentity maps a verified staff assertion to an active principal.
// The subject is tried as a principal id first, then the email claim.
func (a *Authorizer) ResolveIdentity(ctx context.Context, claims *Claims) (Principal, error) {
	if claims == nil {
		return Principal{}, ErrUnauthorized
	}
	p, err := a.store.FindPrincipal(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) && claims.Email != "" {
		p, err = a.store.FindPrincipalByEmail(ctx, claims.Email)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			a.deny(ctx, claims.Subject, claims.Subject, "unknown principal", map[string]string{"email": claims.Email})
			return Principal{}, ErrUnauthorized
		}
		return Principal{}, err
	}
	if !p.Active {
		a.deny(ctx, p.ID, p.ID, "inactive principal", nil)
		return Principal{}, ErrUnauthorized
	}
	return p, nil
}

// Require checks that p may use capability c on subject.
func (a *Authorizer) Require(ctx context.Context, p Principal, c Capability, subject string) error {
	min, ok := a.capabilities[c]
	if !ok {
		a.deny(ctx, p.ID, subject, "unknown capability", map[string]string{"capability": string(c)})
		return ErrForbidden
	}
	if !p.Active {
		a.deny(ctx, p.ID, subject, "inactive principal", map[string]string{"capability": string(c)})
		return ErrForbidden
	}
	if LevelOf(p.Role) < LevelOf(min) {
		a.deny(ctx, p.ID, subject, "insufficient role", map[string]string{
			"capability": string(c),
			"role":       string(p.Role),
			"required":   string(min),
		})
		return ErrForbidden
	}
	return nil
}

// AuthorizeManage loads both principals and applies CanManage.
func (a *Authorizer) AuthorizeManage(ctx context.Context, managerID, targetID string) (Principal, Principal, error) {
	managerID = strings.TrimSpace(managerID)
	targetID = strings.TrimSpace(targetID)
	if managerID == "" || targetID == "" {
		return Principal{}, Principal{}, fmt.Errorf("%w: manager and target ids are required", ErrInvalidInput)
	}
	manager, err := a.store.FindPrincipal(ctx, managerID)
	if err != nil {
		return Principal{}, Principal{}, err
	}
	target, err := a.store.FindPrincipal(ctx, targetID)
	if err != nil {
		return Principal{}, Principal{}, err
	}
	if !manager.Active {
		a.deny(ctx, manager.ID, target.ID, "inactive principal", nil)
		return manager, target, ErrForbidden
	}
	if !CanManage(manager, target) {
		reason := "role hierarchy"
		if manager.ID == target.ID {
			reason = "self management"
		}
		a.deny(ctx, manager.ID, target.ID, reason, map[string]string{
			"manager_role": string(manager.Role),
			"target_role":  string(target.Role),
		})
		return manager, target, ErrForbidden
	}
	return manager, target, nil
}

// ChangeRole assigns role to target on behalf of actor. Besides CanManage,
// a non-owner may only hand out roles strictly below its own.
func (a *Authorizer) ChangeRole(ctx context.Context, actorID, targetID string, role Role) (Principal, error) {
	role, ok := ParseRole(string(role))
	if !ok {
		return Principal{}, fmt.Errorf("%w: unsupported role %q", ErrInvalidInput, role)
	}
	actor, target, err := a.AuthorizeManage(ctx, actorID, targetID)
	if err != nil {
		return Principal{}, err
	}
	if actor.Role != RoleOwner && LevelOf(role) >= LevelOf(actor.Role) {
		a.deny(ctx, actor.ID, target.ID, "role above grantor", map[string]string{
			"manager_role":   string(actor.Role),
			"requested_role": string(role),
		})
		return Principal{}, ErrForbidden
	}
	updated, err := a.store.UpdatePrincipalRole(ctx, target.ID, role)
	if err != nil {
		return Principal{}, err
	}
	a.audit.Record(ctx, audit.Event{
		Subject: target.ID,
		Actor:   actor.ID,
		Action:  audit.ActionRoleChanged,
		Details: map[string]string{
			"from": string(target.Role),
			"to":   string(role),
		},
	})
	return updated, nil
}

// SetActive enables or disables target on behalf of actor.
func (a *Authorizer) SetActive(ctx context.Context, actorID, targetID string, active bool) (Principal, error) {
	actor, target, err := a.AuthorizeManage(ctx, actorID, targetID)
	if err != nil {
		return Principal{}, err
	}
	updated, err := a.store.SetPrincipalActive(ctx, target.ID, active)
	if err != nil {
		return Principal{}, err
	}
	a.audit.Record(ctx, audit.Event{
		Subject: target.ID,
		Actor:   actor.ID,
		Action:  audit.ActionUpdate,
		Details: map[string]string{"is_active": fmt.Sprintf("%t", active)},
	})
	return updated, nil
}

func (a *Authorizer) deny(ctx context.Context, actor, subject, reason string, details map[string]string) {
	d := map[string]string{"reason": reason}
	for k, v := range details {
		d[k] = v
	}
	a.audit.Record(ctx, audit.Event{
		Subject: subject,
		Actor:   actor,
		Action:  audit.ActionAccessDenied,
		Details: d,
	})
}
