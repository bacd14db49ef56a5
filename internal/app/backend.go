// Package app wires configuration to stores and services for the binaries.
package app

import (
	"context"
	"fmt"

	"accessgate.dev/internal/access"
	"accessgate.dev/internal/audit"
	"accessgate.dev/internal/auth"
	"accessgate.dev/internal/config"
	"accessgate.dev/internal/notify"
	"accessgate.dev/internal/store/pg"
	"accessgate.dev/internal/store/sqlite"
)

// Backend bundles the three stores a driver provides.
type Backend struct {
	Driver     string
	Links      access.Store
	Principals auth.PrincipalStore
	Audit      audit.Sink

	ping  func(context.Context) error
	close func() error
}

// Ping reports whether the backing database answers.
func (b *Backend) Ping(ctx context.Context) error {
	if b.ping == nil {
		return nil
	}
	return b.ping(ctx)
}

// Close releases the database handle, if any.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// OpenBackend opens the store selected by cfg.StoreDriver.
func OpenBackend(cfg config.Config) (*Backend, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		s, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return &Backend{Driver: cfg.StoreDriver, Links: s, Principals: s, Audit: s, ping: s.Ping, close: s.Close}, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Backend{Driver: cfg.StoreDriver, Links: s, Principals: s, Audit: s, ping: s.Ping, close: s.Close}, nil
	case config.DriverMemory:
		return &Backend{
			Driver:     cfg.StoreDriver,
			Links:      access.NewInMemory(),
			Principals: auth.NewInMemory(),
			Audit:      audit.NewInMemory(),
		}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Services are the domain services built over a Backend.
type Services struct {
	Links    *access.Service
	Authz    *auth.Authorizer
	Identity *auth.IdentityVerifier
	Audit    *audit.Recorder
}

// NewServices builds the services. n may be nil, in which case credentials
// are handed to the log-only notifier, which redacts them: passcodes are then
// never delivered and POST /v1/portal/verify cannot succeed.
func NewServices(cfg config.Config, b *Backend, n notify.Notifier) (*Services, error) {
	if n == nil {
		n = notify.LogNotifier{}
	}
	rec := audit.NewRecorder(b.Audit)
	links, err := access.NewService(b.Links, rec,
		access.WithConfig(cfg.Access()),
		access.WithNotifier(n),
	)
	if err != nil {
		return nil, err
	}
	authz, err := auth.NewAuthorizer(b.Principals, rec, auth.WithCapability(auth.CapShareLink, cfg.ShareRole()))
	if err != nil {
		return nil, err
	}
	svc := &Services{Links: links, Authz: authz, Audit: rec}
	if cfg.StaffTokenSecret != "" {
		identity, err := auth.NewIdentityVerifier(cfg.StaffTokenSecret, auth.WithIssuer(cfg.StaffTokenIssuer))
		if err != nil {
			return nil, err
		}
		svc.Identity = identity
	}
	return svc, nil
}
