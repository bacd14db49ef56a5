// Package cli implements the portalctl operator commands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"accessgate.dev/internal/app"
	"accessgate.dev/internal/auth"
	"accessgate.dev/internal/config"
)

// Execute creates the root command tree and runs it.
func Execute(version, commit string) error {
	return newRootCmd(version, commit).Execute()
}

func newRootCmd(version, commit string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "portalctl",
		Short: "Operate accessgate links, sessions, principals and audit records",
		Long: `portalctl talks to the accessgate store directly, using the same
ACCESSGATE_* environment as the API server. Every mutating command runs
as a staff principal (--as) and goes through the same role checks and
audit trail as the HTTP API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newLinkCmd())
	cmd.AddCommand(newSessionCmd())
	cmd.AddCommand(newResourceCmd())
	cmd.AddCommand(newPrincipalCmd())
	cmd.AddCommand(newRoleCmd())
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newVersionCmd(version, commit))

	return cmd
}

func newVersionCmd(version, commit string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "portalctl %s (%s)\n", version, commit)
		},
	}
}

// session holds the opened backend and services for one command run.
type session struct {
	cfg     config.Config
	backend *app.Backend
	svc     *app.Services
}

func (s *session) Close() error { return s.backend.Close() }

func openSession() (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.StoreDriver == config.DriverMemory {
		return nil, errors.New("portalctl needs a persistent store: set ACCESSGATE_STORE_DRIVER to sqlite or postgres")
	}
	backend, err := app.OpenBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	svc, err := app.NewServices(cfg, backend, nil)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return &session{cfg: cfg, backend: backend, svc: svc}, nil
}

// actor loads the active principal named by --as.
func (s *session) actor(ctx context.Context, id string) (auth.Principal, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return auth.Principal{}, errors.New("--as is required")
	}
	p, err := s.svc.Authz.Principal(ctx, id)
	if err != nil {
		return auth.Principal{}, fmt.Errorf("load principal %s: %w", id, err)
	}
	if !p.Active {
		return auth.Principal{}, fmt.Errorf("principal %s is inactive", id)
	}
	return p, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
