package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"accessgate.dev/internal/auth"
)

func newPrincipalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "principal",
		Aliases: []string{"principals"},
		Short:   "Manage staff principals",
	}
	cmd.AddCommand(newPrincipalCreateCmd())
	cmd.AddCommand(newPrincipalListCmd())
	return cmd
}

func newPrincipalCreateCmd() *cobra.Command {
	var email, name, role string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a staff principal (bootstrap)",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			p, err := s.svc.Authz.CreatePrincipal(cmd.Context(), email, name, auth.Role(role))
			if err != nil {
				return fmt.Errorf("create principal: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Principal %s created (%s, %s)\n", p.ID, p.Email, p.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Principal email (required)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleTechnician), "Role: technician, manager, director, admin or owner")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newPrincipalListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List staff principals",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			principals, err := s.svc.Authz.ListPrincipals(cmd.Context())
			if err != nil {
				return fmt.Errorf("list principals: %w", err)
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, principals)
			}
			if len(principals) == 0 {
				fmt.Fprintln(out, "No principals found.")
				return nil
			}
			fmt.Fprintf(out, "%-28s %-32s %-12s %s\n", "ID", "EMAIL", "ROLE", "ACTIVE")
			for _, p := range principals {
				fmt.Fprintf(out, "%-28s %-32s %-12s %t\n", p.ID, p.Email, p.Role, p.Active)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
