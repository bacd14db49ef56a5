package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"accessgate.dev/internal/auth"
)

func newRoleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Inspect and change staff roles",
	}
	cmd.AddCommand(newRoleSetCmd())
	cmd.AddCommand(newRoleCheckCmd())
	return cmd
}

func newRoleSetCmd() *cobra.Command {
	var as string
	cmd := &cobra.Command{
		Use:   "set <principal-id> <role>",
		Short: "Assign a role to a principal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			actor, err := s.actor(ctx, as)
			if err != nil {
				return err
			}
			updated, err := s.svc.Authz.ChangeRole(ctx, actor.ID, args[0], auth.Role(args[1]))
			if err != nil {
				return fmt.Errorf("set role: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Principal %s is now %s\n", updated.ID, updated.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "Acting staff principal id (required)")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}

func newRoleCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <manager-id> <target-id>",
		Short: "Report whether one principal may manage another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			manager, err := s.svc.Authz.Principal(ctx, args[0])
			if err != nil {
				return fmt.Errorf("load manager: %w", err)
			}
			target, err := s.svc.Authz.Principal(ctx, args[1])
			if err != nil {
				return fmt.Errorf("load target: %w", err)
			}
			out := cmd.OutOrStdout()
			if manager.Active && auth.CanManage(manager, target) {
				fmt.Fprintf(out, "%s (%s) can manage %s (%s)\n", manager.ID, manager.Role, target.ID, target.Role)
				return nil
			}
			fmt.Fprintf(out, "%s (%s) cannot manage %s (%s)\n", manager.ID, manager.Role, target.ID, target.Role)
			return errors.New("not permitted")
		},
	}
	return cmd
}
