package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Staff bearer token utilities",
	}
	cmd.AddCommand(newTokenMintCmd())
	return cmd
}

func newTokenMintCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "mint <principal-id>",
		Short: "Sign a staff bearer token for an active principal",
		Long: `mint signs a staff assertion with ACCESSGATE_STAFF_TOKEN_SECRET, the
way the SSO bridge does. Use it for break-glass access and local testing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			if s.svc.Identity == nil {
				return errors.New("ACCESSGATE_STAFF_TOKEN_SECRET is not set")
			}
			p, err := s.actor(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			token, exp, err := s.svc.Identity.Issue(p.ID, p.Email, ttl)
			if err != nil {
				return fmt.Errorf("mint token: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
