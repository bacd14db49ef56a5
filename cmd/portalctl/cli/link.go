package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"accessgate.dev/internal/access"
	"accessgate.dev/internal/auth"
	"accessgate.dev/internal/secret"
)

func newLinkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Manage stakeholder access links",
	}
	cmd.AddCommand(newLinkCreateCmd())
	cmd.AddCommand(newLinkListCmd())
	cmd.AddCommand(newLinkRevokeCmd())
	return cmd
}

// ---------- link create ----------

func newLinkCreateCmd() *cobra.Command {
	var (
		as    string
		in    access.CreateLinkInput
		reuse bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an access link and print its invitation token once",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			p, err := s.actor(ctx, as)
			if err != nil {
				return err
			}
			if err := s.svc.Authz.Require(ctx, p, auth.CapShareLink, in.ResourceID); err != nil {
				return fmt.Errorf("create link: %w", err)
			}

			var (
				link    access.Link
				token   secret.Secret
				created = true
			)
			if reuse {
				link, token, created, err = s.svc.Links.FetchOrCreate(ctx, in, p.ID)
			} else {
				link, token, err = s.svc.Links.CreateLink(ctx, in, p.ID)
			}
			if err != nil {
				return fmt.Errorf("create link: %w", err)
			}

			out := cmd.OutOrStdout()
			state := "created"
			if !created {
				state = "rotated"
			}
			fmt.Fprintf(out, "Link %s %s for %s on %s\n", link.ID, state, link.StakeholderID, link.ResourceID)
			fmt.Fprintf(out, "Token: %s\n", token.Reveal())
			fmt.Fprintln(out, "Store this token now. It cannot be shown again.")
			return nil
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "Acting staff principal id (required)")
	cmd.Flags().StringVar(&in.ResourceID, "resource", "", "Resource id (required)")
	cmd.Flags().StringVar(&in.StakeholderID, "stakeholder", "", "Stakeholder id (required)")
	cmd.Flags().StringVar(&in.ContactEmail, "email", "", "Stakeholder contact email (required)")
	cmd.Flags().StringVar(&in.ContactName, "name", "", "Stakeholder display name")
	cmd.Flags().StringToStringVar(&in.Metadata, "meta", nil, "Metadata key=value pairs")
	cmd.Flags().BoolVar(&reuse, "reuse", false, "Rotate the token of an existing live link instead of failing")
	_ = cmd.MarkFlagRequired("as")
	_ = cmd.MarkFlagRequired("resource")
	_ = cmd.MarkFlagRequired("stakeholder")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// ---------- link list ----------

func newLinkListCmd() *cobra.Command {
	var (
		resource   string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the links of a resource, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			links, err := s.svc.Links.ListByResource(cmd.Context(), resource)
			if err != nil {
				return fmt.Errorf("list links: %w", err)
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, links)
			}
			if len(links) == 0 {
				fmt.Fprintln(out, "No links for this resource.")
				return nil
			}
			fmt.Fprintf(out, "%-28s %-24s %-10s %-8s %s\n", "ID", "STAKEHOLDER", "STATE", "SESSION", "CREATED")
			for _, l := range links {
				state := "live"
				if l.Revoked() {
					state = "revoked"
				}
				fmt.Fprintf(out, "%-28s %-24s %-10s %-8d %s\n",
					l.ID, l.StakeholderID, state, l.SessionVersion, l.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&resource, "resource", "", "Resource id (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("resource")
	return cmd
}

// ---------- link revoke ----------

func newLinkRevokeCmd() *cobra.Command {
	var as, reason string
	cmd := &cobra.Command{
		Use:   "revoke <link-id>",
		Short: "Revoke a link permanently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			p, err := s.actor(ctx, as)
			if err != nil {
				return err
			}
			if err := s.svc.Authz.Require(ctx, p, auth.CapRevokeLink, args[0]); err != nil {
				return fmt.Errorf("revoke link: %w", err)
			}
			link, err := s.svc.Links.Revoke(ctx, args[0], p.ID, reason)
			if err != nil {
				return fmt.Errorf("revoke link: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Link %s revoked (%s)\n", link.ID, link.RevokeReason)
			return nil
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "Acting staff principal id (required)")
	cmd.Flags().StringVar(&reason, "reason", access.ReasonRevoked, "Revocation reason")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}

// ---------- session revoke ----------

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage portal sessions",
	}
	var as string
	revoke := &cobra.Command{
		Use:   "revoke <link-id>",
		Short: "Invalidate every outstanding session token of a link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			p, err := s.actor(ctx, as)
			if err != nil {
				return err
			}
			if err := s.svc.Authz.Require(ctx, p, auth.CapRevokeSession, args[0]); err != nil {
				return fmt.Errorf("revoke session: %w", err)
			}
			link, err := s.svc.Links.RevokeSession(ctx, args[0], p.ID)
			if err != nil {
				return fmt.Errorf("revoke session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sessions of link %s revoked (version %d)\n", link.ID, link.SessionVersion)
			return nil
		},
	}
	revoke.Flags().StringVar(&as, "as", "", "Acting staff principal id (required)")
	_ = revoke.MarkFlagRequired("as")
	cmd.AddCommand(revoke)
	return cmd
}

// ---------- resource close ----------

func newResourceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resource",
		Short: "Resource lifecycle operations",
	}
	var as string
	closeCmd := &cobra.Command{
		Use:   "close <resource-id>",
		Short: "Revoke every live link of a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			p, err := s.actor(ctx, as)
			if err != nil {
				return err
			}
			if err := s.svc.Authz.Require(ctx, p, auth.CapCloseResource, args[0]); err != nil {
				return fmt.Errorf("close resource: %w", err)
			}
			links, err := s.svc.Links.RevokeResource(ctx, args[0], p.ID)
			if err != nil {
				return fmt.Errorf("close resource: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resource %s closed, %d link(s) revoked\n", args[0], len(links))
			return nil
		},
	}
	closeCmd.Flags().StringVar(&as, "as", "", "Acting staff principal id (required)")
	_ = closeCmd.MarkFlagRequired("as")
	cmd.AddCommand(closeCmd)
	return cmd
}
