package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"accessgate.dev/internal/audit"
	"accessgate.dev/internal/auth"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit trail",
	}
	cmd.AddCommand(newAuditListCmd())
	return cmd
}

func newAuditListCmd() *cobra.Command {
	var (
		as         string
		resource   string
		actor      string
		subject    string
		limit      int
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List audit events for one resource, actor or subject, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			set := 0
			for _, v := range []string{resource, actor, subject} {
				if strings.TrimSpace(v) != "" {
					set++
				}
			}
			if set != 1 {
				return errors.New("exactly one of --resource, --actor or --subject is required")
			}

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
			target := resource + actor + subject
			if err := s.svc.Authz.Require(ctx, p, auth.CapReadAudit, target); err != nil {
				return fmt.Errorf("list audit: %w", err)
			}

			var events []audit.Event
			switch {
			case resource != "":
				events, err = s.svc.Audit.QueryByResource(ctx, resource, limit)
			case actor != "":
				events, err = s.svc.Audit.QueryByActor(ctx, actor, limit)
			default:
				events, err = s.svc.Audit.QueryBySubject(ctx, subject, limit)
			}
			if err != nil {
				return fmt.Errorf("list audit: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, events)
			}
			if len(events) == 0 {
				fmt.Fprintln(out, "No audit events found.")
				return nil
			}
			fmt.Fprintf(out, "%-20s %-20s %-28s %-28s %s\n", "TIME", "ACTION", "SUBJECT", "ACTOR", "DETAILS")
			for _, ev := range events {
				fmt.Fprintf(out, "%-20s %-20s %-28s %-28s %s\n",
					ev.OccurredAt.Format(time.DateTime), ev.Action, ev.Subject, ev.Actor, formatDetails(ev.Details))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "Acting staff principal id (required)")
	cmd.Flags().StringVar(&resource, "resource", "", "Filter by resource id")
	cmd.Flags().StringVar(&actor, "actor", "", "Filter by actor")
	cmd.Flags().StringVar(&subject, "subject", "", "Filter by subject")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of events")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}

func formatDetails(d map[string]string) string {
	if len(d) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+d[k])
	}
	return strings.Join(parts, " ")
}
