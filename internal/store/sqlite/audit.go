package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"accessgate.dev/internal/audit"
)

var _ audit.Sink = (*Store)(nil)

type auditRow struct {
	ID         string `db:"id"`
	Subject    string `db:"subject"`
	ResourceID string `db:"resource_id"`
	Actor      string `db:"actor"`
	Action     string `db:"action"`
	OccurredAt int64  `db:"occurred_at"`
	SourceIP   string `db:"source_ip"`
	UserAgent  string `db:"user_agent"`
	RequestID  string `db:"request_id"`
	Details    string `db:"details"`
}

func (s *Store) Append(ctx context.Context, ev audit.Event) error {
	details := "{}"
	if len(ev.Details) > 0 {
		b, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
		details = string(b)
	}
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO audit_events
		(id, subject, resource_id, actor, action, occurred_at, source_ip, user_agent, request_id, details)
		VALUES
		(:id, :subject, :resource_id, :actor, :action, :occurred_at, :source_ip, :user_agent, :request_id, :details)`,
		auditRow{
			ID:         ev.ID,
			Subject:    ev.Subject,
			ResourceID: ev.ResourceID,
			Actor:      ev.Actor,
			Action:     string(ev.Action),
			OccurredAt: toMillis(ev.OccurredAt),
			SourceIP:   ev.Source.IP,
			UserAgent:  ev.Source.UserAgent,
			RequestID:  ev.Source.RequestID,
			Details:    details,
		})
	return err
}

func (s *Store) Query(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		where = append(where, column+" = ?")
		args = append(args, value)
	}
	add("subject", f.Subject)
	add("resource_id", f.ResourceID)
	add("actor", f.Actor)
	if len(where) == 0 {
		return nil, errors.New("audit query needs a filter")
	}
	args = append(args, audit.NormalizeLimit(f.Limit))

	var rows []auditRow
	q := `SELECT * FROM audit_events WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY occurred_at DESC, id DESC LIMIT ?`
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]audit.Event, 0, len(rows))
	for _, r := range rows {
		ev := audit.Event{
			ID:         r.ID,
			Subject:    r.Subject,
			ResourceID: r.ResourceID,
			Actor:      r.Actor,
			Action:     audit.Action(r.Action),
			OccurredAt: fromMillis(r.OccurredAt),
			Source:     audit.Source{IP: r.SourceIP, UserAgent: r.UserAgent, RequestID: r.RequestID},
		}
		if r.Details != "" && r.Details != "{}" {
			if err := json.Unmarshal([]byte(r.Details), &ev.Details); err != nil {
				return nil, fmt.Errorf("decode details: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, nil
}
