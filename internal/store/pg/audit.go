package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"accessgate.dev/internal/audit"
)

var _ audit.Sink = (*Store)(nil)

// Append inserts one audit row. The table has no update or delete grants.
func (s *Store) Append(ctx context.Context, ev audit.Event) error {
	details := []byte("{}")
	if len(ev.Details) > 0 {
		b, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
		details = b
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_events (id, subject, resource_id, actor, action, occurred_at,
			source_ip, user_agent, request_id, details)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, ev.ID, ev.Subject, nullIfEmpty(ev.ResourceID), ev.Actor, string(ev.Action), ev.OccurredAt,
		nullIfEmpty(ev.Source.IP), nullIfEmpty(ev.Source.UserAgent), nullIfEmpty(ev.Source.RequestID), details)
	return err
}

// Query returns matching events newest first.
func (s *Store) Query(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("subject", f.Subject)
	add("resource_id", f.ResourceID)
	add("actor", f.Actor)
	if len(where) == 0 {
		return nil, fmt.Errorf("audit query needs a filter")
	}
	args = append(args, audit.NormalizeLimit(f.Limit))

	rows, err := s.db.QueryContext(ctx, `
		select id, subject, coalesce(resource_id, ''), actor, action, occurred_at,
			coalesce(source_ip, ''), coalesce(user_agent, ''), coalesce(request_id, ''), details
		from audit_events
		where `+strings.Join(where, " and ")+`
		order by occurred_at desc, id desc
		limit $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []audit.Event
	for rows.Next() {
		var (
			ev      audit.Event
			action  string
			details []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Subject, &ev.ResourceID, &ev.Actor, &action, &ev.OccurredAt,
			&ev.Source.IP, &ev.Source.UserAgent, &ev.Source.RequestID, &details); err != nil {
			return nil, err
		}
		ev.Action = audit.Action(action)
		if err := decodeDetails(details, &ev); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func decodeDetails(raw []byte, ev *audit.Event) error {
	if len(raw) == 0 || string(raw) == "{}" {
		return nil
	}
	if err := json.Unmarshal(raw, &ev.Details); err != nil {
		return fmt.Errorf("decode details: %w", err)
	}
	return nil
}
