package sqlite

import (
	"fmt"
	"strings"
)

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS access_links (
			id TEXT PRIMARY KEY,
			resource_id TEXT NOT NULL,
			stakeholder_id TEXT NOT NULL,
			contact_email TEXT NOT NULL,
			contact_name TEXT NOT NULL DEFAULT '',
			token_hash TEXT NOT NULL UNIQUE,
			otp_hash TEXT,
			otp_expires_at INTEGER,
			otp_issued_at INTEGER,
			session_token_hash TEXT,
			session_expires_at INTEGER,
			session_version INTEGER NOT NULL DEFAULT 0 CHECK (session_version >= 0),
			verification_attempts INTEGER NOT NULL DEFAULT 0 CHECK (verification_attempts >= 0),
			metadata TEXT NOT NULL DEFAULT '{}',
			revoked_at INTEGER,
			revoke_reason TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL,
			updated_by TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		// One live link per resource and stakeholder.
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_access_links_live
			ON access_links(resource_id, stakeholder_id) WHERE revoked_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_access_links_resource ON access_links(resource_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS staff_principals (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL CHECK (role IN ('technician', 'manager', 'director', 'admin', 'owner')),
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			subject TEXT NOT NULL,
			resource_id TEXT NOT NULL DEFAULT '',
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			occurred_at INTEGER NOT NULL,
			source_ip TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT '',
			details TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_subject ON audit_events(subject, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_resource ON audit_events(resource_id, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_events(actor, occurred_at)`,

		// Audit rows are append-only.
		`CREATE TRIGGER IF NOT EXISTS audit_events_no_update BEFORE UPDATE ON audit_events
			BEGIN SELECT RAISE(ABORT, 'audit events are append-only'); END`,
		`CREATE TRIGGER IF NOT EXISTS audit_events_no_delete BEFORE DELETE ON audit_events
			BEGIN SELECT RAISE(ABORT, 'audit events are append-only'); END`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
