package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied idempotently at startup. The service owns its two tables;
// anything heavier than this gets a real migration tool.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS contacts (
		id              BIGSERIAL PRIMARY KEY,
		email           TEXT,
		phone_number    TEXT,
		link_precedence TEXT NOT NULL CHECK (link_precedence IN ('primary', 'secondary')),
		linked_id       BIGINT REFERENCES contacts(id),
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL,
		deleted_at      TIMESTAMPTZ,
		CHECK ((link_precedence = 'primary') = (linked_id IS NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS contacts_email_idx ON contacts (email) WHERE deleted_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS contacts_phone_idx ON contacts (phone_number) WHERE deleted_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS contacts_linked_idx ON contacts (linked_id) WHERE deleted_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS audit_outbox (
		id           UUID PRIMARY KEY,
		aggregate_id TEXT NOT NULL,
		event_type   TEXT NOT NULL,
		payload      JSONB NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL,
		published_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS audit_outbox_unpublished_idx ON audit_outbox (created_at) WHERE published_at IS NULL`,
}

// RunMigrations brings the database schema up to date.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return nil
}
