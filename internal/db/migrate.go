// Package db applies the schema at startup. Statements are idempotent
// (IF NOT EXISTS) so every process can run them unconditionally before
// serving.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id uuid PRIMARY KEY,
		poster_id uuid NOT NULL,
		hunter_id uuid,
		title text NOT NULL DEFAULT '',
		amount_cents bigint NOT NULL,
		honor boolean NOT NULL DEFAULT false,
		status text NOT NULL,
		hold_ref text,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now(),
		CONSTRAINT tasks_amount_honor CHECK (
			(honor AND amount_cents = 0) OR (NOT honor AND amount_cents > 0)
		)
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id uuid PRIMARY KEY,
		task_id uuid,
		account_id uuid NOT NULL,
		kind text NOT NULL,
		amount_cents bigint NOT NULL,
		external_ref text NOT NULL DEFAULT '',
		metadata jsonb,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	// The double-settlement guard: at most one escrow_hold, one release, and
	// one refund entry per task, enforced by the store itself.
	`CREATE UNIQUE INDEX IF NOT EXISTS ledger_entries_task_kind
		ON ledger_entries (task_id, kind)
		WHERE kind IN ('escrow_hold', 'release', 'refund')`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_task ON ledger_entries (task_id)`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_account ON ledger_entries (account_id)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id uuid PRIMARY KEY,
		kind text NOT NULL,
		payload jsonb NOT NULL,
		status text NOT NULL DEFAULT 'pending',
		attempts integer NOT NULL DEFAULT 0,
		next_retry_at timestamptz NOT NULL DEFAULT now(),
		last_error text,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS outbox_events_due
		ON outbox_events (status, next_retry_at)`,
}

// Migrate creates the settlement tables and indexes.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}
