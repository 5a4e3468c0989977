// Package migrations applies the database schema. Statements are idempotent
// so Apply can run on every startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS pledge_goals (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		tier TEXT NOT NULL,
		deadline TIMESTAMPTZ,
		last_completion_attempt_at TIMESTAMPTZ,
		tasks_total INTEGER NOT NULL DEFAULT 0,
		tasks_completed INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pledge_goals_owner ON pledge_goals (owner_id)`,
	`CREATE INDEX IF NOT EXISTS idx_pledge_goals_status ON pledge_goals (status)`,
	`CREATE TABLE IF NOT EXISTS pledge_wallets (
		id TEXT PRIMARY KEY,
		goal_id TEXT NOT NULL REFERENCES pledge_goals (id) ON DELETE CASCADE,
		network TEXT NOT NULL,
		address TEXT NOT NULL,
		key_ref TEXT NOT NULL,
		last_balance DOUBLE PRECISION NOT NULL DEFAULT 0,
		last_balance_update TIMESTAMPTZ,
		refund_address TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (goal_id, network)
	)`,
	`CREATE TABLE IF NOT EXISTS pledge_refund_attempts (
		id TEXT PRIMARY KEY,
		goal_id TEXT NOT NULL,
		wallet_id TEXT NOT NULL,
		network TEXT NOT NULL,
		refund_address TEXT NOT NULL,
		amount DOUBLE PRECISION NOT NULL,
		success BOOLEAN NOT NULL,
		tx_hash TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pledge_refund_attempts_goal ON pledge_refund_attempts (goal_id)`,
}

// Apply runs every schema statement in order.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
