package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// CreateSchema creates every table the miner needs.
// Safe to call multiple times - uses IF NOT EXISTS.
func CreateSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Statements are written in the subset of SQL shared by PostgreSQL and SQLite.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS campaign_snapshots (
		session_id       TEXT NOT NULL,
		campaign_id      TEXT NOT NULL,
		position         INTEGER NOT NULL,
		game_title       TEXT NOT NULL DEFAULT '',
		total_rewards    INTEGER NOT NULL DEFAULT 0,
		claimed_rewards  INTEGER NOT NULL DEFAULT 0,
		progress_seconds BIGINT NOT NULL DEFAULT 0,
		total_seconds    BIGINT NOT NULL DEFAULT 0,
		status           TEXT NOT NULL,
		last_seen_at     TIMESTAMP NOT NULL,
		misses           INTEGER NOT NULL DEFAULT 0,
		claim_attempts   INTEGER NOT NULL DEFAULT 0,
		exhausted        BOOLEAN NOT NULL DEFAULT FALSE,
		claimed_at       TIMESTAMP,
		PRIMARY KEY (session_id, campaign_id)
	)`,
	`CREATE TABLE IF NOT EXISTS claim_events (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL,
		campaign_id TEXT NOT NULL,
		attempt     INTEGER NOT NULL,
		success     BOOLEAN NOT NULL,
		reason      TEXT NOT NULL DEFAULT '',
		exhausted   BOOLEAN NOT NULL DEFAULT FALSE,
		occurred_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_claim_events_session ON claim_events(session_id, occurred_at)`,
}
