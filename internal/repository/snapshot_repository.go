package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/kkkkikiki/dropsminer/internal/model"
)

// DBExecutor interface for database operations (can be *sqlx.DB or *sqlx.Tx).
// Queries are written with ? placeholders and rebound for the connected driver.
type DBExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	Rebind(query string) string
}

// snapshotBatchSize keeps a batch below the bind parameter limit of both drivers
const snapshotBatchSize = 500

var snapshotColumns = []string{
	"session_id", "campaign_id", "position", "game_title",
	"total_rewards", "claimed_rewards", "progress_seconds", "total_seconds",
	"status", "last_seen_at", "misses", "claim_attempts", "exhausted", "claimed_at",
}

type snapshotRow struct {
	SessionID string `db:"session_id"`
	Position  int    `db:"position"`
	model.Campaign
}

// SnapshotRepository persists session snapshots
type SnapshotRepository struct{}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository() *SnapshotRepository {
	return &SnapshotRepository{}
}

// ReplaceSnapshot overwrites the stored snapshot of a session. Run it inside a
// transaction so readers never observe a partially written snapshot.
func (r *SnapshotRepository) ReplaceSnapshot(ctx context.Context, db DBExecutor, sessionID string, campaigns []model.Campaign) error {
	if _, err := db.ExecContext(ctx, db.Rebind(`DELETE FROM campaign_snapshots WHERE session_id = ?`), sessionID); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}

	for i := 0; i < len(campaigns); i += snapshotBatchSize {
		end := i + snapshotBatchSize
		if end > len(campaigns) {
			end = len(campaigns)
		}
		if err := r.insertSnapshotBatch(ctx, db, sessionID, i, campaigns[i:end]); err != nil {
			return fmt.Errorf("failed to insert snapshot batch: %w", err)
		}
	}

	return nil
}

// insertSnapshotBatch inserts a batch of campaigns using a single query
func (r *SnapshotRepository) insertSnapshotBatch(ctx context.Context, db DBExecutor, sessionID string, offset int, campaigns []model.Campaign) error {
	if len(campaigns) == 0 {
		return nil
	}

	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(snapshotColumns)), ", ") + ")"
	valuesClause := make([]string, len(campaigns))
	args := make([]interface{}, 0, len(campaigns)*len(snapshotColumns))

	for i, c := range campaigns {
		valuesClause[i] = placeholders
		args = append(args,
			sessionID, c.ID, offset+i, c.GameTitle,
			c.TotalRewards, c.ClaimedRewards, c.ProgressSeconds, c.TotalSeconds,
			string(c.Status), c.LastSeenAt, c.Misses, c.ClaimAttempts, c.Exhausted, c.ClaimedAt,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO campaign_snapshots (%s)
		VALUES %s
	`, strings.Join(snapshotColumns, ", "), strings.Join(valuesClause, ", "))

	if _, err := db.ExecContext(ctx, db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to execute batch insert: %w", err)
	}

	return nil
}

// LoadSnapshot returns the stored snapshot of a session in its original order.
// A session without a snapshot yields an empty slice.
func (r *SnapshotRepository) LoadSnapshot(ctx context.Context, db DBExecutor, sessionID string) ([]model.Campaign, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM campaign_snapshots
		WHERE session_id = ?
		ORDER BY position ASC
	`, strings.Join(snapshotColumns, ", "))

	var rows []snapshotRow
	if err := db.SelectContext(ctx, &rows, db.Rebind(query), sessionID); err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	campaigns := make([]model.Campaign, 0, len(rows))
	for _, row := range rows {
		campaigns = append(campaigns, row.Campaign)
	}
	return campaigns, nil
}

// ListSessions returns the ids of every session with a stored snapshot
func (r *SnapshotRepository) ListSessions(ctx context.Context, db DBExecutor) ([]string, error) {
	var ids []string
	err := db.SelectContext(ctx, &ids, `
		SELECT DISTINCT session_id
		FROM campaign_snapshots
		ORDER BY session_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot sessions: %w", err)
	}
	return ids, nil
}
