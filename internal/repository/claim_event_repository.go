package repository

import (
	"context"
	"fmt"

	"github.com/kkkkikiki/dropsminer/internal/model"
)

// ClaimEventRepository handles the claim audit trail
type ClaimEventRepository struct{}

// NewClaimEventRepository creates a new claim event repository
func NewClaimEventRepository() *ClaimEventRepository {
	return &ClaimEventRepository{}
}

// InsertClaimEvent records a claim attempt. Recording the same event twice is a no-op.
func (r *ClaimEventRepository) InsertClaimEvent(ctx context.Context, db DBExecutor, event model.ClaimEvent) error {
	query := `
		INSERT INTO claim_events (id, session_id, campaign_id, attempt, success, reason, exhausted, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := db.ExecContext(ctx, db.Rebind(query),
		event.ID, event.SessionID, event.CampaignID, event.Attempt,
		event.Success, event.Reason, event.Exhausted, event.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to insert claim event: %w", err)
	}

	return nil
}

// ListClaimEvents returns the latest claim attempts of a session, newest first
func (r *ClaimEventRepository) ListClaimEvents(ctx context.Context, db DBExecutor, sessionID string, limit int) ([]model.ClaimEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, session_id, campaign_id, attempt, success, reason, exhausted, occurred_at
		FROM claim_events
		WHERE session_id = ?
		ORDER BY occurred_at DESC, attempt DESC
		LIMIT ?
	`

	events := []model.ClaimEvent{}
	if err := db.SelectContext(ctx, &events, db.Rebind(query), sessionID, limit); err != nil {
		return nil, fmt.Errorf("failed to list claim events: %w", err)
	}

	return events, nil
}
