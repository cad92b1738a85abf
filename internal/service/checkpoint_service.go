package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kkkkikiki/dropsminer/internal/metrics"
	"github.com/kkkkikiki/dropsminer/internal/model"
	"github.com/kkkkikiki/dropsminer/internal/repository"
)

// CheckpointService persists session snapshots and the claim audit trail. It
// implements miner.Checkpointer and miner.EventSink.
type CheckpointService struct {
	db           *sqlx.DB
	snapshotRepo *repository.SnapshotRepository
	eventRepo    *repository.ClaimEventRepository
}

// NewCheckpointService creates a new CheckpointService instance
func NewCheckpointService(db *sqlx.DB) *CheckpointService {
	return &CheckpointService{
		db:           db,
		snapshotRepo: repository.NewSnapshotRepository(),
		eventRepo:    repository.NewClaimEventRepository(),
	}
}

// SaveSnapshot atomically replaces the stored snapshot of a session
func (s *CheckpointService) SaveSnapshot(ctx context.Context, sessionID string, campaigns []model.Campaign) error {
	start := time.Now()
	result := "failed"
	defer func() {
		metrics.RecordCheckpointDuration(result, time.Since(start).Seconds())
	}()

	// Start transaction
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.snapshotRepo.ReplaceSnapshot(ctx, tx, sessionID, campaigns); err != nil {
		return fmt.Errorf("failed to save snapshot of session %s: %w", sessionID, err)
	}

	// Commit transaction
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	result = "success"
	return nil
}

// LoadSnapshot returns the last saved snapshot of a session
func (s *CheckpointService) LoadSnapshot(ctx context.Context, sessionID string) ([]model.Campaign, error) {
	campaigns, err := s.snapshotRepo.LoadSnapshot(ctx, s.db, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot of session %s: %w", sessionID, err)
	}
	return campaigns, nil
}

// RecordClaim stores a claim attempt in the audit trail
func (s *CheckpointService) RecordClaim(ctx context.Context, event model.ClaimEvent) error {
	return s.eventRepo.InsertClaimEvent(ctx, s.db, event)
}

// ClaimHistory returns the latest claim attempts of a session, newest first
func (s *CheckpointService) ClaimHistory(ctx context.Context, sessionID string, limit int) ([]model.ClaimEvent, error) {
	return s.eventRepo.ListClaimEvents(ctx, s.db, sessionID, limit)
}
