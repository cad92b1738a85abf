package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kkkkikiki/dropsminer/internal/miner"
	"github.com/kkkkikiki/dropsminer/internal/model"
)

// LogSink writes every claim attempt to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs through logger, or slog.Default when nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// RecordClaim implements miner.EventSink.
func (s *LogSink) RecordClaim(ctx context.Context, event model.ClaimEvent) error {
	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	s.logger.LogAttrs(ctx, level, "claim event",
		slog.String("event_id", event.ID),
		slog.String("session_id", event.SessionID),
		slog.String("campaign_id", event.CampaignID),
		slog.Int("attempt", event.Attempt),
		slog.Bool("success", event.Success),
		slog.String("reason", event.Reason),
		slog.Bool("exhausted", event.Exhausted),
		slog.Time("occurred_at", event.OccurredAt),
	)
	return nil
}

// Multi fans an event out to every sink. All sinks are called even when one
// fails; the failures are joined.
type Multi []miner.EventSink

// RecordClaim implements miner.EventSink.
func (m Multi) RecordClaim(ctx context.Context, event model.ClaimEvent) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.RecordClaim(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
