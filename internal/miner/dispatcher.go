package miner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kkkkikiki/dropsminer/internal/metrics"
	"github.com/kkkkikiki/dropsminer/internal/model"
)

// DefaultMaxClaimRetries is the number of failed claims after which a campaign
// is exhausted for the rest of the session.
const DefaultMaxClaimRetries = 3

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	MaxRetries int
	Limiter    *rate.Limiter
	Sink       EventSink
	Logger     *slog.Logger
	Now        func() time.Time
}

// DispatchSummary counts the claim attempts of one pass.
type DispatchSummary struct {
	Attempted int
	Claimed   int
	Failed    int
	Exhausted int
}

// Dispatcher submits claims for eligible campaigns and records the outcome.
type Dispatcher struct {
	maxRetries int
	limiter    *rate.Limiter
	sink       EventSink
	logger     *slog.Logger
	now        func() time.Time
}

// NewDispatcher creates a dispatcher with defaults for unset fields.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		maxRetries: cfg.MaxRetries,
		limiter:    cfg.Limiter,
		sink:       cfg.Sink,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
	if d.maxRetries <= 0 {
		d.maxRetries = DefaultMaxClaimRetries
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Dispatch claims every claimable campaign in the store, in store order.
//
// Failed claims leave the campaign ELIGIBLE and consume one retry; the attempt
// that reaches the retry cap marks it exhausted. An error that is neither a
// ClaimResult failure nor a *ClaimError aborts the pass and is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, store *Store, claimer Claimer) (DispatchSummary, error) {
	var summary DispatchSummary
	for _, c := range store.Eligible() {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return summary, fmt.Errorf("failed to wait for claim slot: %w", err)
			}
		}

		result, err := claimer.Claim(ctx, c.ID)
		if err != nil {
			var claimErr *ClaimError
			if !errors.As(err, &claimErr) {
				return summary, fmt.Errorf("failed to claim campaign %s: %w", c.ID, err)
			}
			result = ClaimResult{Success: false, Reason: claimErr.Error()}
		}

		summary.Attempted++
		now := d.now()
		c.ClaimAttempts++
		event := model.ClaimEvent{
			ID:         uuid.NewString(),
			SessionID:  sessionID,
			CampaignID: c.ID,
			Attempt:    c.ClaimAttempts,
			Success:    result.Success,
			Reason:     result.Reason,
			OccurredAt: now,
		}

		if result.Success {
			c.Status = model.StatusClaimed
			c.ClaimedAt = &now
			summary.Claimed++
			metrics.RecordClaimAttempt("success")
			d.logger.Info("campaign claimed", "session_id", sessionID, "campaign_id", c.ID, "attempt", c.ClaimAttempts)
		} else {
			if event.Reason == "" {
				event.Reason = "claim rejected"
			}
			summary.Failed++
			outcome := "failure"
			if c.ClaimAttempts >= d.maxRetries {
				c.Exhausted = true
				event.Exhausted = true
				summary.Exhausted++
				outcome = "exhausted"
			}
			metrics.RecordClaimAttempt(outcome)
			d.logger.Warn("campaign claim failed",
				"session_id", sessionID,
				"campaign_id", c.ID,
				"attempt", c.ClaimAttempts,
				"max_retries", d.maxRetries,
				"exhausted", c.Exhausted,
				"reason", event.Reason,
			)
		}
		store.Upsert(c)

		if d.sink != nil {
			if err := d.sink.RecordClaim(ctx, event); err != nil {
				d.logger.Error("failed to record claim event", "session_id", sessionID, "campaign_id", c.ID, "error", err)
			}
		}
	}
	return summary, nil
}
