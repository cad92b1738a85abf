package miner

import (
	"context"

	"github.com/kkkkikiki/dropsminer/internal/model"
)

// ClaimResult is the outcome of a single claim request.
type ClaimResult struct {
	Success bool
	Reason  string
}

// Fetcher returns the current campaigns and their progress for one account.
// Transient failures must be reported as *FetchError.
type Fetcher interface {
	FetchCampaigns(ctx context.Context) ([]model.Campaign, error)
}

// Claimer redeems the rewards of an eligible campaign. A failed claim is
// reported through ClaimResult or a *ClaimError; any other error is treated
// as unexpected.
type Claimer interface {
	Claim(ctx context.Context, campaignID string) (ClaimResult, error)
}

// Client is the authenticated API client a session depends on.
type Client interface {
	Fetcher
	Claimer
}

// Watcher is implemented by clients that can report watch time, which is how
// campaigns accrue progress. Watch sends one heartbeat on a channel the
// campaign credits and returns the channel, or "" when there is none.
type Watcher interface {
	Watch(ctx context.Context, campaignID string) (string, error)
}

// EventSink receives every claim attempt for audit and logging consumers.
type EventSink interface {
	RecordClaim(ctx context.Context, event model.ClaimEvent) error
}

// Checkpointer durably stores session snapshots across process restarts.
type Checkpointer interface {
	SaveSnapshot(ctx context.Context, sessionID string, campaigns []model.Campaign) error
	LoadSnapshot(ctx context.Context, sessionID string) ([]model.Campaign, error)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, event model.ClaimEvent) error

// RecordClaim implements EventSink.
func (f EventSinkFunc) RecordClaim(ctx context.Context, event model.ClaimEvent) error {
	return f(ctx, event)
}
