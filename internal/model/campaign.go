package model

import (
	"time"
)

// CampaignStatus is the reconciliation status of a tracked drops campaign
type CampaignStatus string

const (
	StatusDiscovered CampaignStatus = "DISCOVERED"
	StatusInProgress CampaignStatus = "IN_PROGRESS"
	StatusEligible   CampaignStatus = "ELIGIBLE"
	StatusClaimed    CampaignStatus = "CLAIMED"
	StatusExpired    CampaignStatus = "EXPIRED"
)

// Rank orders the forward-only progression DISCOVERED -> IN_PROGRESS -> ELIGIBLE.
// Terminal statuses rank above every progress status.
func (s CampaignStatus) Rank() int {
	switch s {
	case StatusDiscovered:
		return 0
	case StatusInProgress:
		return 1
	case StatusEligible:
		return 2
	case StatusClaimed, StatusExpired:
		return 3
	default:
		return -1
	}
}

// IsTerminal returns true once a campaign can no longer change status within a session
func (s CampaignStatus) IsTerminal() bool {
	return s == StatusClaimed || s == StatusExpired
}

// Campaign represents one Twitch drops campaign tracked by a mining session
type Campaign struct {
	ID              string         `db:"campaign_id" json:"campaign_id"`
	GameTitle       string         `db:"game_title" json:"game_name"`
	TotalRewards    int            `db:"total_rewards" json:"total_rewards"`
	ClaimedRewards  int            `db:"claimed_rewards" json:"claimed_rewards"`
	ProgressSeconds int64          `db:"progress_seconds" json:"progress_seconds"`
	TotalSeconds    int64          `db:"total_seconds" json:"total_seconds"`
	Status          CampaignStatus `db:"status" json:"status"`
	LastSeenAt      time.Time      `db:"last_seen_at" json:"last_seen_at"`

	// Session-local bookkeeping
	Misses        int        `db:"misses" json:"misses"`
	ClaimAttempts int        `db:"claim_attempts" json:"claim_attempts"`
	Exhausted     bool       `db:"exhausted" json:"exhausted"`
	ClaimedAt     *time.Time `db:"claimed_at" json:"claimed_at,omitempty"`
}

// Clone returns a deep copy of the campaign
func (c Campaign) Clone() Campaign {
	if c.ClaimedAt != nil {
		claimedAt := *c.ClaimedAt
		c.ClaimedAt = &claimedAt
	}
	return c
}

// Claimable returns true if the claim dispatcher may submit the campaign
func (c Campaign) Claimable() bool {
	return c.Status == StatusEligible && !c.Exhausted
}
