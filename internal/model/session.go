package model

import "time"

// SessionState is the loop controller state of one mining session
type SessionState string

const (
	SessionStopped SessionState = "STOPPED"
	SessionRunning SessionState = "RUNNING"
	SessionPaused  SessionState = "PAUSED"
	SessionError   SessionState = "ERROR"
)

// StatusCounts aggregates campaigns of a snapshot by status
type StatusCounts struct {
	Total      int `json:"total"`
	Discovered int `json:"discovered"`
	InProgress int `json:"in_progress"`
	Eligible   int `json:"eligible"`
	Claimed    int `json:"claimed"`
	Expired    int `json:"expired"`
	Exhausted  int `json:"exhausted"`
}

// CountCampaigns builds StatusCounts for the given campaigns
func CountCampaigns(campaigns []Campaign) StatusCounts {
	counts := StatusCounts{Total: len(campaigns)}
	for _, c := range campaigns {
		switch c.Status {
		case StatusDiscovered:
			counts.Discovered++
		case StatusInProgress:
			counts.InProgress++
		case StatusEligible:
			counts.Eligible++
		case StatusClaimed:
			counts.Claimed++
		case StatusExpired:
			counts.Expired++
		}
		if c.Exhausted {
			counts.Exhausted++
		}
	}
	return counts
}

// SessionStatus is the read-only view of a session handed to the web layer
type SessionStatus struct {
	SessionID                string       `json:"session_id"`
	State                    SessionState `json:"state"`
	LastError                string       `json:"last_error,omitempty"`
	CurrentChannel           string       `json:"current_channel,omitempty"`
	Iterations               int64        `json:"iterations"`
	ConsecutiveFetchFailures int          `json:"consecutive_fetch_failures"`
	LastFetchAt              *time.Time   `json:"last_fetch_at,omitempty"`
	LastReconcileAt          *time.Time   `json:"last_reconcile_at,omitempty"`
	LastCheckpointAt         *time.Time   `json:"last_checkpoint_at,omitempty"`
	Campaigns                []Campaign   `json:"campaigns"`
	Counts                   StatusCounts `json:"counts"`
}

// ClaimEvent records a single claim attempt for audit consumers
type ClaimEvent struct {
	ID         string    `db:"id" json:"id"`
	SessionID  string    `db:"session_id" json:"session_id"`
	CampaignID string    `db:"campaign_id" json:"campaign_id"`
	Attempt    int       `db:"attempt" json:"attempt"`
	Success    bool      `db:"success" json:"success"`
	Reason     string    `db:"reason" json:"reason,omitempty"`
	Exhausted  bool      `db:"exhausted" json:"exhausted"`
	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
}
