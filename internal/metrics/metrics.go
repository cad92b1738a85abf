package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IterationDuration tracks the latency of one fetch/reconcile/claim pass
	IterationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "miner_iteration_duration_seconds",
			Help: "Duration of mining loop iterations in seconds",
			Buckets: []float64{
				0.01, // 10ms
				0.05, // 50ms
				0.1,  // 100ms
				0.25, // 250ms
				0.5,  // 500ms
				1.0,  // 1s
				2.5,  // 2.5s
				5.0,  // 5s
				10.0, // 10s
				30.0, // 30s
				60.0, // 1m
			},
		},
		[]string{"outcome"}, // ok, fetch_error or unexpected
	)

	// FetchFailures counts campaign fetch failures by kind
	FetchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "miner_fetch_failures_total",
			Help: "Campaign fetch failures by kind",
		},
		[]string{"kind"},
	)

	// ClaimAttempts counts claim attempts by outcome
	ClaimAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "miner_claim_attempts_total",
			Help: "Drop claim attempts by outcome",
		},
		[]string{"outcome"}, // success, failure or exhausted
	)

	// IntegrityAnomalies counts discarded fetched fields that would have broken invariants
	IntegrityAnomalies = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "miner_integrity_anomalies_total",
			Help: "Fetched campaign updates discarded for violating progress invariants",
		},
	)

	// SessionTransitions counts loop controller state transitions
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "miner_session_transitions_total",
			Help: "Mining session state transitions",
		},
		[]string{"from", "to"},
	)

	// WatchHeartbeats counts watch heartbeats sent for campaigns accruing progress
	WatchHeartbeats = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "miner_watch_heartbeats_total",
			Help: "Watch heartbeats by result",
		},
		[]string{"result"}, // ok or error
	)

	// CheckpointDuration tracks snapshot persistence latency
	CheckpointDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "miner_checkpoint_duration_seconds",
			Help:    "Duration of session snapshot checkpoints in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"}, // success or failed
	)

	// CommandRequests counts session commands received over RPC and REST
	CommandRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "miner_command_requests_total",
			Help: "Session commands by command and result",
		},
		[]string{"command", "result"},
	)
)

// RecordIterationDuration records the duration of a mining iteration
func RecordIterationDuration(outcome string, duration float64) {
	IterationDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordFetchFailure increments the fetch failure counter
func RecordFetchFailure(kind string) {
	FetchFailures.WithLabelValues(kind).Inc()
}

// RecordClaimAttempt increments the claim attempt counter
func RecordClaimAttempt(outcome string) {
	ClaimAttempts.WithLabelValues(outcome).Inc()
}

// RecordIntegrityAnomaly increments the integrity anomaly counter
func RecordIntegrityAnomaly() {
	IntegrityAnomalies.Inc()
}

// RecordSessionTransition increments the transition counter
func RecordSessionTransition(from, to string) {
	SessionTransitions.WithLabelValues(from, to).Inc()
}

// RecordWatchHeartbeat increments the watch heartbeat counter
func RecordWatchHeartbeat(result string) {
	WatchHeartbeats.WithLabelValues(result).Inc()
}

// RecordCheckpointDuration records the duration of a snapshot checkpoint
func RecordCheckpointDuration(result string, duration float64) {
	CheckpointDuration.WithLabelValues(result).Observe(duration)
}

// RecordCommand increments the command counter
func RecordCommand(command, result string) {
	CommandRequests.WithLabelValues(command, result).Inc()
}
