package miner

import (
	"log/slog"
	"strings"
	"time"

	"github.com/kkkkikiki/dropsminer/internal/metrics"
	"github.com/kkkkikiki/dropsminer/internal/model"
)

// Anomaly types reported by the reconciler.
const (
	AnomalyClaimedDecreased  = "claimed_decreased"
	AnomalyClaimedAboveTotal = "claimed_above_total"
	AnomalyTotalBelowClaimed = "total_below_claimed"
	AnomalyNegativeValue     = "negative_value"
	AnomalyMissingID         = "missing_id"
)

// Anomaly describes a fetched field update that was discarded because it would
// have broken a progress invariant.
type Anomaly struct {
	Type       string
	CampaignID string
	Stored     int
	Fetched    int
}

// ReconcileResult summarises one reconciliation pass.
type ReconcileResult struct {
	NewlyEligible []string
	Discovered    []string
	Expired       []string
	Anomalies     []Anomaly
}

// Reconciler merges fetched campaigns into a session's store.
type Reconciler struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewReconciler creates a reconciler. A nil logger uses slog.Default and a nil
// clock uses time.Now.
func NewReconciler(logger *slog.Logger, now func() time.Time) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Reconciler{logger: logger, now: now}
}

// Reconcile applies the fetched campaigns to the store in fetch order, then
// counts a miss for every tracked campaign the fetch did not include.
func (r *Reconciler) Reconcile(store *Store, fetched []model.Campaign) ReconcileResult {
	var res ReconcileResult
	now := r.now()
	seen := make(map[string]struct{}, len(fetched))

	for _, f := range fetched {
		f.ID = strings.TrimSpace(f.ID)
		if f.ID == "" {
			r.report(&res, Anomaly{Type: AnomalyMissingID})
			continue
		}
		seen[f.ID] = struct{}{}

		existing, tracked := store.Get(f.ID)
		merged := r.merge(&res, existing, tracked, f, now)
		if !tracked {
			res.Discovered = append(res.Discovered, f.ID)
		}
		if merged.Status == model.StatusEligible && (!tracked || existing.Status != model.StatusEligible) {
			res.NewlyEligible = append(res.NewlyEligible, f.ID)
		}
		store.Upsert(merged)
	}

	res.Expired = store.MarkMissing(seen)
	for _, id := range res.Expired {
		r.logger.Info("campaign expired", "campaign_id", id)
	}
	return res
}

func (r *Reconciler) merge(res *ReconcileResult, existing model.Campaign, tracked bool, f model.Campaign, now time.Time) model.Campaign {
	merged := model.Campaign{ID: f.ID}
	if tracked {
		merged = existing
	}
	if f.GameTitle != "" {
		merged.GameTitle = f.GameTitle
	}
	merged.LastSeenAt = now
	merged.Misses = 0
	merged.ProgressSeconds = f.ProgressSeconds
	merged.TotalSeconds = f.TotalSeconds

	total, claimed := f.TotalRewards, f.ClaimedRewards
	if total < 0 || claimed < 0 {
		r.report(res, Anomaly{Type: AnomalyNegativeValue, CampaignID: f.ID, Fetched: min(total, claimed)})
		total, claimed = max(total, 0), max(claimed, 0)
	}
	if claimed > total {
		r.report(res, Anomaly{Type: AnomalyClaimedAboveTotal, CampaignID: f.ID, Stored: total, Fetched: claimed})
		claimed = total
	}
	if tracked && claimed < existing.ClaimedRewards {
		r.report(res, Anomaly{Type: AnomalyClaimedDecreased, CampaignID: f.ID, Stored: existing.ClaimedRewards, Fetched: claimed})
		claimed = existing.ClaimedRewards
	}
	if total < claimed {
		r.report(res, Anomaly{Type: AnomalyTotalBelowClaimed, CampaignID: f.ID, Stored: claimed, Fetched: total})
		total = max(existing.TotalRewards, claimed)
	}
	merged.TotalRewards = total
	merged.ClaimedRewards = claimed

	if merged.Status.IsTerminal() {
		return merged
	}
	if derived := deriveStatus(merged); derived.Rank() > merged.Status.Rank() {
		merged.Status = derived
	}
	return merged
}

func (r *Reconciler) report(res *ReconcileResult, a Anomaly) {
	res.Anomalies = append(res.Anomalies, a)
	metrics.RecordIntegrityAnomaly()
	r.logger.Warn("campaign data integrity anomaly, field update discarded",
		"type", a.Type,
		"campaign_id", a.CampaignID,
		"stored", a.Stored,
		"fetched", a.Fetched,
	)
}

func deriveStatus(c model.Campaign) model.CampaignStatus {
	switch {
	case c.TotalRewards > 0 && c.ClaimedRewards >= c.TotalRewards:
		return model.StatusEligible
	case c.ClaimedRewards > 0 || c.ProgressSeconds > 0:
		return model.StatusInProgress
	default:
		return model.StatusDiscovered
	}
}
