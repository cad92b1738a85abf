package miner

import (
	"sync/atomic"

	"github.com/kkkkikiki/dropsminer/internal/model"
)

// DefaultExpiryThreshold is the number of consecutive missed fetches after which
// a campaign expires.
const DefaultExpiryThreshold = 3

type snapshot struct {
	order []string
	byID  map[string]model.Campaign
}

func (s *snapshot) clone() *snapshot {
	next := &snapshot{
		order: make([]string, len(s.order), len(s.order)+1),
		byID:  make(map[string]model.Campaign, len(s.byID)+1),
	}
	copy(next.order, s.order)
	for id, c := range s.byID {
		next.byID[id] = c
	}
	return next
}

// Store holds the last known state of every campaign tracked by one session.
//
// The store has a single writer, the session's loop. Every mutation builds a
// new snapshot and publishes it atomically, so readers on any goroutine see
// either the state before or after a mutation and never a partial one.
type Store struct {
	threshold int
	current   atomic.Pointer[snapshot]
}

// NewStore creates an empty store. threshold <= 0 selects DefaultExpiryThreshold.
func NewStore(threshold int) *Store {
	if threshold <= 0 {
		threshold = DefaultExpiryThreshold
	}
	s := &Store{threshold: threshold}
	s.current.Store(&snapshot{byID: map[string]model.Campaign{}})
	return s
}

// GetAll returns a copy of every campaign in first-observed order.
func (s *Store) GetAll() []model.Campaign {
	snap := s.current.Load()
	out := make([]model.Campaign, 0, len(snap.order))
	for _, id := range snap.order {
		out = append(out, snap.byID[id].Clone())
	}
	return out
}

// Get returns a copy of a single campaign.
func (s *Store) Get(id string) (model.Campaign, bool) {
	c, ok := s.current.Load().byID[id]
	if !ok {
		return model.Campaign{}, false
	}
	return c.Clone(), true
}

// Len returns the number of tracked campaigns.
func (s *Store) Len() int {
	return len(s.current.Load().order)
}

// Eligible returns the campaigns the claim dispatcher may submit, in order.
func (s *Store) Eligible() []model.Campaign {
	snap := s.current.Load()
	var out []model.Campaign
	for _, id := range snap.order {
		if c := snap.byID[id]; c.Claimable() {
			out = append(out, c.Clone())
		}
	}
	return out
}

// Upsert inserts or replaces a campaign by id. ClaimedRewards never decreases:
// a lower value than the stored one is replaced by the stored one. Misses is
// stored as given; observing a campaign is what resets it.
func (s *Store) Upsert(c model.Campaign) {
	next := s.current.Load().clone()
	if existing, ok := next.byID[c.ID]; ok {
		if existing.ClaimedRewards > c.ClaimedRewards {
			c.ClaimedRewards = existing.ClaimedRewards
		}
	} else {
		next.order = append(next.order, c.ID)
	}
	next.byID[c.ID] = c.Clone()
	s.current.Store(next)
}

// MarkMissing increments the miss counter of every tracked campaign whose id is
// not in seen. Campaigns reaching the expiry threshold become EXPIRED; claimed
// campaigns keep their status. It returns the ids that expired in this call.
func (s *Store) MarkMissing(seen map[string]struct{}) []string {
	cur := s.current.Load()
	var missing []string
	for _, id := range cur.order {
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	next := cur.clone()
	var expired []string
	for _, id := range missing {
		c := next.byID[id]
		c.Misses++
		if c.Misses >= s.threshold && !c.Status.IsTerminal() {
			c.Status = model.StatusExpired
			expired = append(expired, id)
		}
		next.byID[id] = c
	}
	s.current.Store(next)
	return expired
}

// Restore replaces the store content with the given campaigns.
func (s *Store) Restore(campaigns []model.Campaign) {
	next := &snapshot{byID: make(map[string]model.Campaign, len(campaigns))}
	for _, c := range campaigns {
		if _, ok := next.byID[c.ID]; !ok {
			next.order = append(next.order, c.ID)
		}
		next.byID[c.ID] = c.Clone()
	}
	s.current.Store(next)
}
