package miner

import (
	"context"
	"sync"
	"time"

	"github.com/kkkkikiki/dropsminer/internal/logging"
	"github.com/kkkkikiki/dropsminer/internal/model"
)

type fetchFunc func(call int) ([]model.Campaign, error)
type claimFunc func(call int, campaignID string) (ClaimResult, error)

// stubClient scripts fetch and claim responses and records every call.
type stubClient struct {
	mu         sync.Mutex
	fetch      fetchFunc
	claim      claimFunc
	fetchCalls int
	claimCalls []string
}

func (s *stubClient) FetchCampaigns(ctx context.Context) ([]model.Campaign, error) {
	s.mu.Lock()
	s.fetchCalls++
	call, fn := s.fetchCalls, s.fetch
	s.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(call)
}

func (s *stubClient) Claim(ctx context.Context, campaignID string) (ClaimResult, error) {
	s.mu.Lock()
	s.claimCalls = append(s.claimCalls, campaignID)
	call, fn := len(s.claimCalls), s.claim
	s.mu.Unlock()
	if fn == nil {
		return ClaimResult{Success: true}, nil
	}
	return fn(call, campaignID)
}

func (s *stubClient) FetchCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCalls
}

func (s *stubClient) ClaimCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.claimCalls...)
}

// watchingClient adds watch heartbeats to a stubClient. channels maps a
// campaign id to the channel its heartbeat lands on.
type watchingClient struct {
	*stubClient
	watchMu  sync.Mutex
	channels map[string]string
	watchErr error
	watched  []string
}

func (w *watchingClient) Watch(ctx context.Context, campaignID string) (string, error) {
	w.watchMu.Lock()
	defer w.watchMu.Unlock()
	w.watched = append(w.watched, campaignID)
	if w.watchErr != nil {
		return "", w.watchErr
	}
	return w.channels[campaignID], nil
}

func (w *watchingClient) Watched() []string {
	w.watchMu.Lock()
	defer w.watchMu.Unlock()
	return append([]string(nil), w.watched...)
}

func staticFetch(campaigns ...model.Campaign) fetchFunc {
	return func(int) ([]model.Campaign, error) {
		return campaigns, nil
	}
}

type memoryCheckpointer struct {
	mu        sync.Mutex
	snapshots map[string][]model.Campaign
	saves     int
}

func newMemoryCheckpointer() *memoryCheckpointer {
	return &memoryCheckpointer{snapshots: make(map[string][]model.Campaign)}
}

func (m *memoryCheckpointer) SaveSnapshot(ctx context.Context, sessionID string, campaigns []model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[sessionID] = campaigns
	m.saves++
	return nil
}

func (m *memoryCheckpointer) LoadSnapshot(ctx context.Context, sessionID string) ([]model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshots[sessionID], nil
}

func (m *memoryCheckpointer) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

type eventRecorder struct {
	mu     sync.Mutex
	events []model.ClaimEvent
}

func (r *eventRecorder) RecordClaim(ctx context.Context, event model.ClaimEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) Events() []model.ClaimEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ClaimEvent(nil), r.events...)
}

func fixedClock() func() time.Time {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func newTestController(client Client, opts ...func(*ControllerConfig)) *Controller {
	logger := logging.Discard()
	cfg := ControllerConfig{
		SessionID:  "alice",
		Client:     client,
		Store:      NewStore(3),
		Reconciler: NewReconciler(logger, fixedClock()),
		Dispatcher: NewDispatcher(DispatcherConfig{MaxRetries: 3, Logger: logger, Now: fixedClock()}),
		Interval:   time.Hour,
		Logger:     logger,
		Now:        fixedClock(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	ctrl, err := NewController(cfg)
	if err != nil {
		panic(err)
	}
	return ctrl
}

func campaign(id string, total, claimed int) model.Campaign {
	return model.Campaign{ID: id, GameTitle: "Game " + id, TotalRewards: total, ClaimedRewards: claimed}
}
