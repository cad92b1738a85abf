package miner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kkkkikiki/dropsminer/internal/model"
)

// RegistryConfig holds the settings shared by every session of a registry.
type RegistryConfig struct {
	Interval           time.Duration
	ErrorBackoff       time.Duration
	CheckpointInterval time.Duration
	MaxClaimRetries    int
	ExpiryThreshold    int
	ClaimRate          float64 // claims per second, per session
	ClaimBurst         int
	Checkpointer       Checkpointer
	Sink               EventSink
	Logger             *slog.Logger
	Now                func() time.Time
}

// Registry owns the mining sessions of the process, one per linked account.
// Sessions share nothing but configuration; a failing session never affects
// another one.
type Registry struct {
	cfg    RegistryConfig
	logger *slog.Logger

	// ctx bounds the lifetime of every session loop started through the registry.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Controller
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:      cfg,
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Controller),
	}
}

// Create registers a stopped session for the given client. When a checkpoint
// exists for the id the session starts from the persisted snapshot.
func (r *Registry) Create(ctx context.Context, id string, client Client) (*Controller, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("miner: session id is required")
	}
	if _, err := r.Get(id); err == nil {
		return nil, ErrSessionExists
	}

	logger := r.logger.With("session_id", id)
	store := NewStore(r.cfg.ExpiryThreshold)
	if r.cfg.Checkpointer != nil {
		campaigns, err := r.cfg.Checkpointer.LoadSnapshot(ctx, id)
		if err != nil {
			logger.Warn("failed to restore session snapshot, starting empty", "error", err)
		} else if len(campaigns) > 0 {
			// the claim retry budget belongs to the session, not the checkpoint
			restored := make([]model.Campaign, len(campaigns))
			for i, c := range campaigns {
				c.ClaimAttempts = 0
				c.Exhausted = false
				restored[i] = c
			}
			store.Restore(restored)
			logger.Info("session snapshot restored", "campaigns", len(campaigns))
		}
	}

	var limiter *rate.Limiter
	if r.cfg.ClaimRate > 0 {
		burst := r.cfg.ClaimBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(r.cfg.ClaimRate), burst)
	}

	ctrl, err := NewController(ControllerConfig{
		SessionID:    id,
		Client:       client,
		Store:        store,
		Reconciler:   NewReconciler(logger, r.cfg.Now),
		Checkpointer: r.cfg.Checkpointer,
		Dispatcher: NewDispatcher(DispatcherConfig{
			MaxRetries: r.cfg.MaxClaimRetries,
			Limiter:    limiter,
			Sink:       r.cfg.Sink,
			Logger:     logger,
			Now:        r.cfg.Now,
		}),
		Interval:           r.cfg.Interval,
		ErrorBackoff:       r.cfg.ErrorBackoff,
		CheckpointInterval: r.cfg.CheckpointInterval,
		Logger:             r.logger,
		Now:                r.cfg.Now,
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; exists {
		return nil, ErrSessionExists
	}
	r.sessions[id] = ctrl
	logger.Info("session created")
	return ctrl, nil
}

// Destroy stops the session and removes it from the registry.
func (r *Registry) Destroy(ctx context.Context, id string) error {
	r.mu.Lock()
	ctrl, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	if err := ctrl.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop session %s: %w", id, err)
	}
	r.logger.Info("session destroyed", "session_id", id)
	return nil
}

// Get returns the controller of a session.
func (r *Registry) Get(id string) (*Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctrl, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ctrl, nil
}

// List returns the status of every session ordered by id.
func (r *Registry) List() []model.SessionStatus {
	r.mu.RLock()
	ctrls := make([]*Controller, 0, len(r.sessions))
	for _, ctrl := range r.sessions {
		ctrls = append(ctrls, ctrl)
	}
	r.mu.RUnlock()

	sort.Slice(ctrls, func(i, j int) bool { return ctrls[i].ID() < ctrls[j].ID() })
	out := make([]model.SessionStatus, 0, len(ctrls))
	for _, ctrl := range ctrls {
		out = append(out, ctrl.Status())
	}
	return out
}

// Start starts a session's loop.
func (r *Registry) Start(id string) error {
	ctrl, err := r.Get(id)
	if err != nil {
		return err
	}
	return ctrl.Start(r.ctx)
}

// Restart recovers a failed session.
func (r *Registry) Restart(id string) error {
	ctrl, err := r.Get(id)
	if err != nil {
		return err
	}
	return ctrl.Restart(r.ctx)
}

// Pause suppresses claims for a session.
func (r *Registry) Pause(id string) error {
	ctrl, err := r.Get(id)
	if err != nil {
		return err
	}
	return ctrl.Pause()
}

// Resume re-enables claims for a session.
func (r *Registry) Resume(id string) error {
	ctrl, err := r.Get(id)
	if err != nil {
		return err
	}
	return ctrl.Resume()
}

// Stop stops a session's loop and waits for the in-flight iteration.
func (r *Registry) Stop(ctx context.Context, id string) error {
	ctrl, err := r.Get(id)
	if err != nil {
		return err
	}
	return ctrl.Stop(ctx)
}

// Status returns the read-only status of a session.
func (r *Registry) Status(id string) (model.SessionStatus, error) {
	ctrl, err := r.Get(id)
	if err != nil {
		return model.SessionStatus{}, err
	}
	return ctrl.Status(), nil
}

// Close stops every session, then cancels the loops that did not stop in time.
func (r *Registry) Close(ctx context.Context) error {
	defer r.cancel()

	r.mu.RLock()
	ctrls := make([]*Controller, 0, len(r.sessions))
	for _, ctrl := range r.sessions {
		ctrls = append(ctrls, ctrl)
	}
	r.mu.RUnlock()

	var errs []error
	for _, ctrl := range ctrls {
		if err := ctrl.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop session %s: %w", ctrl.ID(), err))
		}
	}
	return errors.Join(errs...)
}
