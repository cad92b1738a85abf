package miner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kkkkikiki/dropsminer/internal/metrics"
	"github.com/kkkkikiki/dropsminer/internal/model"
)

const (
	// DefaultInterval is the pause between the end of one iteration and the start of the next.
	DefaultInterval = 300 * time.Second
	// DefaultCheckpointInterval bounds how stale the persisted snapshot may become.
	DefaultCheckpointInterval = 60 * time.Second

	finalCheckpointTimeout = 10 * time.Second
)

// ControllerConfig captures the dependencies of a Controller.
type ControllerConfig struct {
	SessionID          string
	Client             Client
	Store              *Store
	Reconciler         *Reconciler
	Dispatcher         *Dispatcher
	Checkpointer       Checkpointer
	Interval           time.Duration
	ErrorBackoff       time.Duration // defaults to a tenth of Interval
	CheckpointInterval time.Duration
	Logger             *slog.Logger
	Now                func() time.Time
}

// Controller drives the polling loop of one mining session and owns its
// STOPPED/RUNNING/PAUSED/ERROR state machine.
type Controller struct {
	id                 string
	client             Client
	watcher            Watcher // nil when the client cannot report watch time
	store              *Store
	reconciler         *Reconciler
	dispatcher         *Dispatcher
	checkpointer       Checkpointer
	interval           time.Duration
	errorBackoff       time.Duration
	checkpointInterval time.Duration
	logger             *slog.Logger
	now                func() time.Time

	mu               sync.Mutex
	state            model.SessionState
	stopRequested    bool
	wake             chan struct{}
	done             chan struct{}
	lastErr          string
	channel          string
	iterations       int64
	fetchFailures    int
	lastFetchAt      time.Time
	lastReconcileAt  time.Time
	lastCheckpointAt time.Time
}

// NewController validates the config and builds a stopped controller.
func NewController(cfg ControllerConfig) (*Controller, error) {
	id := strings.TrimSpace(cfg.SessionID)
	if id == "" {
		return nil, errors.New("miner: session id is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("miner: client is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = cfg.Interval / 10
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = DefaultCheckpointInterval
	}
	logger := cfg.Logger.With("session_id", id)
	if cfg.Store == nil {
		cfg.Store = NewStore(DefaultExpiryThreshold)
	}
	if cfg.Reconciler == nil {
		cfg.Reconciler = NewReconciler(logger, cfg.Now)
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = NewDispatcher(DispatcherConfig{Logger: logger, Now: cfg.Now})
	}
	watcher, _ := cfg.Client.(Watcher)
	return &Controller{
		id:                 id,
		client:             cfg.Client,
		watcher:            watcher,
		store:              cfg.Store,
		reconciler:         cfg.Reconciler,
		dispatcher:         cfg.Dispatcher,
		checkpointer:       cfg.Checkpointer,
		interval:           cfg.Interval,
		errorBackoff:       cfg.ErrorBackoff,
		checkpointInterval: cfg.CheckpointInterval,
		logger:             logger,
		now:                cfg.Now,
		state:              model.SessionStopped,
	}, nil
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// State returns the current session state.
func (c *Controller) State() model.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start launches the loop. ctx bounds the lifetime of the loop, not of the
// call. Starting a running or paused session is a no-op, unless a stop is
// still pending.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopRequested {
		return ErrSessionStopping
	}
	switch c.state {
	case model.SessionRunning, model.SessionPaused:
		return nil
	case model.SessionError:
		return ErrRestartRequired
	}
	if c.done != nil {
		return ErrSessionStopping
	}
	c.launch(ctx)
	return nil
}

// Restart recovers a failed session. On a stopped session it behaves like
// Start, on a running or paused one it is a no-op.
func (c *Controller) Restart(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopRequested {
		return ErrSessionStopping
	}
	switch c.state {
	case model.SessionRunning, model.SessionPaused:
		return nil
	}
	if c.done != nil {
		return ErrSessionStopping
	}
	c.lastErr = ""
	c.launch(ctx)
	return nil
}

// Pause suppresses claim dispatch from the next iteration on. Fetching and
// reconciliation continue.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case model.SessionPaused:
		return nil
	case model.SessionRunning:
		c.transition(model.SessionPaused)
		return nil
	default:
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, c.state)
	}
}

// Resume re-enables claim dispatch from the next iteration on.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case model.SessionRunning:
		return nil
	case model.SessionPaused:
		c.transition(model.SessionRunning)
		return nil
	default:
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, c.state)
	}
}

// Stop asks the loop to exit at its next safe point and waits until it has.
// An in-flight fetch or claim is never interrupted; a pending sleep is. ctx
// bounds the wait only.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state == model.SessionError {
		c.transition(model.SessionStopped)
	}
	done, wake := c.done, c.wake
	if done == nil {
		c.mu.Unlock()
		return nil
	}
	c.stopRequested = true
	c.mu.Unlock()

	select {
	case wake <- struct{}{}:
	default:
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a read-only view of the session. Campaigns are the last
// reconciled snapshot, even while the session is failed or backing off.
func (c *Controller) Status() model.SessionStatus {
	c.mu.Lock()
	status := model.SessionStatus{
		SessionID:                c.id,
		State:                    c.state,
		LastError:                c.lastErr,
		CurrentChannel:           c.channel,
		Iterations:               c.iterations,
		ConsecutiveFetchFailures: c.fetchFailures,
		LastFetchAt:              timePtr(c.lastFetchAt),
		LastReconcileAt:          timePtr(c.lastReconcileAt),
		LastCheckpointAt:         timePtr(c.lastCheckpointAt),
	}
	c.mu.Unlock()

	status.Campaigns = c.store.GetAll()
	status.Counts = model.CountCampaigns(status.Campaigns)
	return status
}

// Campaigns returns a copy of the session's snapshot.
func (c *Controller) Campaigns() []model.Campaign {
	return c.store.GetAll()
}

// launch must be called with c.mu held.
func (c *Controller) launch(ctx context.Context) {
	c.transition(model.SessionRunning)
	c.stopRequested = false
	c.wake = make(chan struct{}, 1)
	c.done = make(chan struct{})
	go c.run(ctx, c.wake, c.done)
}

// transition must be called with c.mu held.
func (c *Controller) transition(to model.SessionState) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	metrics.RecordSessionTransition(string(from), string(to))
	c.logger.Info("session state changed", "from", from, "to", to)
}

func (c *Controller) run(ctx context.Context, wake <-chan struct{}, done chan struct{}) {
	defer func() {
		c.checkpoint(context.WithoutCancel(ctx), true)
		c.mu.Lock()
		if c.state != model.SessionError {
			c.transition(model.SessionStopped)
		}
		c.done = nil
		c.wake = nil
		c.stopRequested = false
		c.channel = ""
		c.mu.Unlock()
		close(done)
	}()

	for {
		claims, ok := c.beginIteration(ctx)
		if !ok {
			return
		}
		delay, err := c.iterate(ctx, claims)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.fail(err)
			return
		}
		if !c.sleep(ctx, wake, delay) {
			return
		}
	}
}

// beginIteration checks for stop at the top of every iteration and samples
// whether this iteration may dispatch claims.
func (c *Controller) beginIteration(ctx context.Context) (claims bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopRequested || ctx.Err() != nil {
		return false, false
	}
	c.iterations++
	return c.state == model.SessionRunning, true
}

func (c *Controller) sleep(ctx context.Context, wake <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return !c.isStopRequested()
		case <-wake:
			if c.isStopRequested() {
				return false
			}
		}
	}
}

func (c *Controller) isStopRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopRequested
}

// iterate runs fetch, reconcile and, when claims is set, the watch heartbeat
// and claim dispatch. It
// returns the delay before the next iteration. Recognized fetch and claim
// failures are absorbed; anything else, panics included, is returned as
// ErrUnexpected.
func (c *Controller) iterate(ctx context.Context, claims bool) (delay time.Duration, err error) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrUnexpected, r)
		}
		if err != nil {
			outcome = "unexpected"
		}
		metrics.RecordIterationDuration(outcome, time.Since(start).Seconds())
	}()

	fetched, err := c.client.FetchCampaigns(ctx)
	if err != nil {
		var fetchErr *FetchError
		if errors.As(err, &fetchErr) {
			outcome = "fetch_error"
			c.noteFetchFailure(fetchErr)
			return c.errorBackoff, nil
		}
		return 0, fmt.Errorf("%w: fetch campaigns: %w", ErrUnexpected, err)
	}
	c.noteFetchSuccess()

	res := c.reconciler.Reconcile(c.store, fetched)
	c.mu.Lock()
	c.lastReconcileAt = c.now()
	c.mu.Unlock()
	c.logger.Debug("campaigns reconciled",
		"fetched", len(fetched),
		"discovered", len(res.Discovered),
		"newly_eligible", len(res.NewlyEligible),
		"expired", len(res.Expired),
		"anomalies", len(res.Anomalies),
	)

	if claims {
		c.watch(ctx)
		summary, err := c.dispatcher.Dispatch(ctx, c.id, c.store, c.client)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrUnexpected, err)
		}
		if summary.Attempted > 0 {
			c.logger.Info("claims dispatched",
				"attempted", summary.Attempted,
				"claimed", summary.Claimed,
				"failed", summary.Failed,
				"exhausted", summary.Exhausted,
			)
		}
	} else {
		c.switchChannel("")
	}

	c.checkpoint(ctx, false)
	return c.interval, nil
}

// watch sends a heartbeat for the first campaign, in store order, that is
// still accruing progress and has a channel to watch. Heartbeat failures are
// logged and never fail the iteration.
func (c *Controller) watch(ctx context.Context) {
	if c.watcher == nil {
		return
	}
	channel := ""
	for _, camp := range c.store.GetAll() {
		if camp.Status != model.StatusDiscovered && camp.Status != model.StatusInProgress {
			continue
		}
		ch, err := c.watcher.Watch(ctx, camp.ID)
		if err != nil {
			metrics.RecordWatchHeartbeat("error")
			c.logger.Warn("watch heartbeat failed", "campaign_id", camp.ID, "error", err)
			break
		}
		if ch != "" {
			metrics.RecordWatchHeartbeat("ok")
			channel = ch
			break
		}
	}
	c.switchChannel(channel)
}

func (c *Controller) switchChannel(channel string) {
	c.mu.Lock()
	previous := c.channel
	c.channel = channel
	c.mu.Unlock()
	if channel != previous {
		c.logger.Info("watch channel changed", "from", previous, "to", channel)
	}
}

func (c *Controller) noteFetchFailure(err *FetchError) {
	metrics.RecordFetchFailure(string(err.Kind))
	c.mu.Lock()
	c.fetchFailures++
	failures := c.fetchFailures
	c.mu.Unlock()
	c.logger.Warn("campaign fetch failed, retrying after backoff",
		"kind", err.Kind,
		"consecutive_failures", failures,
		"backoff", c.errorBackoff,
		"error", err,
	)
}

func (c *Controller) noteFetchSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchFailures = 0
	c.lastFetchAt = c.now()
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err.Error()
	c.transition(model.SessionError)
	c.logger.Error("mining loop failed, restart required", "error", err)
}

// checkpoint writes the snapshot when the checkpoint interval has elapsed, or
// unconditionally when force is set. Failures are logged and retried on the
// next call.
func (c *Controller) checkpoint(ctx context.Context, force bool) {
	if c.checkpointer == nil {
		return
	}
	now := c.now()
	c.mu.Lock()
	due := force || c.lastCheckpointAt.IsZero() || now.Sub(c.lastCheckpointAt) >= c.checkpointInterval
	c.mu.Unlock()
	if !due {
		return
	}

	if force {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, finalCheckpointTimeout)
		defer cancel()
	}
	if err := c.checkpointer.SaveSnapshot(ctx, c.id, c.store.GetAll()); err != nil {
		c.logger.Error("failed to checkpoint session snapshot", "error", err)
		return
	}
	c.mu.Lock()
	c.lastCheckpointAt = now
	c.mu.Unlock()
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
