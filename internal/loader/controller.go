// Package loader brings model sessions to a ready state.
//
// The Controller owns the registry of live sessions and runs each load
// as an explicit attempt loop: create, classify the failure, count down,
// invalidate the model's cache, back off, try again, until the recovery
// table's ceiling for that kind of failure is reached.
//
// Concurrency:
// - loads and retries for one model id are serialized
// - loads for different ids may overlap
// - a full cache wipe waits for every load and blocks new ones
// - every blocking call honors its context
package loader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/flynn-ai/modeldock/internal/catalog"
	"github.com/flynn-ai/modeldock/internal/engine"
	apperrors "github.com/flynn-ai/modeldock/internal/errors"
	"github.com/flynn-ai/modeldock/internal/stats"
)

// gateWeight is the capacity of the category gate. A load holds one
// unit; a full cache wipe holds all of them.
const gateWeight = 1 << 16

// ErrClosed is returned once Shutdown has run.
var ErrClosed = errors.New("load controller is shut down")

// Transcript receives the turns the controller wants shown to the user.
type Transcript interface {
	Reset()
	AppendAssistant(content string)
}

// CacheInvalidator clears cached model artifacts. Implementations are
// best-effort and report success as a boolean.
type CacheInvalidator interface {
	InvalidateModel(ctx context.Context, modelID string) bool
	InvalidateAll(ctx context.Context) bool
}

// Options tune a Controller. Zero values select the defaults.
type Options struct {
	Recovery *apperrors.RecoveryTable
	Schedule apperrors.Schedule
	Clock    apperrors.Clock
	Stats    *stats.Collector
	Logger   *zap.Logger
}

// Controller is the model load controller. Construct one per
// application session with New and tear it down with Shutdown.
type Controller struct {
	catalog    *catalog.Catalog
	engine     engine.Engine
	cache      CacheInvalidator
	transcript Transcript

	table    *apperrors.RecoveryTable
	schedule apperrors.Schedule
	clock    apperrors.Clock
	stats    *stats.Collector
	logger   *zap.Logger

	gate *semaphore.Weighted

	mu        sync.Mutex
	locks     map[string]*semaphore.Weighted
	registry  map[string]engine.Session
	stale     map[string]engine.Session
	attempts  map[string]*Attempt
	states    map[string]State
	status    Status
	op        uint64
	listeners map[int]Listener
	nextID    int
	closed    bool
}

// New creates a controller.
func New(cat *catalog.Catalog, eng engine.Engine, cache CacheInvalidator, transcript Transcript, opts Options) *Controller {
	if opts.Recovery == nil {
		opts.Recovery = apperrors.DefaultRecoveryTable()
	}
	if opts.Schedule == (apperrors.Schedule{}) {
		opts.Schedule = apperrors.DefaultSchedule()
	}
	if opts.Clock == nil {
		opts.Clock = apperrors.RealClock{}
	}
	if opts.Stats == nil {
		opts.Stats = stats.NewCollector()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Controller{
		catalog:    cat,
		engine:     eng,
		cache:      cache,
		transcript: transcript,
		table:      opts.Recovery,
		schedule:   opts.Schedule,
		clock:      opts.Clock,
		stats:      opts.Stats,
		logger:     opts.Logger,
		gate:       semaphore.NewWeighted(gateWeight),
		locks:      make(map[string]*semaphore.Weighted),
		registry:   make(map[string]engine.Session),
		stale:      make(map[string]engine.Session),
		attempts:   make(map[string]*Attempt),
		states:     make(map[string]State),
		listeners:  make(map[int]Listener),
	}
}

// ============================================================
// Presentation-facing API
// ============================================================

// Load brings modelID to the ready state and returns its session. A
// model that already has a live session is returned immediately.
func (c *Controller) Load(ctx context.Context, modelID string) (engine.Session, error) {
	return c.load(ctx, modelID, false)
}

// Retry discards any session and attempt state for modelID, clears the
// transcript, and runs a full load from the first attempt. Nothing is
// discarded until any running load of modelID has finished.
func (c *Controller) Retry(ctx context.Context, modelID string) (engine.Session, error) {
	return c.load(ctx, modelID, true)
}

// UnloadAll is called when the user switches to target. Sessions stay
// registered so switching back is cheap; the transcript is cleared and,
// if target already has a session, an "already loaded" greeting is
// shown. Reports whether target is ready.
func (c *Controller) UnloadAll(target string) bool {
	c.transcript.Reset()

	c.mu.Lock()
	_, loaded := c.registry[target]
	c.op++
	op := c.op
	c.mu.Unlock()

	if loaded {
		c.publish(op, target, StateReady, "Model already loaded")
		c.transcript.AppendAssistant(fmt.Sprintf("%s is already loaded and ready to chat!", c.catalog.DisplayName(target)))
		return true
	}
	c.publish(op, target, StateIdle, "")
	return false
}

// InvalidateModel clears cached artifacts for one model. It waits for
// any load of that model to finish first.
func (c *Controller) InvalidateModel(ctx context.Context, modelID string) bool {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return false
	}
	defer c.gate.Release(1)

	lock := c.lockFor(modelID)
	if err := lock.Acquire(ctx, 1); err != nil {
		return false
	}
	defer lock.Release(1)

	return c.cache.InvalidateModel(ctx, modelID)
}

// InvalidateAll wipes the whole cache store. It waits for every
// in-flight load and blocks new ones until it is done.
func (c *Controller) InvalidateAll(ctx context.Context) bool {
	if err := c.gate.Acquire(ctx, gateWeight); err != nil {
		return false
	}
	defer c.gate.Release(gateWeight)

	return c.cache.InvalidateAll(ctx)
}

// Status returns a snapshot of the current status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// ModelState returns the last known state of one model.
func (c *Controller) ModelState(modelID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[modelID]
}

// Session returns the live session for modelID.
func (c *Controller) Session(modelID string) (engine.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.registry[modelID]
	return s, ok
}

// Attempt returns a copy of the in-flight attempt for modelID.
func (c *Controller) Attempt(modelID string) (Attempt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.attempts[modelID]
	if !ok {
		return Attempt{}, false
	}
	return *a, true
}

// Subscribe registers a listener and returns a func that removes it.
func (c *Controller) Subscribe(l Listener) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Shutdown unloads every session. Later loads fail with ErrClosed.
func (c *Controller) Shutdown(ctx context.Context) error {
	if err := c.gate.Acquire(ctx, gateWeight); err != nil {
		return err
	}
	defer c.gate.Release(gateWeight)

	c.mu.Lock()
	c.closed = true
	sessions := make(map[string][]engine.Session)
	for id, s := range c.registry {
		sessions[id] = append(sessions[id], s)
	}
	for id, s := range c.stale {
		sessions[id] = append(sessions[id], s)
	}
	c.registry = make(map[string]engine.Session)
	c.stale = make(map[string]engine.Session)
	c.mu.Unlock()

	var errs []error
	for id, list := range sessions {
		for _, s := range list {
			if err := s.Unload(ctx); err != nil {
				c.logger.Warn("Error unloading session", zap.String("model", id), zap.Error(err))
				errs = append(errs, fmt.Errorf("unload %s: %w", id, err))
			}
		}
	}
	return errors.Join(errs...)
}

// ============================================================
// Load state machine
// ============================================================

func (c *Controller) load(ctx context.Context, modelID string, force bool) (engine.Session, error) {
	desc, ok := c.catalog.Lookup(modelID)
	if !ok {
		err := apperrors.UnknownModel(modelID)
		op := c.begin(modelID, StateFailed, fmt.Sprintf("Failed to load %s: %s", modelID, err.Message))
		c.setModelState(modelID, StateFailed)
		c.say(op, fmt.Sprintf("Failed to load %s\n\nError: %s", modelID, err.Message))
		c.stats.RecordFailure()
		return nil, err
	}

	if c.isClosed() {
		return nil, ErrClosed
	}

	if err := c.gate.Acquire(ctx, 1); err != nil {
		return nil, c.abandon(modelID, desc, err)
	}
	defer c.gate.Release(1)

	lock := c.lockFor(modelID)
	if err := lock.Acquire(ctx, 1); err != nil {
		return nil, c.abandon(modelID, desc, err)
	}
	defer lock.Release(1)

	// Shutdown may have run while this load was queued on the gate.
	if c.isClosed() {
		return nil, ErrClosed
	}

	if force {
		c.transcript.Reset()
		c.discard(modelID)
	}

	if sess, ok := c.Session(modelID); ok {
		c.logger.Debug("Model already loaded", zap.String("model", modelID))
		c.begin(modelID, StateReady, "Model already loaded")
		c.setModelState(modelID, StateReady)
		c.stats.RecordFastPath()
		return sess, nil
	}

	op := c.begin(modelID, StateLoading, "Initializing engine...")
	c.setModelState(modelID, StateLoading)
	start := time.Now()

	settled := false
	defer func() {
		if !settled {
			// Only reachable if the engine panicked.
			c.publish(op, modelID, StateFailed, fmt.Sprintf("Failed to load %s", desc.DisplayName))
			c.setModelState(modelID, StateFailed)
		}
	}()

	sess, rule, err := c.run(ctx, op, desc)
	settled = true

	if err == nil {
		c.mu.Lock()
		closed := c.closed
		if !closed {
			c.registry[modelID] = sess
		}
		c.mu.Unlock()

		if closed {
			if uerr := sess.Unload(context.Background()); uerr != nil {
				c.logger.Warn("Error unloading session", zap.String("model", modelID), zap.Error(uerr))
			}
			c.setModelState(modelID, StateFailed)
			return nil, ErrClosed
		}

		c.publish(op, modelID, StateReady, "Model loaded successfully!")
		c.setModelState(modelID, StateReady)
		c.stats.RecordLoad(time.Since(start))
		c.logger.Info("Model loaded", zap.String("model", modelID), zap.Duration("took", time.Since(start)))
		c.say(op, fmt.Sprintf(
			"Hello! I'm %s. I'm running entirely on this machine - no cloud service needed! How can I help you today?",
			desc.DisplayName))
		return sess, nil
	}

	c.stats.RecordFailure()
	c.setModelState(modelID, StateFailed)

	if rule.Kind == apperrors.KindCanceled {
		c.publish(op, modelID, StateFailed, fmt.Sprintf("Loading %s canceled", desc.DisplayName))
		c.logger.Info("Model load canceled", zap.String("model", modelID))
		return nil, c.canceled(modelID, err)
	}

	raw := apperrors.RawMessage(err)
	c.publish(op, modelID, StateFailed, fmt.Sprintf("Failed to load %s: %s", desc.DisplayName, raw))
	c.logger.Error("Failed to load model",
		zap.String("model", modelID),
		zap.String("kind", rule.Kind.String()),
		zap.Error(err))
	c.say(op, fmt.Sprintf("Failed to load %s\n\nError: %s%s", desc.DisplayName, raw, rule.Guidance))

	return nil, apperrors.NewBuilder(apperrors.CodeModelLoadFailed, "failed to load "+modelID).
		Kind(rule.Kind).
		Wrap(err).
		Build()
}

// run is the attempt loop. It returns the governing rule on failure.
func (c *Controller) run(ctx context.Context, op uint64, desc catalog.Descriptor) (engine.Session, apperrors.RecoveryRule, error) {
	modelID := desc.ID
	attempt := &Attempt{ModelID: modelID}

	c.mu.Lock()
	c.attempts[modelID] = attempt
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.attempts, modelID)
		c.mu.Unlock()
	}()

	canceledRule := apperrors.RecoveryRule{Kind: apperrors.KindCanceled}
	log := c.logger.With(zap.String("model", modelID))

	for n := 0; ; n++ {
		c.mu.Lock()
		attempt.RetryCount = n
		c.mu.Unlock()

		if n > 0 {
			log.Info("Retrying model load, clearing cache first", zap.Int("retry", n))
			c.publish(op, modelID, StateLoading, fmt.Sprintf("Clearing cache for %s (retry %d)...", modelID, n))
			if !c.cache.InvalidateModel(ctx, modelID) {
				log.Warn("Cache invalidation before retry failed")
			}

			wait := c.schedule.PreAttemptDelay(n)
			c.publish(op, modelID, StateBackoff, fmt.Sprintf("Waiting %ds to avoid rate limiting...", seconds(wait)))
			c.setModelState(modelID, StateBackoff)
			if err := c.clock.Sleep(ctx, wait); err != nil {
				return nil, canceledRule, err
			}
			c.setModelState(modelID, StateLoading)
		}

		c.unloadStale(ctx, modelID)

		c.publish(op, modelID, StateLoading, fmt.Sprintf("Creating engine for %s...", desc.DisplayName))
		c.stats.RecordAttempt(n > 0)

		tracker := newProgressTracker(func(text string) {
			c.publish(op, modelID, StateLoading, text)
		})
		sess, err := c.engine.CreateSession(ctx, modelID, tracker.report)

		if err == nil && ctx.Err() != nil {
			// Success arrived after the caller gave up.
			c.markStale(modelID, sess)
			return nil, canceledRule, ctx.Err()
		}
		if err == nil {
			return sess, apperrors.RecoveryRule{}, nil
		}
		if sess != nil {
			c.markStale(modelID, sess)
		}

		c.mu.Lock()
		attempt.LastError = err
		c.mu.Unlock()

		if ctx.Err() != nil {
			return nil, canceledRule, ctx.Err()
		}

		rule := c.table.Classify(err)
		if !rule.AllowsRetry(n) {
			return nil, rule, err
		}

		delay := c.schedule.RetryDelay(n)
		raw := apperrors.RawMessage(err)
		log.Warn("Model load failed, will retry",
			zap.Int("attempt", n+1),
			zap.String("kind", rule.Kind.String()),
			zap.Duration("in", delay),
			zap.Error(err))

		c.setModelState(modelID, StateBackoff)
		c.publish(op, modelID, StateBackoff, fmt.Sprintf("Error detected, retrying %s in %ds...", modelID, seconds(delay)))
		err = apperrors.Countdown(ctx, c.clock, delay, c.schedule.Tick, func(remaining time.Duration) {
			c.publish(op, modelID, StateBackoff, fmt.Sprintf("Retrying %s in %ds... (%s)", modelID, seconds(remaining), raw))
		})
		if err != nil {
			return nil, canceledRule, err
		}
	}
}

// discard moves the registry entry for modelID to the stale slot so the
// next attempt unloads it.
func (c *Controller) discard(modelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.registry[modelID]; ok {
		delete(c.registry, modelID)
		c.stale[modelID] = s
	}
	delete(c.attempts, modelID)
	delete(c.states, modelID)
}

func (c *Controller) markStale(modelID string, s engine.Session) {
	c.mu.Lock()
	prev := c.stale[modelID]
	c.stale[modelID] = s
	c.mu.Unlock()

	if prev != nil && prev != s {
		if err := prev.Unload(context.Background()); err != nil {
			c.logger.Info("Error unloading previous session", zap.String("model", modelID), zap.Error(err))
		}
	}
}

// unloadStale releases a session left by an earlier attempt. Failures
// are logged and swallowed; the slot is being replaced regardless.
func (c *Controller) unloadStale(ctx context.Context, modelID string) {
	c.mu.Lock()
	s, ok := c.stale[modelID]
	delete(c.stale, modelID)
	c.mu.Unlock()

	if !ok {
		return
	}
	if err := s.Unload(ctx); err != nil {
		c.logger.Info("Error unloading previous session", zap.String("model", modelID), zap.Error(err))
	}
}

// ============================================================
// Status plumbing
// ============================================================

// begin starts a new operation; earlier operations stop publishing to
// the global status from here on.
func (c *Controller) begin(modelID string, state State, progress string) uint64 {
	c.mu.Lock()
	c.op++
	op := c.op
	c.mu.Unlock()

	c.publish(op, modelID, state, progress)
	return op
}

// publish updates the global status if op is still the latest
// operation, then notifies listeners.
func (c *Controller) publish(op uint64, modelID string, state State, progress string) {
	c.mu.Lock()
	if op != c.op {
		c.mu.Unlock()
		return
	}
	c.status.State = state
	c.status.Model = modelID
	c.status.Progress = progress
	snap := c.snapshotLocked()
	listeners := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

// say appends an assistant turn unless the user has moved on to
// another operation.
func (c *Controller) say(op uint64, text string) {
	c.mu.Lock()
	current := op == c.op
	c.mu.Unlock()
	if current {
		c.transcript.AppendAssistant(text)
	}
}

func (c *Controller) setModelState(modelID string, state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[modelID] = state
}

func (c *Controller) snapshotLocked() Status {
	snap := c.status
	snap.Loaded = make([]string, 0, len(c.registry))
	for id := range c.registry {
		snap.Loaded = append(snap.Loaded, id)
	}
	sort.Strings(snap.Loaded)
	return snap
}

func (c *Controller) lockFor(modelID string) *semaphore.Weighted {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[modelID]
	if !ok {
		l = semaphore.NewWeighted(1)
		c.locks[modelID] = l
	}
	return l
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// abandon settles a load that was canceled before it reached the engine.
func (c *Controller) abandon(modelID string, desc catalog.Descriptor, err error) error {
	c.begin(modelID, StateFailed, fmt.Sprintf("Loading %s canceled", desc.DisplayName))
	c.setModelState(modelID, StateFailed)
	c.logger.Info("Model load canceled while queued", zap.String("model", modelID))
	return c.canceled(modelID, err)
}

func (c *Controller) canceled(modelID string, err error) error {
	return apperrors.NewBuilder(apperrors.CodeModelCanceled, "loading "+modelID+" canceled").
		Kind(apperrors.KindCanceled).
		Wrap(err).
		Build()
}

// seconds rounds a duration up to whole seconds for display.
func seconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
