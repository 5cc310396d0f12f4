package poll

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opmon/transfer-monitor/internal/clock"
	"github.com/opmon/transfer-monitor/internal/clock/system"
	"github.com/opmon/transfer-monitor/internal/logging"
	"github.com/opmon/transfer-monitor/internal/metrics"
)

// FetchFunc is the caller-supplied poll action. The scheduler observes only
// success or failure; the payload is the caller's business.
type FetchFunc func(ctx context.Context) error

// Defaults for the adaptive cadence.
const (
	DefaultMaxInterval   = 60 * time.Second
	DefaultBackoffFactor = 1.5
	DefaultIdleThreshold = 30 * time.Second
)

// Config controls a Scheduler.
//   - Fetch: required poll action.
//   - BaseInterval: required steady-state cadence.
//   - MaxInterval: backoff ceiling (default 60s).
//   - BackoffFactor: interval multiplier while idle (default 1.5).
//   - UseBackoff: stretch the interval after IdleThreshold of inactivity.
//   - PauseOnHidden: stop ticking while the host reports hidden.
//   - IdleThreshold: inactivity needed before backoff applies (default 30s).
//   - PendingTimeout: optional safety valve that auto-clears the pending
//     flag; zero preserves caller-managed behavior.
//   - Clock, Logger: optional injection points.
type Config struct {
	Fetch          FetchFunc
	BaseInterval   time.Duration
	MaxInterval    time.Duration
	BackoffFactor  float64
	UseBackoff     bool
	PauseOnHidden  bool
	IdleThreshold  time.Duration
	PendingTimeout time.Duration
	Clock          clock.Clock
	Logger         *zap.Logger
}

// Scheduler owns one timer chain. Every re-arm cancels the prior timer and a
// generation counter invalidates callbacks from torn-down chains, so at most
// one tick sequence is ever live.
type Scheduler struct {
	cfg    Config
	clk    clock.Clock
	logger *zap.Logger

	mu           sync.Mutex
	ctx          context.Context
	running      bool
	paused       bool
	visible      bool
	pending      bool
	current      time.Duration
	lastActivity time.Time
	timer        clock.Timer
	pendingTimer clock.Timer
	gen          uint64
}

// NewScheduler validates cfg and builds a stopped scheduler. The host is
// assumed visible until SetVisible says otherwise.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Fetch == nil {
		return nil, errors.New("poll: fetch callback is required")
	}
	if cfg.BaseInterval <= 0 {
		return nil, errors.New("poll: base interval must be > 0")
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultMaxInterval
	}
	if cfg.BackoffFactor <= 1 {
		cfg.BackoffFactor = DefaultBackoffFactor
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = DefaultIdleThreshold
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	return &Scheduler{
		cfg:     cfg,
		clk:     cfg.Clock,
		logger:  logging.OrNop(cfg.Logger),
		visible: true,
		current: cfg.BaseInterval,
	}, nil
}

// Start enables polling: an immediate fetch (unless suppressed) followed by
// the timer chain. ctx is passed to every fetch invocation. No-op while
// already running.
func (s *Scheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.ctx = ctx
	s.gen++
	s.current = s.cfg.BaseInterval
	s.lastActivity = s.clk.Now()
	if !s.schedulableLocked() {
		s.mu.Unlock()
		return
	}
	fetch := !s.pending
	s.armLocked()
	s.mu.Unlock()

	if fetch {
		s.runFetch()
	}
}

// Stop tears the chain down. No callback fires after Stop returns.
// Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.gen++
	s.stopTimersLocked()
}

// Pause is the explicit manual override: it clears all timers without
// disabling the scheduler.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return
	}
	s.paused = true
	s.gen++
	s.stopTimersLocked()
}

// Resume undoes Pause: backoff resets to the base interval and the chain is
// re-armed. No immediate fetch.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return
	}
	s.paused = false
	if !s.running {
		return
	}
	s.resetBackoffLocked()
	if s.schedulableLocked() {
		s.armLocked()
	}
}

// Refresh resets backoff and fetches immediately, bypassing the armed timer.
// It is a no-op while pending is set.
func (s *Scheduler) Refresh() {
	s.mu.Lock()
	if !s.running || s.paused || s.pending {
		s.mu.Unlock()
		return
	}
	s.resetBackoffLocked()
	if s.schedulableLocked() {
		s.armLocked()
	}
	s.mu.Unlock()

	s.runFetch()
}

// MarkActivity records a user-interaction signal: the idle clock restarts and
// the interval snaps back to the base cadence.
func (s *Scheduler) MarkActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetBackoffLocked()
}

// SetPending toggles caller-controlled tick suppression. While pending, armed
// ticks re-arm without fetching and Refresh is inert. When PendingTimeout is
// configured, a forgotten flag auto-clears after the timeout.
func (s *Scheduler) SetPending(pending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == pending {
		return
	}
	s.pending = pending
	if s.pendingTimer != nil {
		s.pendingTimer.Stop()
		s.pendingTimer = nil
	}
	if pending && s.cfg.PendingTimeout > 0 {
		s.pendingTimer = s.clk.AfterFunc(s.cfg.PendingTimeout, s.clearStalePending)
	}
}

// SetVisible reports host visibility. With PauseOnHidden set, hiding stops
// the chain; becoming visible resets backoff and fetches immediately.
func (s *Scheduler) SetVisible(visible bool) {
	s.mu.Lock()
	if s.visible == visible {
		s.mu.Unlock()
		return
	}
	s.visible = visible
	if !visible {
		if s.cfg.PauseOnHidden {
			s.gen++
			s.stopTimersLocked()
		}
		s.mu.Unlock()
		return
	}
	s.resetBackoffLocked()
	fetch := false
	if s.cfg.PauseOnHidden && s.running && !s.paused {
		fetch = !s.pending
		s.armLocked()
	}
	s.mu.Unlock()

	if fetch {
		s.runFetch()
	}
}

// CurrentInterval exposes the adaptive interval for introspection and tests.
func (s *Scheduler) CurrentInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Pending reports whether tick suppression is active.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Running reports whether the scheduler has been started and not stopped.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) schedulableLocked() bool {
	return s.running && !s.paused && (s.visible || !s.cfg.PauseOnHidden)
}

// armLocked cancels any prior timer and arms the next tick, growing the
// interval first when the idle threshold has elapsed.
func (s *Scheduler) armLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cfg.UseBackoff && s.clk.Now().Sub(s.lastActivity) > s.cfg.IdleThreshold {
		grown := time.Duration(float64(s.current) * s.cfg.BackoffFactor)
		if grown > s.cfg.MaxInterval {
			grown = s.cfg.MaxInterval
		}
		s.current = grown
	}
	metrics.SetPollInterval(s.current.Seconds())
	gen := s.gen
	s.timer = s.clk.AfterFunc(s.current, func() {
		s.tick(gen)
	})
}

func (s *Scheduler) tick(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || !s.schedulableLocked() {
		s.mu.Unlock()
		return
	}
	fetch := !s.pending
	s.armLocked()
	s.mu.Unlock()

	if !fetch {
		metrics.PollTick("skipped")
		return
	}
	s.runFetch()
}

func (s *Scheduler) runFetch() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.cfg.Fetch(ctx); err != nil {
		metrics.PollTick("failed")
		s.logger.Warn("poll fetch failed", zap.Error(err))
		return
	}
	metrics.PollTick("fetched")
}

func (s *Scheduler) resetBackoffLocked() {
	s.lastActivity = s.clk.Now()
	s.current = s.cfg.BaseInterval
}

func (s *Scheduler) clearStalePending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending {
		return
	}
	s.pending = false
	s.pendingTimer = nil
	s.logger.Warn("pending flag held past timeout, clearing it",
		zap.Duration("timeout", s.cfg.PendingTimeout),
	)
}

func (s *Scheduler) stopTimersLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
