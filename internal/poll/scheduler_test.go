package poll

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opmon/transfer-monitor/internal/clock"
)

// fakeClock drives timers manually so cadence tests are deterministic.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clk      *fakeClock
	deadline time.Time
	fn       func()
	stopped  bool
	fired    bool
}

func (t *fakeTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clk: c, deadline: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock to now+d, firing due timers in deadline order.
// Callbacks run synchronously and may arm new timers.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.deadline.After(target) {
				continue
			}
			if next == nil || t.deadline.Before(next.deadline) {
				next = t
			}
		}
		if next == nil {
			break
		}
		if next.deadline.After(c.now) {
			c.now = next.deadline
		}
		next.fired = true
		fn := next.fn
		c.mu.Unlock()
		fn()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

type fetchCounter struct {
	calls atomic.Int64
	err   error
}

func (f *fetchCounter) fetch(context.Context) error {
	f.calls.Add(1)
	return f.err
}

func (f *fetchCounter) count() int64 { return f.calls.Load() }

func newTestScheduler(t *testing.T, mutate func(*Config)) (*Scheduler, *fakeClock, *fetchCounter) {
	t.Helper()
	clk := newFakeClock()
	fc := &fetchCounter{}
	cfg := Config{
		Fetch:         fc.fetch,
		BaseInterval:  5 * time.Second,
		MaxInterval:   60 * time.Second,
		BackoffFactor: 1.5,
		UseBackoff:    true,
		PauseOnHidden: true,
		Clock:         clk,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewScheduler(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s, clk, fc
}

func TestNewSchedulerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewScheduler(Config{BaseInterval: time.Second})
	require.Error(t, err)

	_, err = NewScheduler(Config{Fetch: func(context.Context) error { return nil }})
	require.Error(t, err)
}

func TestStartFetchesImmediatelyThenTicks(t *testing.T) {
	t.Parallel()

	s, clk, fc := newTestScheduler(t, nil)
	s.Start(context.Background())
	require.EqualValues(t, 1, fc.count())

	clk.Advance(5 * time.Second)
	require.EqualValues(t, 2, fc.count())
	clk.Advance(5 * time.Second)
	require.EqualValues(t, 3, fc.count())

	s.Start(context.Background()) // no-op while running
	require.EqualValues(t, 3, fc.count())
}

func TestBackoffGrowsAfterIdleThresholdAndCaps(t *testing.T) {
	t.Parallel()

	s, clk, _ := newTestScheduler(t, nil)
	s.Start(context.Background())

	// Within the idle threshold the cadence holds at the base interval.
	clk.Advance(30 * time.Second)
	require.Equal(t, 5*time.Second, s.CurrentInterval())

	// First idle tick: 5s * 1.5 = 7.5s, then 11.25s.
	clk.Advance(5 * time.Second)
	require.Equal(t, 7500*time.Millisecond, s.CurrentInterval())
	clk.Advance(7500 * time.Millisecond)
	require.Equal(t, 11250*time.Millisecond, s.CurrentInterval())

	// Eventually capped at the max interval.
	for i := 0; i < 10; i++ {
		clk.Advance(s.CurrentInterval())
	}
	require.Equal(t, 60*time.Second, s.CurrentInterval())
	clk.Advance(60 * time.Second)
	require.Equal(t, 60*time.Second, s.CurrentInterval())
}

func TestMarkActivityResetsBackoff(t *testing.T) {
	t.Parallel()

	s, clk, _ := newTestScheduler(t, nil)
	s.Start(context.Background())

	clk.Advance(35 * time.Second)
	require.Equal(t, 7500*time.Millisecond, s.CurrentInterval())

	s.MarkActivity()
	require.Equal(t, 5*time.Second, s.CurrentInterval())
}

func TestHiddenHostSuppressesFetches(t *testing.T) {
	t.Parallel()

	s, clk, fc := newTestScheduler(t, nil)
	s.Start(context.Background())
	require.EqualValues(t, 1, fc.count())

	s.SetVisible(false)
	clk.Advance(time.Minute)
	require.EqualValues(t, 1, fc.count())

	// Visibility returning fetches immediately and re-arms at the base cadence.
	s.SetVisible(true)
	require.EqualValues(t, 2, fc.count())
	require.Equal(t, 5*time.Second, s.CurrentInterval())
	clk.Advance(5 * time.Second)
	require.EqualValues(t, 3, fc.count())
}

func TestPendingSuppressesTicksAndRefresh(t *testing.T) {
	t.Parallel()

	s, clk, fc := newTestScheduler(t, nil)
	s.Start(context.Background())
	require.EqualValues(t, 1, fc.count())

	s.SetPending(true)
	clk.Advance(5 * time.Second)
	clk.Advance(5 * time.Second)
	require.EqualValues(t, 1, fc.count())

	s.Refresh() // inert while pending
	require.EqualValues(t, 1, fc.count())

	// The timer chain stayed alive: clearing pending resumes fetching.
	s.SetPending(false)
	clk.Advance(5 * time.Second)
	require.EqualValues(t, 2, fc.count())
}

func TestRefreshResetsBackoffAndFetchesNow(t *testing.T) {
	t.Parallel()

	s, clk, fc := newTestScheduler(t, nil)
	s.Start(context.Background())
	clk.Advance(35 * time.Second)
	require.Equal(t, 7500*time.Millisecond, s.CurrentInterval())
	before := fc.count()

	s.Refresh()
	require.EqualValues(t, before+1, fc.count())
	require.Equal(t, 5*time.Second, s.CurrentInterval())
}

func TestPauseClearsTimersAndResumeRearms(t *testing.T) {
	t.Parallel()

	s, clk, fc := newTestScheduler(t, nil)
	s.Start(context.Background())
	require.EqualValues(t, 1, fc.count())

	s.Pause()
	clk.Advance(time.Minute)
	require.EqualValues(t, 1, fc.count())

	s.Resume()
	require.EqualValues(t, 1, fc.count()) // no immediate fetch on resume
	clk.Advance(5 * time.Second)
	require.EqualValues(t, 2, fc.count())
}

func TestStopIsTerminalAndIdempotent(t *testing.T) {
	t.Parallel()

	s, clk, fc := newTestScheduler(t, nil)
	s.Start(context.Background())
	s.Stop()
	s.Stop()

	clk.Advance(time.Minute)
	require.EqualValues(t, 1, fc.count())
	require.False(t, s.Running())
}

func TestPendingTimeoutAutoClears(t *testing.T) {
	t.Parallel()

	s, clk, fc := newTestScheduler(t, func(cfg *Config) {
		cfg.PendingTimeout = 10 * time.Second
	})
	s.Start(context.Background())
	require.EqualValues(t, 1, fc.count())

	s.SetPending(true)
	clk.Advance(10 * time.Second)
	require.False(t, s.Pending())

	clk.Advance(10 * time.Second)
	require.GreaterOrEqual(t, fc.count(), int64(2))
}

func TestFetchErrorKeepsChainAlive(t *testing.T) {
	t.Parallel()

	s, clk, fc := newTestScheduler(t, nil)
	fc.err = errors.New("backend unavailable")

	s.Start(context.Background())
	require.EqualValues(t, 1, fc.count())
	clk.Advance(5 * time.Second)
	require.EqualValues(t, 2, fc.count())
	clk.Advance(5 * time.Second)
	require.EqualValues(t, 3, fc.count())
}
