package optimistic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opmon/transfer-monitor/internal/clock"
	"github.com/opmon/transfer-monitor/internal/clock/system"
)

// Transform produces the speculative next value from the current one.
type Transform[T any] func(current T) T

// Action is the confirming side effect, typically a REST mutation performed
// by the caller.
type Action func(ctx context.Context) error

// UpdateOption tunes a single Update call.
type UpdateOption func(*updateOptions)

type updateOptions struct {
	rollbackDelay time.Duration
}

// WithRollbackDelay defers the revert after a failed action, letting the
// caller keep the speculative value on screen briefly. Zero reverts
// immediately.
func WithRollbackDelay(d time.Duration) UpdateOption {
	return func(o *updateOptions) { o.rollbackDelay = d }
}

// Coordinator holds a value plus the single most-recent pre-update snapshot.
// Overlapping updates overwrite the snapshot: only one undo level exists.
type Coordinator[T any] struct {
	mu          sync.Mutex
	value       T
	snapshot    T
	hasSnapshot bool
	clk         clock.Clock
}

// NewCoordinator seats the initial value. A nil clock uses the system clock.
func NewCoordinator[T any](initial T, clk clock.Clock) *Coordinator[T] {
	if clk == nil {
		clk = system.New()
	}
	return &Coordinator[T]{value: initial, clk: clk}
}

// Value returns the currently exposed value, speculative or confirmed.
func (c *Coordinator[T]) Value() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set replaces the value outside the optimistic protocol (e.g. seeding from
// a fetched snapshot). It discards any retained rollback snapshot.
func (c *Coordinator[T]) Set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
	c.hasSnapshot = false
}

// Update snapshots the current value, exposes transform(current)
// immediately, then runs action. On success the speculative value stays and
// Update returns nil. On failure the snapshot is restored (after the
// configured rollback delay) and the error is returned wrapped.
func (c *Coordinator[T]) Update(ctx context.Context, transform Transform[T], action Action, opts ...UpdateOption) error {
	var o updateOptions
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.Lock()
	c.snapshot = c.value
	c.hasSnapshot = true
	c.value = transform(c.value)
	c.mu.Unlock()

	if err := action(ctx); err != nil {
		if o.rollbackDelay > 0 {
			c.clk.AfterFunc(o.rollbackDelay, c.Rollback)
		} else {
			c.Rollback()
		}
		return fmt.Errorf("optimistic action failed: %w", err)
	}
	return nil
}

// Rollback restores the last snapshot, if one is retained, and consumes it.
// Safe to call at any time, including with no update in flight.
func (c *Coordinator[T]) Rollback() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasSnapshot {
		return
	}
	c.value = c.snapshot
	c.hasSnapshot = false
}
