// Package system provides a real clock implementation.
package system

import (
	"time"

	"github.com/opmon/transfer-monitor/internal/clock"
)

// Clock implements clock.Clock using the time package.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// AfterFunc arms a one-shot timer backed by time.AfterFunc.
func (Clock) AfterFunc(d time.Duration, f func()) clock.Timer {
	return time.AfterFunc(d, f)
}
