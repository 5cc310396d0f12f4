// Package clock abstracts time sources so timer-driven components can be
// tested deterministically.
package clock

import "time"

// Timer is an armed one-shot callback that can be cancelled before it fires.
type Timer interface {
	// Stop cancels the timer. It reports whether the call prevented the
	// callback from running. Stop is safe to call multiple times.
	Stop() bool
}

// Clock provides the current time and one-shot timers.
type Clock interface {
	Now() time.Time
	// AfterFunc arms f to run on its own goroutine after d elapses.
	AfterFunc(d time.Duration, f func()) Timer
}
