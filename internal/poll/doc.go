// Package poll implements the adaptive polling scheduler that drives the
// pull-style fallback alongside the push channel. It owns a single timer
// chain whose cadence stretches during inactivity, pauses while the host is
// hidden, and can be suppressed by the caller while a mutation is in flight.
package poll
