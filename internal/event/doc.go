// Package event defines the envelope decoded from each inbound transport
// frame and the typed publish/subscribe dispatcher that fans envelopes out to
// registered callbacks. Everything downstream of the transport (the progress
// aggregator, external subscribers) consumes events through this package.
package event
