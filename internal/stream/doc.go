// Package stream owns the persistent push channel: a single WebSocket
// transport whose frames are decoded into envelopes and forwarded to the
// event dispatcher. The connector heals itself with a bounded reconnect loop
// and goes terminal (failed) once the retry budget is spent.
package stream
