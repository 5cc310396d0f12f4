// Package api hosts the read-only status HTTP surface for operators.
// Notable routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/operations for the aggregator's per-operation snapshot.
//   - GET /api/connection for the push channel state machine.
//
// The monitor never mutates anything through this server; entity CRUD lives
// with the backing application.
package api
