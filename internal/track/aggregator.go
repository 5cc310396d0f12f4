package track

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opmon/transfer-monitor/internal/clock"
	"github.com/opmon/transfer-monitor/internal/clock/system"
	"github.com/opmon/transfer-monitor/internal/event"
	"github.com/opmon/transfer-monitor/internal/logging"
	"github.com/opmon/transfer-monitor/internal/metrics"
)

// Status is the per-operation lifecycle status.
type Status string

// Supported statuses. Complete and error are terminal: once reached, a stale
// progress/paused/resumed delivery (a reconnect can replay a backlog) does
// not regress the entry. A fresh start or queued event recreates it.
const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusUploading   Status = "uploading"
	StatusPaused      Status = "paused"
	StatusComplete    Status = "complete"
	StatusError       Status = "error"
)

// Terminal reports whether s refuses merges from non-creating events.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

func activeStatus(family event.Family) Status {
	if family == event.FamilyUpload {
		return StatusUploading
	}
	return StatusDownloading
}

// Entry is the snapshot for one operation id.
type Entry struct {
	ID        string         `json:"id"`
	Family    event.Family   `json:"family"`
	Status    Status         `json:"status"`
	Percent   float64        `json:"percent"`
	Speed     float64        `json:"speed,omitempty"`
	ETA       float64        `json:"eta,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Aggregator owns the operation id → Entry map. Safe for concurrent use.
type Aggregator struct {
	mu      sync.Mutex
	entries map[string]*Entry
	logger  *zap.Logger
	clk     clock.Clock
}

// NewAggregator builds an empty aggregator. Nil logger and clock fall back to
// no-op logging and the system clock.
func NewAggregator(logger *zap.Logger, clk clock.Clock) *Aggregator {
	if clk == nil {
		clk = system.New()
	}
	return &Aggregator{
		entries: make(map[string]*Entry),
		logger:  logging.OrNop(logger),
		clk:     clk,
	}
}

// Attach subscribes the aggregator to every envelope the dispatcher sees.
// The returned detach func is idempotent.
func (a *Aggregator) Attach(d *event.Dispatcher) (detach func()) {
	return d.Subscribe(event.Wildcard, a.Apply)
}

// Apply folds one envelope into the map. Non-transfer envelopes and transfer
// envelopes without an operation id are ignored.
func (a *Aggregator) Apply(env event.Envelope) {
	payload, ok := env.Transfer()
	if !ok {
		return
	}
	family, _ := env.Type.Family()
	subtype := env.Type.Subtype()

	a.mu.Lock()
	switch subtype {
	case "start", "queued":
		entry := &Entry{
			ID:      payload.OperationID,
			Family:  family,
			Status:  activeStatus(family),
			Percent: 0,
		}
		if subtype == "queued" {
			entry.Status = StatusQueued
		}
		entry.Fields = copyFields(payload.Fields)
		entry.UpdatedAt = a.clk.Now()
		a.entries[payload.OperationID] = entry

	case "progress", "paused", "resumed":
		entry := a.ensureLocked(payload.OperationID, family)
		if entry.Status.Terminal() {
			a.logger.Debug("ignoring stale event for terminal operation",
				zap.String("operation_id", payload.OperationID),
				zap.String("type", string(env.Type)),
				zap.String("status", string(entry.Status)),
			)
			break
		}
		a.mergeLocked(entry, payload)
		switch subtype {
		case "paused":
			entry.Status = StatusPaused
		case "resumed":
			entry.Status = activeStatus(family)
		}

	case "complete":
		entry := a.ensureLocked(payload.OperationID, family)
		a.mergeLocked(entry, payload)
		entry.Percent = 100
		entry.Status = StatusComplete

	case "error":
		// Partial progress fields are kept for diagnostics.
		entry := a.ensureLocked(payload.OperationID, family)
		a.mergeLocked(entry, payload)
		entry.Status = StatusError

	case "cancelled":
		delete(a.entries, payload.OperationID)
	}
	size := len(a.entries)
	a.mu.Unlock()

	metrics.SetActiveOperations(size)
}

// Get returns the entry for id, if tracked.
func (a *Aggregator) Get(id string) (Entry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.entries[id]
	if !ok {
		return Entry{}, false
	}
	return cloneEntry(entry), true
}

// Snapshot returns a copy of the full map.
func (a *Aggregator) Snapshot() map[string]Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]Entry, len(a.entries))
	for id, entry := range a.entries {
		out[id] = cloneEntry(entry)
	}
	return out
}

// Len returns the number of tracked operations.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Clear drops the entry for id.
func (a *Aggregator) Clear(id string) {
	a.mu.Lock()
	delete(a.entries, id)
	size := len(a.entries)
	a.mu.Unlock()
	metrics.SetActiveOperations(size)
}

// ClearAll drops every entry.
func (a *Aggregator) ClearAll() {
	a.mu.Lock()
	a.entries = make(map[string]*Entry)
	a.mu.Unlock()
	metrics.SetActiveOperations(0)
}

// ensureLocked returns the existing entry or creates one, since an operation
// may first appear through a non-creating event (missed start across a
// reconnect boundary).
func (a *Aggregator) ensureLocked(id string, family event.Family) *Entry {
	if entry, ok := a.entries[id]; ok {
		return entry
	}
	entry := &Entry{
		ID:     id,
		Family: family,
		Status: activeStatus(family),
		Fields: make(map[string]any),
	}
	a.entries[id] = entry
	return entry
}

// mergeLocked shallow-merges the payload: fields absent from the new event
// keep their prior values.
func (a *Aggregator) mergeLocked(entry *Entry, payload event.TransferPayload) {
	if entry.Fields == nil {
		entry.Fields = make(map[string]any)
	}
	for k, v := range payload.Fields {
		entry.Fields[k] = v
	}
	if payload.Percent != nil {
		entry.Percent = *payload.Percent
	}
	if payload.Speed != nil {
		entry.Speed = *payload.Speed
	}
	if payload.ETA != nil {
		entry.ETA = *payload.ETA
	}
	entry.UpdatedAt = a.clk.Now()
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func cloneEntry(entry *Entry) Entry {
	out := *entry
	out.Fields = copyFields(entry.Fields)
	return out
}
