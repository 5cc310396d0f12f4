// Package monitor composes the event dispatcher, push channel connector,
// polling scheduler, and progress aggregator into one live operation monitor,
// acting as the dependency container for the service.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/opmon/transfer-monitor/internal/config"
	"github.com/opmon/transfer-monitor/internal/event"
	"github.com/opmon/transfer-monitor/internal/logging"
	"github.com/opmon/transfer-monitor/internal/poll"
	"github.com/opmon/transfer-monitor/internal/stream"
	"github.com/opmon/transfer-monitor/internal/track"
)

// Monitor owns one instance of each runtime component. Compose one Monitor
// per monitored view; nothing here is a process-wide singleton.
type Monitor struct {
	logger     *zap.Logger
	dispatcher *event.Dispatcher
	connector  *stream.Connector
	scheduler  *poll.Scheduler
	aggregator *track.Aggregator
	detach     func()

	closeOnce sync.Once
}

// New builds a stopped Monitor from configuration. fetch is the caller's
// poll action; the scheduler invokes it on its adaptive cadence.
func New(cfg config.Config, logger *zap.Logger, fetch poll.FetchFunc) (*Monitor, error) {
	if fetch == nil {
		return nil, errors.New("monitor: fetch callback is required")
	}
	logger = logging.OrNop(logger)

	dispatcher := event.NewDispatcher(logger.Named("dispatcher"))

	aggregator := track.NewAggregator(logger.Named("track"), nil)
	detach := aggregator.Attach(dispatcher)

	connector := stream.NewConnector(stream.Config{
		Endpoint:       cfg.Stream.Endpoint,
		MaxRetries:     cfg.Stream.MaxRetries,
		ReconnectDelay: cfg.Stream.ReconnectDelay(),
		Logger:         logger.Named("stream"),
	}, dispatcher)

	scheduler, err := poll.NewScheduler(poll.Config{
		Fetch:          fetch,
		BaseInterval:   cfg.Poll.BaseInterval(),
		MaxInterval:    cfg.Poll.MaxInterval(),
		BackoffFactor:  cfg.Poll.BackoffFactor,
		UseBackoff:     cfg.Poll.UseBackoff,
		PauseOnHidden:  cfg.Poll.PauseOnHidden,
		IdleThreshold:  cfg.Poll.IdleThreshold(),
		PendingTimeout: cfg.Poll.PendingTimeout(),
		Logger:         logger.Named("poll"),
	})
	if err != nil {
		detach()
		return nil, fmt.Errorf("build scheduler: %w", err)
	}

	return &Monitor{
		logger:     logger,
		dispatcher: dispatcher,
		connector:  connector,
		scheduler:  scheduler,
		aggregator: aggregator,
		detach:     detach,
	}, nil
}

// Start opens the push channel and enables polling. ctx scopes every poll
// fetch; cancel it before Close on shutdown.
func (m *Monitor) Start(ctx context.Context) {
	m.connector.Connect()
	m.scheduler.Start(ctx)
}

// Close tears everything down. Idempotent; no event or tick is delivered
// after it returns.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		m.scheduler.Stop()
		m.connector.Disconnect()
		m.detach()
	})
}

// Dispatcher exposes the pub/sub registry for external subscribers.
func (m *Monitor) Dispatcher() *event.Dispatcher {
	return m.dispatcher
}

// Connector exposes the push channel state machine.
func (m *Monitor) Connector() *stream.Connector {
	return m.connector
}

// Scheduler exposes the polling controls (pending, visibility, refresh).
func (m *Monitor) Scheduler() *poll.Scheduler {
	return m.scheduler
}

// Aggregator exposes the per-operation progress snapshots.
func (m *Monitor) Aggregator() *track.Aggregator {
	return m.aggregator
}
