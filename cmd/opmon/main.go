// Package main wires together the operation monitor service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/opmon/transfer-monitor/internal/api"
	"github.com/opmon/transfer-monitor/internal/config"
	"github.com/opmon/transfer-monitor/internal/logging"
	"github.com/opmon/transfer-monitor/internal/metrics"
	"github.com/opmon/transfer-monitor/internal/monitor"
	"github.com/opmon/transfer-monitor/internal/poll"
)

const shutdownGrace = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()

	mon, err := monitor.New(cfg, logger, newFetch(cfg.Poll.FetchURL, logger))
	if err != nil {
		logger.Fatal("build monitor", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mon.Start(ctx)
	defer mon.Close()

	statusServer := api.NewServer(mon.Aggregator(), mon.Connector(), logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           statusServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("status server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("status server shutdown", zap.Error(err))
	}
}

// newFetch builds the poll action: a GET against the caller-configured
// endpoint. An empty URL yields a no-op fetch so polling can run purely as a
// liveness heartbeat.
func newFetch(url string, logger *zap.Logger) poll.FetchFunc {
	if url == "" {
		logger.Info("poll.fetch_url not set, polling is a no-op heartbeat")
		return func(context.Context) error { return nil }
	}
	client := &http.Client{Timeout: 15 * time.Second}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build poll request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("poll fetch: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("poll fetch: unexpected status %d", resp.StatusCode)
		}
		return nil
	}
}
