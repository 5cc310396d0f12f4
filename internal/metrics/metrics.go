// Package metrics exposes Prometheus collectors for the operation monitor.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	monitorEnvelopesTotal      *prometheus.CounterVec
	monitorDecodeFailuresTotal prometheus.Counter
	monitorListenerPanicsTotal prometheus.Counter
	monitorReconnectsTotal     prometheus.Counter
	monitorConnectionState     prometheus.Gauge
	monitorPollTicksTotal      *prometheus.CounterVec
	monitorPollIntervalSeconds prometheus.Gauge
	monitorActiveOperations    prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		monitorEnvelopesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_envelopes_total",
				Help: "Total number of envelopes dispatched, labeled by event type.",
			},
			[]string{"type"},
		)

		monitorDecodeFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "monitor_decode_failures_total",
				Help: "Total number of inbound frames dropped because they could not be decoded.",
			},
		)

		monitorListenerPanicsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "monitor_listener_panics_total",
				Help: "Total number of subscriber callbacks that panicked during dispatch.",
			},
		)

		monitorReconnectsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "monitor_reconnects_total",
				Help: "Total number of reconnect attempts armed after a transport error.",
			},
		)

		monitorConnectionState = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "monitor_connection_state",
				Help: "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 retrying, 4 failed).",
			},
		)

		monitorPollTicksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_poll_ticks_total",
				Help: "Total number of poll ticks, labeled by outcome (fetched, skipped, failed).",
			},
			[]string{"outcome"},
		)

		monitorPollIntervalSeconds = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "monitor_poll_interval_seconds",
				Help: "Current adaptive poll interval in seconds.",
			},
		)

		monitorActiveOperations = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "monitor_active_operations",
				Help: "Number of operations currently tracked by the aggregator.",
			},
		)
	})
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// EnvelopeDispatched counts one dispatched envelope of the given type.
func EnvelopeDispatched(eventType string) {
	if monitorEnvelopesTotal == nil {
		return
	}
	monitorEnvelopesTotal.WithLabelValues(eventType).Inc()
}

// DecodeFailure counts one dropped inbound frame.
func DecodeFailure() {
	if monitorDecodeFailuresTotal == nil {
		return
	}
	monitorDecodeFailuresTotal.Inc()
}

// ListenerPanic counts one recovered subscriber panic.
func ListenerPanic() {
	if monitorListenerPanicsTotal == nil {
		return
	}
	monitorListenerPanicsTotal.Inc()
}

// ReconnectArmed counts one armed reconnect attempt.
func ReconnectArmed() {
	if monitorReconnectsTotal == nil {
		return
	}
	monitorReconnectsTotal.Inc()
}

// SetConnectionState records the connector's state as a numeric gauge.
func SetConnectionState(state int) {
	if monitorConnectionState == nil {
		return
	}
	monitorConnectionState.Set(float64(state))
}

// PollTick counts one scheduler tick with its outcome.
func PollTick(outcome string) {
	if monitorPollTicksTotal == nil {
		return
	}
	monitorPollTicksTotal.WithLabelValues(outcome).Inc()
}

// SetPollInterval records the scheduler's current interval.
func SetPollInterval(seconds float64) {
	if monitorPollIntervalSeconds == nil {
		return
	}
	monitorPollIntervalSeconds.Set(seconds)
}

// SetActiveOperations records the aggregator's tracked entry count.
func SetActiveOperations(n int) {
	if monitorActiveOperations == nil {
		return
	}
	monitorActiveOperations.Set(float64(n))
}
