// Package telemetry exposes Prometheus counters and gauges for the
// orchestration engine.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process-level instrumentation. One instance per
// process, registered against its own registry so tests can build
// isolated copies.
type Metrics struct {
	Registry *prometheus.Registry

	TestsStarted     prometheus.Counter
	TestsCompleted   *prometheus.CounterVec
	LLMDecisions     prometheus.Counter
	LLMErrors        prometheus.Counter
	EventsDropped    prometheus.Counter
	ActiveTests      prometheus.Gauge
	WSConnections    prometheus.Gauge
	LLMResponseTime  prometheus.Histogram
}

// New builds and registers the engine metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		TestsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "gauntlet_tests_started_total",
			Help: "Number of test runs that entered initialization.",
		}),
		TestsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gauntlet_tests_completed_total",
			Help: "Number of test runs reaching a terminal state, by reason.",
		}, []string{"reason"}),
		LLMDecisions: factory.NewCounter(prometheus.CounterOpts{
			Name: "gauntlet_llm_decisions_total",
			Help: "Number of successfully parsed target LLM decisions.",
		}),
		LLMErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "gauntlet_llm_errors_total",
			Help: "Number of failed target LLM cycles.",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "gauntlet_events_dropped_total",
			Help: "Number of event frames dropped on full subscriber queues.",
		}),
		ActiveTests: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gauntlet_active_tests",
			Help: "Number of currently active test runs.",
		}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gauntlet_websocket_connections",
			Help: "Number of live dashboard WebSocket connections.",
		}),
		LLMResponseTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gauntlet_llm_response_seconds",
			Help:    "Wall-clock latency of target LLM calls.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
	}
}
