// Package metrics defines the orchestrator's Prometheus instrumentation,
// registered against a dedicated registry rather than the global default
// one so tests can build throwaway instances.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter and gauge the orchestrator reports.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	TokensGeneratedTotal *prometheus.CounterVec

	HandlesLoaded     prometheus.Gauge
	ActiveUsers       prometheus.Gauge
	CompositionsTotal *prometheus.CounterVec
	FallbacksTotal    *prometheus.CounterVec
	EvictionsTotal    *prometheus.CounterVec
}

// New registers every metric against registry and returns the bundle. Pass
// a fresh prometheus.NewRegistry() in tests to avoid collisions with other
// tests in the same process.
func New(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)
	const ns, sub = "lora_orchestrator", "serving"

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"route", "method"},
		),
		TokensGeneratedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "tokens_generated_total",
				Help:      "Total number of tokens produced by generate calls, by user.",
			},
			[]string{"user_id"},
		),
		HandlesLoaded: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "handles_loaded",
				Help:      "Number of per-user handles currently cached.",
			},
		),
		ActiveUsers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "active_users",
				Help:      "Number of distinct users with a session seen recently.",
			},
		),
		CompositionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "compositions_total",
				Help:      "Total number of adapter compositions attempted, by outcome.",
			},
			[]string{"outcome"}, // composed, fallback
		),
		FallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "fallbacks_total",
				Help:      "Total number of times a fallback handle was installed, by reason.",
			},
			[]string{"reason"},
		),
		EvictionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "evictions_total",
				Help:      "Total number of handle evictions, by reason.",
			},
			[]string{"reason"}, // capacity, idle, offload, shutdown, replaced
		),
	}
}
