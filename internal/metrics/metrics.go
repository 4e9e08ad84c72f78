// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CascadeAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "olga_cascade_attempts_total",
			Help: "Candidate attempts by tier, model and outcome",
		},
		[]string{"tier", "model", "outcome"},
	)

	CascadeOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "olga_cascade_outcomes_total",
			Help: "Cascade runs by tier and terminal state",
		},
		[]string{"tier", "state"},
	)

	EnricherRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "olga_enricher_runs_total",
			Help: "Enricher runs by name and result (fragment, empty, error, timeout, skipped, disabled)",
		},
		[]string{"enricher", "result"},
	)

	ShortCircuits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "olga_short_circuits_total",
			Help: "Turns answered without the model cascade",
		},
		[]string{"action"},
	)

	TokensEstimated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "olga_tokens_estimated_total",
			Help: "Estimated tokens consumed by successful model calls",
		},
	)

	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "olga_turn_duration_seconds",
			Help:    "End-to-end turn latency",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"outcome"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "olga_active_sessions",
			Help: "Number of connected sessions",
		},
	)

	MemoryWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "olga_memory_writes_total",
			Help: "Long-term memory appends by result",
		},
		[]string{"result"},
	)
)
