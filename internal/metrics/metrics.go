// Package metrics exposes pipeline counters and stage latencies to
// Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes recorded by the pipeline counter.
const (
	OutcomeCompleted            = "completed"
	OutcomeFailedValidation     = "failed_validation"
	OutcomeFailedClassification = "failed_classification"
	OutcomeFailedLedger         = "failed_ledger"
)

// Mint modes recorded by the reward counter.
const (
	MintReal      = "real"
	MintSimulated = "simulated"
	MintFailed    = "failed"
)

// Metrics holds the pipeline's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Runs              *prometheus.CounterVec
	LedgerSubmissions prometheus.Counter
	RewardMints       *prometheus.CounterVec
	StageLatency      *prometheus.HistogramVec
}

// New registers the pipeline collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_pipeline_runs_total",
		Help: "Pipeline runs by terminal outcome.",
	}, []string{"outcome"})
	submissions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_ledger_submissions_total",
		Help: "Entries durably submitted to the audit topic.",
	})
	mints := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_reward_mints_total",
		Help: "Reward mint attempts by mode.",
	}, []string{"mode"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_stage_latency_seconds",
		Help:    "Latency of each pipeline stage.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"stage"})

	registry.MustRegister(runs, submissions, mints, latency)

	return &Metrics{
		registry:          registry,
		Runs:              runs,
		LedgerSubmissions: submissions,
		RewardMints:       mints,
		StageLatency:      latency,
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
