// Package metrics provides Prometheus metrics instrumentation for the
// engram pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for processed events.
const (
	OutcomeAdmitted  = "admitted"
	OutcomeDiscarded = "discarded"
	OutcomeUnscored  = "unscored"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	eventsProcessed  *prometheus.CounterVec
	degradedScores   prometheus.Counter
	oracleRetries    prometheus.Counter
	memoriesActive   prometheus.Gauge
	memoriesArchived prometheus.Gauge
	sweepDuration    prometheus.Histogram
	sweepMoved       prometheus.Counter
}

// New creates the pipeline metrics on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engram_events_processed_total",
			Help: "Stream events processed, labeled by admission outcome.",
		}, []string{"outcome"}),
		degradedScores: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engram_degraded_scores_total",
			Help: "Candidates scored with fallback novelty.",
		}),
		oracleRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engram_oracle_retries_total",
			Help: "Retried oracle calls.",
		}),
		memoriesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engram_memories_active",
			Help: "Memories currently in the active tier.",
		}),
		memoriesArchived: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engram_memories_archived",
			Help: "Memories currently in the archival tier.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engram_sweep_duration_seconds",
			Help:    "Archival sweep duration.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 60, 300},
		}),
		sweepMoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engram_sweep_moved_total",
			Help: "Memories moved from active to archived by sweeps.",
		}),
	}

	registry.MustRegister(
		m.eventsProcessed,
		m.degradedScores,
		m.oracleRetries,
		m.memoriesActive,
		m.memoriesArchived,
		m.sweepDuration,
		m.sweepMoved,
	)

	return m
}

// ObserveOutcome counts one processed event.
func (m *Metrics) ObserveOutcome(outcome string) {
	m.eventsProcessed.WithLabelValues(outcome).Inc()
}

// ObserveDegraded counts one degraded score.
func (m *Metrics) ObserveDegraded() {
	m.degradedScores.Inc()
}

// ObserveRetry counts one oracle retry.
func (m *Metrics) ObserveRetry() {
	m.oracleRetries.Inc()
}

// SetTierCounts updates the tier gauges.
func (m *Metrics) SetTierCounts(activeCount, archivedCount int) {
	m.memoriesActive.Set(float64(activeCount))
	m.memoriesArchived.Set(float64(archivedCount))
}

// ObserveSweep records a completed sweep.
func (m *Metrics) ObserveSweep(seconds float64, moved int) {
	m.sweepDuration.Observe(seconds)
	m.sweepMoved.Add(float64(moved))
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
