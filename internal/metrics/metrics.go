package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides observability for authorization and chain maintenance. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Evaluation outcomes by verdict and reason code
	Evaluations *prometheus.CounterVec

	// Commits rejected because the head moved
	CommitConflicts prometheus.Counter

	// Mutations abandoned after exhausting retries
	TransientFailures prometheus.Counter

	// Chain verifications that found a broken link
	IntegrityFailures prometheus.Counter

	// Duration of one evaluate-and-commit sequence including retries
	CommitLatency prometheus.Histogram

	// Alerts from the latest monitor run by level
	Alerts *prometheus.GaugeVec
}

// New registers all metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mandate_evaluations_total",
			Help: "Total evaluations by result and reason code",
		}, []string{"result", "code"}),

		CommitConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "mandate_commit_conflicts_total",
			Help: "Commits rejected because the delegation head changed since it was read",
		}),

		TransientFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "mandate_transient_failures_total",
			Help: "Mutations abandoned after exhausting conflict retries",
		}),

		IntegrityFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "mandate_integrity_failures_total",
			Help: "Chain verifications that detected tampering or a missing event",
		}),

		CommitLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mandate_commit_duration_seconds",
			Help:    "Duration of a mutation including snapshot, evaluation and commit",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		Alerts: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mandate_alerts",
			Help: "Alerts reported by the latest monitor run by level",
		}, []string{"level"}),
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// IncrementEvaluation records an evaluation outcome.
func (m *Metrics) IncrementEvaluation(result, code string) {
	if m != nil {
		m.Evaluations.WithLabelValues(result, code).Inc()
	}
}

// IncrementConflict records a rejected commit.
func (m *Metrics) IncrementConflict() {
	if m != nil {
		m.CommitConflicts.Inc()
	}
}

// IncrementTransient records an abandoned mutation.
func (m *Metrics) IncrementTransient() {
	if m != nil {
		m.TransientFailures.Inc()
	}
}

// IncrementIntegrityFailure records a broken chain.
func (m *Metrics) IncrementIntegrityFailure() {
	if m != nil {
		m.IntegrityFailures.Inc()
	}
}

// ObserveCommitLatency records the duration of one mutation.
func (m *Metrics) ObserveCommitLatency(d time.Duration) {
	if m != nil {
		m.CommitLatency.Observe(d.Seconds())
	}
}

// SetAlerts replaces the per-level alert gauges.
func (m *Metrics) SetAlerts(counts map[string]int) {
	if m == nil {
		return
	}
	m.Alerts.Reset()
	for level, n := range counts {
		m.Alerts.WithLabelValues(level).Set(float64(n))
	}
}
