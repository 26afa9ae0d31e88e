package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for reconciliation attempts.
type Metrics struct {
	Attempts        *prometheus.CounterVec
	AttemptDuration prometheus.Histogram
	Transitions     prometheus.Counter
	Submissions     *prometheus.CounterVec
	Confirms        *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Attempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "docproof_reconcile_attempts_total",
			Help: "Reconciliation attempts by outcome kind",
		}, []string{"kind"}), // verified, partial, failed

		AttemptDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "docproof_reconcile_duration_seconds",
			Help:    "Duration of reconciliation attempts",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		Transitions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "docproof_reconcile_transitions_total",
			Help: "Records moved from pending to verified",
		}),

		Submissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "docproof_reconcile_submissions_total",
			Help: "Submitted uploads by result",
		}, []string{"result"}), // created, existing, error

		Confirms: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "docproof_reconcile_confirms_total",
			Help: "Ledger confirm requests by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) ObserveAttempt(kind string, start time.Time) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(kind).Inc()
	m.AttemptDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementTransition() {
	if m != nil {
		m.Transitions.Inc()
	}
}

func (m *Metrics) IncrementSubmission(result string) {
	if m != nil {
		m.Submissions.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncrementConfirm(result string) {
	if m != nil {
		m.Confirms.WithLabelValues(result).Inc()
	}
}
