package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for record store backends and matching.
type Metrics struct {
	OperationLatency *prometheus.HistogramVec
	OperationErrors  *prometheus.CounterVec
	Matches          *prometheus.CounterVec
}

// New creates and registers the record store metrics.
func New() *Metrics {
	return &Metrics{
		OperationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docproof_store_operation_duration_seconds",
			Help:    "Duration of record store operations by backend and operation",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}, []string{"backend", "operation"}),

		OperationErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "docproof_store_operation_errors_total",
			Help: "Record store operation failures by backend and operation",
		}, []string{"backend", "operation"}),

		Matches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "docproof_store_matches_total",
			Help: "Record lookups by the matching strategy that resolved them",
		}, []string{"strategy"}), // exact, normalized_scan, file_name, none
	}
}

// ObserveOperation records the duration and outcome of a backend call.
func (m *Metrics) ObserveOperation(backend, operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.OperationLatency.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		m.OperationErrors.WithLabelValues(backend, operation).Inc()
	}
}

// IncrementMatch records which strategy resolved a lookup.
func (m *Metrics) IncrementMatch(strategy string) {
	if m != nil {
		m.Matches.WithLabelValues(strategy).Inc()
	}
}
