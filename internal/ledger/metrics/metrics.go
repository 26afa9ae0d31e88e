package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for ledger calls.
type Metrics struct {
	CallLatency   *prometheus.HistogramVec
	CallOutcomes  *prometheus.CounterVec
	CircuitOpened prometheus.Counter
	CircuitClosed prometheus.Counter
	Appends       *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		CallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docproof_ledger_call_duration_seconds",
			Help:    "Duration of ledger calls by operation",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),

		CallOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "docproof_ledger_call_outcomes_total",
			Help: "Ledger call outcomes by operation and category",
		}, []string{"operation", "outcome"}), // outcome: "ok", "not_found", or an error category

		CircuitOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "docproof_ledger_circuit_opened_total",
			Help: "Times the ledger circuit breaker opened",
		}),

		CircuitClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "docproof_ledger_circuit_closed_total",
			Help: "Times the ledger circuit breaker closed",
		}),

		Appends: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "docproof_ledger_chain_appends_total",
			Help: "Entries appended to the hash chain by action",
		}, []string{"action"}),
	}
}

func (m *Metrics) ObserveCall(operation, outcome string, start time.Time) {
	if m != nil {
		m.CallLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		m.CallOutcomes.WithLabelValues(operation, outcome).Inc()
	}
}

func (m *Metrics) IncrementCircuitOpened() {
	if m != nil {
		m.CircuitOpened.Inc()
	}
}

func (m *Metrics) IncrementCircuitClosed() {
	if m != nil {
		m.CircuitClosed.Inc()
	}
}

func (m *Metrics) IncrementAppend(action string) {
	if m != nil {
		m.Appends.WithLabelValues(action).Inc()
	}
}
