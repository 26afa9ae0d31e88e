package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the stats aggregator.
type Metrics struct {
	Refreshes *prometheus.CounterVec
	Retries   prometheus.Counter
	Documents *prometheus.GaugeVec
}

func New() *Metrics {
	return &Metrics{
		Refreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "docproof_stats_refreshes_total",
			Help: "Stats refresh calls by result",
		}, []string{"result"}), // refreshed, unchanged, in_flight, rate_limited, halted, failed

		Retries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "docproof_stats_refresh_retries_total",
			Help: "Retried stats computations",
		}),

		Documents: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docproof_stats_documents",
			Help: "Documents in the record store by status, as of the last refresh",
		}, []string{"status"}),
	}
}

func (m *Metrics) IncrementRefresh(result string) {
	if m != nil {
		m.Refreshes.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncrementRetry() {
	if m != nil {
		m.Retries.Inc()
	}
}

func (m *Metrics) SetDocuments(status string, n int) {
	if m != nil {
		m.Documents.WithLabelValues(status).Set(float64(n))
	}
}
