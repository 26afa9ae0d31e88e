package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process-wide Prometheus metrics for the API.
type Metrics struct {
	DocumentsSubmitted prometheus.Counter
	HTTPRequests       *prometheus.CounterVec
}

// New creates and registers the API metrics.
func New() *Metrics {
	return &Metrics{
		DocumentsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "docproof_documents_submitted_total",
			Help: "Total number of documents submitted through the API",
		}),
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "docproof_http_requests_total",
			Help: "HTTP requests by route pattern and status class",
		}, []string{"route", "status"}),
	}
}

// IncrementDocumentsSubmitted increments the submitted documents counter by 1
func (m *Metrics) IncrementDocumentsSubmitted() {
	if m != nil {
		m.DocumentsSubmitted.Inc()
	}
}

func (m *Metrics) ObserveRequest(route, status string) {
	if m != nil {
		m.HTTPRequests.WithLabelValues(route, status).Inc()
	}
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
