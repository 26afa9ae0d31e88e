package httptransport

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"docproof/internal/platform/metrics"
	"docproof/pkg/platform/middleware/admin"
	"docproof/pkg/platform/middleware/metadata"
	"docproof/pkg/platform/middleware/request"
	"docproof/pkg/platform/middleware/requesttime"
)

// RouterConfig carries the transport-level settings of the API router.
type RouterConfig struct {
	MaxBodyBytes int64
	AdminToken   string
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// NewRouter wires all public endpoints onto a chi router.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(request.Recover(logger))
	r.Use(request.AccessLog(logger))
	r.Use(requesttime.Middleware)
	r.Use(countRequests(cfg.Metrics))

	r.Get("/health", h.HandleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(limitBody(cfg.MaxBodyBytes))

		r.Post("/documents", h.HandleSubmit)
		r.Get("/documents/{hash}", h.HandleGetDocument)

		r.Post("/verifications", h.HandleReconcile)
		r.Get("/verifications", h.HandleHistory)

		r.Get("/ledger/{hash}", h.HandleLedgerLookup)
		r.With(admin.RequireAdminToken(cfg.AdminToken, logger)).
			Post("/ledger/{hash}/confirm", h.HandleLedgerConfirm)

		r.Get("/stats", h.HandleStats)
		r.Post("/stats/refresh", h.HandleStatsRefresh)
		r.Post("/stats/recover", h.HandleStatsRecover)

		r.Post("/qr/encode", h.HandleQREncode)
		r.Post("/qr/decode", h.HandleQRDecode)
	})
	return r
}

func limitBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func countRequests(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			m.ObserveRequest(route, strconv.Itoa(rec.status/100)+"xx")
		})
	}
}
