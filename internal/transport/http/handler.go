// Package httptransport is the JSON/multipart HTTP surface of the service. It
// delegates to the reconcile, stats and qr packages without business logic of
// its own.
package httptransport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"docproof/internal/document/store"
	"docproof/internal/ledger"
	"docproof/internal/platform/metrics"
	"docproof/internal/qr"
	"docproof/internal/reconcile"
	"docproof/internal/stats"
	dErrors "docproof/pkg/domain-errors"
	"docproof/pkg/platform/httputil"
	"docproof/pkg/requestcontext"
)

// Reconciler is the coordinator surface used by the handlers.
type Reconciler interface {
	Submit(ctx context.Context, req reconcile.SubmitRequest) (*reconcile.SubmitResult, error)
	Reconcile(ctx context.Context, data []byte, claimedHash, fileName string) (*reconcile.Outcome, error)
	Confirm(ctx context.Context, hash string) (*ledger.Confirmation, error)
	History() *reconcile.History
}

type LedgerReader interface {
	Ready() bool
	VerifyOnChain(ctx context.Context, hash string) (*ledger.Lookup, error)
}

type StatsService interface {
	Snapshot() *stats.Snapshot
	State() stats.State
	Refresh(ctx context.Context, force bool) (stats.Result, error)
	Recover(ctx context.Context) (stats.Result, error)
}

// Handler holds the services behind the API.
type Handler struct {
	coordinator Reconciler
	ledger      LedgerReader
	records     store.Store
	stats       StatsService
	codec       *qr.Codec
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

type Deps struct {
	Coordinator Reconciler
	Ledger      LedgerReader
	Store       store.Store
	Stats       StatsService
	Codec       *qr.Codec
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

func NewHandler(d Deps) *Handler {
	h := &Handler{
		coordinator: d.Coordinator,
		ledger:      d.Ledger,
		records:     d.Store,
		stats:       d.Stats,
		codec:       d.Codec,
		metrics:     d.Metrics,
		logger:      d.Logger,
	}
	if h.codec == nil {
		h.codec = qr.New()
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

type healthResponse struct {
	Status string `json:"status"`
	Store  bool   `json:"store"`
	Ledger bool   `json:"ledger"`
}

// HandleHealth reports 200 while the record store is available. The ledger is
// informational; reconciliation degrades without it.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status: "ok",
		Store:  h.records.IsAvailable(r.Context()),
		Ledger: h.ledger != nil && h.ledger.Ready(),
	}
	status := http.StatusOK
	if !resp.Store {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}

// writeErr logs server-side failures and writes the mapped error response.
func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, msg string, err error) {
	mapped := toDomainError(err)
	code := dErrors.CodeOf(mapped)
	if code == dErrors.CodeInternal || code == dErrors.CodeUnavailable {
		h.logger.ErrorContext(r.Context(), msg,
			"request_id", requestcontext.RequestID(r.Context()),
			"error", err,
		)
	}
	httputil.WriteError(w, mapped)
}

// toDomainError translates ledger and body-size failures into coded errors.
func toDomainError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return dErrors.Wrap(err, dErrors.CodeTooLarge, "request body too large")
	}
	var le *ledger.Error
	if errors.As(err, &le) {
		switch le.Category {
		case ledger.CategoryNotFound:
			return dErrors.Wrap(err, dErrors.CodeNotFound, le.Message)
		case ledger.CategoryInvalidState:
			return dErrors.Wrap(err, dErrors.CodeConflict, le.Message)
		case ledger.CategoryBadData:
			return dErrors.Wrap(err, dErrors.CodeBadRequest, le.Message)
		case ledger.CategoryTimeout, ledger.CategoryNetwork, ledger.CategoryUnavailable, ledger.CategoryAuthentication:
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger is unavailable")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "ledger failure")
	}
	return err
}
