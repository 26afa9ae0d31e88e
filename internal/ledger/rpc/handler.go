// Package rpc exposes a chain.Ledger over HTTP for ledgerd and provides the
// matching ledger.Backend client.
package rpc

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"docproof/internal/ledger"
	"docproof/internal/ledger/chain"
	dErrors "docproof/pkg/domain-errors"
	"docproof/pkg/platform/httputil"
	"docproof/pkg/platform/middleware/admin"
	"docproof/pkg/platform/middleware/auth"
	"docproof/pkg/platform/sentinel"
	"docproof/pkg/requestcontext"
)

// Handler serves the ledger daemon API.
type Handler struct {
	chain      chain.Ledger
	verifier   auth.TokenVerifier
	adminToken string
	logger     *slog.Logger
}

func NewHandler(l chain.Ledger, verifier auth.TokenVerifier, adminToken string, logger *slog.Logger) *Handler {
	return &Handler{chain: l, verifier: verifier, adminToken: adminToken, logger: logger}
}

// Register mounts ledger endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/health", h.HandleHealth)
	r.Get("/v1/documents/{hash}", h.HandleGet)
	r.With(auth.RequireDocumentToken(h.verifier, "hash", h.logger)).
		Post("/v1/documents/{hash}/confirm", h.HandleConfirm)
	r.Get("/v1/chain/head", h.HandleHead)
	r.Get("/v1/chain/verify", h.HandleVerify)

	r.Group(func(r chi.Router) {
		r.Use(admin.RequireAdminToken(h.adminToken, h.logger))
		r.Post("/v1/documents", h.HandleIssue)
		r.Post("/v1/documents/{hash}/revoke", h.HandleRevoke)
	})
}

type headResponse struct {
	Index int64  `json:"index"`
	Hash  string `json:"hash"`
}

type verifyResponse struct {
	Intact  bool   `json:"intact"`
	Entries int64  `json:"entries"`
	Detail  string `json:"detail,omitempty"`
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

// HandleHealth answers GET /v1/health. It is the Bind target of Client.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	head, err := h.chain.Head(r.Context())
	if err != nil {
		h.writeErr(w, r, "ledger health check failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, headResponse{Index: head.Index, Hash: head.Hash})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.chain.Get(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		h.writeErr(w, r, "ledger lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	signerID := requestcontext.Actor(ctx)
	e, err := h.chain.Confirm(ctx, chi.URLParam(r, "hash"), signerID)
	if err != nil {
		h.writeErr(w, r, "ledger confirm failed", err)
		return
	}
	h.logger.InfoContext(ctx, "ledger document confirmed",
		"request_id", requestcontext.RequestID(ctx),
		"hash", e.DocumentHash,
		"signer", signerID,
		"entry", e.Index,
	)
	httputil.WriteJSON(w, http.StatusOK, ledger.Confirmation{
		TransactionID: e.Hash,
		DocumentHash:  e.DocumentHash,
		Signer:        e.Actor,
		ConfirmedAt:   e.Timestamp,
	})
}

func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeJSON[chain.IssueRequest](r.Body)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	actor := r.Header.Get("X-Actor")
	if actor == "" {
		actor = "admin"
	}
	e, err := h.chain.Issue(ctx, actor, *req)
	if err != nil {
		h.writeErr(w, r, "ledger issue failed", err)
		return
	}
	h.logger.InfoContext(ctx, "ledger document issued",
		"request_id", requestcontext.RequestID(ctx),
		"hash", e.DocumentHash,
		"entry", e.Index,
	)
	httputil.WriteJSON(w, http.StatusCreated, e)
}

func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeJSON[revokeRequest](r.Body)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	e, err := h.chain.Revoke(ctx, chi.URLParam(r, "hash"), "admin", req.Reason)
	if err != nil {
		h.writeErr(w, r, "ledger revoke failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, e)
}

func (h *Handler) HandleHead(w http.ResponseWriter, r *http.Request) {
	head, err := h.chain.Head(r.Context())
	if err != nil {
		h.writeErr(w, r, "ledger head failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, head)
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	n, err := h.chain.Len(ctx)
	if err != nil {
		h.writeErr(w, r, "ledger verify failed", err)
		return
	}
	err = h.chain.Verify(ctx)
	if errors.Is(err, chain.ErrTampered) {
		h.logger.ErrorContext(ctx, "ledger chain tampered", "error", err)
		httputil.WriteJSON(w, http.StatusConflict, verifyResponse{Entries: n, Detail: err.Error()})
		return
	}
	if err != nil {
		h.writeErr(w, r, "ledger verify failed", err)
		return
	}
	h.logger.InfoContext(ctx, "ledger chain verified",
		"entries", n,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, verifyResponse{Intact: true, Entries: n})
}

func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, msg string, err error) {
	mapped := toDomainError(err)
	if dErrors.CodeOf(mapped) == dErrors.CodeInternal || dErrors.CodeOf(mapped) == dErrors.CodeUnavailable {
		h.logger.ErrorContext(r.Context(), msg,
			"request_id", requestcontext.RequestID(r.Context()),
			"error", err,
		)
	}
	httputil.WriteError(w, mapped)
}

func toDomainError(err error) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "no ledger record for hash")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "document already issued")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "ledger record is not in a confirmable state")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger storage unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "ledger failure")
	}
}
