package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"docproof/internal/document/hashing"
	"docproof/internal/ledger"
	dErrors "docproof/pkg/domain-errors"
	"docproof/pkg/platform/httputil"
)

type ledgerLookupResponse struct {
	Hash   string         `json:"hash"`
	Found  bool           `json:"found"`
	Record *ledger.Record `json:"record,omitempty"`
	Issue  string         `json:"issue,omitempty"` // inactive, revoked or expired
}

// HandleLedgerLookup reports the ledger record for a hash. A hash the ledger
// does not hold is a 200 with found=false.
func (h *Handler) HandleLedgerLookup(w http.ResponseWriter, r *http.Request) {
	v := hashing.Validate(chi.URLParam(r, "hash"))
	if err := v.Err(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if h.ledger == nil || !h.ledger.Ready() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "ledger is unavailable"))
		return
	}
	lookup, err := h.ledger.VerifyOnChain(r.Context(), v.Normalized)
	if err != nil {
		h.writeErr(w, r, "ledger lookup failed", err)
		return
	}
	resp := ledgerLookupResponse{Hash: hashing.Prefixed(v.Normalized), Found: lookup.Found(), Record: lookup.Record}
	if lookup.Found() {
		if problem := lookup.Record.Problem(); problem != nil {
			resp.Issue = string(problem.Category)
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleLedgerConfirm asks the ledger to mark a pending record verified.
func (h *Handler) HandleLedgerConfirm(w http.ResponseWriter, r *http.Request) {
	conf, err := h.coordinator.Confirm(withActor(r), chi.URLParam(r, "hash"))
	if err != nil {
		h.writeErr(w, r, "ledger confirm failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, conf)
}
