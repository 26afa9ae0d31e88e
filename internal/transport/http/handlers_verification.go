package httptransport

import (
	"net/http"

	"docproof/internal/reconcile"
	dErrors "docproof/pkg/domain-errors"
	"docproof/pkg/platform/httputil"
)

type verificationResponse struct {
	*reconcile.Outcome
	Kind reconcile.Kind `json:"kind"`
}

type historyResponse struct {
	Attempts []reconcile.Attempt `json:"attempts"`
}

// HandleReconcile runs a verification attempt for a multipart upload with a
// claimed hash. Expected conditions such as a mismatch or a missing ledger
// record are 200 responses with findings; only a malformed hash or an
// unavailable store is an error status.
func (h *Handler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	ctx := withActor(r)
	upload, err := readUpload(r)
	if err != nil {
		h.writeErr(w, r, "read upload failed", err)
		return
	}
	claimed := r.FormValue(formHash)
	if claimed == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidHash, "form field \"hash\" is required"))
		return
	}

	out, err := h.coordinator.Reconcile(ctx, upload.data, claimed, upload.name)
	if err != nil {
		h.writeErr(w, r, "reconcile failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, verificationResponse{Outcome: out, Kind: out.Kind()})
}

// HandleHistory lists recent attempts, most recent first.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	attempts := h.coordinator.History().List()
	if attempts == nil {
		attempts = []reconcile.Attempt{}
	}
	httputil.WriteJSON(w, http.StatusOK, historyResponse{Attempts: attempts})
}
