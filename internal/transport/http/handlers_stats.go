package httptransport

import (
	"net/http"
	"strconv"

	"docproof/internal/stats"
	dErrors "docproof/pkg/domain-errors"
	"docproof/pkg/platform/httputil"
)

type statsResponse struct {
	Status   stats.RefreshStatus `json:"status,omitempty"`
	Snapshot *stats.Snapshot     `json:"snapshot"`
	State    stats.State         `json:"state"`
}

// HandleStats returns the cached view, computing it first if nothing is cached.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	snap := h.stats.Snapshot()
	if snap == nil {
		res, err := h.stats.Refresh(r.Context(), false)
		if err != nil {
			h.writeErr(w, r, "stats refresh failed", err)
			return
		}
		snap = res.Snapshot
	}
	httputil.WriteJSON(w, http.StatusOK, statsResponse{Snapshot: snap, State: h.stats.State()})
}

// HandleStatsRefresh triggers a refresh; ?force=true bypasses the rate limit.
func (h *Handler) HandleStatsRefresh(w http.ResponseWriter, r *http.Request) {
	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "force must be a boolean"))
			return
		}
		force = v
	}
	res, err := h.stats.Refresh(r.Context(), force)
	if err != nil {
		h.writeErr(w, r, "stats refresh failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, statsResponse{Status: res.Status, Snapshot: res.Snapshot, State: h.stats.State()})
}

// HandleStatsRecover clears the error state and forces a refresh.
func (h *Handler) HandleStatsRecover(w http.ResponseWriter, r *http.Request) {
	res, err := h.stats.Recover(r.Context())
	if err != nil {
		h.writeErr(w, r, "stats recovery failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, statsResponse{Status: res.Status, Snapshot: res.Snapshot, State: h.stats.State()})
}
