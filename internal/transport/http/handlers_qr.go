package httptransport

import (
	"net/http"

	"docproof/internal/document/hashing"
	"docproof/internal/qr"
	"docproof/pkg/platform/httputil"
)

type qrEncodeRequest struct {
	Hash     string         `json:"hash"`
	Metadata map[string]any `json:"metadata"`
}

type qrEncodeResponse struct {
	Payload  string       `json:"payload"`
	Envelope *qr.Envelope `json:"envelope"`
}

type qrDecodeRequest struct {
	Payload string `json:"payload"`
}

type qrDecodeResponse struct {
	Envelope   *qr.Envelope       `json:"envelope"`
	Validation hashing.Validation `json:"validation"`
}

// HandleQREncode builds the scannable payload for a hash. The hash must
// validate and is rendered in its "0x" form.
func (h *Handler) HandleQREncode(w http.ResponseWriter, r *http.Request) {
	req, err := httputil.DecodeJSON[qrEncodeRequest](r.Body)
	if err != nil {
		h.writeErr(w, r, "decode qr request failed", err)
		return
	}
	v := hashing.Validate(req.Hash)
	if err := v.Err(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	payload, err := h.codec.Encode(hashing.Prefixed(v.Normalized), req.Metadata)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	env, err := h.codec.Decode(payload)
	if err != nil {
		h.writeErr(w, r, "qr round trip failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, qrEncodeResponse{Payload: payload, Envelope: env})
}

// HandleQRDecode parses a scanned payload and reports whether its hash is
// well formed. A malformed hash is not an error here; the caller decides.
func (h *Handler) HandleQRDecode(w http.ResponseWriter, r *http.Request) {
	req, err := httputil.DecodeJSON[qrDecodeRequest](r.Body)
	if err != nil {
		h.writeErr(w, r, "decode qr request failed", err)
		return
	}
	env, err := h.codec.Decode(req.Payload)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, qrDecodeResponse{Envelope: env, Validation: hashing.Validate(env.Hash)})
}
