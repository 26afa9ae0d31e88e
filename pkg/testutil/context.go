package testutil

import (
	"net/http"

	"docproof/pkg/platform/middleware/admin"
)

// WithActor sets the acting user header the API reads for uploader and
// verifier attribution.
func WithActor(req *http.Request, actor string) *http.Request {
	req.Header.Set("X-Actor", actor)
	return req
}

// WithAdminToken sets the operator token header.
func WithAdminToken(req *http.Request, token string) *http.Request {
	req.Header.Set(admin.HeaderAdminToken, token)
	return req
}
