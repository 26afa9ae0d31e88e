// Package auth authenticates ledger confirm requests. Confirm credentials are
// scoped to one document hash, so the middleware checks the token against the
// hash named in the route.
package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	dErrors "docproof/pkg/domain-errors"
	"docproof/pkg/platform/httputil"
	"docproof/pkg/requestcontext"
)

// TokenVerifier checks a bearer token for one document hash and returns the
// signer identity.
type TokenVerifier interface {
	Verify(tokenString, documentHash string) (string, error)
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// RequireDocumentToken verifies the bearer token against the chi URL parameter
// hashParam and stores the signer as the request actor.
func RequireDocumentToken(verifier TokenVerifier, hashParam string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := BearerToken(r)
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			signerID, err := verifier.Verify(token, chi.URLParam(r, hashParam))
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid or expired token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithActor(ctx, signerID)))
		})
	}
}
