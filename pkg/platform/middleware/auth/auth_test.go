package auth

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"docproof/pkg/requestcontext"
)

type stubVerifier map[string]string

func (s stubVerifier) Verify(token, documentHash string) (string, error) {
	if want, ok := s[token]; ok && want == documentHash {
		return "signer-" + token, nil
	}
	return "", errors.New("rejected")
}

func TestRequireDocumentToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	verifier := stubVerifier{"good": "0xabc"}

	r := chi.NewRouter()
	r.With(RequireDocumentToken(verifier, "hash", logger)).
		Post("/documents/{hash}/confirm", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(requestcontext.Actor(r.Context())))
		})

	t.Run("valid token sets the actor", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/documents/0xabc/confirm", nil)
		req.Header.Set("Authorization", "Bearer good")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "signer-good", rec.Body.String())
	})

	t.Run("token for another document is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/documents/0xdef/confirm", nil)
		req.Header.Set("Authorization", "Bearer good")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "unauthorized")
	})

	t.Run("missing header is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/documents/0xabc/confirm", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := BearerToken(req)
	assert.False(t, ok)

	req.Header.Set("Authorization", "Basic dXNlcg==")
	_, ok = BearerToken(req)
	assert.False(t, ok)

	req.Header.Set("Authorization", "Bearer abc.def")
	token, ok := BearerToken(req)
	assert.True(t, ok)
	assert.Equal(t, "abc.def", token)
}
