// Package signer issues and checks the short-lived credentials that authorize
// ledger confirm writes. Each token is bound to one document hash.
package signer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"docproof/internal/document/hashing"
	dErrors "docproof/pkg/domain-errors"
)

const DefaultTTL = 2 * time.Minute

// Claims are the JWT claims of a confirm credential. Subject is the signer ID.
type Claims struct {
	DocumentHash string `json:"document_hash"`
	jwt.RegisteredClaims
}

// HMACSigner implements ledger.Signer with HS256 tokens.
type HMACSigner struct {
	id       string
	key      []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

func NewHMACSigner(id, key, issuer, audience string, ttl time.Duration) (*HMACSigner, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("signer id is required")
	}
	if key == "" {
		return nil, errors.New("signing key is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &HMACSigner{
		id:       id,
		key:      []byte(key),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

func (s *HMACSigner) ID() string {
	return s.id
}

func (s *HMACSigner) Token(_ context.Context, documentHash string) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		DocumentHash: hashing.Prefixed(documentHash),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.id,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.key)
}

// Verifier validates confirm credentials on the ledger side.
type Verifier struct {
	key      []byte
	issuer   string
	audience string
	now      func() time.Time
}

func NewVerifier(key, issuer, audience string) *Verifier {
	return &Verifier{key: []byte(key), issuer: issuer, audience: audience, now: time.Now}
}

// Verify parses tokenString and checks it authorizes documentHash. It returns
// the signer ID.
func (v *Verifier) Verify(tokenString, documentHash string) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return v.key, nil
	},
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return "", dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	if !hashing.Equal(claims.DocumentHash, documentHash) {
		return "", dErrors.New(dErrors.CodeUnauthorized, "token is not valid for this document")
	}
	if claims.Subject == "" {
		return "", dErrors.New(dErrors.CodeUnauthorized, "token has no subject")
	}
	return claims.Subject, nil
}
