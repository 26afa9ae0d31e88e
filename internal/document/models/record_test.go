package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "docproof/pkg/domain-errors"
)

var testHash = strings.Repeat("0f", 32)

func TestNewRecord(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	t.Run("normalizes hash and starts pending", func(t *testing.T) {
		rec, err := NewRecord("0X"+strings.ToUpper(testHash), " a.pdf ", "application/pdf", 42, Metadata{Uploader: "alice"}, now)
		require.NoError(t, err)
		assert.Equal(t, testHash, rec.Hash)
		assert.Equal(t, "a.pdf", rec.FileName)
		assert.Equal(t, StatusPending, rec.Status)
		assert.Equal(t, now, rec.CreatedAt)
		assert.Nil(t, rec.VerifiedAt)
	})

	t.Run("rejects malformed hash", func(t *testing.T) {
		_, err := NewRecord("abc", "a.pdf", "", 1, Metadata{}, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidHash))
	})

	t.Run("rejects empty file name and negative size", func(t *testing.T) {
		_, err := NewRecord(testHash, "  ", "", 1, Metadata{}, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

		_, err = NewRecord(testHash, "a.pdf", "", -1, Metadata{}, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusVerified))
	assert.True(t, StatusPending.CanTransitionTo(StatusRevoked))
	assert.True(t, StatusPending.CanTransitionTo(StatusExpired))
	assert.False(t, StatusPending.CanTransitionTo(StatusPending))

	for _, terminal := range []Status{StatusVerified, StatusRevoked, StatusExpired} {
		assert.True(t, terminal.IsTerminal())
		assert.False(t, terminal.CanTransitionTo(StatusPending), "%s must not revert", terminal)
		assert.False(t, terminal.CanTransitionTo(StatusVerified))
	}
	assert.False(t, Status("archived").IsValid())
}

func TestVerifyIsOneShot(t *testing.T) {
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	rec, err := NewRecord(testHash, "a.pdf", "application/pdf", 3, Metadata{}, now)
	require.NoError(t, err)

	first := VerificationData{Verifier: "bob", Method: "content-hash", Timestamp: now}
	require.NoError(t, rec.Verify(first))
	assert.Equal(t, StatusVerified, rec.Status)
	require.NotNil(t, rec.VerifiedAt)
	assert.Equal(t, now, *rec.VerifiedAt)

	second := VerificationData{Verifier: "mallory", Method: "content-hash", Timestamp: now.Add(time.Hour)}
	err = rec.Verify(second)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	assert.Equal(t, "bob", rec.Verification.Verifier, "verification metadata must not be overwritten")
}

func TestCloneIsDeep(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := &Record{Hash: testHash, Metadata: Metadata{Tags: []string{"deed"}, ExpirationDate: &exp}}
	c := rec.Clone()
	c.Metadata.Tags[0] = "changed"
	*c.Metadata.ExpirationDate = exp.AddDate(1, 0, 0)

	assert.Equal(t, "deed", rec.Metadata.Tags[0])
	assert.Equal(t, exp, *rec.Metadata.ExpirationDate)
	assert.Nil(t, (*Record)(nil).Clone())
}
