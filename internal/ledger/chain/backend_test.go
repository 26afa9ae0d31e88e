package chain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docproof/internal/document/hashing"
	"docproof/internal/ledger"
)

type fixedSigner string

func (f fixedSigner) ID() string { return string(f) }

func (f fixedSigner) Token(context.Context, string) (string, error) { return "", nil }

func TestBackendThroughGateway(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	hash := hashing.Digest([]byte("bill of lading"))
	_, err := mem.Issue(ctx, "carrier", IssueRequest{
		DocumentHash: hash,
		Issuer:       "carrier",
		IssuanceDate: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	gw := ledger.NewGateway(NewBackend(mem), ledger.WithSigner(fixedSigner("port-authority")))
	require.NoError(t, gw.Initialize(ctx))

	lookup, err := gw.VerifyOnChain(ctx, hash)
	require.NoError(t, err)
	require.True(t, lookup.Found())
	assert.Equal(t, ledger.StatePending, lookup.Record.State)

	missing, err := gw.VerifyOnChain(ctx, hashing.Digest([]byte("other")))
	require.NoError(t, err)
	assert.False(t, missing.Found())

	conf, err := gw.ConfirmVerification(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "port-authority", conf.Signer)
	head, err := mem.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, head.Hash, conf.TransactionID)

	_, err = gw.ConfirmVerification(ctx, hash)
	require.Error(t, err)
	assert.True(t, ledger.IsConfirmError(err))
	assert.Equal(t, ledger.CategoryInvalidState, ledger.GetCategory(err))
}
