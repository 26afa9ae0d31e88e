package chain

import (
	"context"
	"encoding/hex"
	"fmt"

	"docproof/internal/document/hashing"
	"docproof/internal/ledger"
)

// Backend serves a Ledger directly to a ledger.Gateway, for single-process
// deployments where no ledger daemon sits in between.
type Backend struct {
	chain Ledger
}

func NewBackend(chain Ledger) *Backend {
	return &Backend{chain: chain}
}

// Bind checks that the chain has a head.
func (b *Backend) Bind(ctx context.Context) error {
	if _, err := b.chain.Head(ctx); err != nil {
		return fmt.Errorf("bind ledger chain: %w", err)
	}
	return nil
}

func (b *Backend) Lookup(ctx context.Context, hash [32]byte) (*ledger.Record, error) {
	return b.chain.Get(ctx, encode(hash))
}

func (b *Backend) Confirm(ctx context.Context, hash [32]byte, signer ledger.Signer) (*ledger.Confirmation, error) {
	e, err := b.chain.Confirm(ctx, encode(hash), signer.ID())
	if err != nil {
		return nil, err
	}
	return &ledger.Confirmation{
		TransactionID: e.Hash,
		DocumentHash:  e.DocumentHash,
		Signer:        e.Actor,
		ConfirmedAt:   e.Timestamp,
	}, nil
}

func encode(hash [32]byte) string {
	return hashing.Prefix + hex.EncodeToString(hash[:])
}
