package reconcile

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"docproof/internal/ledger"
)

// LedgerClient is the authoritative ledger as seen by the coordinator.
// ledger.Gateway satisfies it.
type LedgerClient interface {
	Ready() bool
	VerifyOnChain(ctx context.Context, hash string) (*ledger.Lookup, error)
	ConfirmVerification(ctx context.Context, hash string) (*ledger.Confirmation, error)
}
