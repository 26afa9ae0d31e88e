package ledger

//go:generate mockgen -source=backend.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
)

// Backend is the raw ledger transport. Implementations report a missing record
// with sentinel.ErrNotFound and a non-pending confirm target with
// sentinel.ErrInvalidState; the Gateway maps everything else into the taxonomy.
type Backend interface {
	// Bind establishes the binding to the ledger's verification contract.
	Bind(ctx context.Context) error

	// Lookup reads the record for a 32-byte document hash.
	Lookup(ctx context.Context, hash [32]byte) (*Record, error)

	// Confirm marks a pending record verified on behalf of signer.
	Confirm(ctx context.Context, hash [32]byte, signer Signer) (*Confirmation, error)
}

// Signer is the authenticated identity used for confirm writes.
type Signer interface {
	// ID identifies the signer on the ledger.
	ID() string

	// Token returns a credential scoped to a single document hash.
	Token(ctx context.Context, documentHash string) (string, error)
}
