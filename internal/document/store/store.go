// Package store persists the documents the local party has submitted.
//
// Records are keyed by their normalized 64-hex hash. Older data may still sit under
// non-canonical keys (for example with a "0x" prefix), which FindByStrategy recovers.
// Verifying such a record writes it under the canonical key and, for stores that
// are Importers, rewrites the legacy copies with SyncLegacyKeys.
//
// Writes are last-write-wins. Concurrent reconciliations of the same hash race on
// Put, which is safe because the only mutation is the monotonic pending → verified
// transition; no backend takes locks across the medium.
package store

import (
	"context"
	"errors"

	"docproof/internal/document/models"
	"docproof/pkg/platform/sentinel"
)

// Entry is a stored record together with the key it is stored under.
type Entry struct {
	Key    string
	Record *models.Record
}

// Store is the record store contract shared by all backends.
//
// Get returns sentinel.ErrNotFound for a missing key. Every method returns an error
// wrapping sentinel.ErrUnavailable when the backing medium is absent.
type Store interface {
	Get(ctx context.Context, key string) (*models.Record, error)
	Put(ctx context.Context, record *models.Record) error
	ListAll(ctx context.Context) ([]Entry, error)
	IsAvailable(ctx context.Context) bool
}

// Importer writes a record under a verbatim key, bypassing normalization.
// Used to load snapshots exported before keys were canonicalized.
type Importer interface {
	Import(ctx context.Context, key string, record *models.Record) error
}

// ErrNotFound is re-exported for callers that only import this package.
var ErrNotFound = sentinel.ErrNotFound

// IsUnavailable reports whether err signals an absent backing medium.
func IsUnavailable(err error) bool {
	return errors.Is(err, sentinel.ErrUnavailable)
}
