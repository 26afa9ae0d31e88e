package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"docproof/internal/document/models"
)

// LoadSnapshot imports a persisted snapshot: a JSON object mapping hash keys to
// records. Keys are kept verbatim so legacy prefixed keys survive and stay
// reachable through the normalized scan. Returns the number of records imported.
//
// When dst is a Transactor the import is all-or-nothing.
func LoadSnapshot(ctx context.Context, dst Importer, r io.Reader) (int, error) {
	var snapshot map[string]*models.Record
	if err := json.NewDecoder(r).Decode(&snapshot); err != nil {
		return 0, fmt.Errorf("decode snapshot: %w", err)
	}

	t, ok := dst.(Transactor)
	if !ok {
		return importAll(ctx, dst, snapshot)
	}
	var n int
	err := t.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		n, err = importAll(ctx, dst, snapshot)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Transactor is a store that can run a group of writes atomically.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

func importAll(ctx context.Context, dst Importer, snapshot map[string]*models.Record) (int, error) {
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	n := 0
	for _, key := range keys {
		rec := snapshot[key]
		if rec == nil {
			continue
		}
		if rec.Hash == "" {
			rec.Hash = key
		}
		if rec.Status == "" {
			rec.Status = models.StatusPending
		}
		if err := dst.Import(ctx, key, rec); err != nil {
			return n, fmt.Errorf("import %s: %w", key, err)
		}
		n++
	}
	return n, nil
}

// WriteSnapshot exports every entry of src in the same format LoadSnapshot reads.
func WriteSnapshot(ctx context.Context, src Store, w io.Writer) error {
	entries, err := src.ListAll(ctx)
	if err != nil {
		return err
	}
	snapshot := make(map[string]*models.Record, len(entries))
	for _, e := range entries {
		snapshot[e.Key] = e.Record
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snapshot)
}
