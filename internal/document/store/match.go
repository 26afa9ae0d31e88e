package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"docproof/internal/document/hashing"
	"docproof/internal/document/models"
)

// Strategy names the rule that matched a record.
type Strategy string

const (
	// StrategyExact is a direct key lookup with the normalized claimed hash.
	StrategyExact Strategy = "exact"
	// StrategyNormalizedScan normalizes every stored key and compares. It recovers
	// records written under non-canonical keys before normalization was enforced.
	StrategyNormalizedScan Strategy = "normalized_scan"
	// StrategyFileName matches on file name. It recovers uploads whose stored hash
	// came from an earlier hashing scheme, trading precision for recall.
	StrategyFileName Strategy = "file_name"
	// StrategyNone means no record matched.
	StrategyNone Strategy = "none"
)

// Authoritative reports whether the match was made on the hash itself.
func (s Strategy) Authoritative() bool {
	return s == StrategyExact || s == StrategyNormalizedScan
}

// FindByStrategy applies the matching rules in order and returns the first hit.
// A miss returns (nil, StrategyNone, nil).
func FindByStrategy(ctx context.Context, s Store, claimedHash, fileNameHint string) (*models.Record, Strategy, error) {
	key := hashing.Normalize(claimedHash)

	rec, err := s.Get(ctx, key)
	if err == nil {
		return rec, StrategyExact, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, StrategyNone, fmt.Errorf("exact lookup: %w", err)
	}

	entries, err := s.ListAll(ctx)
	if err != nil {
		return nil, StrategyNone, fmt.Errorf("scan records: %w", err)
	}

	for _, e := range entries {
		if hashing.Normalize(e.Key) == key {
			return e.Record, StrategyNormalizedScan, nil
		}
	}

	hint := strings.TrimSpace(fileNameHint)
	if hint == "" {
		return nil, StrategyNone, nil
	}
	var best *models.Record
	for _, e := range entries {
		if e.Record == nil || e.Record.FileName != hint {
			continue
		}
		if best == nil || e.Record.CreatedAt.After(best.CreatedAt) {
			best = e.Record
		}
	}
	if best != nil {
		return best, StrategyFileName, nil
	}
	return nil, StrategyNone, nil
}

// SyncLegacyKeys overwrites every entry stored under a non-canonical spelling of
// rec's hash with rec, so the copies agree after a verification. It needs an
// Importer; other stores are left as they are and report zero.
func SyncLegacyKeys(ctx context.Context, s Store, rec *models.Record) (int, error) {
	imp, ok := s.(Importer)
	if !ok || rec == nil {
		return 0, nil
	}
	key := hashing.Normalize(rec.Hash)

	entries, err := s.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("scan records: %w", err)
	}
	synced := 0
	for _, e := range entries {
		if e.Key == key || hashing.Normalize(e.Key) != key {
			continue
		}
		if err := imp.Import(ctx, e.Key, rec); err != nil {
			return synced, fmt.Errorf("rewrite %s: %w", e.Key, err)
		}
		synced++
	}
	return synced, nil
}
