package chain

import (
	"context"
	"fmt"
	"sync"

	"docproof/internal/ledger"
	"docproof/pkg/platform/sentinel"
)

// Memory is a process-local ledger for development and tests.
type Memory struct {
	mu      sync.RWMutex
	opts    options
	entries []Entry
	records map[string]ledger.Record
}

func NewMemory(opts ...Option) *Memory {
	o := newOptions(opts)
	return &Memory{
		opts:    o,
		entries: []Entry{genesis(o.timestamp())},
		records: make(map[string]ledger.Record),
	}
}

func (m *Memory) Issue(_ context.Context, actor string, req IssueRequest) (*Entry, error) {
	rec, err := newRecord(req)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[rec.DocumentHash]; exists {
		return nil, fmt.Errorf("%w: document %s already issued", sentinel.ErrConflict, rec.DocumentHash)
	}
	e, err := m.appendLocked(ActionIssue, rec.DocumentHash, actor, rec)
	if err != nil {
		return nil, err
	}
	m.records[rec.DocumentHash] = rec
	return e, nil
}

func (m *Memory) Confirm(_ context.Context, documentHash, actor string) (*Entry, error) {
	hash, err := normalizeHash(documentHash)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[hash]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := canConfirm(rec, m.opts.now()); err != nil {
		return nil, err
	}
	e, err := m.appendLocked(ActionConfirm, hash, actor, struct{}{})
	if err != nil {
		return nil, err
	}
	rec.State = ledger.StateVerified
	m.records[hash] = rec
	return e, nil
}

func (m *Memory) Revoke(_ context.Context, documentHash, actor, reason string) (*Entry, error) {
	hash, err := normalizeHash(documentHash)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[hash]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := canRevoke(rec); err != nil {
		return nil, err
	}
	e, err := m.appendLocked(ActionRevoke, hash, actor, revokePayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	rec.State = ledger.StateRevoked
	rec.IsActive = false
	m.records[hash] = rec
	return e, nil
}

func (m *Memory) appendLocked(action Action, documentHash, actor string, payload any) (*Entry, error) {
	prev := m.entries[len(m.entries)-1]
	e, err := newEntry(&prev, action, documentHash, actor, payload, m.opts.timestamp())
	if err != nil {
		return nil, err
	}
	m.entries = append(m.entries, e)
	m.opts.metrics.IncrementAppend(string(action))
	return &e, nil
}

func (m *Memory) Get(_ context.Context, documentHash string) (*ledger.Record, error) {
	hash, err := normalizeHash(documentHash)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[hash]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	eff := rec.Effective(m.opts.now())
	return &eff, nil
}

func (m *Memory) Verify(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := verifyEntries(m.entries); err != nil {
		return err
	}
	return compareProjection(m.entries, m.records)
}

func (m *Memory) Head(_ context.Context) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e := m.entries[len(m.entries)-1]
	return &e, nil
}

func (m *Memory) Len(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.entries)), nil
}

// Entries returns a copy of the chain.
func (m *Memory) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}
