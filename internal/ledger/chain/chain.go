// Package chain is an append-only, hash-chained document ledger.
//
// Every state change (issue, confirm, revoke) is an Entry whose hash covers its
// payload and the previous entry's hash, so rewriting history breaks Verify. The
// current state of each document is a projection of the chain and can be rebuilt
// by replaying it.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"docproof/internal/document/hashing"
	"docproof/internal/ledger"
	ledgermetrics "docproof/internal/ledger/metrics"
	dErrors "docproof/pkg/domain-errors"
	"docproof/pkg/platform/sentinel"
)

// Action is the kind of chain entry.
type Action string

const (
	ActionGenesis Action = "genesis"
	ActionIssue   Action = "issue"
	ActionConfirm Action = "confirm"
	ActionRevoke  Action = "revoke"
)

// GenesisHash is the PrevHash of the first entry.
const GenesisHash = "0x0000000000000000000000000000000000000000000000000000000000000000"

// ErrTampered is returned by Verify when the chain or its projection does not
// match the recorded hashes.
var ErrTampered = errors.New("chain integrity check failed")

// Entry is one link of the chain.
type Entry struct {
	Index        int64     `json:"index"`
	Action       Action    `json:"action"`
	DocumentHash string    `json:"documentHash,omitempty"`
	Actor        string    `json:"actor"`
	Payload      string    `json:"payload"`
	DataHash     string    `json:"dataHash"`
	Timestamp    time.Time `json:"timestamp"`
	PrevHash     string    `json:"prevHash"`
	Hash         string    `json:"hash"`
}

// IssueRequest registers a new document on the ledger.
type IssueRequest struct {
	DocumentHash   string     `json:"documentHash"`
	Issuer         string     `json:"issuer"`
	IssuerName     string     `json:"issuerName"`
	RecipientName  string     `json:"recipientName"`
	RecipientID    string     `json:"recipientId,omitempty"`
	DocumentType   string     `json:"documentType"`
	IssuanceDate   time.Time  `json:"issuanceDate"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
}

// Ledger is implemented by Memory and Postgres.
type Ledger interface {
	Issue(ctx context.Context, actor string, req IssueRequest) (*Entry, error)
	Confirm(ctx context.Context, documentHash, actor string) (*Entry, error)
	Revoke(ctx context.Context, documentHash, actor, reason string) (*Entry, error)

	// Get returns the effective record, with expiry applied. Missing hashes
	// return sentinel.ErrNotFound.
	Get(ctx context.Context, documentHash string) (*ledger.Record, error)

	// Verify walks the chain and checks every link and the document projection.
	Verify(ctx context.Context) error

	// Head returns the most recent entry.
	Head(ctx context.Context) (*Entry, error)

	Len(ctx context.Context) (int64, error)
}

type options struct {
	now     func() time.Time
	metrics *ledgermetrics.Metrics
}

type Option func(*options)

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func WithMetrics(m *ledgermetrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func newOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// timestamp truncates to microseconds so hashes survive a Postgres round trip.
func (o options) timestamp() time.Time {
	return o.now().UTC().Truncate(time.Microsecond)
}

type revokePayload struct {
	Reason string `json:"reason,omitempty"`
}

// computeHash covers every field except Hash itself.
func (e Entry) computeHash() string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(e.Index, 10))
	for _, part := range []string{string(e.Action), e.DocumentHash, e.Actor, e.DataHash, strconv.FormatInt(e.Timestamp.UnixMicro(), 10), e.PrevHash} {
		b.WriteByte('|')
		b.WriteString(part)
	}
	return hashing.Digest([]byte(b.String()))
}

func newEntry(prev *Entry, action Action, documentHash, actor string, payload any, at time.Time) (Entry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal %s payload: %w", action, err)
	}
	e := Entry{
		Action:       action,
		DocumentHash: documentHash,
		Actor:        actor,
		Payload:      string(raw),
		DataHash:     hashing.Digest(raw),
		Timestamp:    at,
		PrevHash:     GenesisHash,
	}
	if prev != nil {
		e.Index = prev.Index + 1
		e.PrevHash = prev.Hash
	}
	e.Hash = e.computeHash()
	return e, nil
}

func genesis(at time.Time) Entry {
	e, _ := newEntry(nil, ActionGenesis, "", "system", struct{}{}, at)
	return e
}

// verifyEntries checks linkage and hashes starting at the genesis entry.
func verifyEntries(entries []Entry) error {
	prevHash := GenesisHash
	for i, e := range entries {
		if e.Index != int64(i) {
			return fmt.Errorf("%w: entry %d has index %d", ErrTampered, i, e.Index)
		}
		if e.PrevHash != prevHash {
			return fmt.Errorf("%w: entry %d does not link to its predecessor", ErrTampered, i)
		}
		if hashing.Digest([]byte(e.Payload)) != e.DataHash {
			return fmt.Errorf("%w: entry %d payload hash mismatch", ErrTampered, i)
		}
		if e.computeHash() != e.Hash {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrTampered, i)
		}
		prevHash = e.Hash
	}
	return nil
}

// replay rebuilds stored document state from the chain.
func replay(entries []Entry) (map[string]ledger.Record, error) {
	out := make(map[string]ledger.Record)
	for _, e := range entries {
		switch e.Action {
		case ActionGenesis:
		case ActionIssue:
			var rec ledger.Record
			if err := json.Unmarshal([]byte(e.Payload), &rec); err != nil {
				return nil, fmt.Errorf("%w: entry %d payload: %v", ErrTampered, e.Index, err)
			}
			out[e.DocumentHash] = rec
		case ActionConfirm:
			rec, ok := out[e.DocumentHash]
			if !ok {
				return nil, fmt.Errorf("%w: entry %d confirms unknown document", ErrTampered, e.Index)
			}
			rec.State = ledger.StateVerified
			out[e.DocumentHash] = rec
		case ActionRevoke:
			rec, ok := out[e.DocumentHash]
			if !ok {
				return nil, fmt.Errorf("%w: entry %d revokes unknown document", ErrTampered, e.Index)
			}
			rec.State = ledger.StateRevoked
			rec.IsActive = false
			out[e.DocumentHash] = rec
		default:
			return nil, fmt.Errorf("%w: entry %d has unknown action %q", ErrTampered, e.Index, e.Action)
		}
	}
	return out, nil
}

// compareProjection reports the first document whose stored state disagrees
// with the replayed chain.
func compareProjection(entries []Entry, stored map[string]ledger.Record) error {
	want, err := replay(entries)
	if err != nil {
		return err
	}
	if len(want) != len(stored) {
		return fmt.Errorf("%w: chain has %d documents, store has %d", ErrTampered, len(want), len(stored))
	}
	for hash, w := range want {
		got, ok := stored[hash]
		if !ok || !sameRecord(w, got) {
			return fmt.Errorf("%w: document %s does not match the chain", ErrTampered, hash)
		}
	}
	return nil
}

func sameRecord(a, b ledger.Record) bool {
	if a.DocumentHash != b.DocumentHash || a.Issuer != b.Issuer || a.IssuerName != b.IssuerName ||
		a.RecipientName != b.RecipientName || a.RecipientID != b.RecipientID ||
		a.DocumentType != b.DocumentType || a.IsActive != b.IsActive || a.State != b.State ||
		!a.IssuanceDate.Equal(b.IssuanceDate) {
		return false
	}
	if (a.ExpirationDate == nil) != (b.ExpirationDate == nil) {
		return false
	}
	return a.ExpirationDate == nil || a.ExpirationDate.Equal(*b.ExpirationDate)
}

// normalizeHash validates a document hash and returns its "0x" form.
func normalizeHash(hash string) (string, error) {
	v := hashing.Validate(hash)
	if err := v.Err(); err != nil {
		return "", err
	}
	return hashing.Prefixed(v.Normalized), nil
}

func newRecord(req IssueRequest) (ledger.Record, error) {
	hash, err := normalizeHash(req.DocumentHash)
	if err != nil {
		return ledger.Record{}, err
	}
	if strings.TrimSpace(req.Issuer) == "" {
		return ledger.Record{}, dErrors.New(dErrors.CodeBadRequest, "issuer is required")
	}
	if req.IssuanceDate.IsZero() {
		return ledger.Record{}, dErrors.New(dErrors.CodeBadRequest, "issuance date is required")
	}
	rec := ledger.Record{
		DocumentHash:  hash,
		Issuer:        req.Issuer,
		IssuerName:    req.IssuerName,
		RecipientName: req.RecipientName,
		RecipientID:   req.RecipientID,
		DocumentType:  req.DocumentType,
		IssuanceDate:  req.IssuanceDate.UTC().Truncate(time.Microsecond),
		IsActive:      true,
		State:         ledger.StatePending,
	}
	if req.ExpirationDate != nil {
		exp := req.ExpirationDate.UTC().Truncate(time.Microsecond)
		if !exp.After(rec.IssuanceDate) {
			return ledger.Record{}, dErrors.New(dErrors.CodeBadRequest, "expiration date must be after issuance date")
		}
		rec.ExpirationDate = &exp
	}
	return rec, nil
}

// canConfirm requires a live pending record.
func canConfirm(rec ledger.Record, now time.Time) error {
	eff := rec.Effective(now)
	if eff.State != ledger.StatePending || !eff.IsActive {
		return fmt.Errorf("%w: document is %s", sentinel.ErrInvalidState, eff.State)
	}
	return nil
}

func canRevoke(rec ledger.Record) error {
	if rec.State == ledger.StateRevoked {
		return fmt.Errorf("%w: document is already revoked", sentinel.ErrInvalidState)
	}
	return nil
}
