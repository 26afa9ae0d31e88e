// Package reconcile answers "is this document authentic, and what is its status"
// by combining a freshly computed content hash, the authoritative ledger record and
// the local record store, and performs the pending → verified transition.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"docproof/internal/document/hashing"
	"docproof/internal/document/models"
	"docproof/internal/document/store"
	"docproof/internal/events"
	"docproof/internal/ledger"
	reconcilemetrics "docproof/internal/reconcile/metrics"
	dErrors "docproof/pkg/domain-errors"
	"docproof/pkg/platform/sentinel"
	"docproof/pkg/requestcontext"
)

const (
	// MethodContentHash is stamped on records verified by hash comparison alone.
	MethodContentHash = "content_hash"
	// MethodLedger is stamped when the ledger also held the document.
	MethodLedger = "content_hash+ledger"

	defaultVerifier = "anonymous"
)

var tracer = otel.Tracer("docproof/internal/reconcile")

// Coordinator orchestrates hashing, ledger lookup and record matching.
type Coordinator struct {
	store     store.Store
	ledger    LedgerClient
	hasher    hashing.Engine
	publisher events.Publisher
	history   *History
	metrics   *reconcilemetrics.Metrics
	logger    *slog.Logger
}

type Option func(*Coordinator)

func WithHasher(h hashing.Engine) Option {
	return func(c *Coordinator) {
		if h != nil {
			c.hasher = h
		}
	}
}

// WithPublisher sets where change notifications go. Defaults to events.Discard.
func WithPublisher(p events.Publisher) Option {
	return func(c *Coordinator) {
		if p != nil {
			c.publisher = p
		}
	}
}

// WithHistory records every attempt in h.
func WithHistory(h *History) Option {
	return func(c *Coordinator) {
		c.history = h
	}
}

func WithMetrics(m *reconcilemetrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCoordinator wires a coordinator. ledgerClient may be nil, in which case every
// attempt reports the ledger as unavailable.
func NewCoordinator(records store.Store, ledgerClient LedgerClient, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     records,
		ledger:    ledgerClient,
		hasher:    hashing.Keccak{},
		publisher: events.Discard{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// History returns the attempt history, or nil if none was configured.
func (c *Coordinator) History() *History {
	return c.history
}

// Submit records an upload as a pending document. Submitting bytes that are
// already stored returns the existing record untouched.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if !c.store.IsAvailable(ctx) {
		c.metrics.IncrementSubmission("error")
		return nil, storageUnavailable("submit")
	}

	hash, err := c.hasher.Digest(ctx, req.Data)
	if err != nil {
		c.metrics.IncrementSubmission("error")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash document")
	}

	now := requestcontext.Now(ctx)
	rec, err := models.NewRecord(hash, req.FileName, req.FileType, int64(len(req.Data)), req.Metadata, now)
	if err != nil {
		c.metrics.IncrementSubmission("error")
		return nil, err
	}

	existing, err := c.store.Get(ctx, rec.Hash)
	switch {
	case err == nil:
		c.metrics.IncrementSubmission("existing")
		return &SubmitResult{Record: existing, Created: false}, nil
	case !errors.Is(err, sentinel.ErrNotFound):
		c.metrics.IncrementSubmission("error")
		return nil, wrapStoreErr("submit", err)
	}

	if err := c.store.Put(ctx, rec); err != nil {
		c.metrics.IncrementSubmission("error")
		return nil, wrapStoreErr("submit", err)
	}
	c.metrics.IncrementSubmission("created")
	c.logger.InfoContext(ctx, "document submitted",
		"hash", rec.Hash,
		"file_name", rec.FileName,
		"file_size", rec.FileSize,
	)
	c.notify(ctx, nil, events.RecordChanged{Action: events.ActionCreated, Hash: rec.Hash, Timestamp: now})
	return &SubmitResult{Record: rec, Created: true}, nil
}

// Reconcile runs one verification attempt of data against claimedInput.
//
// An outcome is always returned. The error is non-nil only when the attempt could
// not run at all: the claimed hash is malformed (dErrors.CodeInvalidHash) or the
// record store is unavailable or failing. Ledger trouble never fails the attempt;
// it is reported in the outcome's warnings.
func (c *Coordinator) Reconcile(ctx context.Context, data []byte, claimedInput, fileName string) (*Outcome, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "reconcile.Reconcile", trace.WithAttributes(
		attribute.String("document.claimed_hash", claimedInput),
		attribute.Int("document.size", len(data)),
	))
	defer span.End()

	out := &Outcome{
		AttemptID:   uuid.NewString(),
		State:       StateStarted,
		ClaimedHash: claimedInput,
		Errors:      []Finding{},
		Warnings:    []Finding{},
	}
	c.history.begin(out.AttemptID, fileName, claimedInput, requestcontext.Now(ctx))

	err := c.reconcile(ctx, out, data, claimedInput, fileName)

	out.CompletedAt = requestcontext.Now(ctx)
	kind := out.Kind()
	c.metrics.ObserveAttempt(string(kind), start)
	c.history.finish(out, err)
	span.SetAttributes(
		attribute.String("reconcile.state", string(out.State)),
		attribute.String("reconcile.kind", string(kind)),
		attribute.Bool("reconcile.status_updated", out.StatusUpdated),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.WarnContext(ctx, "reconciliation failed",
			"attempt_id", out.AttemptID,
			"claimed_hash", claimedInput,
			"error", err,
		)
		return out, err
	}
	c.logger.InfoContext(ctx, "reconciliation completed",
		"attempt_id", out.AttemptID,
		"hash", out.ActualHash,
		"kind", kind,
		"state", out.State,
		"valid", out.IsValid,
		"strategy", out.MatchStrategy,
		"status_updated", out.StatusUpdated,
		"warnings", len(out.Warnings),
	)
	return out, nil
}

func (c *Coordinator) reconcile(ctx context.Context, out *Outcome, data []byte, claimedInput, fileName string) error {
	v := hashing.Validate(claimedInput)
	if err := v.Err(); err != nil {
		out.State = StateFailed
		out.addError(CodeInvalidHashFormat, err.Error())
		return err
	}
	out.ClaimedHash = hashing.Prefixed(v.Normalized)

	if !c.store.IsAvailable(ctx) {
		out.State = StateFailed
		err := storageUnavailable("reconcile")
		out.addError(CodeStorageUnavailable, "record store is unavailable")
		return err
	}

	actual, err := c.hasher.Digest(ctx, data)
	if err != nil {
		out.State = StateFailed
		out.addError(CodeInternal, "failed to hash document")
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash document")
	}
	out.ActualHash = actual
	out.IsValid = hashing.Equal(actual, v.Normalized)
	out.State = StateHashComputed
	if !out.IsValid {
		out.addWarning(CodeHashMismatch, fmt.Sprintf("document hashes to %s, not the claimed %s", actual, out.ClaimedHash))
	}

	// The ledger lookup and the record search are independent reads. Only the
	// store can fail the group; ledger trouble is folded into warnings.
	var (
		lookup    *ledger.Lookup
		ledgerErr error
		matched   *models.Record
		strategy  store.Strategy
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lookup, ledgerErr = c.checkLedger(gctx, actual)
		return nil
	})
	g.Go(func() error {
		var err error
		matched, strategy, err = store.FindByStrategy(gctx, c.store, actual, fileName)
		return err
	})
	storeErr := g.Wait()

	c.applyLedger(out, lookup, ledgerErr)
	out.State = StateLedgerChecked

	if storeErr != nil {
		out.State = StateFailed
		if store.IsUnavailable(storeErr) {
			out.addError(CodeStorageUnavailable, "record store is unavailable")
		} else {
			out.addError(CodeStorageError, "record lookup failed")
		}
		return wrapStoreErr("reconcile", storeErr)
	}

	out.MatchStrategy = strategy
	if matched == nil {
		out.State = StateSkipped
		return nil
	}
	out.MatchedRecord = matched
	out.State = StateRecordMatched

	if !out.IsValid {
		out.State = StateSkipped
		return nil
	}
	if !strategy.Authoritative() {
		out.addWarning(CodeFileNameMatch, fmt.Sprintf("record %s matched by file name only; status left unchanged", matched.Hash))
		out.State = StateSkipped
		return nil
	}

	updated, changed, err := c.transition(ctx, matched, out.LedgerRecord != nil)
	if err != nil {
		out.State = StateFailed
		if store.IsUnavailable(err) {
			out.addError(CodeStorageUnavailable, "record store is unavailable")
		} else {
			out.addError(CodeStorageError, "failed to persist verification")
		}
		return wrapStoreErr("reconcile", err)
	}
	out.MatchedRecord = updated
	if !changed {
		out.State = StateSkipped
		return nil
	}

	out.StatusUpdated = true
	out.State = StateReconciled
	c.notify(ctx, out, events.RecordChanged{
		Action:    events.ActionVerified,
		Hash:      updated.Hash,
		Timestamp: *updated.VerifiedAt,
	})
	return nil
}

// checkLedger returns (nil, nil) when no ledger is configured. Call-level errors
// are returned for applyLedger to classify.
func (c *Coordinator) checkLedger(ctx context.Context, hash string) (*ledger.Lookup, error) {
	if c.ledger == nil || !c.ledger.Ready() {
		return nil, ledger.NewError(ledger.CategoryUnavailable, ledger.OpVerify, "ledger client is not initialized", ledger.ErrNotInitialized)
	}
	return c.ledger.VerifyOnChain(ctx, hash)
}

func (c *Coordinator) applyLedger(out *Outcome, lookup *ledger.Lookup, err error) {
	if err != nil {
		code := CodeLedgerError
		if ledger.IsNetworkError(err) {
			code = CodeNetworkError
		}
		out.addWarning(code, err.Error())
		return
	}
	if !lookup.Found() {
		return
	}
	out.LedgerRecord = lookup.Record
	if problem := lookup.Record.Problem(); problem != nil {
		out.addWarning(problemCode(problem.Category), problem.Message)
	}
}

func problemCode(category ledger.ErrorCategory) FindingCode {
	switch category {
	case ledger.CategoryRevoked:
		return CodeLedgerRevoked
	case ledger.CategoryExpired:
		return CodeLedgerExpired
	default:
		return CodeLedgerInactive
	}
}

// transition applies pending → verified to the freshest stored copy of matched.
// A record that is already terminal is returned as stored with changed=false.
//
// The re-read narrows, but does not close, the window where two attempts race
// on the same hash. Both would write the same verified status, and Put is
// last-write-wins, so the race cannot move a record backwards.
func (c *Coordinator) transition(ctx context.Context, matched *models.Record, onLedger bool) (*models.Record, bool, error) {
	key := hashing.Normalize(matched.Hash)
	current, err := c.store.Get(ctx, key)
	legacy := false
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		// Matched through a non-canonical key; Put below stores it canonically.
		current = matched.Clone()
		legacy = true
	case err != nil:
		return nil, false, err
	}

	if err := current.CanVerify(); err != nil {
		return current, false, nil
	}

	method := MethodContentHash
	if onLedger {
		method = MethodLedger
	}
	verifier := requestcontext.Actor(ctx)
	if verifier == "" {
		verifier = defaultVerifier
	}
	current.Hash = key
	current.ApplyVerification(models.VerificationData{
		Verifier:  verifier,
		Method:    method,
		Timestamp: requestcontext.Now(ctx),
	})
	if err := c.store.Put(ctx, current); err != nil {
		return nil, false, err
	}
	if legacy {
		if _, err := store.SyncLegacyKeys(ctx, c.store, current); err != nil {
			c.logger.WarnContext(ctx, "legacy record copy left unverified", "hash", key, "error", err)
		}
	}
	c.metrics.IncrementTransition()
	return current, true, nil
}

// Confirm asks the ledger to mark hash verified. The ledger record must exist and
// be pending; anything else is a confirm error and no request is sent.
func (c *Coordinator) Confirm(ctx context.Context, hashInput string) (*ledger.Confirmation, error) {
	ctx, span := tracer.Start(ctx, "reconcile.Confirm", trace.WithAttributes(attribute.String("document.hash", hashInput)))
	defer span.End()

	conf, err := c.confirm(ctx, hashInput)
	if err != nil {
		c.metrics.IncrementConfirm("rejected")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	c.metrics.IncrementConfirm("ok")
	c.notify(ctx, nil, events.RecordChanged{
		Action:    events.ActionConfirmed,
		Hash:      hashing.Normalize(conf.DocumentHash),
		Timestamp: conf.ConfirmedAt,
	})
	return conf, nil
}

func (c *Coordinator) confirm(ctx context.Context, hashInput string) (*ledger.Confirmation, error) {
	v := hashing.Validate(hashInput)
	if err := v.Err(); err != nil {
		return nil, err
	}
	if c.ledger == nil || !c.ledger.Ready() {
		return nil, ledger.NewError(ledger.CategoryUnavailable, ledger.OpConfirm, "ledger client is not initialized", ledger.ErrNotInitialized)
	}

	lookup, err := c.ledger.VerifyOnChain(ctx, v.Normalized)
	if err != nil {
		return nil, err
	}
	if !lookup.Found() {
		return nil, ledger.NewError(ledger.CategoryNotFound, ledger.OpConfirm, "ledger holds no record for this hash", sentinel.ErrNotFound)
	}
	rec := lookup.Record
	if rec.State != ledger.StatePending || !rec.IsActive {
		return nil, ledger.NewError(ledger.CategoryInvalidState, ledger.OpConfirm,
			fmt.Sprintf("ledger record is %s (active=%t), confirm requires an active pending record", rec.State, rec.IsActive),
			sentinel.ErrInvalidState)
	}
	return c.ledger.ConfirmVerification(ctx, v.Normalized)
}

// notify publishes ev. A publish failure never fails the operation; it becomes a
// warning on out when there is one.
func (c *Coordinator) notify(ctx context.Context, out *Outcome, ev events.RecordChanged) {
	if err := c.publisher.PublishRecordChanged(ctx, ev); err != nil {
		c.logger.WarnContext(ctx, "change notification failed", "hash", ev.Hash, "action", ev.Action, "error", err)
		if out != nil && !out.hasWarning(CodeNotificationFailed) {
			out.addWarning(CodeNotificationFailed, "change notification could not be delivered")
		}
	}
}

func storageUnavailable(op string) error {
	return dErrors.Wrap(fmt.Errorf("%s: %w", op, sentinel.ErrUnavailable), dErrors.CodeUnavailable, "record store is unavailable")
}

func wrapStoreErr(op string, err error) error {
	if store.IsUnavailable(err) {
		return dErrors.Wrap(fmt.Errorf("%s: %w", op, err), dErrors.CodeUnavailable, "record store is unavailable")
	}
	return dErrors.Wrap(fmt.Errorf("%s: %w", op, err), dErrors.CodeInternal, "record store failure")
}
