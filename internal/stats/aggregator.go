// Package stats maintains the cached aggregate view of submitted documents: counts
// by status plus the most recent activity. Refreshes are single-flight,
// rate limited, retried with exponential backoff, and replace the cache only
// when the computed view differs.
package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/docker/go-units"
	"golang.org/x/sync/errgroup"

	"docproof/internal/document/hashing"
	"docproof/internal/document/models"
	"docproof/internal/document/store"
	"docproof/internal/events"
	"docproof/internal/ledger"
	statsmetrics "docproof/internal/stats/metrics"
	dErrors "docproof/pkg/domain-errors"
	"docproof/pkg/platform/sentinel"
)

const (
	DefaultInterval       = 30 * time.Second
	DefaultMinGap         = time.Second
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 2 * time.Second
	DefaultActivityLimit  = 10

	ledgerLookupConcurrency = 8
	subscriptionBuffer      = 16
)

// LedgerReader is the optional ledger cross-reference.
type LedgerReader interface {
	Ready() bool
	VerifyOnChain(ctx context.Context, hash string) (*ledger.Lookup, error)
}

// Aggregator owns the cached view. Its lifetime is the session's; create one per
// connection rather than sharing globals.
type Aggregator struct {
	store   store.Store
	ledger  LedgerReader
	metrics *statsmetrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	interval       time.Duration
	minGap         time.Duration
	maxRetries     int
	initialBackoff time.Duration
	activityLimit  int

	refreshing atomic.Bool

	mu          sync.RWMutex
	snapshot    *Snapshot
	lastSuccess time.Time
	retries     int
	lastErr     error
	halted      bool
}

type Option func(*Aggregator)

// WithLedger enables cross-referencing records against the ledger.
func WithLedger(l LedgerReader) Option {
	return func(a *Aggregator) {
		a.ledger = l
	}
}

func WithMetrics(m *statsmetrics.Metrics) Option {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithMinGap sets the rate limit between non-forced refreshes.
func WithMinGap(d time.Duration) Option {
	return func(a *Aggregator) {
		if d >= 0 {
			a.minGap = d
		}
	}
}

// WithRetries sets how many times a failed computation is retried and the first
// backoff delay, which doubles on every retry.
func WithRetries(max int, initial time.Duration) Option {
	return func(a *Aggregator) {
		if max >= 0 {
			a.maxRetries = max
		}
		if initial > 0 {
			a.initialBackoff = initial
		}
	}
}

func WithActivityLimit(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.activityLimit = n
		}
	}
}

func New(records store.Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:          records,
		logger:         slog.Default(),
		now:            time.Now,
		interval:       DefaultInterval,
		minGap:         DefaultMinGap,
		maxRetries:     DefaultMaxRetries,
		initialBackoff: DefaultInitialBackoff,
		activityLimit:  DefaultActivityLimit,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Snapshot returns the cached view, or nil before the first successful refresh.
func (a *Aggregator) Snapshot() *Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot.clone()
}

func (a *Aggregator) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st := State{
		Refreshing:  a.refreshing.Load(),
		Retries:     a.retries,
		Failed:      a.halted,
		LastRefresh: a.lastSuccess,
	}
	if a.lastErr != nil {
		st.LastError = a.lastErr.Error()
	}
	return st
}

// Refresh recomputes the view.
//
// A call made while another refresh runs returns StatusInFlight at once. Unless
// force is set, a call within the minimum gap of the last success returns
// StatusRateLimited, and a call after retries were exhausted returns
// StatusHalted. A failing computation is retried with exponential backoff
// before the error is surfaced and the aggregator halts.
func (a *Aggregator) Refresh(ctx context.Context, force bool) (Result, error) {
	if !a.refreshing.CompareAndSwap(false, true) {
		a.metrics.IncrementRefresh(string(StatusInFlight))
		return Result{Status: StatusInFlight, Snapshot: a.Snapshot()}, nil
	}
	defer a.refreshing.Store(false)

	a.mu.RLock()
	halted, last := a.halted, a.lastSuccess
	a.mu.RUnlock()
	if !force {
		if halted {
			a.metrics.IncrementRefresh(string(StatusHalted))
			return Result{Status: StatusHalted, Snapshot: a.Snapshot()}, nil
		}
		if !last.IsZero() && a.now().Sub(last) < a.minGap {
			a.metrics.IncrementRefresh(string(StatusRateLimited))
			return Result{Status: StatusRateLimited, Snapshot: a.Snapshot()}, nil
		}
	}

	next, err := a.computeWithRetry(ctx)
	if err != nil {
		a.mu.Lock()
		a.halted = true
		a.lastErr = err
		a.mu.Unlock()
		a.metrics.IncrementRefresh(string(StatusFailed))
		a.logger.ErrorContext(ctx, "stats refresh failed", "retries", a.maxRetries, "error", err)
		return Result{Status: StatusFailed, Snapshot: a.Snapshot()}, dErrors.Wrap(err, dErrors.CodeUnavailable, "stats refresh failed")
	}

	a.mu.Lock()
	a.retries = 0
	a.lastErr = nil
	a.halted = false
	a.lastSuccess = a.now()
	status := StatusUnchanged
	if !a.snapshot.sameContent(next) {
		next.RefreshedAt = a.lastSuccess
		a.snapshot = next
		status = StatusRefreshed
	}
	current := a.snapshot.clone()
	a.mu.Unlock()

	a.metrics.IncrementRefresh(string(status))
	if status == StatusRefreshed {
		a.observe(next.Stats)
		a.logger.DebugContext(ctx, "stats refreshed",
			"total", next.Stats.TotalDocuments,
			"verified", next.Stats.VerifiedDocuments,
			"pending", next.Stats.PendingDocuments,
		)
	}
	return Result{Status: status, Snapshot: current}, nil
}

// Recover clears the retry counter and error state and forces one attempt.
func (a *Aggregator) Recover(ctx context.Context) (Result, error) {
	a.mu.Lock()
	a.retries = 0
	a.lastErr = nil
	a.halted = false
	a.mu.Unlock()
	a.logger.InfoContext(ctx, "stats recovery requested")
	return a.Refresh(ctx, true)
}

// Run refreshes once, then on every interval tick and every change notification
// until ctx is done. Notifications that land inside the rate limit window are
// coalesced into one trailing refresh.
func (a *Aggregator) Run(ctx context.Context, observer events.Observer) error {
	var notes <-chan events.Notification
	if observer != nil {
		ch, cancel := observer.Subscribe(subscriptionBuffer)
		defer cancel()
		notes = ch
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	var trailing <-chan time.Time
	refresh := func(force bool) {
		res, err := a.Refresh(ctx, force)
		if err != nil {
			return
		}
		if res.Status == StatusRateLimited && trailing == nil {
			trailing = time.After(a.minGap)
		}
	}

	refresh(true)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			refresh(false)
		case _, ok := <-notes:
			if !ok {
				notes = nil
				continue
			}
			refresh(false)
		case <-trailing:
			trailing = nil
			refresh(false)
		}
	}
}

func (a *Aggregator) computeWithRetry(ctx context.Context) (*Snapshot, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = a.initialBackoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = a.initialBackoff << a.maxRetries
	exp.MaxElapsedTime = 0
	exp.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(a.maxRetries)), ctx)

	var snap *Snapshot
	op := func() error {
		s, err := a.compute(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		snap = s
		return nil
	}
	notify := func(err error, wait time.Duration) {
		a.mu.Lock()
		a.retries++
		a.lastErr = err
		attempt := a.retries
		a.mu.Unlock()
		a.metrics.IncrementRetry()
		a.logger.WarnContext(ctx, "stats refresh attempt failed, retrying",
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return snap, nil
}

func (a *Aggregator) compute(ctx context.Context) (*Snapshot, error) {
	if !a.store.IsAvailable(ctx) {
		return nil, fmt.Errorf("stats: record store: %w", sentinel.ErrUnavailable)
	}
	entries, err := a.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("stats: list records: %w", err)
	}

	// Normalized scan can surface the same document under two keys; count it once,
	// preferring the most advanced status.
	byHash := make(map[string]*models.Record, len(entries))
	for _, e := range entries {
		if e.Record == nil {
			continue
		}
		key := hashing.Normalize(e.Record.Hash)
		if prev, ok := byHash[key]; !ok || (!prev.Status.IsTerminal() && e.Record.Status.IsTerminal()) {
			byHash[key] = e.Record
		}
	}

	onLedger := a.ledgerStates(ctx, byHash)

	var st Stats
	activity := make([]Activity, 0, 2*len(byHash))
	for key, rec := range byHash {
		st.TotalDocuments++
		switch rec.Status {
		case models.StatusVerified:
			st.VerifiedDocuments++
		case models.StatusPending:
			st.PendingDocuments++
		case models.StatusRevoked:
			st.RevokedDocuments++
		case models.StatusExpired:
			st.ExpiredDocuments++
		case models.StatusFailed:
			st.FailedDocuments++
		}
		ledgerVerified := onLedger[key] == ledger.StateVerified
		if ledgerVerified {
			st.LedgerConfirmed++
		}
		if rec.Status == models.StatusVerified || ledgerVerified {
			st.TotalVerifications++
		}

		size := units.HumanSize(float64(rec.FileSize))
		activity = append(activity, Activity{
			Hash:      hashing.Prefixed(key),
			FileName:  rec.FileName,
			Action:    ActionUploaded,
			Status:    string(rec.Status),
			Timestamp: rec.CreatedAt,
			Size:      size,
		})
		if rec.VerifiedAt != nil {
			activity = append(activity, Activity{
				Hash:      hashing.Prefixed(key),
				FileName:  rec.FileName,
				Action:    ActionVerified,
				Status:    string(rec.Status),
				Timestamp: *rec.VerifiedAt,
				Size:      size,
			})
		}
	}

	sort.Slice(activity, func(i, j int) bool {
		if !activity[i].Timestamp.Equal(activity[j].Timestamp) {
			return activity[i].Timestamp.After(activity[j].Timestamp)
		}
		if activity[i].Hash != activity[j].Hash {
			return activity[i].Hash < activity[j].Hash
		}
		return activity[i].Action > activity[j].Action
	})
	if len(activity) > a.activityLimit {
		activity = activity[:a.activityLimit]
	}
	return &Snapshot{Stats: st, Activity: activity}, nil
}

// ledgerStates looks up every hash on the ledger when one is ready. Lookups that
// fail are left out; the ledger only refines the counts.
func (a *Aggregator) ledgerStates(ctx context.Context, byHash map[string]*models.Record) map[string]ledger.State {
	if a.ledger == nil || !a.ledger.Ready() || len(byHash) == 0 {
		return nil
	}
	var mu sync.Mutex
	states := make(map[string]ledger.State, len(byHash))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ledgerLookupConcurrency)
	for key := range byHash {
		g.Go(func() error {
			lookup, err := a.ledger.VerifyOnChain(gctx, key)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					a.logger.DebugContext(gctx, "stats ledger lookup failed", "hash", key, "error", err)
				}
				return nil
			}
			if lookup.Found() {
				mu.Lock()
				states[key] = lookup.Record.State
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return states
}

func (a *Aggregator) observe(st Stats) {
	a.metrics.SetDocuments(string(models.StatusPending), st.PendingDocuments)
	a.metrics.SetDocuments(string(models.StatusVerified), st.VerifiedDocuments)
	a.metrics.SetDocuments(string(models.StatusRevoked), st.RevokedDocuments)
	a.metrics.SetDocuments(string(models.StatusExpired), st.ExpiredDocuments)
	a.metrics.SetDocuments(string(models.StatusFailed), st.FailedDocuments)
}

func (s *Snapshot) clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Activity = append([]Activity(nil), s.Activity...)
	return &c
}
