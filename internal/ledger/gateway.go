// Package ledger is the read/confirm client for the authoritative document ledger.
//
// The Gateway owns the session lifecycle: Initialize binds the backend once, Run
// rebinds it whenever the session is lost, every call is bounded by a timeout and
// guarded by a circuit breaker, and Disconnect cuts off in-flight calls. Failures are normalized into Error categories so
// callers can treat ledger trouble as degraded availability rather than a crash.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"docproof/internal/document/hashing"
	ledgermetrics "docproof/internal/ledger/metrics"
	"docproof/pkg/platform/circuit"
	"docproof/pkg/platform/sentinel"
)

const (
	DefaultTimeout  = 10 * time.Second
	DefaultCooldown = 30 * time.Second

	DefaultReconnectInitial = time.Second
	DefaultReconnectMax     = 30 * time.Second
)

var tracer = otel.Tracer("docproof/internal/ledger")

// Gateway is the LedgerClient used by reconciliation and the HTTP surface.
type Gateway struct {
	backend Backend
	breaker *circuit.Breaker
	metrics *ledgermetrics.Metrics
	logger  *slog.Logger
	timeout time.Duration

	reconnectInitial time.Duration
	reconnectMax     time.Duration

	mu      sync.RWMutex
	signer  Signer
	ready   bool
	session context.Context
	cancel  context.CancelFunc
	initMu  sync.Mutex
}

type Option func(*Gateway)

func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(g *Gateway) {
		if b != nil {
			g.breaker = b
		}
	}
}

func WithMetrics(m *ledgermetrics.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithReconnectBackoff bounds the wait between bind attempts made by Run.
func WithReconnectBackoff(initial, maxWait time.Duration) Option {
	return func(g *Gateway) {
		if initial > 0 {
			g.reconnectInitial = initial
		}
		if maxWait >= initial && maxWait > 0 {
			g.reconnectMax = maxWait
		}
	}
}

func WithSigner(s Signer) Option {
	return func(g *Gateway) {
		g.signer = s
	}
}

func NewGateway(backend Backend, opts ...Option) *Gateway {
	g := &Gateway{
		backend: backend,
		breaker: circuit.New("ledger", circuit.WithCooldown(DefaultCooldown)),
		logger:  slog.Default(),
		timeout: DefaultTimeout,

		reconnectInitial: DefaultReconnectInitial,
		reconnectMax:     DefaultReconnectMax,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Initialize binds the backend. Calling it on a ready gateway is a no-op.
func (g *Gateway) Initialize(ctx context.Context) error {
	g.initMu.Lock()
	defer g.initMu.Unlock()

	if g.Ready() {
		return nil
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.backend.Bind(callCtx); err != nil {
		lerr := classify(OpInitialize, err)
		g.metrics.ObserveCall(OpInitialize, string(lerr.Category), start)
		g.logger.WarnContext(ctx, "ledger bind failed", "error", err, "category", lerr.Category)
		return lerr
	}

	session, stop := context.WithCancel(context.Background())
	g.mu.Lock()
	g.ready = true
	g.session = session
	g.cancel = stop
	g.mu.Unlock()

	g.metrics.ObserveCall(OpInitialize, "ok", start)
	g.logger.InfoContext(ctx, "ledger client ready")
	return nil
}

// Ready reports whether Initialize has succeeded and no disconnect happened since.
func (g *Gateway) Ready() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ready
}

// Run keeps the gateway bound until ctx is done. While the gateway is not
// ready it retries Initialize with exponential backoff, and after a successful
// bind it waits for the session to end and starts over.
func (g *Gateway) Run(ctx context.Context) error {
	for {
		if err := g.connect(ctx); err != nil {
			return nil
		}

		g.mu.RLock()
		session := g.session
		g.mu.RUnlock()
		if session == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-session.Done():
			g.logger.WarnContext(ctx, "ledger session ended, rebinding")
		}
	}
}

func (g *Gateway) connect(ctx context.Context) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = g.reconnectInitial
	exp.MaxInterval = g.reconnectMax
	exp.MaxElapsedTime = 0
	exp.Reset()

	attempt := 0
	op := func() error {
		attempt++
		return g.Initialize(ctx)
	}
	notify := func(err error, wait time.Duration) {
		g.logger.WarnContext(ctx, "ledger bind failed, retrying",
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}
	return backoff.RetryNotify(op, backoff.WithContext(exp, ctx), notify)
}

// Disconnect ends the session. In-flight calls are cancelled and fail with a
// network error; the gateway reports not ready until it is bound again.
func (g *Gateway) Disconnect() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		g.cancel()
	}
	g.ready = false
	g.session = nil
	g.cancel = nil
}

// SetSigner swaps the confirm identity. A nil signer disables confirms.
func (g *Gateway) SetSigner(s Signer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.signer = s
}

func (g *Gateway) HasSigner() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.signer != nil
}

// VerifyOnChain reads the ledger record for hash. A hash the ledger does not hold
// yields a Lookup without a Record and no error.
func (g *Gateway) VerifyOnChain(ctx context.Context, hash string) (*Lookup, error) {
	ctx, span := tracer.Start(ctx, "ledger.VerifyOnChain", trace.WithAttributes(attribute.String("document.hash", hash)))
	defer span.End()

	start := time.Now()
	lookup, err := g.verifyOnChain(ctx, hash)
	if err != nil {
		g.metrics.ObserveCall(OpVerify, string(GetCategory(err)), start)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	outcome := "ok"
	if !lookup.Found() {
		outcome = "not_found"
	}
	span.SetAttributes(attribute.Bool("ledger.found", lookup.Found()))
	g.metrics.ObserveCall(OpVerify, outcome, start)
	return lookup, nil
}

func (g *Gateway) verifyOnChain(ctx context.Context, hash string) (*Lookup, error) {
	key, normalized, err := parseHash(OpVerify, hash)
	if err != nil {
		return nil, err
	}

	callCtx, done, err := g.begin(ctx, OpVerify)
	if err != nil {
		return nil, err
	}
	defer done()

	rec, err := g.backend.Lookup(callCtx, key)
	if errors.Is(err, sentinel.ErrNotFound) {
		g.recordSuccess(ctx)
		return &Lookup{Hash: normalized}, nil
	}
	if err != nil {
		lerr := classify(OpVerify, err)
		g.recordOutcome(ctx, lerr)
		return nil, lerr
	}
	g.recordSuccess(ctx)
	return &Lookup{Hash: normalized, Record: rec}, nil
}

// ConfirmVerification marks the ledger record for hash verified. It requires an
// authenticated signer and is never retried.
func (g *Gateway) ConfirmVerification(ctx context.Context, hash string) (*Confirmation, error) {
	ctx, span := tracer.Start(ctx, "ledger.ConfirmVerification", trace.WithAttributes(attribute.String("document.hash", hash)))
	defer span.End()

	start := time.Now()
	conf, err := g.confirm(ctx, hash)
	if err != nil {
		g.metrics.ObserveCall(OpConfirm, string(GetCategory(err)), start)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("ledger.transaction_id", conf.TransactionID))
	g.metrics.ObserveCall(OpConfirm, "ok", start)
	g.logger.InfoContext(ctx, "ledger verification confirmed",
		"hash", conf.DocumentHash,
		"transaction_id", conf.TransactionID,
		"signer", conf.Signer,
	)
	return conf, nil
}

func (g *Gateway) confirm(ctx context.Context, hash string) (*Confirmation, error) {
	key, _, err := parseHash(OpConfirm, hash)
	if err != nil {
		return nil, err
	}

	g.mu.RLock()
	signer := g.signer
	g.mu.RUnlock()
	if signer == nil {
		return nil, NewError(CategoryAuthentication, OpConfirm, "confirm requires a signer", ErrNoSigner)
	}

	callCtx, done, err := g.begin(ctx, OpConfirm)
	if err != nil {
		return nil, err
	}
	defer done()

	conf, err := g.backend.Confirm(callCtx, key, signer)
	if err != nil {
		lerr := classify(OpConfirm, err)
		g.recordOutcome(ctx, lerr)
		return nil, lerr
	}
	g.recordSuccess(ctx)
	return conf, nil
}

// begin checks readiness and the breaker, then derives a call context bounded by
// the timeout and tied to the current session.
func (g *Gateway) begin(ctx context.Context, op string) (context.Context, func(), error) {
	g.mu.RLock()
	ready, session := g.ready, g.session
	g.mu.RUnlock()

	if !ready {
		return nil, nil, NewError(CategoryUnavailable, op, "client not initialized", ErrNotInitialized)
	}
	if !g.breaker.Allow() {
		return nil, nil, NewError(CategoryUnavailable, op, "circuit open", ErrCircuitOpen)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	stop := context.AfterFunc(session, cancel)
	return callCtx, func() {
		stop()
		cancel()
	}, nil
}

// recordOutcome feeds the breaker. Only transport failures count against it; a
// rejected request means the ledger is reachable. Calls abandoned by their caller
// are not counted either way.
func (g *Gateway) recordOutcome(ctx context.Context, err *Error) {
	if !IsNetworkError(err) {
		g.recordSuccess(ctx)
		return
	}
	if ctx.Err() != nil {
		return
	}
	_, change := g.breaker.RecordFailure()
	if change.Opened {
		g.metrics.IncrementCircuitOpened()
		g.logger.WarnContext(ctx, "ledger circuit opened", "error", err)
	}
}

func (g *Gateway) recordSuccess(ctx context.Context) {
	_, change := g.breaker.RecordSuccess()
	if change.Closed {
		g.metrics.IncrementCircuitClosed()
		g.logger.InfoContext(ctx, "ledger circuit closed")
	}
}

func parseHash(op, hash string) ([32]byte, string, error) {
	v := hashing.Validate(hash)
	if !v.IsValid {
		return [32]byte{}, "", NewError(CategoryBadData, op, "invalid document hash", v.Err())
	}
	key, err := hashing.Bytes32(v.Normalized)
	if err != nil {
		return [32]byte{}, "", NewError(CategoryBadData, op, "invalid document hash", err)
	}
	return key, hashing.Prefixed(v.Normalized), nil
}

// classify maps a backend failure into the ledger taxonomy.
func classify(op string, err error) *Error {
	var le *Error
	if errors.As(err, &le) {
		return le
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, sentinel.ErrTimeout):
		return NewError(CategoryTimeout, op, "ledger call timed out", err)
	case errors.Is(err, context.Canceled):
		return NewError(CategoryNetwork, op, "ledger call cancelled", err)
	case errors.Is(err, sentinel.ErrNotFound):
		return NewError(CategoryNotFound, op, "no ledger record for hash", err)
	case errors.Is(err, sentinel.ErrInvalidState):
		return NewError(CategoryInvalidState, op, "ledger record is not pending", err)
	case errors.Is(err, sentinel.ErrUnauthorized):
		return NewError(CategoryAuthentication, op, "signer rejected", err)
	case errors.Is(err, sentinel.ErrUnavailable):
		return NewError(CategoryNetwork, op, "ledger unreachable", err)
	default:
		return NewError(CategoryNetwork, op, "ledger call failed", err)
	}
}
