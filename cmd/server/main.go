package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	docmetrics "docproof/internal/document/metrics"
	"docproof/internal/document/store"
	"docproof/internal/events"
	"docproof/internal/ledger"
	"docproof/internal/ledger/chain"
	ledgermetrics "docproof/internal/ledger/metrics"
	"docproof/internal/ledger/rpc"
	"docproof/internal/ledger/signer"
	"docproof/internal/platform/config"
	"docproof/internal/platform/httpserver"
	"docproof/internal/platform/kafka"
	"docproof/internal/platform/kafka/consumer"
	"docproof/internal/platform/kafka/producer"
	"docproof/internal/platform/logger"
	"docproof/internal/platform/metrics"
	"docproof/internal/qr"
	"docproof/internal/reconcile"
	reconcilemetrics "docproof/internal/reconcile/metrics"
	"docproof/internal/stats"
	statsmetrics "docproof/internal/stats/metrics"
	httptransport "docproof/internal/transport/http"
	"docproof/pkg/platform/circuit"
)

const shutdownGrace = 10 * time.Second

// main wires the record store, ledger gateway, notification transport and
// background refresher, then serves the API until SIGINT or SIGTERM.
func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("docproof exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	records, closeStore, err := store.Open(ctx, cfg, docmetrics.New())
	if err != nil {
		return fmt.Errorf("record store: %w", err)
	}
	closers = append(closers, closeStore)

	backend, closeLedger, err := buildLedgerBackend(ctx, cfg.Ledger)
	if err != nil {
		return fmt.Errorf("ledger backend: %w", err)
	}
	closers = append(closers, closeLedger)

	gwOpts := []ledger.Option{
		ledger.WithTimeout(cfg.Ledger.Timeout),
		ledger.WithBreaker(circuit.New("ledger",
			circuit.WithFailureThreshold(cfg.Ledger.FailureLimit),
			circuit.WithSuccessThreshold(cfg.Ledger.SuccessLimit),
			circuit.WithCooldown(cfg.Ledger.BreakerCooldown),
		)),
		ledger.WithMetrics(ledgermetrics.New()),
		ledger.WithLogger(log),
	}
	// Without a signing key the gateway is read-only and confirms are rejected.
	if cfg.Ledger.SigningKey != "" {
		sign, err := signer.NewHMACSigner(cfg.Ledger.SignerID, cfg.Ledger.SigningKey,
			cfg.Ledger.TokenIssuer, cfg.Ledger.TokenAudience, cfg.Ledger.TokenTTL)
		if err != nil {
			return fmt.Errorf("ledger signer: %w", err)
		}
		gwOpts = append(gwOpts, ledger.WithSigner(sign))
	} else {
		log.Warn("ledger.signing_key is empty; ledger confirms are disabled")
	}
	gateway := ledger.NewGateway(backend, gwOpts...)
	// A ledger that is down at startup leaves the gateway not ready; reconcile
	// degrades to local-only verification until gateway.Run rebinds it.
	if err := gateway.Initialize(ctx); err != nil {
		log.Warn("ledger unavailable at startup", "backend", cfg.Ledger.Backend, "error", err)
	}
	closers = append(closers, gateway.Disconnect)

	bus := events.NewBus(log)
	g, gctx := errgroup.WithContext(ctx)

	publisher, err := buildPublisher(gctx, g, cfg.Events, bus, log, &closers)
	if err != nil {
		return fmt.Errorf("events: %w", err)
	}

	coordinator := reconcile.NewCoordinator(records, gateway,
		reconcile.WithPublisher(publisher),
		reconcile.WithHistory(reconcile.NewHistory(reconcile.DefaultHistoryCapacity)),
		reconcile.WithMetrics(reconcilemetrics.New()),
		reconcile.WithLogger(log),
	)

	aggOpts := []stats.Option{
		stats.WithMetrics(statsmetrics.New()),
		stats.WithLogger(log),
		stats.WithInterval(cfg.Stats.Interval),
		stats.WithMinGap(cfg.Stats.MinGap),
		stats.WithRetries(cfg.Stats.MaxRetries, cfg.Stats.InitialBackoff),
		stats.WithActivityLimit(cfg.Stats.ActivityLimit),
	}
	if cfg.Stats.CrossReference {
		aggOpts = append(aggOpts, stats.WithLedger(gateway))
	}
	aggregator := stats.New(records, aggOpts...)

	apiMetrics := metrics.New()
	handler := httptransport.NewHandler(httptransport.Deps{
		Coordinator: coordinator,
		Ledger:      gateway,
		Store:       records,
		Stats:       aggregator,
		Codec:       qr.New(),
		Metrics:     apiMetrics,
		Logger:      log,
	})
	router := httptransport.NewRouter(handler, httptransport.RouterConfig{
		MaxBodyBytes: cfg.Server.MaxBodyBytes(),
		AdminToken:   cfg.Admin.Token,
		Logger:       log,
		Metrics:      apiMetrics,
	})
	srv := httpserver.New(cfg.Server, router)

	g.Go(func() error {
		return gateway.Run(gctx)
	})
	g.Go(func() error {
		return aggregator.Run(gctx, bus)
	})
	g.Go(func() error {
		log.Info("starting docproof",
			"addr", cfg.Server.Addr,
			"store", cfg.Store.Backend,
			"ledger", cfg.Ledger.Backend,
			"events", cfg.Events.Backend,
		)
		return httpserver.Run(gctx, srv, shutdownGrace, log)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildLedgerBackend(ctx context.Context, cfg config.LedgerConfig) (ledger.Backend, func(), error) {
	switch cfg.Backend {
	case "rpc":
		return rpc.NewClient(cfg.URL, &http.Client{Timeout: cfg.Timeout}), func() {}, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		pg := chain.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return chain.NewBackend(pg), pool.Close, nil
	default:
		return chain.NewBackend(chain.NewMemory()), func() {}, nil
	}
}

// buildPublisher returns the publisher the coordinator writes to. With Kafka,
// changes go to the topic and a consumer relays them back onto the local bus,
// so every instance refreshes on every instance's writes.
func buildPublisher(ctx context.Context, g *errgroup.Group, cfg config.EventsConfig, bus *events.Bus, log *slog.Logger, closers *[]func()) (events.Publisher, error) {
	if cfg.Backend != "kafka" {
		return bus, nil
	}

	prodClient, err := kafka.New(cfg)
	if err != nil {
		return nil, err
	}
	*closers = append(*closers, prodClient.Close)
	if err := kafka.Health(ctx, prodClient); err != nil {
		return nil, err
	}
	if err := kafka.EnsureTopic(ctx, prodClient, cfg.Topic, 1); err != nil {
		return nil, err
	}

	router := consumer.NewRouter(log, nil)
	router.Register(cfg.Topic, events.NewRelay(bus))

	consClient, err := kafka.New(cfg,
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(router.Topics()...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, err
	}
	*closers = append(*closers, consClient.Close)

	c := consumer.New(consClient, router, log)
	g.Go(func() error {
		return c.Run(ctx)
	})

	return events.NewKafkaPublisher(producer.New(prodClient), cfg.Topic), nil
}
