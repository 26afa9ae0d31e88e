package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"docproof/internal/ledger/chain"
	"docproof/internal/ledger/rpc"
	"docproof/internal/ledger/signer"
	"docproof/internal/platform/config"
	"docproof/internal/platform/httpserver"
	"docproof/internal/platform/logger"
	"docproof/pkg/platform/middleware/request"
	"docproof/pkg/platform/middleware/requesttime"
)

// main serves a hash-chained ledger over HTTP for docproof instances that use
// ledger.backend=rpc. The chain lives in Postgres when ledger.postgres_url is
// set and in memory otherwise.
func main() {
	configPath := flag.String("config", "", "path to a config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("ledgerd exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg.Ledger.SigningKey == "" {
		return errors.New("ledger.signing_key is required to verify confirm tokens")
	}

	var ledger chain.Ledger = chain.NewMemory()
	if cfg.Ledger.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.Ledger.PostgresURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		pg := chain.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		if err := pg.Verify(ctx); err != nil {
			return fmt.Errorf("chain integrity: %w", err)
		}
		ledger = pg
	}

	verifier := signer.NewVerifier(cfg.Ledger.SigningKey, cfg.Ledger.TokenIssuer, cfg.Ledger.TokenAudience)
	h := rpc.NewHandler(ledger, verifier, cfg.Admin.Token, log)

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recover(log))
	r.Use(request.AccessLog(log))
	r.Use(requesttime.Middleware)
	h.Register(r)

	srv := httpserver.New(config.Server{
		Addr:         cfg.Ledger.ListenAddr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, r)
	log.Info("starting ledgerd", "addr", cfg.Ledger.ListenAddr, "persistent", cfg.Ledger.PostgresURL != "")
	return httpserver.Run(ctx, srv, 10*time.Second, log)
}
