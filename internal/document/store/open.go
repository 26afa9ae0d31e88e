package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"docproof/internal/document/metrics"
	"docproof/internal/platform/config"
	platformredis "docproof/internal/platform/redis"
)

// Backend is a record store that also accepts verbatim imports.
type Backend interface {
	Store
	Importer
}

// Open builds the backend named by cfg.Store.Backend. The returned func
// releases its connections.
func Open(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (Backend, func(), error) {
	switch cfg.Store.Backend {
	case "redis":
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		if client == nil {
			return nil, nil, errors.New("store.backend redis requires redis.url")
		}
		return NewRedisStore(client.Client, cfg.Store.RedisKey, m), func() { _ = client.Close() }, nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.Store.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		pg := NewPostgresStore(db, m)
		if err := pg.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return pg, func() { _ = db.Close() }, nil
	case "memory", "":
		return NewInMemory(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
