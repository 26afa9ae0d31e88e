//go:build integration

package containers

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"docproof/internal/platform/config"
	platformredis "docproof/internal/platform/redis"
)

// RedisContainer is a disposable Redis reachable both through a ready client
// and through the service configuration that would point docproof at it.
type RedisContainer struct {
	Container testcontainers.Container
	URL       string
	Client    *redis.Client
}

// NewRedisContainer starts Redis and connects with the same client builder the
// service uses, so pool settings and ping-on-connect are covered too.
func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	url, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("redis connection string: %v", err)
	}

	rc := &RedisContainer{Container: container, URL: url}
	client, err := platformredis.New(ctx, rc.Config())
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("connect redis: %v", err)
	}
	rc.Client = client.Client

	// Shared across suites by the Manager; Ryuk terminates it.
	return rc
}

// Config returns a redis section pointing at the container.
func (r *RedisContainer) Config() config.RedisConfig {
	cfg := config.Default().Redis
	cfg.URL = r.URL
	return cfg
}

// FlushAll removes every key so suites start from an empty store.
func (r *RedisContainer) FlushAll(ctx context.Context) error {
	return r.Client.FlushAll(ctx).Err()
}
