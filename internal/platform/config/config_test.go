package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, int64(32_000_000), cfg.Server.MaxBodyBytes())
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 10*time.Second, cfg.Ledger.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Stats.Interval)
	assert.Equal(t, time.Second, cfg.Stats.MinGap)
	assert.Equal(t, 3, cfg.Stats.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Stats.InitialBackoff)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("DOCPROOF_SERVER_ADDR", ":9090")
	t.Setenv("DOCPROOF_SERVER_MAX_BODY_SIZE", "1MB")
	t.Setenv("DOCPROOF_LEDGER_TIMEOUT", "3s")
	t.Setenv("DOCPROOF_EVENTS_BACKEND", "kafka")
	t.Setenv("DOCPROOF_EVENTS_BROKERS", "a:9092,b:9092")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, int64(1_000_000), cfg.Server.MaxBodyBytes())
	assert.Equal(t, 3*time.Second, cfg.Ledger.Timeout)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Events.Brokers)
}

func TestLoadSecretsAndURLsFromEnvironment(t *testing.T) {
	t.Setenv("DOCPROOF_ADMIN_TOKEN", "s3cret")
	t.Setenv("DOCPROOF_LEDGER_SIGNING_KEY", "signing-key")
	t.Setenv("DOCPROOF_STORE_BACKEND", "redis")
	t.Setenv("DOCPROOF_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DOCPROOF_LEDGER_BACKEND", "rpc")
	t.Setenv("DOCPROOF_LEDGER_URL", "http://ledger:8545")
	t.Setenv("DOCPROOF_LEDGER_POSTGRES_URL", "postgres://ledger")
	t.Setenv("DOCPROOF_STORE_POSTGRES_URL", "postgres://store")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Admin.Token)
	assert.Equal(t, "signing-key", cfg.Ledger.SigningKey)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, "http://ledger:8545", cfg.Ledger.URL)
	assert.Equal(t, "postgres://ledger", cfg.Ledger.PostgresURL)
	assert.Equal(t, "postgres://store", cfg.Store.PostgresURL)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docproof.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  backend: redis\nredis:\n  url: redis://localhost:6379/0\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown store":          {"DOCPROOF_STORE_BACKEND": "disk"},
		"redis without url":      {"DOCPROOF_STORE_BACKEND": "redis"},
		"rpc ledger without url": {"DOCPROOF_LEDGER_BACKEND": "rpc"},
		"kafka without brokers":  {"DOCPROOF_EVENTS_BACKEND": "kafka"},
		"bad body size":          {"DOCPROOF_SERVER_MAX_BODY_SIZE": "lots"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}
