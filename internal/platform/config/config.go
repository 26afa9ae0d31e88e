package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. DOCPROOF_SERVER_ADDR.
const EnvPrefix = "DOCPROOF"

// Config is the full service configuration.
type Config struct {
	Server  Server       `mapstructure:"server"`
	Logging Logging      `mapstructure:"logging"`
	Store   StoreConfig  `mapstructure:"store"`
	Redis   RedisConfig  `mapstructure:"redis"`
	Ledger  LedgerConfig `mapstructure:"ledger"`
	Stats   StatsConfig  `mapstructure:"stats"`
	Events  EventsConfig `mapstructure:"events"`
	Admin   AdminConfig  `mapstructure:"admin"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxBodySize  string        `mapstructure:"max_body_size"`

	maxBodyBytes int64
}

// MaxBodyBytes is MaxBodySize parsed by Load.
func (s Server) MaxBodyBytes() int64 {
	return s.maxBodyBytes
}

type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Backend     string `mapstructure:"backend"` // memory, redis or postgres
	PostgresURL string `mapstructure:"postgres_url"`
	RedisKey    string `mapstructure:"redis_key"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LedgerConfig selects and tunes the ledger the gateway binds to.
type LedgerConfig struct {
	Backend         string        `mapstructure:"backend"` // memory, postgres or rpc
	URL             string        `mapstructure:"url"`
	PostgresURL     string        `mapstructure:"postgres_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	FailureLimit    int           `mapstructure:"failure_limit"`
	SuccessLimit    int           `mapstructure:"success_limit"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
	SignerID        string        `mapstructure:"signer_id"`
	SigningKey      string        `mapstructure:"signing_key"`
	TokenIssuer     string        `mapstructure:"token_issuer"`
	TokenAudience   string        `mapstructure:"token_audience"`
	TokenTTL        time.Duration `mapstructure:"token_ttl"`
	ListenAddr      string        `mapstructure:"listen_addr"`
}

// StatsConfig tunes the aggregate refresher.
type StatsConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	MinGap         time.Duration `mapstructure:"min_gap"`
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	ActivityLimit  int           `mapstructure:"activity_limit"`
	CrossReference bool          `mapstructure:"cross_reference"`
}

// EventsConfig selects the change-notification transport.
type EventsConfig struct {
	Backend  string   `mapstructure:"backend"` // memory or kafka
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	Group    string   `mapstructure:"group"`
	ClientID string   `mapstructure:"client_id"`
}

type AdminConfig struct {
	Token string `mapstructure:"token"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.max_body_size", "32MB")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.postgres_url", "")
	v.SetDefault("store.redis_key", "docproof:documents")

	v.SetDefault("redis.url", "")

	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("ledger.backend", "memory")
	v.SetDefault("ledger.url", "")
	v.SetDefault("ledger.postgres_url", "")
	v.SetDefault("ledger.timeout", 10*time.Second)
	v.SetDefault("ledger.failure_limit", 5)
	v.SetDefault("ledger.success_limit", 2)
	v.SetDefault("ledger.breaker_cooldown", 30*time.Second)
	v.SetDefault("ledger.signer_id", "docproof")
	v.SetDefault("ledger.signing_key", "")
	v.SetDefault("ledger.token_issuer", "docproof")
	v.SetDefault("ledger.token_audience", "docproof-ledger")
	v.SetDefault("ledger.token_ttl", 2*time.Minute)
	v.SetDefault("ledger.listen_addr", ":8545")

	v.SetDefault("stats.interval", 30*time.Second)
	v.SetDefault("stats.min_gap", time.Second)
	v.SetDefault("stats.max_retries", 3)
	v.SetDefault("stats.initial_backoff", 2*time.Second)
	v.SetDefault("stats.activity_limit", 10)
	v.SetDefault("stats.cross_reference", true)

	v.SetDefault("events.backend", "memory")
	v.SetDefault("events.brokers", []string{})
	v.SetDefault("events.topic", "docproof.changes")
	v.SetDefault("events.group", "docproof-stats")
	v.SetDefault("events.client_id", "docproof")

	v.SetDefault("admin.token", "")
}

// Load reads defaults, an optional config file and DOCPROOF_* environment
// variables, in increasing precedence. An empty path skips the file unless
// DOCPROOF_CONFIG names one.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = v.GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// AutomaticEnv only answers Get calls; bind every known key so Unmarshal
	// sees environment overrides too. AllKeys lists only keys with a default or
	// a file value, so every field needs a default in setDefaults.
	for _, key := range v.AllKeys() {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with no file or environment applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	_ = cfg.validate()
	return &cfg
}

func (c *Config) validate() error {
	size, err := units.FromHumanSize(c.Server.MaxBodySize)
	if err != nil {
		return fmt.Errorf("invalid server.max_body_size: %w", err)
	}
	if size <= 0 {
		return errors.New("server.max_body_size must be positive")
	}
	c.Server.maxBodyBytes = size

	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return errors.New("store.backend redis requires redis.url")
		}
	case "postgres":
		if c.Store.PostgresURL == "" {
			return errors.New("store.backend postgres requires store.postgres_url")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}

	switch c.Ledger.Backend {
	case "memory":
	case "rpc":
		if c.Ledger.URL == "" {
			return errors.New("ledger.backend rpc requires ledger.url")
		}
	case "postgres":
		if c.Ledger.PostgresURL == "" {
			return errors.New("ledger.backend postgres requires ledger.postgres_url")
		}
	default:
		return fmt.Errorf("unknown ledger.backend %q", c.Ledger.Backend)
	}
	if c.Ledger.Timeout <= 0 {
		return errors.New("ledger.timeout must be positive")
	}

	switch c.Events.Backend {
	case "memory":
	case "kafka":
		if len(c.Events.Brokers) == 0 {
			return errors.New("events.backend kafka requires events.brokers")
		}
	default:
		return fmt.Errorf("unknown events.backend %q", c.Events.Backend)
	}

	if c.Stats.MaxRetries < 0 {
		return errors.New("stats.max_retries cannot be negative")
	}
	return nil
}
