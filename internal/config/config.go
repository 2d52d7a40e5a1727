package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/arbi/kvengine/pkg/kv"
)

type Config struct {
	Env      string `mapstructure:"KV_ENV"`
	HTTPAddr string `mapstructure:"KV_HTTP_ADDR"`

	Store    StoreConfig    `mapstructure:",squash"`
	Snapshot SnapshotConfig `mapstructure:",squash"`
	Orders   OrderConfig    `mapstructure:",squash"`
	Products ProductConfig  `mapstructure:",squash"`
	Security SecurityConfig `mapstructure:",squash"`
}

type StoreConfig struct {
	Backend             string        `mapstructure:"KV_BACKEND"` // "memory", "redis"
	RedisURL            string        `mapstructure:"KV_REDIS_URL"`
	JanitorInterval     time.Duration `mapstructure:"KV_JANITOR_INTERVAL"`
	FailoverEnabled     bool          `mapstructure:"KV_FAILOVER_ENABLED"`
	ProbeInterval       time.Duration `mapstructure:"KV_PROBE_INTERVAL"`
	StartupProbeTimeout time.Duration `mapstructure:"KV_STARTUP_PROBE_TIMEOUT"`
}

type SnapshotConfig struct {
	PostgresDSN string        `mapstructure:"KV_POSTGRES_DSN"` // empty disables snapshots
	Interval    time.Duration `mapstructure:"KV_SNAPSHOT_INTERVAL"`
}

type OrderConfig struct {
	Stream          string        `mapstructure:"KV_ORDER_STREAM"`
	Group           string        `mapstructure:"KV_ORDER_GROUP"`
	PublishInterval time.Duration `mapstructure:"KV_ORDER_PUBLISH_INTERVAL"`
}

type ProductConfig struct {
	CacheTTL time.Duration `mapstructure:"KV_PRODUCT_CACHE_TTL"`
}

type SecurityConfig struct {
	RateLimitRPM       int      `mapstructure:"KV_RATE_LIMIT_RPM"`
	CORSAllowedOrigins []string `mapstructure:"KV_CORS_ALLOWED_ORIGINS"`
}

// dotEnvCandidates are checked relative to the working directory
var dotEnvCandidates = []string{
	".env",
	filepath.Join("..", ".env"),
}

func loadDotEnvFiles(candidates []string) {
	seen := make(map[string]struct{})
	for _, path := range candidates {
		abs := path
		if resolved, err := filepath.Abs(path); err == nil {
			abs = resolved
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // env vars already set take precedence
		}
	}
}

// Load reads configuration from the environment and any .env file
func Load() (*Config, error) {
	return load(dotEnvCandidates)
}

func load(dotEnv []string) (*Config, error) {
	loadDotEnvFiles(dotEnv)

	v := viper.New()
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	// Handle array parsing for comma-separated values
	if origins := v.GetString("KV_CORS_ALLOWED_ORIGINS"); origins != "" {
		v.Set("KV_CORS_ALLOWED_ORIGINS", splitList(origins))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	cfg.Orders.Stream = strings.TrimSpace(cfg.Orders.Stream)
	cfg.Orders.Group = strings.TrimSpace(cfg.Orders.Group)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("KV_ENV", "dev")
	v.SetDefault("KV_HTTP_ADDR", ":8080")
	v.SetDefault("KV_BACKEND", string(kv.BackendMemory))
	v.SetDefault("KV_REDIS_URL", "redis://127.0.0.1:6379/0")
	v.SetDefault("KV_JANITOR_INTERVAL", "1s")
	v.SetDefault("KV_FAILOVER_ENABLED", true)
	v.SetDefault("KV_PROBE_INTERVAL", "5s")
	v.SetDefault("KV_STARTUP_PROBE_TIMEOUT", "1s")
	v.SetDefault("KV_POSTGRES_DSN", "")
	v.SetDefault("KV_SNAPSHOT_INTERVAL", "1m")
	v.SetDefault("KV_ORDER_STREAM", "orders")
	v.SetDefault("KV_ORDER_GROUP", "order-group")
	v.SetDefault("KV_ORDER_PUBLISH_INTERVAL", "10s")
	v.SetDefault("KV_PRODUCT_CACHE_TTL", "10m")
	v.SetDefault("KV_RATE_LIMIT_RPM", 600)
	v.SetDefault("KV_CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) validate() error {
	switch kv.Backend(c.Store.Backend) {
	case kv.BackendMemory:
	case kv.BackendRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("KV_REDIS_URL is required when KV_BACKEND=redis")
		}
	default:
		return fmt.Errorf("invalid KV_BACKEND %q (must be memory or redis)", c.Store.Backend)
	}
	if c.Store.JanitorInterval < 0 {
		return fmt.Errorf("KV_JANITOR_INTERVAL must not be negative")
	}
	if c.Store.ProbeInterval <= 0 {
		return fmt.Errorf("KV_PROBE_INTERVAL must be positive")
	}
	if c.Snapshot.PostgresDSN != "" && c.Snapshot.Interval <= 0 {
		return fmt.Errorf("KV_SNAPSHOT_INTERVAL must be positive when snapshots are enabled")
	}
	if c.Orders.Stream == "" || c.Orders.Group == "" {
		return fmt.Errorf("KV_ORDER_STREAM and KV_ORDER_GROUP are required")
	}
	if c.Orders.PublishInterval < 0 {
		return fmt.Errorf("KV_ORDER_PUBLISH_INTERVAL must not be negative")
	}
	if c.Security.RateLimitRPM < 0 {
		return fmt.Errorf("KV_RATE_LIMIT_RPM must not be negative")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

// SnapshotsEnabled reports whether a Postgres DSN was configured
func (c *Config) SnapshotsEnabled() bool {
	return c.Snapshot.PostgresDSN != ""
}

// KV returns the store factory configuration. logger may be nil.
func (c *Config) KV(logger kv.LogFunc) kv.Config {
	return kv.Config{
		Backend:             kv.Backend(c.Store.Backend),
		RedisURL:            c.Store.RedisURL,
		JanitorInterval:     c.Store.JanitorInterval,
		FailoverEnabled:     c.Store.FailoverEnabled,
		ProbeInterval:       c.Store.ProbeInterval,
		StartupProbeTimeout: c.Store.StartupProbeTimeout,
		Logger:              logger,
	}
}
