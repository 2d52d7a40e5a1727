package kv

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Backend represents the storage backend type
type Backend string

const (
	// BackendMemory uses the in-memory store
	BackendMemory Backend = "memory"
	// BackendRedis uses Redis as the backend
	BackendRedis Backend = "redis"
)

// Config holds configuration for creating a Store instance
type Config struct {
	// Backend specifies which storage backend to use
	Backend Backend

	// RedisURL is the connection string for Redis (required when Backend is "redis")
	// Format: redis://localhost:6379/0 or redis://:password@localhost:6379/1
	RedisURL string

	// JanitorInterval controls how often the in-memory store reaps expired keys.
	// Zero disables the reaper; expired keys are then removed lazily on access.
	JanitorInterval time.Duration

	// FailoverEnabled controls whether automatic failover to in-memory store is enabled
	// when Redis becomes unavailable
	FailoverEnabled bool

	// ProbeInterval controls how often to probe Redis for recovery after failover
	// Default: 5 seconds
	ProbeInterval time.Duration

	// StartupProbeTimeout controls how long to wait for Redis at startup
	// Default: 1 second
	StartupProbeTimeout time.Duration

	// Logger is used for logging failover events. If nil, no logging occurs.
	Logger LogFunc
}

func (cfg *Config) setDefaults() {
	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = 5 * time.Second
	}
	if cfg.StartupProbeTimeout == 0 {
		cfg.StartupProbeTimeout = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = func(msg string, fields ...any) {}
	}
}

// StoreFactory defines a function that creates a Store instance
type StoreFactory func(cfg Config) (Store, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[Backend]StoreFactory)
)

// RegisterBackend registers a store factory for a given backend. Backend
// packages call it from init.
func RegisterBackend(backend Backend, factory StoreFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[backend] = factory
}

func newBackend(backend Backend, cfg Config) (Store, error) {
	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s backend not registered", backend)
	}
	return factory(cfg)
}

// NewStoreFromConfig creates a new Store instance based on the provided configuration
func NewStoreFromConfig(cfg Config) (Store, error) {
	cfg.setDefaults()

	switch cfg.Backend {
	case BackendMemory:
		return newBackend(BackendMemory, cfg)
	case BackendRedis:
		return createRedisStoreWithFailover(cfg)
	default:
		return nil, fmt.Errorf("unsupported backend: %s (supported: %s, %s)",
			cfg.Backend, BackendMemory, BackendRedis)
	}
}

// createRedisStoreWithFailover creates a Redis store. A Redis that cannot be
// reached at startup degrades to the in-memory store; with failover enabled
// the primary keeps being probed and is promoted once it answers.
func createRedisStoreWithFailover(cfg Config) (Store, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis URL is required when backend is 'redis'")
	}

	memoryStore, err := newBackend(BackendMemory, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory store for failover: %w", err)
	}

	redisStore, err := newBackend(BackendRedis, cfg)
	if err != nil {
		cfg.Logger("Redis unavailable at startup; using in-memory store", "error", err.Error())
		return memoryStore, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StartupProbeTimeout)
	defer cancel()
	pingErr := redisStore.Ping(ctx)

	if !cfg.FailoverEnabled {
		if pingErr != nil {
			redisStore.Close()
			cfg.Logger("Redis health check failed at startup, using in-memory store", "error", pingErr.Error())
			return memoryStore, nil
		}
		memoryStore.Close()
		return redisStore, nil
	}

	if pingErr != nil {
		cfg.Logger("Redis unhealthy at startup; using in-memory store (will retry in background)",
			"error", pingErr.Error())
		return NewFailoverStoreWithFallbackActive(redisStore, memoryStore, cfg.ProbeInterval, cfg.Logger), nil
	}

	cfg.Logger("Redis healthy at startup; using Redis with in-memory failover")
	return NewFailoverStore(redisStore, memoryStore, cfg.ProbeInterval, cfg.Logger), nil
}
