// Package cache provides a typed get-or-compute cache over a kv.Store.
//
// Entries live under "<name>::<key>" and are JSON encoded, so any backend
// the kv package supports can hold them and other processes sharing the
// backend see the same values.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/arbi/kvengine/pkg/kv"
)

// ErrCacheMiss is returned by Get when the key holds no entry
var ErrCacheMiss = errors.New("cache miss")

// Separator joins the cache name and the key
const Separator = "::"

// Hook observes a lookup. key is the full store key.
type Hook func(ctx context.Context, key string)

// Option configures a Cache
type Option func(*options)

// DefaultLoadTimeout bounds a shared loader call
const DefaultLoadTimeout = 30 * time.Second

type options struct {
	ttl         time.Duration
	loadTimeout time.Duration
	onHit       Hook
	onMiss      Hook
	logger      kv.LogFunc
}

// WithTTL expires every entry written by the cache after ttl. Zero keeps
// entries until evicted.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// WithLoadTimeout bounds how long a loader shared by concurrent misses may
// run
func WithLoadTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.loadTimeout = d
		}
	}
}

// WithHooks registers callbacks for hits and misses. Either may be nil.
func WithHooks(onHit, onMiss Hook) Option {
	return func(o *options) {
		o.onHit = onHit
		o.onMiss = onMiss
	}
}

// WithLogger sets the logger used for degraded reads and writes
func WithLogger(logger kv.LogFunc) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Cache stores values of type V keyed by K in a kv.Store
type Cache[K comparable, V any] struct {
	store kv.Store
	name  string
	opts  options
	group singleflight.Group
}

// New returns a cache named name backed by store
func New[K comparable, V any](store kv.Store, name string, opts ...Option) *Cache[K, V] {
	c := &Cache[K, V]{
		store: store,
		name:  name,
		opts: options{
			loadTimeout: DefaultLoadTimeout,
			logger:      func(string, ...any) {},
		},
	}
	for _, opt := range opts {
		opt(&c.opts)
	}
	return c
}

// Name returns the cache name
func (c *Cache[K, V]) Name() string {
	return c.name
}

// Key returns the store key used for key
func (c *Cache[K, V]) Key(key K) string {
	return fmt.Sprintf("%s%s%v", c.name, Separator, key)
}

// Get returns the cached value or ErrCacheMiss
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V
	full := c.Key(key)
	data, err := c.store.Get(ctx, full)
	if errors.Is(err, kv.ErrNotFound) {
		c.miss(ctx, full)
		return zero, ErrCacheMiss
	}
	if err != nil {
		return zero, fmt.Errorf("cache get %s: %w", full, err)
	}

	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, fmt.Errorf("cache decode %s: %w", full, err)
	}
	c.hit(ctx, full)
	return v, nil
}

// Put writes value under key, replacing any previous entry
func (c *Cache[K, V]) Put(ctx context.Context, key K, value V) error {
	full := c.Key(key)
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", full, err)
	}
	if err := c.store.Set(ctx, full, data, c.opts.ttl); err != nil {
		return fmt.Errorf("cache put %s: %w", full, err)
	}
	return nil
}

// GetOrCompute returns the cached value for key, calling loader on a miss
// and caching what it returns. Concurrent misses on the same key share one
// loader call. A loader error is returned and nothing is cached.
//
// The shared loader runs detached from the cancellation of whichever caller
// started it, bounded by the load timeout, so one caller giving up does not
// fail the others. Each caller still stops waiting when its own ctx ends.
//
// When the backend is unavailable the loader result is returned uncached.
func (c *Cache[K, V]) GetOrCompute(ctx context.Context, key K, loader func(ctx context.Context) (V, error)) (V, error) {
	var zero V
	v, err := c.Get(ctx, key)
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, ErrCacheMiss):
	case errors.Is(err, kv.ErrBackendUnavailable):
		c.opts.logger("cache read degraded", "cache", c.name, "error", err)
	default:
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
			return zero, err
		}
		// undecodable entries are recomputed and overwritten
		c.opts.logger("cache entry undecodable", "cache", c.name, "error", err)
	}

	full := c.Key(key)
	ch := c.group.DoChan(full, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.loadTimeout)
		defer cancel()
		v, err := loader(loadCtx)
		if err != nil {
			return nil, err
		}
		if err := c.Put(loadCtx, key, v); err != nil {
			c.opts.logger("cache write failed", "cache", c.name, "key", full, "error", err)
		}
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Evict removes key. Evicting a missing key is not an error.
func (c *Cache[K, V]) Evict(ctx context.Context, key K) error {
	full := c.Key(key)
	c.group.Forget(full)
	if _, err := c.store.Del(ctx, full); err != nil {
		return fmt.Errorf("cache evict %s: %w", full, err)
	}
	return nil
}

// Clear removes every entry of this cache and nothing else
func (c *Cache[K, V]) Clear(ctx context.Context) error {
	keys, err := c.store.Keys(ctx, escapeGlob(c.name)+Separator+"*")
	if err != nil {
		return fmt.Errorf("cache clear %s: %w", c.name, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if _, err := c.store.Del(ctx, keys...); err != nil {
		return fmt.Errorf("cache clear %s: %w", c.name, err)
	}
	return nil
}

func (c *Cache[K, V]) hit(ctx context.Context, key string) {
	if c.opts.onHit != nil {
		c.opts.onHit(ctx, key)
	}
}

func (c *Cache[K, V]) miss(ctx context.Context, key string) {
	if c.opts.onMiss != nil {
		c.opts.onMiss(ctx, key)
	}
}

// escapeGlob quotes the glob metacharacters of a literal prefix
func escapeGlob(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
