package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// LogFunc is a function type for structured logging
type LogFunc func(msg string, fields ...any)

// FailoverStore wraps a primary and fallback store, automatically failing over
// when the primary becomes unavailable and recovering when it becomes healthy again
type FailoverStore struct {
	primary       Store        // Primary store (usually Redis)
	fallback      Store        // Fallback store (usually in-memory)
	active        atomic.Value // Currently active store (Store)
	probeInterval time.Duration
	logger        LogFunc

	// State management
	mu        sync.Mutex
	probing   bool          // Whether background probing is active
	closed    chan struct{} // Signal to stop background processes
	closeOnce sync.Once
	probeStop chan struct{} // Signal to stop current probe goroutine
	probeDone chan struct{} // Signal that probe goroutine has stopped
	promote   chan struct{} // Signal to promote to primary
}

// NewFailoverStore creates a new failover store that prefers the primary but falls back to fallback
func NewFailoverStore(primary, fallback Store, probeInterval time.Duration, logger LogFunc) *FailoverStore {
	fs := newFailoverStore(primary, fallback, probeInterval, logger)
	fs.active.Store(primary)
	go fs.handlePromotions()
	return fs
}

// NewFailoverStoreWithFallbackActive creates a failover store that starts with fallback active
// and probes primary for recovery (used when primary fails at startup)
func NewFailoverStoreWithFallbackActive(primary, fallback Store, probeInterval time.Duration, logger LogFunc) *FailoverStore {
	fs := newFailoverStore(primary, fallback, probeInterval, logger)
	fs.active.Store(fallback)
	fs.startProbing()
	go fs.handlePromotions()
	return fs
}

func newFailoverStore(primary, fallback Store, probeInterval time.Duration, logger LogFunc) *FailoverStore {
	if logger == nil {
		logger = func(msg string, fields ...any) {} // No-op logger
	}
	if probeInterval <= 0 {
		probeInterval = 5 * time.Second
	}
	return &FailoverStore{
		primary:       primary,
		fallback:      fallback,
		probeInterval: probeInterval,
		logger:        logger,
		closed:        make(chan struct{}),
		promote:       make(chan struct{}, 1), // Buffered channel
	}
}

// getActiveStore returns the currently active store
func (fs *FailoverStore) getActiveStore() Store {
	return fs.active.Load().(Store)
}

// demoteToFallback switches to the fallback store and starts background probing for recovery
func (fs *FailoverStore) demoteToFallback() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.getActiveStore() == fs.fallback {
		return
	}

	fs.active.Store(fs.fallback)
	fs.logger("Failing over to in-memory store", "reason", "primary_unavailable", "level", "warn")

	fs.startProbingUnsafe()
}

// handlePromotions handles promotion signals in a separate goroutine
func (fs *FailoverStore) handlePromotions() {
	for {
		select {
		case <-fs.closed:
			return
		case <-fs.promote:
			if fs.getActiveStore() == fs.primary {
				continue
			}

			fs.active.Store(fs.primary)
			fs.logger("Recovered to primary store", "reason", "primary_healthy")

			fs.stopProbing()
		}
	}
}

// signalPromotion signals that primary should be promoted (non-blocking)
func (fs *FailoverStore) signalPromotion() {
	select {
	case fs.promote <- struct{}{}:
	default:
		// promotion already pending
	}
}

// startProbingUnsafe starts background probing if not already active (must hold mutex)
func (fs *FailoverStore) startProbingUnsafe() {
	if fs.probing {
		return
	}

	fs.probing = true
	fs.probeStop = make(chan struct{})
	fs.probeDone = make(chan struct{})

	go fs.probeLoop(fs.probeStop, fs.probeDone)
}

func (fs *FailoverStore) startProbing() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.startProbingUnsafe()
}

func (fs *FailoverStore) stopProbing() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.stopProbingUnsafe()
}

// stopProbingUnsafe stops background probing (must hold mutex)
func (fs *FailoverStore) stopProbingUnsafe() {
	if !fs.probing {
		return
	}

	close(fs.probeStop)
	<-fs.probeDone
	fs.probing = false
}

// probeLoop pings the primary until it answers, then asks for promotion
func (fs *FailoverStore) probeLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(fs.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-fs.closed:
			return
		case <-stop:
			return
		case <-ticker.C:
			if fs.primary == nil {
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), fs.probeInterval/2)
			err := fs.primary.Ping(ctx)
			cancel()

			if err == nil {
				fs.signalPromotion()
				return // Stop probing until next demotion
			}
		}
	}
}

// call runs fn on the active store. A primary that reports
// ErrBackendUnavailable is demoted and fn is retried once on the fallback.
func call[T any](fs *FailoverStore, fn func(Store) (T, error)) (T, error) {
	store := fs.getActiveStore()
	result, err := fn(store)

	if fs.primary != nil && store == fs.primary && errors.Is(err, ErrBackendUnavailable) {
		fs.demoteToFallback()

		if fallbackStore := fs.getActiveStore(); fallbackStore != store {
			return fn(fallbackStore)
		}
	}

	return result, err
}

// exec is call for operations that only return an error
func (fs *FailoverStore) exec(fn func(Store) error) error {
	_, err := call(fs, func(s Store) (struct{}, error) {
		return struct{}{}, fn(s)
	})
	return err
}

// String operations

func (fs *FailoverStore) Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error {
	return fs.exec(func(s Store) error { return s.Set(ctx, key, value, ttl...) })
}

func (fs *FailoverStore) Get(ctx context.Context, key string) ([]byte, error) {
	return call(fs, func(s Store) ([]byte, error) { return s.Get(ctx, key) })
}

func (fs *FailoverStore) SetString(ctx context.Context, key string, value string, ttl ...time.Duration) error {
	return fs.exec(func(s Store) error { return s.SetString(ctx, key, value, ttl...) })
}

func (fs *FailoverStore) GetString(ctx context.Context, key string) (string, error) {
	return call(fs, func(s Store) (string, error) { return s.GetString(ctx, key) })
}

func (fs *FailoverStore) SetNX(ctx context.Context, key string, value []byte, ttl ...time.Duration) (bool, error) {
	return call(fs, func(s Store) (bool, error) { return s.SetNX(ctx, key, value, ttl...) })
}

func (fs *FailoverStore) GetSet(ctx context.Context, key string, value []byte) ([]byte, bool, error) {
	p, err := call(fs, func(s Store) (popped, error) {
		val, ok, err := s.GetSet(ctx, key, value)
		return popped{val, ok}, err
	})
	return p.val, p.ok, err
}

// Key operations

func (fs *FailoverStore) Del(ctx context.Context, keys ...string) (int64, error) {
	return call(fs, func(s Store) (int64, error) { return s.Del(ctx, keys...) })
}

func (fs *FailoverStore) Exists(ctx context.Context, keys ...string) (int64, error) {
	return call(fs, func(s Store) (int64, error) { return s.Exists(ctx, keys...) })
}

func (fs *FailoverStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return call(fs, func(s Store) (bool, error) { return s.Expire(ctx, key, ttl) })
}

func (fs *FailoverStore) Persist(ctx context.Context, key string) (bool, error) {
	return call(fs, func(s Store) (bool, error) { return s.Persist(ctx, key) })
}

func (fs *FailoverStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return call(fs, func(s Store) (time.Duration, error) { return s.TTL(ctx, key) })
}

func (fs *FailoverStore) Type(ctx context.Context, key string) (Kind, error) {
	return call(fs, func(s Store) (Kind, error) { return s.Type(ctx, key) })
}

func (fs *FailoverStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	return call(fs, func(s Store) ([]string, error) { return s.Keys(ctx, pattern) })
}

func (fs *FailoverStore) DBSize(ctx context.Context) (int64, error) {
	return call(fs, func(s Store) (int64, error) { return s.DBSize(ctx) })
}

func (fs *FailoverStore) FlushAll(ctx context.Context) error {
	return fs.exec(func(s Store) error { return s.FlushAll(ctx) })
}

// Counter operations

func (fs *FailoverStore) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	return call(fs, func(s Store) (int64, error) { return s.IncrBy(ctx, key, n) })
}

func (fs *FailoverStore) DecrBy(ctx context.Context, key string, n int64) (int64, error) {
	return call(fs, func(s Store) (int64, error) { return s.DecrBy(ctx, key, n) })
}

// Hash operations

func (fs *FailoverStore) HSet(ctx context.Context, key string, field string, value []byte) error {
	return fs.exec(func(s Store) error { return s.HSet(ctx, key, field, value) })
}

func (fs *FailoverStore) HMSet(ctx context.Context, key string, fields map[string][]byte) error {
	return fs.exec(func(s Store) error { return s.HMSet(ctx, key, fields) })
}

func (fs *FailoverStore) HGet(ctx context.Context, key string, field string) ([]byte, error) {
	return call(fs, func(s Store) ([]byte, error) { return s.HGet(ctx, key, field) })
}

func (fs *FailoverStore) HExists(ctx context.Context, key string, field string) (bool, error) {
	return call(fs, func(s Store) (bool, error) { return s.HExists(ctx, key, field) })
}

func (fs *FailoverStore) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	return call(fs, func(s Store) (int64, error) { return s.HDel(ctx, key, fields...) })
}

func (fs *FailoverStore) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	return call(fs, func(s Store) (map[string][]byte, error) { return s.HGetAll(ctx, key) })
}

func (fs *FailoverStore) HLen(ctx context.Context, key string) (int64, error) {
	return call(fs, func(s Store) (int64, error) { return s.HLen(ctx, key) })
}

// Set operations

func (fs *FailoverStore) SAdd(ctx context.Context, key string, members ...[]byte) (int64, error) {
	return call(fs, func(s Store) (int64, error) { return s.SAdd(ctx, key, members...) })
}

func (fs *FailoverStore) SRem(ctx context.Context, key string, members ...[]byte) (int64, error) {
	return call(fs, func(s Store) (int64, error) { return s.SRem(ctx, key, members...) })
}

func (fs *FailoverStore) SMembers(ctx context.Context, key string) ([][]byte, error) {
	return call(fs, func(s Store) ([][]byte, error) { return s.SMembers(ctx, key) })
}

func (fs *FailoverStore) SIsMember(ctx context.Context, key string, member []byte) (bool, error) {
	return call(fs, func(s Store) (bool, error) { return s.SIsMember(ctx, key, member) })
}

func (fs *FailoverStore) SCard(ctx context.Context, key string) (int64, error) {
	return call(fs, func(s Store) (int64, error) { return s.SCard(ctx, key) })
}

// List operations

type popped struct {
	val []byte
	ok  bool
}

func (fs *FailoverStore) LPush(ctx context.Context, key string, values ...[]byte) (int64, error) {
	return call(fs, func(s Store) (int64, error) { return s.LPush(ctx, key, values...) })
}

func (fs *FailoverStore) RPush(ctx context.Context, key string, values ...[]byte) (int64, error) {
	return call(fs, func(s Store) (int64, error) { return s.RPush(ctx, key, values...) })
}

func (fs *FailoverStore) LPop(ctx context.Context, key string) ([]byte, bool, error) {
	p, err := call(fs, func(s Store) (popped, error) {
		val, ok, err := s.LPop(ctx, key)
		return popped{val, ok}, err
	})
	return p.val, p.ok, err
}

func (fs *FailoverStore) RPop(ctx context.Context, key string) ([]byte, bool, error) {
	p, err := call(fs, func(s Store) (popped, error) {
		val, ok, err := s.RPop(ctx, key)
		return popped{val, ok}, err
	})
	return p.val, p.ok, err
}

func (fs *FailoverStore) LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	return call(fs, func(s Store) ([][]byte, error) { return s.LRange(ctx, key, start, stop) })
}

func (fs *FailoverStore) LLen(ctx context.Context, key string) (int64, error) {
	return call(fs, func(s Store) (int64, error) { return s.LLen(ctx, key) })
}

func (fs *FailoverStore) LIndex(ctx context.Context, key string, index int64) ([]byte, bool, error) {
	p, err := call(fs, func(s Store) (popped, error) {
		val, ok, err := s.LIndex(ctx, key, index)
		return popped{val, ok}, err
	})
	return p.val, p.ok, err
}

// Sorted set operations

type poppedZ struct {
	z  Z
	ok bool
}

func (fs *FailoverStore) ZAdd(ctx context.Context, key string, members ...Z) (int64, error) {
	return call(fs, func(s Store) (int64, error) { return s.ZAdd(ctx, key, members...) })
}

func (fs *FailoverStore) ZIncrBy(ctx context.Context, key string, increment float64, member string) (float64, error) {
	return call(fs, func(s Store) (float64, error) { return s.ZIncrBy(ctx, key, increment, member) })
}

func (fs *FailoverStore) ZScore(ctx context.Context, key string, member string) (float64, error) {
	return call(fs, func(s Store) (float64, error) { return s.ZScore(ctx, key, member) })
}

func (fs *FailoverStore) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	return call(fs, func(s Store) (int64, error) { return s.ZRem(ctx, key, members...) })
}

func (fs *FailoverStore) ZCard(ctx context.Context, key string) (int64, error) {
	return call(fs, func(s Store) (int64, error) { return s.ZCard(ctx, key) })
}

func (fs *FailoverStore) ZRange(ctx context.Context, key string, start, stop int64) ([]Z, error) {
	return call(fs, func(s Store) ([]Z, error) { return s.ZRange(ctx, key, start, stop) })
}

func (fs *FailoverStore) ZRevRange(ctx context.Context, key string, start, stop int64) ([]Z, error) {
	return call(fs, func(s Store) ([]Z, error) { return s.ZRevRange(ctx, key, start, stop) })
}

func (fs *FailoverStore) ZPopMax(ctx context.Context, key string) (Z, bool, error) {
	p, err := call(fs, func(s Store) (poppedZ, error) {
		z, ok, err := s.ZPopMax(ctx, key)
		return poppedZ{z, ok}, err
	})
	return p.z, p.ok, err
}

func (fs *FailoverStore) ZPopMin(ctx context.Context, key string) (Z, bool, error) {
	p, err := call(fs, func(s Store) (poppedZ, error) {
		z, ok, err := s.ZPopMin(ctx, key)
		return poppedZ{z, ok}, err
	})
	return p.z, p.ok, err
}

// Geospatial operations

func (fs *FailoverStore) GeoAdd(ctx context.Context, key string, locations ...GeoLocation) (int64, error) {
	return call(fs, func(s Store) (int64, error) { return s.GeoAdd(ctx, key, locations...) })
}

func (fs *FailoverStore) GeoPos(ctx context.Context, key string, member string) (GeoLocation, error) {
	return call(fs, func(s Store) (GeoLocation, error) { return s.GeoPos(ctx, key, member) })
}

func (fs *FailoverStore) GeoDist(ctx context.Context, key string, member1, member2 string, unit GeoUnit) (float64, error) {
	return call(fs, func(s Store) (float64, error) { return s.GeoDist(ctx, key, member1, member2, unit) })
}

func (fs *FailoverStore) GeoSearch(ctx context.Context, key string, query GeoSearchQuery) ([]GeoLocation, error) {
	return call(fs, func(s Store) ([]GeoLocation, error) { return s.GeoSearch(ctx, key, query) })
}

// Cardinality estimation

func (fs *FailoverStore) PFAdd(ctx context.Context, key string, elements ...string) (bool, error) {
	return call(fs, func(s Store) (bool, error) { return s.PFAdd(ctx, key, elements...) })
}

func (fs *FailoverStore) PFCount(ctx context.Context, keys ...string) (int64, error) {
	return call(fs, func(s Store) (int64, error) { return s.PFCount(ctx, keys...) })
}

func (fs *FailoverStore) PFMerge(ctx context.Context, dest string, sources ...string) error {
	return fs.exec(func(s Store) error { return s.PFMerge(ctx, dest, sources...) })
}

// Stream operations

func (fs *FailoverStore) XAdd(ctx context.Context, key string, fields []Field) (StreamID, error) {
	return call(fs, func(s Store) (StreamID, error) { return s.XAdd(ctx, key, fields) })
}

func (fs *FailoverStore) XLen(ctx context.Context, key string) (int64, error) {
	return call(fs, func(s Store) (int64, error) { return s.XLen(ctx, key) })
}

func (fs *FailoverStore) XRange(ctx context.Context, key string, start, end string, count int64) ([]StreamRecord, error) {
	return call(fs, func(s Store) ([]StreamRecord, error) { return s.XRange(ctx, key, start, end, count) })
}

func (fs *FailoverStore) XGroupCreate(ctx context.Context, key, group, start string) error {
	return fs.exec(func(s Store) error { return s.XGroupCreate(ctx, key, group, start) })
}

func (fs *FailoverStore) XReadGroup(ctx context.Context, args XReadGroupArgs) ([]StreamRecord, error) {
	return call(fs, func(s Store) ([]StreamRecord, error) { return s.XReadGroup(ctx, args) })
}

// XInfoGroups forwards to the active store when it can list groups
func (fs *FailoverStore) XInfoGroups(ctx context.Context, key string) ([]GroupInfo, error) {
	return call(fs, func(s Store) ([]GroupInfo, error) {
		gl, ok := s.(GroupLister)
		if !ok {
			return nil, fmt.Errorf("%T: %w", s, errors.ErrUnsupported)
		}
		return gl.XInfoGroups(ctx, key)
	})
}

// Pub/Sub

func (fs *FailoverStore) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	return call(fs, func(s Store) (int64, error) { return s.Publish(ctx, channel, payload) })
}

// Subscribe binds to whichever store is active now. A later failover does not
// move existing subscriptions.
func (fs *FailoverStore) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	return call(fs, func(s Store) (Subscription, error) { return s.Subscribe(ctx, channels...) })
}

// Multi operations

func (fs *FailoverStore) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	return call(fs, func(s Store) ([][]byte, error) { return s.MGet(ctx, keys...) })
}

func (fs *FailoverStore) MSet(ctx context.Context, kv map[string][]byte, ttl ...time.Duration) error {
	return fs.exec(func(s Store) error { return s.MSet(ctx, kv, ttl...) })
}

// Batching. Transactions and pipelines are bound to the store that is active
// when they are created.

func (fs *FailoverStore) Tx() *Tx {
	return fs.getActiveStore().Tx()
}

func (fs *FailoverStore) Pipeline() *Pipeline {
	return fs.getActiveStore().Pipeline()
}

// Snapshots

func (fs *FailoverStore) Snapshot(ctx context.Context) ([]SnapshotEntry, error) {
	return call(fs, func(s Store) ([]SnapshotEntry, error) {
		sn, ok := s.(Snapshotter)
		if !ok {
			return nil, fmt.Errorf("%T: %w", s, errors.ErrUnsupported)
		}
		return sn.Snapshot(ctx)
	})
}

func (fs *FailoverStore) Restore(ctx context.Context, entries []SnapshotEntry) error {
	return fs.exec(func(s Store) error {
		sn, ok := s.(Snapshotter)
		if !ok {
			return fmt.Errorf("%T: %w", s, errors.ErrUnsupported)
		}
		return sn.Restore(ctx, entries)
	})
}

// Health check

func (fs *FailoverStore) Ping(ctx context.Context) error {
	return fs.getActiveStore().Ping(ctx)
}

// GetActiveBackend returns information about which backend is currently active
func (fs *FailoverStore) GetActiveBackend() string {
	if fs.primary != nil && fs.getActiveStore() == fs.primary {
		return "primary"
	}
	return "fallback"
}

// Close shuts down the failover store and stops all background processes
func (fs *FailoverStore) Close() error {
	var errs []error
	fs.closeOnce.Do(func() {
		close(fs.closed)

		fs.mu.Lock()
		fs.stopProbingUnsafe()
		fs.mu.Unlock()

		if fs.primary != nil {
			if err := fs.primary.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := fs.fallback.Close(); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

var (
	_ Store       = (*FailoverStore)(nil)
	_ GroupLister = (*FailoverStore)(nil)
	_ Snapshotter = (*FailoverStore)(nil)
)
