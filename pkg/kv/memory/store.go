package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arbi/kvengine/pkg/kv"
)

// Store is an in-memory implementation of the kv.Store interface.
//
// The keyspace is split into shards, each guarded by its own mutex. Commands
// lock only the shards of the keys they touch, always in ascending shard
// order, so multi-key commands and transactions never deadlock.
type Store struct {
	shards  [shardCount]shard
	version atomic.Uint64
	reaper  reaperQueue
	stats   counters
	hub     *hub

	clock  func() time.Time
	logger kv.LogFunc

	janitorInterval time.Duration
	janitorStop     chan struct{}
	janitorDone     chan struct{}
	closeOnce       sync.Once
}

// Option configures a Store
type Option func(*Store)

// WithClock replaces time.Now, mostly for tests
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// WithLogger sets the logger used by the reaper
func WithLogger(logger kv.LogFunc) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a new in-memory store. A positive janitorInterval starts the
// background reaper; zero leaves expiry to lazy checks and ReapExpired.
func New(janitorInterval time.Duration, opts ...Option) *Store {
	s := &Store{
		clock:           time.Now,
		logger:          func(string, ...any) {},
		hub:             newHub(),
		janitorInterval: janitorInterval,
		janitorStop:     make(chan struct{}),
		janitorDone:     make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]*entry)
	}
	for _, opt := range opts {
		opt(s)
	}

	if janitorInterval > 0 {
		go s.janitor()
	} else {
		close(s.janitorDone)
	}
	return s
}

type counters struct {
	expired       atomic.Uint64
	reaped        atomic.Uint64
	commits       atomic.Uint64
	conflicts     atomic.Uint64
	streamAppends atomic.Uint64
	published     atomic.Uint64
}

// Stats is a point-in-time view of store activity
type Stats struct {
	Keys          int64
	ExpiredKeys   uint64 // removed lazily on access
	ReapedKeys    uint64 // removed by the reaper
	Commits       uint64
	Conflicts     uint64
	StreamAppends uint64
	Published     uint64
	PendingExpiry int
}

// Stats returns current counters. Keys counts stored entries, including
// expired ones the reaper has not reached yet.
func (s *Store) Stats() Stats {
	var keys int64
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		keys += int64(len(sh.entries))
		sh.mu.Unlock()
	}
	return Stats{
		Keys:          keys,
		ExpiredKeys:   s.stats.expired.Load(),
		ReapedKeys:    s.stats.reaped.Load(),
		Commits:       s.stats.commits.Load(),
		Conflicts:     s.stats.conflicts.Load(),
		StreamAppends: s.stats.streamAppends.Load(),
		Published:     s.stats.published.Load(),
		PendingExpiry: s.reaper.len(),
	}
}

// withKey runs fn with the shard of key locked
func (s *Store) withKey(key string, fn func(v view) error) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return fn(s.direct())
}

// withKeys runs fn with the shards of every key locked
func (s *Store) withKeys(keys []string, fn func(v view) error) error {
	unlock := s.lockKeys(keys)
	defer unlock()
	return fn(s.direct())
}

// Ping always succeeds for the in-memory store
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close stops the reaper and closes every open subscription
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.janitorStop)
		<-s.janitorDone
		s.hub.close()
	})
	return nil
}

// Tx returns a new transaction coordinator bound to this store
func (s *Store) Tx() *kv.Tx {
	return kv.NewTx(&txBackend{s: s})
}

// Pipeline returns a new non-atomic command batch bound to this store
func (s *Store) Pipeline() *kv.Pipeline {
	return kv.NewPipeline(s.execPipeline)
}

var _ kv.Store = (*Store)(nil)
