package memory

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 64

// entry is the unit of storage: one typed value plus optional expiry.
// version changes on every mutation and drives WATCH conflict detection.
type entry struct {
	value     value
	expiresAt time.Time
	version   uint64
	queued    bool // the reaper may hold a deadline for this key
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

func (e *entry) setTTL(now time.Time, ttl time.Duration) {
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	} else {
		e.expiresAt = time.Time{}
	}
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
	// tomb is the version stamped by the latest removal from this shard. An
	// absent key reports it as its version, so WATCH sees a key that was
	// created and deleted again. Removing any other key of the shard also
	// moves it, which can only cause a spurious conflict.
	tomb uint64
}

func shardIndex(key string) int {
	return int(xxhash.Sum64String(key) % shardCount)
}

func (s *Store) shardFor(key string) *shard {
	return &s.shards[shardIndex(key)]
}

// lockKeys locks every shard touched by keys in ascending shard order and
// returns the matching unlock function.
func (s *Store) lockKeys(keys []string) func() {
	seen := make(map[int]struct{}, len(keys))
	idx := make([]int, 0, len(keys))
	for _, k := range keys {
		i := shardIndex(k)
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for _, i := range idx {
		s.shards[i].mu.Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			s.shards[idx[j]].mu.Unlock()
		}
	}
}

func (s *Store) lockAll() func() {
	for i := range s.shards {
		s.shards[i].mu.Lock()
	}
	return func() {
		for i := len(s.shards) - 1; i >= 0; i-- {
			s.shards[i].mu.Unlock()
		}
	}
}

// view is the keyspace as seen by a command. Callers hold the shard locks of
// every key they pass in.
type view interface {
	lookup(key string) *entry
	put(key string, e *entry)
	remove(key string) bool
	now() time.Time
}

// directView reads and writes the shards in place
type directView struct {
	s  *Store
	at time.Time
}

func (s *Store) direct() *directView {
	return &directView{s: s, at: s.clock()}
}

func (v *directView) now() time.Time { return v.at }

func (v *directView) lookup(key string) *entry {
	sh := v.s.shardFor(key)
	e := sh.entries[key]
	if e == nil {
		return nil
	}
	if e.expired(v.at) {
		v.s.drop(sh, key)
		v.s.stats.expired.Add(1)
		return nil
	}
	return e
}

func (v *directView) put(key string, e *entry) {
	v.s.install(key, e)
}

func (v *directView) remove(key string) bool {
	if v.lookup(key) == nil {
		return false
	}
	v.s.drop(v.s.shardFor(key), key)
	return true
}

// overlayView stages writes in private copies so a transaction can be
// dropped without touching the shards.
type overlayView struct {
	s       *Store
	at      time.Time
	entries map[string]*entry // nil marks a deletion
	dirty   map[string]bool
}

func (s *Store) overlay() *overlayView {
	return &overlayView{
		s:       s,
		at:      s.clock(),
		entries: make(map[string]*entry),
		dirty:   make(map[string]bool),
	}
}

func (v *overlayView) now() time.Time { return v.at }

func (v *overlayView) lookup(key string) *entry {
	if e, ok := v.entries[key]; ok {
		return e
	}
	base := v.s.shardFor(key).entries[key]
	if base == nil {
		return nil
	}
	if base.expired(v.at) {
		v.entries[key] = nil
		v.dirty[key] = true
		return nil
	}
	c := &entry{
		value:     base.value.clone(),
		expiresAt: base.expiresAt,
		version:   base.version,
		queued:    base.queued,
	}
	v.entries[key] = c
	return c
}

func (v *overlayView) put(key string, e *entry) {
	v.entries[key] = e
	v.dirty[key] = true
}

func (v *overlayView) remove(key string) bool {
	existed := v.lookup(key) != nil
	v.entries[key] = nil
	v.dirty[key] = true
	return existed
}

// commit installs every dirty entry. The caller still holds the shard locks.
func (v *overlayView) commit() {
	for key := range v.dirty {
		e := v.entries[key]
		if e == nil {
			sh := v.s.shardFor(key)
			if old, ok := sh.entries[key]; ok {
				if old.expired(v.at) {
					v.s.stats.expired.Add(1)
				}
				v.s.drop(sh, key)
			}
			continue
		}
		v.s.install(key, e)
	}
}

// install stamps a fresh version and keeps the key's single pending
// deadline in step with its expiry
func (s *Store) install(key string, e *entry) {
	sh := s.shardFor(key)
	old := sh.entries[key]
	e.version = s.version.Add(1)
	sh.entries[key] = e
	switch {
	case !e.expiresAt.IsZero():
		s.reaper.schedule(key, e.expiresAt)
		e.queued = true
	case e.queued || (old != nil && old.queued):
		s.reaper.cancel(key)
		e.queued = false
	}
}

// drop removes key and stamps the shard tombstone. The caller holds the
// shard lock.
func (s *Store) drop(sh *shard, key string) {
	if e := sh.entries[key]; e != nil && e.queued {
		s.reaper.cancel(key)
	}
	delete(sh.entries, key)
	sh.tomb = s.version.Add(1)
}

// versionOf returns the version of a live key, or the shard tombstone when
// the key is absent
func (s *Store) versionOf(key string, now time.Time) uint64 {
	sh := s.shardFor(key)
	e := sh.entries[key]
	if e == nil || e.expired(now) {
		return sh.tomb
	}
	return e.version
}

// expiryQueue is a min-heap of pending expirations holding at most one item
// per key. Items can still be stale, for example after a key is rewritten
// without expiry in a transaction, so the reaper re-checks the live entry
// before removing anything.
type expiryItem struct {
	key   string
	at    time.Time
	index int
}

type expiryQueue []*expiryItem

func (q expiryQueue) Len() int           { return len(q) }
func (q expiryQueue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }
func (q expiryQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *expiryQueue) Push(x interface{}) {
	item := x.(*expiryItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *expiryQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

type reaperQueue struct {
	mu    sync.Mutex
	items expiryQueue
	byKey map[string]*expiryItem
}

// schedule sets the pending deadline of key, moving an existing item rather
// than queueing a second one
func (r *reaperQueue) schedule(key string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item, ok := r.byKey[key]; ok {
		item.at = at
		heap.Fix(&r.items, item.index)
		return
	}
	if r.byKey == nil {
		r.byKey = make(map[string]*expiryItem)
	}
	item := &expiryItem{key: key, at: at}
	heap.Push(&r.items, item)
	r.byKey[key] = item
}

func (r *reaperQueue) cancel(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item, ok := r.byKey[key]; ok {
		heap.Remove(&r.items, item.index)
		delete(r.byKey, key)
	}
}

// next pops the earliest item that is due at now
func (r *reaperQueue) next(now time.Time) (expiryItem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 || r.items[0].at.After(now) {
		return expiryItem{}, false
	}
	item := heap.Pop(&r.items).(*expiryItem)
	delete(r.byKey, item.key)
	return *item, true
}

func (r *reaperQueue) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func (r *reaperQueue) reset() {
	r.mu.Lock()
	r.items = nil
	r.byKey = nil
	r.mu.Unlock()
}
