package memory

import (
	"context"
	"sort"
	"time"

	"github.com/arbi/kvengine/pkg/kv"
)

func del(v view, keys []string) int64 {
	var n int64
	for _, key := range keys {
		if v.remove(key) {
			n++
		}
	}
	return n
}

// expire sets a relative TTL. A non-positive ttl deletes the key.
func expire(v view, key string, ttl time.Duration) bool {
	e := v.lookup(key)
	if e == nil {
		return false
	}
	if ttl <= 0 {
		v.remove(key)
		return true
	}
	e.setTTL(v.now(), ttl)
	v.put(key, e)
	return true
}

// Key operations

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	var n int64
	err := s.withKeys(keys, func(v view) error {
		n = del(v, keys)
		return nil
	})
	return n, err
}

func (s *Store) Exists(ctx context.Context, keys ...string) (int64, error) {
	var n int64
	err := s.withKeys(keys, func(v view) error {
		for _, key := range keys {
			if v.lookup(key) != nil {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var ok bool
	err := s.withKey(key, func(v view) error {
		ok = expire(v, key, ttl)
		return nil
	})
	return ok, err
}

// Persist clears the expiry of key. It reports false when the key is absent
// or had no expiry.
func (s *Store) Persist(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := s.withKey(key, func(v view) error {
		e := v.lookup(key)
		if e == nil || e.expiresAt.IsZero() {
			return nil
		}
		e.setTTL(v.now(), 0)
		v.put(key, e)
		ok = true
		return nil
	})
	return ok, err
}

// TTL returns the remaining time to live, -1 for keys without expiry and
// ErrNotFound for absent keys
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	var ttl time.Duration
	err := s.withKey(key, func(v view) error {
		e := v.lookup(key)
		if e == nil {
			return kv.ErrNotFound
		}
		if e.expiresAt.IsZero() {
			ttl = -1
			return nil
		}
		ttl = e.expiresAt.Sub(v.now())
		return nil
	})
	return ttl, err
}

func (s *Store) Type(ctx context.Context, key string) (kv.Kind, error) {
	kind := kv.KindNone
	err := s.withKey(key, func(v view) error {
		if e := v.lookup(key); e != nil {
			kind = e.value.kind()
		}
		return nil
	})
	return kind, err
}

// Keys returns the live keys matching a glob pattern, sorted. The scan holds
// every shard lock so a committed transaction is seen whole or not at all.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []string
	unlock := s.lockAll()
	now := s.clock()
	for i := range s.shards {
		for key, e := range s.shards[i].entries {
			if !e.expired(now) && matchGlob(pattern, key) {
				out = append(out, key)
			}
		}
	}
	unlock()
	sort.Strings(out)
	return out, nil
}

// DBSize returns the number of live keys
func (s *Store) DBSize(ctx context.Context) (int64, error) {
	var n int64
	unlock := s.lockAll()
	defer unlock()
	now := s.clock()
	for i := range s.shards {
		for _, e := range s.shards[i].entries {
			if !e.expired(now) {
				n++
			}
		}
	}
	return n, nil
}

// FlushAll removes every key
func (s *Store) FlushAll(ctx context.Context) error {
	unlock := s.lockAll()
	defer unlock()
	for i := range s.shards {
		sh := &s.shards[i]
		if len(sh.entries) > 0 {
			sh.entries = make(map[string]*entry)
			sh.tomb = s.version.Add(1)
		}
	}
	s.reaper.reset()
	return nil
}

// matchGlob implements Redis-style glob matching: * ? [abc] [^a] [a-z] and
// backslash escapes. Unlike path.Match, '*' also matches '/'.
//
// Only the most recent '*' is ever retried, so matching is
// O(len(pattern)*len(s)) whatever the pattern.
func matchGlob(pattern, s string) bool {
	p, i := 0, 0
	star, resume := -1, 0
	for i < len(s) {
		if p < len(pattern) && pattern[p] == '*' {
			for p < len(pattern) && pattern[p] == '*' {
				p++
			}
			if p == len(pattern) {
				return true
			}
			star, resume = p, i
			continue
		}
		if p < len(pattern) {
			if next, ok := matchToken(pattern, p, s[i]); ok {
				p, i = next, i+1
				continue
			}
		}
		if star < 0 {
			return false
		}
		resume++
		p, i = star, resume
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// matchToken matches the single-character token at pattern[p] against c and
// returns the index just past the token
func matchToken(pattern string, p int, c byte) (int, bool) {
	switch pattern[p] {
	case '?':
		return p + 1, true
	case '[':
		end := p + 1
		for end < len(pattern) && pattern[end] != ']' {
			if pattern[end] == '\\' {
				end++
			}
			end++
		}
		if end >= len(pattern) {
			// unterminated class matches a literal '['
			return p + 1, c == '['
		}
		return end + 1, matchClass(pattern[p+1:end], c)
	case '\\':
		if p+1 < len(pattern) {
			p++
		}
	}
	return p + 1, pattern[p] == c
}

func matchClass(class string, c byte) bool {
	negate := false
	if len(class) > 0 && class[0] == '^' {
		negate = true
		class = class[1:]
	}
	match := false
	for i := 0; i < len(class); i++ {
		switch {
		case class[i] == '\\' && i+1 < len(class):
			i++
			if class[i] == c {
				match = true
			}
		case i+2 < len(class) && class[i+1] == '-':
			lo, hi := class[i], class[i+2]
			if lo > hi {
				lo, hi = hi, lo
			}
			if c >= lo && c <= hi {
				match = true
			}
			i += 2
		default:
			if class[i] == c {
				match = true
			}
		}
	}
	return match != negate
}
