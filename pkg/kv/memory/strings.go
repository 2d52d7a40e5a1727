package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/arbi/kvengine/pkg/kv"
)

func ttlArg(ttl []time.Duration) time.Duration {
	if len(ttl) > 0 && ttl[0] > 0 {
		return ttl[0]
	}
	return 0
}

// setString overwrites key with a scalar, replacing any expiry
func setString(v view, key string, value []byte, ttl time.Duration) {
	e := &entry{value: &stringValue{b: cloneBytes(value)}}
	e.setTTL(v.now(), ttl)
	v.put(key, e)
}

func getString(v view, key string) ([]byte, error) {
	sv, e, err := lookupAs[*stringValue](v, key)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, kv.ErrNotFound
	}
	return cloneBytes(sv.b), nil
}

func incrBy(v view, key string, n int64) (int64, error) {
	sv, e, err := lookupAs[*stringValue](v, key)
	if err != nil {
		return 0, err
	}
	var current int64
	if e != nil {
		current, err = strconv.ParseInt(string(sv.b), 10, 64)
		if err != nil {
			return 0, kv.ErrNotInteger
		}
	} else {
		e = &entry{}
	}
	if (n > 0 && current > math.MaxInt64-n) || (n < 0 && current < math.MinInt64-n) {
		return 0, fmt.Errorf("%w: increment would overflow", kv.ErrNotInteger)
	}
	next := current + n
	// the expiry, if any, survives the increment
	e.value = &stringValue{b: []byte(strconv.FormatInt(next, 10))}
	v.put(key, e)
	return next, nil
}

// String operations

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error {
	return s.withKey(key, func(v view) error {
		setString(v, key, value, ttlArg(ttl))
		return nil
	})
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.withKey(key, func(v view) error {
		b, err := getString(v, key)
		out = b
		return err
	})
	return out, err
}

func (s *Store) SetString(ctx context.Context, key string, value string, ttl ...time.Duration) error {
	return s.Set(ctx, key, []byte(value), ttl...)
}

func (s *Store) GetString(ctx context.Context, key string) (string, error) {
	b, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SetNX writes key only when it does not hold a live value
func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl ...time.Duration) (bool, error) {
	var ok bool
	err := s.withKey(key, func(v view) error {
		if v.lookup(key) != nil {
			return nil
		}
		setString(v, key, value, ttlArg(ttl))
		ok = true
		return nil
	})
	return ok, err
}

func (s *Store) GetSet(ctx context.Context, key string, value []byte) ([]byte, bool, error) {
	var (
		old []byte
		ok  bool
	)
	err := s.withKey(key, func(v view) error {
		b, err := getString(v, key)
		switch {
		case err == nil:
			old, ok = b, true
		case !errors.Is(err, kv.ErrNotFound):
			return err
		}
		setString(v, key, value, 0)
		return nil
	})
	return old, ok, err
}

// Counter operations

func (s *Store) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	var out int64
	err := s.withKey(key, func(v view) error {
		next, err := incrBy(v, key, n)
		out = next
		return err
	})
	return out, err
}

func (s *Store) DecrBy(ctx context.Context, key string, n int64) (int64, error) {
	if n == math.MinInt64 {
		return 0, fmt.Errorf("%w: decrement would overflow", kv.ErrNotInteger)
	}
	return s.IncrBy(ctx, key, -n)
}

// Multi operations

// MGet returns one slot per key; absent keys and non-string values yield nil
func (s *Store) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	err := s.withKeys(keys, func(v view) error {
		for i, key := range keys {
			if b, err := getString(v, key); err == nil {
				out[i] = b
			}
		}
		return nil
	})
	return out, err
}

// MSet writes every pair atomically
func (s *Store) MSet(ctx context.Context, pairs map[string][]byte, ttl ...time.Duration) error {
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	return s.withKeys(keys, func(v view) error {
		for k, b := range pairs {
			setString(v, k, b, ttlArg(ttl))
		}
		return nil
	})
}
