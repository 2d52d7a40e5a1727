package memory

import (
	"context"
	"fmt"
	"math"

	"github.com/arbi/kvengine/pkg/kv"
)

// zadd upserts members and returns how many were new; the last score wins
func zadd(v view, key string, members []kv.Z) (int64, error) {
	if len(members) == 0 {
		return 0, fmt.Errorf("%w: zadd needs at least one member", kv.ErrSyntax)
	}
	for _, z := range members {
		if math.IsNaN(z.Score) {
			return 0, fmt.Errorf("%w: score is not a number", kv.ErrSyntax)
		}
	}
	zv, e, err := lookupOrCreate(v, key, newZSetValue)
	if err != nil {
		return 0, err
	}
	var added int64
	for _, z := range members {
		if zv.add(z.Member, z.Score) {
			added++
		}
	}
	v.put(key, e)
	return added, nil
}

// zpop removes the highest (max) or lowest member. Among equal scores the
// lexicographically greatest member is the max.
func zpop(v view, key string, highest bool) (kv.Z, bool, error) {
	zv, e, err := lookupAs[*zsetValue](v, key)
	if err != nil || e == nil || zv.card() == 0 {
		return kv.Z{}, false, err
	}
	n := zv.sl.first()
	if highest {
		n = zv.sl.last()
	}
	z := kv.Z{Member: n.member, Score: n.score}
	zv.rem(n.member)
	if zv.card() == 0 {
		v.remove(key)
	} else {
		v.put(key, e)
	}
	return z, true, nil
}

func zrange(v view, key string, start, stop int64, reverse bool) ([]kv.Z, error) {
	out := []kv.Z{}
	zv, e, err := lookupAs[*zsetValue](v, key)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return out, nil
	}
	from, to, ok := normalizeRange(start, stop, zv.card())
	if !ok {
		return out, nil
	}
	for _, n := range zv.sl.rangeByRank(from, to, reverse) {
		out = append(out, kv.Z{Member: n.member, Score: n.score})
	}
	return out, nil
}

// Sorted set operations

func (s *Store) ZAdd(ctx context.Context, key string, members ...kv.Z) (int64, error) {
	var n int64
	err := s.withKey(key, func(v view) error {
		var err error
		n, err = zadd(v, key, members)
		return err
	})
	return n, err
}

func (s *Store) ZIncrBy(ctx context.Context, key string, increment float64, member string) (float64, error) {
	var score float64
	err := s.withKey(key, func(v view) error {
		zv, e, err := lookupOrCreate(v, key, newZSetValue)
		if err != nil {
			return err
		}
		score = zv.scores[member] + increment
		if math.IsNaN(score) {
			return fmt.Errorf("%w: resulting score is not a number", kv.ErrSyntax)
		}
		zv.add(member, score)
		v.put(key, e)
		return nil
	})
	return score, err
}

func (s *Store) ZScore(ctx context.Context, key string, member string) (float64, error) {
	var score float64
	err := s.withKey(key, func(v view) error {
		zv, e, err := lookupAs[*zsetValue](v, key)
		if err != nil {
			return err
		}
		if e == nil {
			return kv.ErrNotFound
		}
		sc, ok := zv.scores[member]
		if !ok {
			return kv.ErrNotFound
		}
		score = sc
		return nil
	})
	return score, err
}

func (s *Store) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	var n int64
	err := s.withKey(key, func(v view) error {
		zv, e, err := lookupAs[*zsetValue](v, key)
		if err != nil || e == nil {
			return err
		}
		for _, m := range members {
			if zv.rem(m) {
				n++
			}
		}
		if zv.card() == 0 {
			v.remove(key)
		} else if n > 0 {
			v.put(key, e)
		}
		return nil
	})
	return n, err
}

func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.withKey(key, func(v view) error {
		zv, e, err := lookupAs[*zsetValue](v, key)
		if err != nil || e == nil {
			return err
		}
		n = int64(zv.card())
		return nil
	})
	return n, err
}

// ZRange returns members by ascending (score, member) rank, stop inclusive
func (s *Store) ZRange(ctx context.Context, key string, start, stop int64) ([]kv.Z, error) {
	var out []kv.Z
	err := s.withKey(key, func(v view) error {
		var err error
		out, err = zrange(v, key, start, stop, false)
		return err
	})
	return out, err
}

func (s *Store) ZRevRange(ctx context.Context, key string, start, stop int64) ([]kv.Z, error) {
	var out []kv.Z
	err := s.withKey(key, func(v view) error {
		var err error
		out, err = zrange(v, key, start, stop, true)
		return err
	})
	return out, err
}

func (s *Store) ZPopMax(ctx context.Context, key string) (kv.Z, bool, error) {
	return s.zpop(key, true)
}

func (s *Store) ZPopMin(ctx context.Context, key string) (kv.Z, bool, error) {
	return s.zpop(key, false)
}

func (s *Store) zpop(key string, highest bool) (kv.Z, bool, error) {
	var (
		z  kv.Z
		ok bool
	)
	err := s.withKey(key, func(v view) error {
		var err error
		z, ok, err = zpop(v, key, highest)
		return err
	})
	return z, ok, err
}
