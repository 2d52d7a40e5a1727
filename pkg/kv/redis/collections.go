package redis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/arbi/kvengine/pkg/kv"
)

// Hash operations

func fieldArgs(fields map[string][]byte) []interface{} {
	args := make([]interface{}, 0, len(fields)*2)
	for f, v := range fields {
		args = append(args, f, v)
	}
	return args
}

func (s *Store) HSet(ctx context.Context, key string, field string, value []byte) error {
	return mapError(s.client.HSet(ctx, key, field, value).Err())
}

func (s *Store) HMSet(ctx context.Context, key string, fields map[string][]byte) error {
	if err := needArgs(len(fields), "hset needs at least one field"); err != nil {
		return err
	}
	return mapError(s.client.HSet(ctx, key, fieldArgs(fields)...).Err())
}

func (s *Store) HGet(ctx context.Context, key string, field string) ([]byte, error) {
	result, err := s.client.HGet(ctx, key, field).Bytes()
	if err != nil {
		return nil, notFound(err)
	}
	return result, nil
}

func (s *Store) HExists(ctx context.Context, key string, field string) (bool, error) {
	ok, err := s.client.HExists(ctx, key, field).Result()
	return ok, mapError(err)
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	n, err := s.client.HDel(ctx, key, fields...).Result()
	return n, mapError(err)
}

// HGetAll returns an empty map for a missing key
func (s *Store) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	result, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, mapError(err)
	}

	byteMap := make(map[string][]byte, len(result))
	for field, value := range result {
		byteMap[field] = []byte(value)
	}
	return byteMap, nil
}

func (s *Store) HLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.HLen(ctx, key).Result()
	return n, mapError(err)
}

// Set operations

func (s *Store) SAdd(ctx context.Context, key string, members ...[]byte) (int64, error) {
	if err := needArgs(len(members), "sadd needs at least one member"); err != nil {
		return 0, err
	}
	n, err := s.client.SAdd(ctx, key, byteArgs(members)...).Result()
	return n, mapError(err)
}

func (s *Store) SRem(ctx context.Context, key string, members ...[]byte) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	n, err := s.client.SRem(ctx, key, byteArgs(members)...).Result()
	return n, mapError(err)
}

// SMembers returns members in byte order; empty for a missing key
func (s *Store) SMembers(ctx context.Context, key string) ([][]byte, error) {
	result, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, mapError(err)
	}
	sort.Strings(result)
	return toBytes(result), nil
}

func (s *Store) SIsMember(ctx context.Context, key string, member []byte) (bool, error) {
	ok, err := s.client.SIsMember(ctx, key, member).Result()
	return ok, mapError(err)
}

func (s *Store) SCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.SCard(ctx, key).Result()
	return n, mapError(err)
}

// List operations

func (s *Store) LPush(ctx context.Context, key string, values ...[]byte) (int64, error) {
	if err := needArgs(len(values), "push needs at least one value"); err != nil {
		return 0, err
	}
	n, err := s.client.LPush(ctx, key, byteArgs(values)...).Result()
	return n, mapError(err)
}

func (s *Store) RPush(ctx context.Context, key string, values ...[]byte) (int64, error) {
	if err := needArgs(len(values), "push needs at least one value"); err != nil {
		return 0, err
	}
	n, err := s.client.RPush(ctx, key, byteArgs(values)...).Result()
	return n, mapError(err)
}

func popResult(b []byte, err error) ([]byte, bool, error) {
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapError(err)
	}
	return b, true, nil
}

func (s *Store) LPop(ctx context.Context, key string) ([]byte, bool, error) {
	return popResult(s.client.LPop(ctx, key).Bytes())
}

func (s *Store) RPop(ctx context.Context, key string) ([]byte, bool, error) {
	return popResult(s.client.RPop(ctx, key).Bytes())
}

func (s *Store) LIndex(ctx context.Context, key string, index int64) ([]byte, bool, error) {
	return popResult(s.client.LIndex(ctx, key, index).Bytes())
}

func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	result, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, mapError(err)
	}
	return toBytes(result), nil
}

func (s *Store) LLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.LLen(ctx, key).Result()
	return n, mapError(err)
}

// Sorted set operations

func toRedisZ(members []kv.Z) ([]redis.Z, error) {
	zs := make([]redis.Z, len(members))
	for i, m := range members {
		if math.IsNaN(m.Score) {
			return nil, fmt.Errorf("%w: score is not a number", kv.ErrSyntax)
		}
		zs[i] = redis.Z{Score: m.Score, Member: m.Member}
	}
	return zs, nil
}

func fromRedisZ(zs []redis.Z) []kv.Z {
	out := make([]kv.Z, len(zs))
	for i, z := range zs {
		out[i] = kv.Z{Member: fmt.Sprint(z.Member), Score: z.Score}
	}
	return out
}

func (s *Store) ZAdd(ctx context.Context, key string, members ...kv.Z) (int64, error) {
	if err := needArgs(len(members), "zadd needs at least one member"); err != nil {
		return 0, err
	}
	zs, err := toRedisZ(members)
	if err != nil {
		return 0, err
	}
	n, err := s.client.ZAdd(ctx, key, zs...).Result()
	return n, mapError(err)
}

func (s *Store) ZIncrBy(ctx context.Context, key string, increment float64, member string) (float64, error) {
	if math.IsNaN(increment) {
		return 0, fmt.Errorf("%w: increment is not a number", kv.ErrSyntax)
	}
	v, err := s.client.ZIncrBy(ctx, key, increment, member).Result()
	return v, mapError(err)
}

func (s *Store) ZScore(ctx context.Context, key string, member string) (float64, error) {
	v, err := s.client.ZScore(ctx, key, member).Result()
	if err != nil {
		return 0, notFound(err)
	}
	return v, nil
}

func (s *Store) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	n, err := s.client.ZRem(ctx, key, args...).Result()
	return n, mapError(err)
}

func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	return n, mapError(err)
}

func (s *Store) ZRange(ctx context.Context, key string, start, stop int64) ([]kv.Z, error) {
	zs, err := s.client.ZRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, mapError(err)
	}
	return fromRedisZ(zs), nil
}

func (s *Store) ZRevRange(ctx context.Context, key string, start, stop int64) ([]kv.Z, error) {
	zs, err := s.client.ZRevRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, mapError(err)
	}
	return fromRedisZ(zs), nil
}

func zpopResult(zs []redis.Z, err error) (kv.Z, bool, error) {
	if err != nil {
		return kv.Z{}, false, mapError(err)
	}
	if len(zs) == 0 {
		return kv.Z{}, false, nil
	}
	return fromRedisZ(zs)[0], true, nil
}

func (s *Store) ZPopMax(ctx context.Context, key string) (kv.Z, bool, error) {
	return zpopResult(s.client.ZPopMax(ctx, key).Result())
}

func (s *Store) ZPopMin(ctx context.Context, key string) (kv.Z, bool, error) {
	return zpopResult(s.client.ZPopMin(ctx, key).Result())
}
