package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arbi/kvengine/pkg/kv"
)

// Store is a Redis-backed implementation of the kv.Store interface
type Store struct {
	client *redis.Client
}

// IsConnectionError checks if an error is a connection-related error that should trigger failover
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	// Don't treat redis.Nil as a connection error (it means "key not found")
	if errors.Is(err, redis.Nil) {
		return false
	}

	// Context cancellation by caller should not trigger failover
	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var sysErr syscall.Errno
	if errors.As(err, &sysErr) {
		switch sysErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ECONNABORTED, syscall.ETIMEDOUT:
			return true
		}
	}

	errStr := err.Error()
	connectionErrors := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"network is unreachable",
		"timeout",
		"connection closed",
		"EOF",
	}
	for _, connErr := range connectionErrors {
		if strings.Contains(errStr, connErr) {
			return true
		}
	}

	return false
}

// wrapConnectionError wraps connection errors with ErrBackendUnavailable
func wrapConnectionError(err error) error {
	if err == nil {
		return nil
	}
	if IsConnectionError(err) {
		return fmt.Errorf("%w: %v", kv.ErrBackendUnavailable, err)
	}
	return err
}

// mapError translates Redis replies into the kv error set. redis.Nil is
// left to the caller because its meaning depends on the command.
func mapError(err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "WRONGTYPE"):
		return fmt.Errorf("%w: %s", kv.ErrWrongType, msg)
	case strings.HasPrefix(msg, "BUSYGROUP"):
		return kv.ErrGroupExists
	case strings.HasPrefix(msg, "NOGROUP"):
		return fmt.Errorf("%w: %s", kv.ErrNoGroup, msg)
	case strings.Contains(msg, "not an integer"), strings.Contains(msg, "would overflow"):
		return fmt.Errorf("%w: %s", kv.ErrNotInteger, msg)
	case strings.Contains(msg, "ID specified in XADD"), strings.Contains(msg, "Invalid stream ID"):
		return fmt.Errorf("%w: %s", kv.ErrInvalidID, msg)
	case strings.Contains(msg, "not a valid float"), strings.Contains(msg, "not a number"),
		strings.Contains(msg, "invalid longitude"), strings.Contains(msg, "syntax error"):
		return fmt.Errorf("%w: %s", kv.ErrSyntax, msg)
	}
	return wrapConnectionError(err)
}

// notFound maps redis.Nil to kv.ErrNotFound and everything else through mapError
func notFound(err error) error {
	if errors.Is(err, redis.Nil) {
		return kv.ErrNotFound
	}
	return mapError(err)
}

// New creates a new Redis-backed store. The connection is established
// lazily; callers that need a live server should Ping.
func New(redisURL string) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		// Fallback for simple address format
		u, parseErr := url.Parse("redis://" + redisURL)
		if parseErr != nil {
			return nil, err // Return original error
		}

		db := 0
		if u.Path != "" && u.Path != "/" {
			if dbNum, dbErr := strconv.Atoi(u.Path[1:]); dbErr == nil {
				db = dbNum
			}
		}

		opt = &redis.Options{
			Addr: u.Host,
			DB:   db,
		}

		if u.User != nil {
			if password, hasPassword := u.User.Password(); hasPassword {
				opt.Password = password
			}
		}
	}

	return &Store{client: redis.NewClient(opt)}, nil
}

// NewFromClient wraps an existing client. Close closes the client.
func NewFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Client exposes the underlying go-redis client
func (s *Store) Client() *redis.Client {
	return s.client
}

func ttlArg(ttl []time.Duration) time.Duration {
	if len(ttl) > 0 && ttl[0] > 0 {
		return ttl[0]
	}
	return 0
}

func byteArgs(values [][]byte) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func toBytes(values []string) [][]byte {
	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = []byte(v)
	}
	return out
}

func needArgs(n int, what string) error {
	if n == 0 {
		return fmt.Errorf("%w: %s", kv.ErrSyntax, what)
	}
	return nil
}

// String operations

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error {
	return mapError(s.client.Set(ctx, key, value, ttlArg(ttl)).Err())
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, notFound(err)
	}
	return result, nil
}

func (s *Store) SetString(ctx context.Context, key string, value string, ttl ...time.Duration) error {
	return s.Set(ctx, key, []byte(value), ttl...)
}

func (s *Store) GetString(ctx context.Context, key string) (string, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl ...time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttlArg(ttl)).Result()
	return ok, mapError(err)
}

func (s *Store) GetSet(ctx context.Context, key string, value []byte) ([]byte, bool, error) {
	return popResult(s.client.GetSet(ctx, key, value).Bytes())
}

// Key operations

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	n, err := s.client.Del(ctx, keys...).Result()
	return n, mapError(err)
}

func (s *Store) Exists(ctx context.Context, keys ...string) (int64, error) {
	n, err := s.client.Exists(ctx, keys...).Result()
	return n, mapError(err)
}

// Expire uses millisecond precision. A non-positive ttl deletes the key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		n, err := s.client.Del(ctx, key).Result()
		return n > 0, mapError(err)
	}
	ok, err := s.client.PExpire(ctx, key, ttl).Result()
	return ok, mapError(err)
}

func (s *Store) Persist(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.Persist(ctx, key).Result()
	return ok, mapError(err)
}

// TTL returns -1 for a key without expiry and ErrNotFound for a missing key.
// go-redis hands the -1/-2 markers back unscaled.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, mapError(err)
	}
	switch ttl {
	case -2:
		return 0, kv.ErrNotFound
	case -1:
		return -1, nil
	}
	return ttl, nil
}

func (s *Store) Type(ctx context.Context, key string) (kv.Kind, error) {
	t, err := s.client.Type(ctx, key).Result()
	if err != nil {
		return "", mapError(err)
	}
	return kv.Kind(t), nil
}

// Keys walks the keyspace with SCAN so large databases are not blocked
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	seen := make(map[string]struct{})
	iter := s.client.Scan(ctx, 0, pattern, 500).Iterator()
	for iter.Next(ctx) {
		seen[iter.Val()] = struct{}{}
	}
	if err := iter.Err(); err != nil {
		return nil, mapError(err)
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) DBSize(ctx context.Context) (int64, error) {
	n, err := s.client.DBSize(ctx).Result()
	return n, mapError(err)
}

// FlushAll empties the selected database only
func (s *Store) FlushAll(ctx context.Context) error {
	return mapError(s.client.FlushDB(ctx).Err())
}

// Counter operations

func (s *Store) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	v, err := s.client.IncrBy(ctx, key, n).Result()
	return v, mapError(err)
}

func (s *Store) DecrBy(ctx context.Context, key string, n int64) (int64, error) {
	v, err := s.client.DecrBy(ctx, key, n).Result()
	return v, mapError(err)
}

// Multi operations

func (s *Store) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	result, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, mapError(err)
	}

	values := make([][]byte, len(result))
	for i, value := range result {
		// nil values remain nil (missing or non-string keys)
		if str, ok := value.(string); ok {
			values[i] = []byte(str)
		}
	}
	return values, nil
}

// MSet writes all pairs atomically. With a TTL the writes go through
// MULTI/EXEC since MSET cannot carry an expiry.
func (s *Store) MSet(ctx context.Context, pairs map[string][]byte, ttl ...time.Duration) error {
	if len(pairs) == 0 {
		return nil
	}
	if exp := ttlArg(ttl); exp > 0 {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for key, value := range pairs {
				pipe.Set(ctx, key, value, exp)
			}
			return nil
		})
		return mapError(err)
	}

	values := make([]interface{}, 0, len(pairs)*2)
	for key, value := range pairs {
		values = append(values, key, value)
	}
	return mapError(s.client.MSet(ctx, values...).Err())
}

// Batching

func (s *Store) Tx() *kv.Tx {
	return kv.NewTx(&txBackend{s: s})
}

func (s *Store) Pipeline() *kv.Pipeline {
	return kv.NewPipeline(s.execPipeline)
}

// Ping checks if Redis is reachable
func (s *Store) Ping(ctx context.Context) error {
	return wrapConnectionError(s.client.Ping(ctx).Err())
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

var (
	_ kv.Store       = (*Store)(nil)
	_ kv.GroupLister = (*Store)(nil)
)
