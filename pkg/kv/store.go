package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key or field is not found or has expired
var ErrNotFound = errors.New("not found")

// ErrBackendUnavailable is returned when the backend storage is unavailable
var ErrBackendUnavailable = errors.New("backend unavailable")

var (
	// ErrWrongType is returned when an operation is applied to a key holding another kind of value
	ErrWrongType = errors.New("operation against a key holding the wrong kind of value")

	// ErrGroupExists is returned by XGroupCreate when the group is already provisioned.
	// Callers usually treat it as success.
	ErrGroupExists = errors.New("consumer group already exists")

	// ErrNoGroup is returned when reading through a consumer group that was never created
	ErrNoGroup = errors.New("no such consumer group")

	// ErrInvalidState is returned when a transaction is used outside its lifecycle
	ErrInvalidState = errors.New("invalid transaction state")

	// ErrConflict is returned when a watched key changed before commit. The whole
	// transaction may be retried.
	ErrConflict = errors.New("transaction aborted: watched key changed")

	// ErrInvalidID is returned for malformed or non-increasing stream ids
	ErrInvalidID = errors.New("invalid stream id")

	// ErrNotInteger is returned when a counter operation hits a non-integer value
	ErrNotInteger = errors.New("value is not an integer")

	// ErrSyntax is returned when arguments are malformed
	ErrSyntax = errors.New("syntax error")
)

// Store defines the interface for a Redis-like key-value store
type Store interface {
	// String operations
	Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	SetString(ctx context.Context, key string, value string, ttl ...time.Duration) error
	GetString(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value []byte, ttl ...time.Duration) (bool, error)
	// GetSet writes value without expiry and returns the previous value;
	// ok is false when the key held nothing
	GetSet(ctx context.Context, key string, value []byte) ([]byte, bool, error)

	// Key operations
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, keys ...string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Persist(ctx context.Context, key string) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Type(ctx context.Context, key string) (Kind, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	DBSize(ctx context.Context) (int64, error)
	FlushAll(ctx context.Context) error

	// Counter operations
	IncrBy(ctx context.Context, key string, n int64) (int64, error)
	DecrBy(ctx context.Context, key string, n int64) (int64, error)

	// Hash operations
	HSet(ctx context.Context, key string, field string, value []byte) error
	HMSet(ctx context.Context, key string, fields map[string][]byte) error
	HGet(ctx context.Context, key string, field string) ([]byte, error)
	HExists(ctx context.Context, key string, field string) (bool, error)
	HDel(ctx context.Context, key string, fields ...string) (int64, error)
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)
	HLen(ctx context.Context, key string) (int64, error)

	// Set operations
	SAdd(ctx context.Context, key string, members ...[]byte) (int64, error)
	SRem(ctx context.Context, key string, members ...[]byte) (int64, error)
	SMembers(ctx context.Context, key string) ([][]byte, error)
	SIsMember(ctx context.Context, key string, member []byte) (bool, error)
	SCard(ctx context.Context, key string) (int64, error)

	// List operations. Pops report ok=false on an empty or missing list.
	LPush(ctx context.Context, key string, values ...[]byte) (int64, error)
	RPush(ctx context.Context, key string, values ...[]byte) (int64, error)
	LPop(ctx context.Context, key string) ([]byte, bool, error)
	RPop(ctx context.Context, key string) ([]byte, bool, error)
	LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	LLen(ctx context.Context, key string) (int64, error)
	LIndex(ctx context.Context, key string, index int64) ([]byte, bool, error)

	// Sorted set operations
	ZAdd(ctx context.Context, key string, members ...Z) (int64, error)
	ZIncrBy(ctx context.Context, key string, increment float64, member string) (float64, error)
	ZScore(ctx context.Context, key string, member string) (float64, error)
	ZRem(ctx context.Context, key string, members ...string) (int64, error)
	ZCard(ctx context.Context, key string) (int64, error)
	ZRange(ctx context.Context, key string, start, stop int64) ([]Z, error)
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]Z, error)
	ZPopMax(ctx context.Context, key string) (Z, bool, error)
	ZPopMin(ctx context.Context, key string) (Z, bool, error)

	// Geospatial operations
	GeoAdd(ctx context.Context, key string, locations ...GeoLocation) (int64, error)
	GeoPos(ctx context.Context, key string, member string) (GeoLocation, error)
	GeoDist(ctx context.Context, key string, member1, member2 string, unit GeoUnit) (float64, error)
	GeoSearch(ctx context.Context, key string, query GeoSearchQuery) ([]GeoLocation, error)

	// Cardinality estimation
	PFAdd(ctx context.Context, key string, elements ...string) (bool, error)
	PFCount(ctx context.Context, keys ...string) (int64, error)
	PFMerge(ctx context.Context, dest string, sources ...string) error

	// Stream operations
	XAdd(ctx context.Context, key string, fields []Field) (StreamID, error)
	XLen(ctx context.Context, key string) (int64, error)
	XRange(ctx context.Context, key string, start, end string, count int64) ([]StreamRecord, error)
	XGroupCreate(ctx context.Context, key, group, start string) error
	XReadGroup(ctx context.Context, args XReadGroupArgs) ([]StreamRecord, error)

	// Pub/Sub
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)

	// Multi operations
	MGet(ctx context.Context, keys ...string) ([][]byte, error)
	MSet(ctx context.Context, kv map[string][]byte, ttl ...time.Duration) error

	// Batching
	Tx() *Tx
	Pipeline() *Pipeline

	// Health check
	Ping(ctx context.Context) error

	// Cleanup
	Close() error
}

// Subscription delivers messages published to the channels it was opened for
type Subscription interface {
	Channel() <-chan *Message
	Close() error
}

// Message is a single pub/sub delivery
type Message struct {
	Channel string
	Payload []byte
}
