package redis

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbi/kvengine/pkg/kv"
	"github.com/arbi/kvengine/pkg/kv/kvtest"
)

func TestRedisStore(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set, skipping Redis tests")
	}

	factory := func(t *testing.T) kv.Store {
		store, err := New(redisURL)
		if err != nil {
			t.Fatalf("Failed to create Redis store: %v", err)
		}

		// every subtest starts from an empty database
		if err := store.FlushAll(context.Background()); err != nil {
			t.Fatalf("Failed to flush Redis: %v", err)
		}

		return store
	}

	kvtest.RunConformanceTests(t, factory)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"wrongtype", errors.New("WRONGTYPE Operation against a key holding the wrong kind of value"), kv.ErrWrongType},
		{"busygroup", errors.New("BUSYGROUP Consumer Group name already exists"), kv.ErrGroupExists},
		{"nogroup", errors.New("NOGROUP No such key 'orders' or consumer group 'billing'"), kv.ErrNoGroup},
		{"not integer", errors.New("ERR value is not an integer or out of range"), kv.ErrNotInteger},
		{"overflow", errors.New("ERR increment or decrement would overflow"), kv.ErrNotInteger},
		{"xadd id", errors.New("ERR The ID specified in XADD is equal or smaller than the target stream top item"), kv.ErrInvalidID},
		{"float", errors.New("ERR value is not a valid float"), kv.ErrSyntax},
		{"refused", errors.New("dial tcp 127.0.0.1:6379: connect: connection refused"), kv.ErrBackendUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError(tt.err), tt.want)
		})
	}

	assert.NoError(t, mapError(nil))
	assert.ErrorIs(t, notFound(redis.Nil), kv.ErrNotFound)
}

func TestIsConnectionError(t *testing.T) {
	assert.False(t, IsConnectionError(nil))
	assert.False(t, IsConnectionError(redis.Nil))
	assert.False(t, IsConnectionError(context.Canceled))
	assert.True(t, IsConnectionError(errors.New("read tcp: i/o timeout")))
	assert.True(t, IsConnectionError(errors.New("unexpected EOF")))
}

func newState(kinds map[string]kv.Kind, raw map[string]string) map[string]*keyState {
	state := make(map[string]*keyState, len(kinds))
	for k, kind := range kinds {
		st := &keyState{kind: kind}
		if v, ok := raw[k]; ok {
			st.raw = &v
		}
		state[k] = st
	}
	return state
}

func TestSimulateTypeChecks(t *testing.T) {
	tests := []struct {
		name  string
		kinds map[string]kv.Kind
		raw   map[string]string
		ops   []kv.Op
		want  error
	}{
		{
			name:  "set then hset on the same key",
			kinds: map[string]kv.Kind{"k": kv.KindNone},
			ops: []kv.Op{
				{Name: kv.OpSet, Keys: []string{"k"}, Value: []byte("v")},
				{Name: kv.OpHSet, Keys: []string{"k"}, Field: "f", Value: []byte("v")},
			},
			want: kv.ErrWrongType,
		},
		{
			name:  "del frees the key for another kind",
			kinds: map[string]kv.Kind{"k": kv.KindList},
			ops: []kv.Op{
				{Name: kv.OpDel, Keys: []string{"k"}},
				{Name: kv.OpSAdd, Keys: []string{"k"}, Values: [][]byte{[]byte("x")}},
			},
		},
		{
			name:  "incrby on a non-integer string",
			kinds: map[string]kv.Kind{"n": kv.KindString},
			raw:   map[string]string{"n": "abc"},
			ops:   []kv.Op{{Name: kv.OpIncrBy, Keys: []string{"n"}, N: 1}},
			want:  kv.ErrNotInteger,
		},
		{
			name:  "incrby after set in the same batch",
			kinds: map[string]kv.Kind{"n": kv.KindNone},
			ops: []kv.Op{
				{Name: kv.OpSet, Keys: []string{"n"}, Value: []byte("41")},
				{Name: kv.OpIncrBy, Keys: []string{"n"}, N: 1},
			},
		},
		{
			name:  "pfadd on a plain string",
			kinds: map[string]kv.Kind{"h": kv.KindString},
			raw:   map[string]string{"h": "hello"},
			ops:   []kv.Op{{Name: kv.OpPFAdd, Keys: []string{"h"}, Strings: []string{"a"}}},
			want:  kv.ErrWrongType,
		},
		{
			name:  "xadd on a zset",
			kinds: map[string]kv.Kind{"s": kv.KindZSet},
			ops:   []kv.Op{{Name: kv.OpXAdd, Keys: []string{"s"}, Stream: []kv.Field{{Name: "f", Value: "v"}}}},
			want:  kv.ErrWrongType,
		},
		{
			name:  "get on a missing key",
			kinds: map[string]kv.Kind{"g": kv.KindNone},
			ops:   []kv.Op{{Name: kv.OpGet, Keys: []string{"g"}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := newState(tt.kinds, tt.raw)
			var err error
			for _, op := range tt.ops {
				if err = simulate(state, op); err != nil {
					break
				}
			}
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewParsesPlainAddress(t *testing.T) {
	store, err := New("localhost:6380/2")
	require.NoError(t, err)
	defer store.Close()

	opt := store.Client().Options()
	assert.Equal(t, "localhost:6380", opt.Addr)
	assert.Equal(t, 2, opt.DB)
}

func TestReplayNeverRewindsLiveReader(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set, skipping Redis tests")
	}
	ctx := context.Background()
	store, err := New(redisURL)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.FlushAll(ctx))

	const total = 200
	for i := 0; i < total; i++ {
		_, err := store.XAdd(ctx, "replay", []kv.Field{{Name: "n", Value: "x"}})
		require.NoError(t, err)
	}
	require.NoError(t, store.XGroupCreate(ctx, "replay", "g", "0"))

	done := make(chan struct{})
	replays := make(chan error, 1)
	go func() {
		defer close(replays)
		for {
			select {
			case <-done:
				return
			default:
			}
			_, err := store.XReadGroup(ctx, kv.XReadGroupArgs{
				Stream: "replay", Group: "g", Consumer: "audit", From: "0", Count: 1,
			})
			if err != nil {
				replays <- err
				return
			}
		}
	}()

	seen := make(map[kv.StreamID]bool, total)
	for len(seen) < total {
		records, err := store.XReadGroup(ctx, kv.XReadGroupArgs{
			Stream: "replay", Group: "g", Consumer: "live", From: kv.LastConsumed, Count: 1,
		})
		require.NoError(t, err)
		if len(records) == 0 {
			break
		}
		for _, r := range records {
			require.False(t, seen[r.ID], "record %s delivered twice", r.ID)
			seen[r.ID] = true
		}
	}
	close(done)
	require.NoError(t, <-replays)
	assert.Len(t, seen, total)
}
