package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbi/kvengine/pkg/kv"
	"github.com/arbi/kvengine/pkg/kv/memory"
)

type product struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStore(t *testing.T, opts ...memory.Option) *memory.Store {
	t.Helper()
	store := memory.New(0, opts...)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetPutEvict(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	c := New[int64, product](store, "products")

	_, err := c.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrCacheMiss)

	want := product{ID: 1, Name: "Kopi", Price: "25000"}
	require.NoError(t, c.Put(ctx, 1, want))

	got, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	raw, err := store.GetString(ctx, "products::1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"name":"Kopi","price":"25000"}`, raw)

	require.NoError(t, c.Evict(ctx, 1))
	_, err = c.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrCacheMiss)

	// evicting twice is fine
	require.NoError(t, c.Evict(ctx, 1))
}

func TestGetOrComputeCachesLoaderResult(t *testing.T) {
	ctx := context.Background()
	c := New[string, product](newStore(t), "products")

	var calls atomic.Int32
	loader := func(ctx context.Context) (product, error) {
		calls.Add(1)
		return product{ID: 7, Name: "Teh"}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := c.GetOrCompute(ctx, "7", loader)
		require.NoError(t, err)
		assert.Equal(t, "Teh", got.Name)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrComputeDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	c := New[string, int](newStore(t), "numbers")

	boom := errors.New("boom")
	_, err := c.GetOrCompute(ctx, "a", func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	got, err := c.GetOrCompute(ctx, "a", func(context.Context) (int, error) { return 5, nil })
	require.NoError(t, err)
	assert.Equal(t, 5, got)
}

func TestGetOrComputeCollapsesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	c := New[string, string](newStore(t), "slow")

	var calls atomic.Int32
	release := make(chan struct{})
	loader := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "done", nil
	}

	const workers = 32
	var wg sync.WaitGroup
	results := make([]string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrCompute(ctx, "k", loader)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	// let every worker reach the loader before releasing it
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, "done", v)
	}
}

func TestGetOrComputeHonorsContext(t *testing.T) {
	c := New[string, string](newStore(t), "slow")

	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.GetOrCompute(ctx, "k", func(context.Context) (string, error) {
		<-release
		return "late", nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEntriesExpire(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := New[string, string](newStore(t, memory.WithClock(clock.Now)), "short", WithTTL(time.Minute))

	require.NoError(t, c.Put(ctx, "k", "v"))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	clock.Advance(time.Minute + time.Second)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestClearOnlyTouchesOwnEntries(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	a := New[int, int](store, "a")
	ab := New[int, int](store, "ab")

	require.NoError(t, a.Put(ctx, 1, 1))
	require.NoError(t, a.Put(ctx, 2, 2))
	require.NoError(t, ab.Put(ctx, 1, 10))
	require.NoError(t, store.SetString(ctx, "a-unrelated", "x"))

	require.NoError(t, a.Clear(ctx))

	n, err := store.Exists(ctx, "a::1", "a::2")
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := ab.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10, got)

	_, err = store.GetString(ctx, "a-unrelated")
	assert.NoError(t, err)

	// clearing an empty cache is a no-op
	require.NoError(t, a.Clear(ctx))
}

func TestClearEscapesGlobCharacters(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	star := New[string, string](store, "c*")
	other := New[string, string](store, "cx")

	require.NoError(t, star.Put(ctx, "k", "1"))
	require.NoError(t, other.Put(ctx, "k", "2"))
	require.NoError(t, star.Clear(ctx))

	got, err := other.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "2", got)
}

func TestHooks(t *testing.T) {
	ctx := context.Background()
	var hits, misses []string
	c := New[string, string](newStore(t), "hooked", WithHooks(
		func(_ context.Context, key string) { hits = append(hits, key) },
		func(_ context.Context, key string) { misses = append(misses, key) },
	))

	_, err := c.GetOrCompute(ctx, "x", func(context.Context) (string, error) { return "v", nil })
	require.NoError(t, err)
	_, err = c.GetOrCompute(ctx, "x", func(context.Context) (string, error) { return "other", nil })
	require.NoError(t, err)

	assert.Equal(t, []string{"hooked::x"}, misses)
	assert.Equal(t, []string{"hooked::x"}, hits)
}

func TestUndecodableEntryIsRecomputed(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	c := New[string, product](store, "products")

	require.NoError(t, store.SetString(ctx, "products::1", "not json"))

	_, err := c.Get(ctx, "1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)

	got, err := c.GetOrCompute(ctx, "1", func(context.Context) (product, error) {
		return product{ID: 1, Name: "fresh"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.Name)

	got, err = c.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.Name)
}

func TestWrongTypeSurfaces(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	c := New[string, string](store, "typed")

	_, err := store.LPush(ctx, "typed::k", []byte("x"))
	require.NoError(t, err)

	_, err = c.GetOrCompute(ctx, "k", func(context.Context) (string, error) { return "v", nil })
	assert.ErrorIs(t, err, kv.ErrWrongType)
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, "plain", escapeGlob("plain"))
	assert.Equal(t, `a\*b\?\[c\]\\`, escapeGlob(`a*b?[c]\`))
}

func TestGetOrComputeSurvivesFirstCallerCancel(t *testing.T) {
	c := New[string, string](newStore(t), "shared")

	started := make(chan struct{})
	release := make(chan struct{})
	loader := func(ctx context.Context) (string, error) {
		close(started)
		select {
		case <-release:
			return "loaded", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompute(leaderCtx, "k", loader)
		leaderErr <- err
	}()
	<-started

	type result struct {
		v   string
		err error
	}
	waiter := make(chan result, 1)
	go func() {
		v, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (string, error) {
			return "", errors.New("second loader must not run")
		})
		waiter <- result{v, err}
	}()

	// let the waiter join the in-flight load before the leader gives up
	time.Sleep(20 * time.Millisecond)
	cancelLeader()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)
	close(release)

	res := <-waiter
	require.NoError(t, res.err)
	assert.Equal(t, "loaded", res.v)

	got, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "loaded", got)
}

func TestGetOrComputeLoadTimeout(t *testing.T) {
	c := New[string, string](newStore(t), "bounded", WithLoadTimeout(20*time.Millisecond))

	_, err := c.GetOrCompute(context.Background(), "k", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
