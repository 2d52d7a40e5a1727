package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbi/kvengine/pkg/kv"
	"github.com/arbi/kvengine/pkg/kv/kvtest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryStore(t *testing.T) {
	factory := func(t *testing.T) kv.Store {
		return New(0) // Disable janitor for deterministic tests
	}

	kvtest.RunConformanceTests(t, factory)
}

func TestMemoryStoreWithJanitor(t *testing.T) {
	store := New(10 * time.Millisecond)
	defer store.Close()

	ctx := context.Background()
	key := "test:janitor"

	require.NoError(t, store.Set(ctx, key, []byte("test"), 20*time.Millisecond))

	assert.Eventually(t, func() bool {
		return store.Stats().Keys == 0
	}, time.Second, 10*time.Millisecond, "janitor should remove the expired key without any read")

	_, err := store.Get(ctx, key)
	assert.ErrorIs(t, err, kv.ErrNotFound)
	assert.EqualValues(t, 1, store.Stats().ReapedKeys)
}

func TestTTLScenario(t *testing.T) {
	clock := newFakeClock()
	store := New(0, WithClock(clock.Now))
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.SetString(ctx, "name", "Arbi", 2*time.Second))
	got, err := store.GetString(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "Arbi", got)

	clock.Advance(2*time.Second - time.Millisecond)
	got, err = store.GetString(ctx, "name")
	require.NoError(t, err, "read strictly before expiry returns the value")
	assert.Equal(t, "Arbi", got)

	clock.Advance(time.Second)
	_, err = store.GetString(ctx, "name")
	assert.ErrorIs(t, err, kv.ErrNotFound)
	assert.EqualValues(t, 1, store.Stats().ExpiredKeys)
}

func TestReaperSkipsRewrittenKeys(t *testing.T) {
	clock := newFakeClock()
	store := New(0, WithClock(clock.Now))
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, store.Set(ctx, "b", []byte("1"), time.Second))
	require.NoError(t, store.Set(ctx, "c", []byte("1"), time.Second))
	// b is rewritten without expiry and c gets a longer one
	require.NoError(t, store.Set(ctx, "b", []byte("2")))
	_, err := store.Expire(ctx, "c", time.Hour)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, store.ReapExpired())

	_, err = store.Get(ctx, "a")
	assert.ErrorIs(t, err, kv.ErrNotFound)
	b, err := store.GetString(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "2", b)
	_, err = store.Get(ctx, "c")
	assert.NoError(t, err)

	// reaping again is a no-op
	assert.Equal(t, 0, store.ReapExpired())
}

func TestReaperRacesWithWriters(t *testing.T) {
	store := New(time.Millisecond)
	defer store.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("k:%d:%d", w, i%20)
				if i%3 == 0 {
					store.Set(ctx, key, []byte("v"))
				} else {
					store.Set(ctx, key, []byte("v"), time.Millisecond)
				}
				store.Get(ctx, key)
			}
		}(w)
	}
	wg.Wait()

	// whatever survives must be either persistent or not yet expired
	time.Sleep(5 * time.Millisecond)
	store.ReapExpired()
	keys, err := store.Keys(ctx, "*")
	require.NoError(t, err)
	for _, key := range keys {
		ttl, err := store.TTL(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, time.Duration(-1), ttl, key)
	}
}

func TestStreamIDsWithStalledClock(t *testing.T) {
	clock := newFakeClock()
	store := New(0, WithClock(clock.Now))
	defer store.Close()
	ctx := context.Background()
	fields := []kv.Field{{Name: "k", Value: "v"}}

	id1, err := store.XAdd(ctx, "s", fields)
	require.NoError(t, err)
	id2, err := store.XAdd(ctx, "s", fields)
	require.NoError(t, err)
	assert.Equal(t, id1.Ms, id2.Ms)
	assert.Equal(t, id1.Seq+1, id2.Seq)

	clock.Advance(-time.Second)
	id3, err := store.XAdd(ctx, "s", fields)
	require.NoError(t, err)
	assert.Equal(t, 1, id3.Compare(id2), "ids must keep increasing when the clock goes backwards")

	clock.Advance(2 * time.Second)
	id4, err := store.XAdd(ctx, "s", fields)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id4.Seq)
	assert.Greater(t, id4.Ms, id3.Ms)
}

func TestStreamConcurrentAppends(t *testing.T) {
	store := New(0)
	defer store.Close()
	ctx := context.Background()

	const writers, perWriter = 8, 100
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := store.XAdd(ctx, "orders", []kv.Field{{Name: "i", Value: fmt.Sprint(i)}})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	records, err := store.XRange(ctx, "orders", "-", "+", 0)
	require.NoError(t, err)
	require.Len(t, records, writers*perWriter)
	for i := 1; i < len(records); i++ {
		require.Equal(t, 1, records[i].ID.Compare(records[i-1].ID))
	}
	assert.EqualValues(t, writers*perWriter, store.Stats().StreamAppends)
}

func TestStreamGroupStartPositions(t *testing.T) {
	store := New(0)
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.XAdd(ctx, "s", []kv.Field{{Name: "i", Value: fmt.Sprint(i)}})
		require.NoError(t, err)
	}
	require.NoError(t, store.XGroupCreate(ctx, "s", "tail", "$"))
	require.NoError(t, store.XGroupCreate(ctx, "s", "head", ""))

	read := func(group string) []kv.StreamRecord {
		records, err := store.XReadGroup(ctx, kv.XReadGroupArgs{Stream: "s", Group: group, Consumer: "c", From: kv.LastConsumed})
		require.NoError(t, err)
		return records
	}
	assert.Empty(t, read("tail"))
	assert.Len(t, read("head"), 3)

	_, err := store.XAdd(ctx, "s", []kv.Field{{Name: "i", Value: "3"}})
	require.NoError(t, err)
	assert.Len(t, read("tail"), 1)

	groups, err := store.XInfoGroups(ctx, "s")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "head", groups[0].Name)
	assert.Equal(t, []string{"c"}, groups[0].Consumers)
}

func TestStreamExplicitCursorDoesNotRewind(t *testing.T) {
	store := New(0)
	defer store.Close()
	ctx := context.Background()

	var ids []kv.StreamID
	for i := 0; i < 4; i++ {
		id, err := store.XAdd(ctx, "s", []kv.Field{{Name: "i", Value: fmt.Sprint(i)}})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, store.XGroupCreate(ctx, "s", "g", "0"))

	all, err := store.XReadGroup(ctx, kv.XReadGroupArgs{Stream: "s", Group: "g", Consumer: "c", From: kv.LastConsumed})
	require.NoError(t, err)
	require.Len(t, all, 4)

	replay, err := store.XReadGroup(ctx, kv.XReadGroupArgs{Stream: "s", Group: "g", Consumer: "c", From: ids[1].String()})
	require.NoError(t, err)
	assert.Len(t, replay, 2)

	groups, err := store.XInfoGroups(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, ids[3], groups[0].LastDeliveredID)
}

func TestTxReadsOwnWrites(t *testing.T) {
	store := New(0)
	defer store.Close()
	ctx := context.Background()

	tx := store.Tx()
	require.NoError(t, tx.Begin())
	require.NoError(t, tx.Set("k", []byte("1"), 0))
	require.NoError(t, tx.IncrBy("k", 41))
	require.NoError(t, tx.Get("k"))
	require.NoError(t, tx.RPush("l", []byte("a"), []byte("b")))
	require.NoError(t, tx.LPop("l"))
	require.NoError(t, tx.ZAdd("z", kv.Z{Member: "m", Score: 3}))
	require.NoError(t, tx.ZPopMax("z"))
	require.NoError(t, tx.XAdd("s", []kv.Field{{Name: "f", Value: "v"}}))

	results, err := tx.Exec(ctx)
	require.NoError(t, err)
	require.Len(t, results, 8)
	assert.Equal(t, int64(42), results[1].Val)
	assert.Equal(t, []byte("42"), results[2].Val)
	assert.Equal(t, []byte("a"), results[4].Val)
	assert.Equal(t, &kv.Z{Member: "m", Score: 3}, results[6].Val)
	assert.IsType(t, kv.StreamID{}, results[7].Val)

	kind, err := store.Type(ctx, "z")
	require.NoError(t, err)
	assert.Equal(t, kv.KindNone, kind, "zset emptied inside the tx is removed")
	assert.EqualValues(t, 1, store.Stats().Commits)
}

func TestTxConflictOnExpiredWatch(t *testing.T) {
	clock := newFakeClock()
	store := New(0, WithClock(clock.Now))
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "lease", []byte("x"), time.Second))
	tx := store.Tx()
	require.NoError(t, tx.Watch(ctx, "lease"))
	require.NoError(t, tx.Begin())
	require.NoError(t, tx.Set("lease", []byte("y"), time.Second))

	clock.Advance(2 * time.Second)
	_, err := tx.Exec(ctx)
	assert.ErrorIs(t, err, kv.ErrConflict)
	assert.EqualValues(t, 1, store.Stats().Conflicts)
}

func TestTxWatchAfterBegin(t *testing.T) {
	store := New(0)
	defer store.Close()

	tx := store.Tx()
	require.NoError(t, tx.Begin())
	assert.ErrorIs(t, tx.Watch(context.Background(), "k"), kv.ErrInvalidState)
}

func TestConcurrentIncrBy(t *testing.T) {
	store := New(0)
	defer store.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, err := store.IncrBy(ctx, "counter", 1)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	got, err := store.GetString(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, "1600", got)
}

func TestIncrByKeepsTTL(t *testing.T) {
	clock := newFakeClock()
	store := New(0, WithClock(clock.Now))
	defer store.Close()
	ctx := context.Background()

	_, err := store.IncrBy(ctx, "hits", 1)
	require.NoError(t, err)
	_, err = store.Expire(ctx, "hits", time.Minute)
	require.NoError(t, err)
	_, err = store.IncrBy(ctx, "hits", 1)
	require.NoError(t, err)

	ttl, err := store.TTL(ctx, "hits")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)
}

func TestSnapshotRestore(t *testing.T) {
	clock := newFakeClock()
	src := New(0, WithClock(clock.Now))
	defer src.Close()
	ctx := context.Background()

	require.NoError(t, src.Set(ctx, "str", []byte("v"), time.Hour))
	_, err := src.RPush(ctx, "list", []byte("a"), []byte("b"))
	require.NoError(t, err)
	_, err = src.SAdd(ctx, "set", []byte("x"))
	require.NoError(t, err)
	require.NoError(t, src.HSet(ctx, "hash", "f", []byte("1")))
	_, err = src.ZAdd(ctx, "zset", kv.Z{Member: "m", Score: 2.5})
	require.NoError(t, err)
	_, err = src.PFAdd(ctx, "hll", "a", "b")
	require.NoError(t, err)
	_, err = src.XAdd(ctx, "stream", []kv.Field{{Name: "f", Value: "v"}})
	require.NoError(t, err)
	require.NoError(t, src.XGroupCreate(ctx, "stream", "g", "$"))
	require.NoError(t, src.Set(ctx, "gone", []byte("v"), time.Second))

	clock.Advance(2 * time.Second)
	entries, err := src.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 7, "expired keys are not exported")

	dst := New(0, WithClock(clock.Now))
	defer dst.Close()
	require.NoError(t, dst.Restore(ctx, entries))

	got, err := dst.GetString(ctx, "str")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
	ttl, err := dst.TTL(ctx, "str")
	require.NoError(t, err)
	assert.Equal(t, time.Hour-2*time.Second, ttl)

	items, err := dst.LRange(ctx, "list", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, items)

	score, err := dst.ZScore(ctx, "zset", "m")
	require.NoError(t, err)
	assert.Equal(t, 2.5, score)

	n, err := dst.PFCount(ctx, "hll")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	groups, err := dst.XInfoGroups(ctx, "stream")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "g", groups[0].Name)

	// ids keep increasing after a restore
	id, err := dst.XAdd(ctx, "stream", []kv.Field{{Name: "f", Value: "w"}})
	require.NoError(t, err)
	assert.Equal(t, uint64(clock.Now().UnixMilli()), id.Ms)
}

func TestRestoreRejectsBadEntries(t *testing.T) {
	store := New(0)
	defer store.Close()
	ctx := context.Background()

	err := store.Restore(ctx, []kv.SnapshotEntry{
		{Key: "ok", Kind: kv.KindString, Payload: []byte(`"dg=="`)},
		{Key: "bad", Kind: kv.Kind("blob"), Payload: []byte(`{}`)},
	})
	assert.ErrorIs(t, err, kv.ErrSyntax)

	n, _ := store.DBSize(ctx)
	assert.Zero(t, n, "a failed restore leaves the store untouched")
}

func TestHyperLogLogAccuracy(t *testing.T) {
	store := New(0)
	defer store.Close()
	ctx := context.Background()

	const n = 50000
	batch := make([]string, 0, 1000)
	for i := 0; i < n; i++ {
		batch = append(batch, fmt.Sprintf("user-%d", i))
		if len(batch) == cap(batch) {
			_, err := store.PFAdd(ctx, "visitors", batch...)
			require.NoError(t, err)
			batch = batch[:0]
		}
	}

	count, err := store.PFCount(ctx, "visitors")
	require.NoError(t, err)
	assert.InEpsilon(t, n, count, 0.03)
}

func TestSkiplistOrder(t *testing.T) {
	zv := newZSetValue()
	r := rand.New(rand.NewSource(7))
	want := make(map[string]float64)
	for i := 0; i < 500; i++ {
		member := fmt.Sprintf("m%03d", r.Intn(200))
		score := float64(r.Intn(50))
		zv.add(member, score)
		want[member] = score
		if r.Intn(4) == 0 {
			zv.rem(member)
			delete(want, member)
		}
	}

	type pair struct {
		m string
		s float64
	}
	var expected []pair
	for m, s := range want {
		expected = append(expected, pair{m, s})
	}
	sort.Slice(expected, func(i, j int) bool {
		if expected[i].s != expected[j].s {
			return expected[i].s < expected[j].s
		}
		return expected[i].m < expected[j].m
	})

	var got []pair
	for n := zv.sl.first(); n != nil; n = n.next() {
		got = append(got, pair{n.member, n.score})
	}
	assert.Equal(t, expected, got)
	assert.Equal(t, len(want), zv.sl.length)

	var reversed []pair
	for n := zv.sl.last(); n != nil; n = n.backward {
		reversed = append(reversed, pair{n.member, n.score})
	}
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}
	assert.Equal(t, expected, reversed)
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern, key string
		match        bool
	}{
		{"*", "anything", true},
		{"user:*", "user:1", true},
		{"user:*", "users:1", false},
		{"a/*", "a/b/c", true},
		{"h?llo", "hello", true},
		{"h?llo", "hllo", false},
		{"h[ae]llo", "hallo", true},
		{"h[^e]llo", "hello", false},
		{"h[a-c]llo", "hbllo", true},
		{`h\*llo`, "h*llo", true},
		{`h\*llo`, "hello", false},
		{"", "", true},
		{"*a*b", "xaxxb", true},
		{"*a*b", "xaxxa", false},
		{"a*", "a", true},
		{"**", "", true},
		{"*?", "", false},
		{"[", "[", true},
		{"x[ab", "x[ab", true},
		{`a\`, `a\`, true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"_"+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.match, matchGlob(tt.pattern, tt.key))
		})
	}
}

func TestGeoHashRoundTrip(t *testing.T) {
	hash := geoEncode(106.822695, -6.177456)
	assert.Equal(t, uint64(3195107555147139), hash)
	lon, lat := geoDecode(hash)
	assert.InDelta(t, 106.822695, lon, 1e-5)
	assert.InDelta(t, -6.177456, lat, 1e-5)
}

func TestGeoAddRejectsInvalidCoordinates(t *testing.T) {
	store := New(0)
	defer store.Close()

	_, err := store.GeoAdd(context.Background(), "g", kv.GeoLocation{Name: "pole", Longitude: 0, Latitude: 89})
	assert.ErrorIs(t, err, kv.ErrSyntax)
}

func TestPublishWithoutSubscribers(t *testing.T) {
	store := New(0)
	defer store.Close()

	n, err := store.Publish(context.Background(), "nobody", []byte("x"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	store := New(0)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := store.Subscribe(ctx, "events")
	require.NoError(t, err)
	cancel()

	assert.Eventually(t, func() bool {
		_, open := <-sub.Channel()
		return !open
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		n, _ := store.Publish(context.Background(), "events", []byte("x"))
		return n == 0
	}, time.Second, 5*time.Millisecond)
}

func TestMatchGlobManyStars(t *testing.T) {
	key := strings.Repeat("a", 64)
	pattern := strings.Repeat("*a", 30) + "*b"

	done := make(chan bool, 1)
	go func() { done <- matchGlob(pattern, key) }()
	select {
	case matched := <-done:
		assert.False(t, matched)
	case <-time.After(2 * time.Second):
		t.Fatal("glob matching did not finish")
	}
	assert.True(t, matchGlob(strings.Repeat("*a", 30)+"*", key))
}

// keysOnDistinctShards returns two keys that hash to different shards
func keysOnDistinctShards(prefix string) (string, string) {
	a := prefix + ":0"
	for i := 1; ; i++ {
		b := fmt.Sprintf("%s:%d", prefix, i)
		if shardIndex(b) != shardIndex(a) {
			return a, b
		}
	}
}

func TestKeysSeeWholeTransactions(t *testing.T) {
	store := New(0)
	defer store.Close()
	ctx := context.Background()
	a, b := keysOnDistinctShards("pair")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	var partial, partialSize int
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			keys, err := store.Keys(ctx, "pair:*")
			if err == nil && len(keys) == 1 {
				partial++
			}
			n, err := store.DBSize(ctx)
			if err == nil && n == 1 {
				partialSize++
			}
		}
	}()

	for i := 0; i < 5000; i++ {
		tx := store.Tx()
		require.NoError(t, tx.Begin())
		if i%2 == 0 {
			require.NoError(t, tx.Set(a, []byte("v"), 0))
			require.NoError(t, tx.Set(b, []byte("v"), 0))
		} else {
			require.NoError(t, tx.Del(a, b))
		}
		_, err := tx.Exec(ctx)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	assert.Zero(t, partial, "Keys observed one of two keys written together")
	assert.Zero(t, partialSize, "DBSize observed one of two keys written together")
}

func TestExpiryQueueHoldsOneItemPerKey(t *testing.T) {
	clock := newFakeClock()
	store := New(0, WithClock(clock.Now))
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		require.NoError(t, store.Set(ctx, "hot", []byte(fmt.Sprint(i)), time.Hour))
	}
	assert.Equal(t, 1, store.Stats().PendingExpiry)

	_, err := store.Expire(ctx, "hot", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Stats().PendingExpiry)

	// the moved deadline is the one that fires
	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, store.ReapExpired())
	assert.Zero(t, store.Stats().PendingExpiry)

	require.NoError(t, store.Set(ctx, "persisted", []byte("v"), time.Hour))
	_, err = store.Persist(ctx, "persisted")
	require.NoError(t, err)
	assert.Zero(t, store.Stats().PendingExpiry)

	require.NoError(t, store.Set(ctx, "plain", []byte("v"), time.Hour))
	require.NoError(t, store.Set(ctx, "plain", []byte("w")))
	assert.Zero(t, store.Stats().PendingExpiry)

	require.NoError(t, store.Set(ctx, "gone", []byte("v"), time.Hour))
	_, err = store.Del(ctx, "gone")
	require.NoError(t, err)
	assert.Zero(t, store.Stats().PendingExpiry)
}

func TestTxConflictOnCreateAndDeleteOfWatchedKey(t *testing.T) {
	store := New(0)
	defer store.Close()
	ctx := context.Background()

	tx := store.Tx()
	require.NoError(t, tx.Watch(ctx, "ghost"))

	require.NoError(t, store.Set(ctx, "ghost", []byte("boo")))
	_, err := store.Del(ctx, "ghost")
	require.NoError(t, err)

	require.NoError(t, tx.Begin())
	require.NoError(t, tx.Set("result", []byte("x"), 0))
	_, err = tx.Exec(ctx)
	assert.ErrorIs(t, err, kv.ErrConflict)

	_, err = store.Get(ctx, "result")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestTxWatchOfAbsentKeyCommitsWhenUntouched(t *testing.T) {
	store := New(0)
	defer store.Close()
	ctx := context.Background()

	tx := store.Tx()
	require.NoError(t, tx.Watch(ctx, "ghost"))
	require.NoError(t, tx.Begin())
	require.NoError(t, tx.Set("ghost", []byte("first"), 0))
	_, err := tx.Exec(ctx)
	require.NoError(t, err)

	got, err := store.GetString(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, "first", got)
}

func TestFactoryZeroJanitorIntervalDisablesReaper(t *testing.T) {
	s, err := kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendMemory})
	require.NoError(t, err)
	defer s.Close()
	store := s.(*Store)

	select {
	case <-store.janitorDone:
	default:
		t.Fatal("reaper goroutine started for a zero interval")
	}

	s, err = kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendMemory, JanitorInterval: time.Hour})
	require.NoError(t, err)
	defer s.Close()
	select {
	case <-s.(*Store).janitorDone:
		t.Fatal("reaper goroutine missing for a positive interval")
	default:
	}
}
