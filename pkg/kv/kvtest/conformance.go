// Package kvtest provides conformance tests for kv.Store implementations
package kvtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/arbi/kvengine/pkg/kv"
)

// StoreFactory creates a fresh Store instance for testing
type StoreFactory func(t *testing.T) kv.Store

type storeTest struct {
	name string
	test func(t *testing.T, store kv.Store)
}

// RunConformanceTests runs all conformance tests against a Store implementation
func RunConformanceTests(t *testing.T, factory StoreFactory) {
	groups := []struct {
		name  string
		tests []storeTest
	}{
		{"StringOperations", []storeTest{
			{"SetGet", testSetGet},
			{"GetNonExistent", testGetNonExistent},
			{"SetString", testSetString},
			{"SetNX", testSetNX},
			{"OverwriteClearsTTL", testOverwriteClearsTTL},
			{"GetSet", testGetSet},
		}},
		{"KeyOperations", []storeTest{
			{"Del", testDel},
			{"Exists", testExists},
			{"Type", testType},
			{"Keys", testKeys},
			{"DBSizeAndFlush", testDBSizeAndFlush},
		}},
		{"TTLOperations", []storeTest{
			{"SetWithTTL", testSetWithTTL},
			{"Expire", testExpire},
			{"Persist", testPersist},
			{"TTL", testTTL},
		}},
		{"CounterOperations", []storeTest{
			{"IncrBy", testIncrBy},
			{"DecrBy", testDecrBy},
			{"IncrByInvalidValue", testIncrByInvalidValue},
		}},
		{"HashOperations", []storeTest{
			{"HSetHGet", testHSetHGet},
			{"HMSetHGetAll", testHMSetHGetAll},
			{"HDel", testHDel},
			{"HExists", testHExists},
		}},
		{"SetOperations", []storeTest{
			{"SAddIdempotent", testSAddIdempotent},
			{"SRem", testSRem},
		}},
		{"ListOperations", []storeTest{
			{"FIFO", testListFIFO},
			{"LPushOrder", testLPushOrder},
			{"LRangeNegative", testLRangeNegative},
			{"LIndex", testLIndex},
			{"PopEmpty", testPopEmpty},
		}},
		{"SortedSetOperations", []storeTest{
			{"PopMaxOrder", testZPopMaxOrder},
			{"PopMaxTies", testZPopMaxTies},
			{"RangeOrder", testZRangeOrder},
			{"UpsertAndIncr", testZUpsert},
			{"PopEmpty", testZPopEmpty},
		}},
		{"GeoOperations", []storeTest{
			{"DistAndSearch", testGeo},
		}},
		{"HyperLogLog", []storeTest{
			{"AddCountMerge", testHyperLogLog},
		}},
		{"StreamOperations", []storeTest{
			{"AppendAndReadGroup", testStreamReadGroup},
			{"GroupExists", testStreamGroupExists},
			{"NoGroup", testStreamNoGroup},
			{"Range", testStreamRange},
			{"CountLimit", testStreamCountLimit},
			{"ReplayDoesNotRewind", testStreamReplayDoesNotRewind},
		}},
		{"TypeSafety", []storeTest{
			{"WrongType", testWrongType},
		}},
		{"Transactions", []storeTest{
			{"CommitBoth", testTxCommit},
			{"Discard", testTxDiscard},
			{"NestedBegin", testTxNestedBegin},
			{"AbortOnError", testTxAbortOnError},
			{"WatchConflict", testTxWatchConflict},
			{"Atomicity", testTxAtomicity},
		}},
		{"Pipeline", []storeTest{
			{"IndependentResults", testPipeline},
		}},
		{"PubSub", []storeTest{
			{"PublishSubscribe", testPubSub},
		}},
		{"MultiOperations", []storeTest{
			{"MSetMGet", testMSetMGet},
		}},
		{"HealthCheck", []storeTest{
			{"Ping", testPing},
		}},
	}

	for _, g := range groups {
		g := g
		t.Run(g.name, func(t *testing.T) {
			for _, tt := range g.tests {
				tt := tt
				t.Run(tt.name, func(t *testing.T) {
					store := factory(t)
					defer store.Close()
					tt.test(t, store)
				})
			}
		})
	}
}

func testSetGet(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:string"
	value := []byte("hello world")

	if err := store.Set(ctx, key, value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	result, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !reflect.DeepEqual(result, value) {
		t.Fatalf("Expected %v, got %v", value, result)
	}
}

func testGetNonExistent(t *testing.T, store kv.Store) {
	ctx := context.Background()

	_, err := store.Get(ctx, "test:nonexistent")
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	_, err = store.GetString(ctx, "test:nonexistent")
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func testSetString(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:setstring"
	value := "hello string"

	if err := store.SetString(ctx, key, value); err != nil {
		t.Fatalf("SetString failed: %v", err)
	}
	result, err := store.GetString(ctx, key)
	if err != nil {
		t.Fatalf("GetString failed: %v", err)
	}
	if result != value {
		t.Fatalf("Expected %q, got %q", value, result)
	}
}

func testGetSet(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:getset"

	old, ok, err := store.GetSet(ctx, key, []byte("first"))
	if err != nil {
		t.Fatalf("GetSet failed: %v", err)
	}
	if ok || old != nil {
		t.Fatalf("Expected no previous value, got %q", old)
	}

	store.Expire(ctx, key, time.Hour)
	old, ok, err = store.GetSet(ctx, key, []byte("second"))
	if err != nil || !ok || string(old) != "first" {
		t.Fatalf("Expected previous value first, got %q/%v/%v", old, ok, err)
	}
	got, _ := store.GetString(ctx, key)
	if got != "second" {
		t.Fatalf("Expected second, got %q", got)
	}
	if ttl, _ := store.TTL(ctx, key); ttl != -1 {
		t.Fatalf("Expected GetSet to clear the expiry, got %v", ttl)
	}

	store.LPush(ctx, "test:getset-list", []byte("x"))
	if _, _, err := store.GetSet(ctx, "test:getset-list", []byte("y")); !errors.Is(err, kv.ErrWrongType) {
		t.Fatalf("Expected ErrWrongType, got %v", err)
	}
}

func testSetNX(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:setnx"

	ok, err := store.SetNX(ctx, key, []byte("first"))
	if err != nil || !ok {
		t.Fatalf("Expected first SetNX to succeed, got %v %v", ok, err)
	}
	ok, err = store.SetNX(ctx, key, []byte("second"))
	if err != nil || ok {
		t.Fatalf("Expected second SetNX to be rejected, got %v %v", ok, err)
	}
	got, _ := store.GetString(ctx, key)
	if got != "first" {
		t.Fatalf("Expected first value to survive, got %q", got)
	}
}

func testOverwriteClearsTTL(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:overwrite"

	store.Set(ctx, key, []byte("a"), time.Minute)
	store.Set(ctx, key, []byte("b"))

	ttl, err := store.TTL(ctx, key)
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl != -1 {
		t.Fatalf("Expected overwrite to clear TTL, got %v", ttl)
	}
}

func testDel(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key1, key2 := "test:del1", "test:del2"
	value := []byte("test")

	store.Set(ctx, key1, value)
	store.Set(ctx, key2, value)

	deleted, err := store.Del(ctx, key1, "test:del-missing")
	if err != nil {
		t.Fatalf("Del failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("Expected 1 deleted, got %d", deleted)
	}

	_, err = store.Get(ctx, key1)
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for deleted key, got %v", err)
	}
	if _, err := store.Get(ctx, key2); err != nil {
		t.Fatalf("Expected key2 to still exist, got %v", err)
	}
}

func testExists(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:exists"

	count, err := store.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("Expected 0 for non-existent key, got %d", count)
	}

	store.Set(ctx, key, []byte("test"))

	count, err = store.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("Expected 1 for existing key, got %d", count)
	}
}

func testType(t *testing.T, store kv.Store) {
	ctx := context.Background()
	store.Set(ctx, "test:type:string", []byte("x"))
	store.RPush(ctx, "test:type:list", []byte("x"))
	store.SAdd(ctx, "test:type:set", []byte("x"))
	store.HSet(ctx, "test:type:hash", "f", []byte("x"))
	store.ZAdd(ctx, "test:type:zset", kv.Z{Member: "x", Score: 1})
	store.XAdd(ctx, "test:type:stream", []kv.Field{{Name: "f", Value: "x"}})

	cases := map[string]kv.Kind{
		"test:type:string":  kv.KindString,
		"test:type:list":    kv.KindList,
		"test:type:set":     kv.KindSet,
		"test:type:hash":    kv.KindHash,
		"test:type:zset":    kv.KindZSet,
		"test:type:stream":  kv.KindStream,
		"test:type:missing": kv.KindNone,
	}
	for key, want := range cases {
		got, err := store.Type(ctx, key)
		if err != nil {
			t.Fatalf("Type(%s) failed: %v", key, err)
		}
		if got != want {
			t.Fatalf("Type(%s): expected %s, got %s", key, want, got)
		}
	}
}

func testKeys(t *testing.T, store kv.Store) {
	ctx := context.Background()
	store.Set(ctx, "test:keys:a", []byte("1"))
	store.Set(ctx, "test:keys:b", []byte("1"))
	store.Set(ctx, "test:other", []byte("1"))

	keys, err := store.Keys(ctx, "test:keys:*")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"test:keys:a", "test:keys:b"}) {
		t.Fatalf("Unexpected keys: %v", keys)
	}
}

func testDBSizeAndFlush(t *testing.T, store kv.Store) {
	ctx := context.Background()
	store.Set(ctx, "test:size:1", []byte("1"))
	store.Set(ctx, "test:size:2", []byte("1"))

	n, err := store.DBSize(ctx)
	if err != nil {
		t.Fatalf("DBSize failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("Expected 2 keys, got %d", n)
	}
	if err := store.FlushAll(ctx); err != nil {
		t.Fatalf("FlushAll failed: %v", err)
	}
	n, _ = store.DBSize(ctx)
	if n != 0 {
		t.Fatalf("Expected empty store after flush, got %d", n)
	}
}

func testSetWithTTL(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:ttl"

	if err := store.Set(ctx, key, []byte("expires"), 100*time.Millisecond); err != nil {
		t.Fatalf("Set with TTL failed: %v", err)
	}
	if _, err := store.Get(ctx, key); err != nil {
		t.Fatalf("Expected key to exist initially, got %v", err)
	}

	time.Sleep(150 * time.Millisecond)

	_, err := store.Get(ctx, key)
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected key to be expired, got %v", err)
	}
}

func testExpire(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:expire"

	store.Set(ctx, key, []byte("test"))

	expired, err := store.Expire(ctx, key, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Expire failed: %v", err)
	}
	if !expired {
		t.Fatalf("Expected Expire to return true for existing key")
	}

	ok, err := store.Expire(ctx, "test:expire-missing", time.Second)
	if err != nil || ok {
		t.Fatalf("Expected Expire on missing key to return false, got %v %v", ok, err)
	}

	time.Sleep(150 * time.Millisecond)

	_, err = store.Get(ctx, key)
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected key to be expired, got %v", err)
	}
}

func testPersist(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:persist"

	store.Set(ctx, key, []byte("keep"), 100*time.Millisecond)
	ok, err := store.Persist(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Expected Persist to clear TTL, got %v %v", ok, err)
	}

	time.Sleep(150 * time.Millisecond)

	got, err := store.GetString(ctx, key)
	if err != nil || got != "keep" {
		t.Fatalf("Expected persisted key to survive, got %q %v", got, err)
	}
	ok, _ = store.Persist(ctx, key)
	if ok {
		t.Fatalf("Expected Persist without TTL to return false")
	}
}

func testTTL(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:ttl-check"
	value := []byte("test")

	_, err := store.TTL(ctx, key)
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for non-existent key, got %v", err)
	}

	store.Set(ctx, key, value)
	ttl, err := store.TTL(ctx, key)
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl != -1 {
		t.Fatalf("Expected -1 for key without TTL, got %v", ttl)
	}

	store.Set(ctx, key, value, 500*time.Millisecond)
	ttl, err = store.TTL(ctx, key)
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > 500*time.Millisecond {
		t.Fatalf("Expected TTL between 0 and 500ms, got %v", ttl)
	}
}

func testIncrBy(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:counter"

	n, err := store.IncrBy(ctx, key, 5)
	if err != nil {
		t.Fatalf("IncrBy failed: %v", err)
	}
	if n != 5 {
		t.Fatalf("Expected 5, got %d", n)
	}
	n, _ = store.IncrBy(ctx, key, 3)
	if n != 8 {
		t.Fatalf("Expected 8, got %d", n)
	}
}

func testDecrBy(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:decr"

	store.SetString(ctx, key, "10")
	n, err := store.DecrBy(ctx, key, 4)
	if err != nil {
		t.Fatalf("DecrBy failed: %v", err)
	}
	if n != 6 {
		t.Fatalf("Expected 6, got %d", n)
	}
}

func testIncrByInvalidValue(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:not-a-number"

	store.SetString(ctx, key, "abc")
	_, err := store.IncrBy(ctx, key, 1)
	if !errors.Is(err, kv.ErrNotInteger) {
		t.Fatalf("Expected ErrNotInteger, got %v", err)
	}
}

func testHSetHGet(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:hash"

	if err := store.HSet(ctx, key, "name", []byte("Arbi")); err != nil {
		t.Fatalf("HSet failed: %v", err)
	}
	got, err := store.HGet(ctx, key, "name")
	if err != nil {
		t.Fatalf("HGet failed: %v", err)
	}
	if string(got) != "Arbi" {
		t.Fatalf("Expected Arbi, got %q", got)
	}
	_, err = store.HGet(ctx, key, "missing")
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for missing field, got %v", err)
	}
}

func testHExists(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:hexists"

	ok, err := store.HExists(ctx, key, "name")
	if err != nil || ok {
		t.Fatalf("Expected false for missing hash, got %v, %v", ok, err)
	}
	store.HSet(ctx, key, "name", []byte("Arbi"))
	if ok, _ := store.HExists(ctx, key, "name"); !ok {
		t.Fatal("Expected field to exist")
	}
	if ok, _ := store.HExists(ctx, key, "age"); ok {
		t.Fatal("Expected missing field to be absent")
	}
}

func testHMSetHGetAll(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:hmset"
	fields := map[string][]byte{
		"name":  []byte("Arbi"),
		"email": []byte("arbi@example.com"),
	}

	if err := store.HMSet(ctx, key, fields); err != nil {
		t.Fatalf("HMSet failed: %v", err)
	}
	all, err := store.HGetAll(ctx, key)
	if err != nil {
		t.Fatalf("HGetAll failed: %v", err)
	}
	if !reflect.DeepEqual(all, fields) {
		t.Fatalf("Expected %v, got %v", fields, all)
	}
	n, _ := store.HLen(ctx, key)
	if n != 2 {
		t.Fatalf("Expected 2 fields, got %d", n)
	}

	empty, err := store.HGetAll(ctx, "test:hmset-missing")
	if err != nil || len(empty) != 0 {
		t.Fatalf("Expected empty map for missing hash, got %v %v", empty, err)
	}
}

func testHDel(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:hdel"

	store.HMSet(ctx, key, map[string][]byte{"a": []byte("1"), "b": []byte("2")})
	n, err := store.HDel(ctx, key, "a", "missing")
	if err != nil {
		t.Fatalf("HDel failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("Expected 1 removed field, got %d", n)
	}
	store.HDel(ctx, key, "b")
	exists, _ := store.Exists(ctx, key)
	if exists != 0 {
		t.Fatalf("Expected hash to disappear once empty")
	}
}

func testSAddIdempotent(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:set"

	added, err := store.SAdd(ctx, key, []byte("Arbi"), []byte("Dwi"))
	if err != nil {
		t.Fatalf("SAdd failed: %v", err)
	}
	if added != 2 {
		t.Fatalf("Expected 2 added, got %d", added)
	}
	added, _ = store.SAdd(ctx, key, []byte("Arbi"))
	if added != 0 {
		t.Fatalf("Expected duplicate add to be a no-op, got %d", added)
	}
	card, _ := store.SCard(ctx, key)
	if card != 2 {
		t.Fatalf("Expected cardinality 2, got %d", card)
	}
	ok, _ := store.SIsMember(ctx, key, []byte("Dwi"))
	if !ok {
		t.Fatalf("Expected Dwi to be a member")
	}
	members, _ := store.SMembers(ctx, key)
	if len(members) != 2 {
		t.Fatalf("Expected 2 members, got %d", len(members))
	}
}

func testSRem(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:srem"

	store.SAdd(ctx, key, []byte("a"), []byte("b"))
	n, err := store.SRem(ctx, key, []byte("a"), []byte("missing"))
	if err != nil {
		t.Fatalf("SRem failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("Expected 1 removed, got %d", n)
	}
	members, _ := store.SMembers(ctx, "test:srem-missing")
	if len(members) != 0 {
		t.Fatalf("Expected no members for missing set")
	}
}

func testListFIFO(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:names"
	names := []string{"Arbi", "Dwi", "Wijaya"}

	for _, name := range names {
		if _, err := store.RPush(ctx, key, []byte(name)); err != nil {
			t.Fatalf("RPush failed: %v", err)
		}
	}
	for _, want := range names {
		got, ok, err := store.LPop(ctx, key)
		if err != nil || !ok {
			t.Fatalf("LPop failed: %v %v", ok, err)
		}
		if string(got) != want {
			t.Fatalf("Expected %s, got %s", want, got)
		}
	}
}

func testLPushOrder(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:lpush"

	n, err := store.LPush(ctx, key, []byte("a"), []byte("b"), []byte("c"))
	if err != nil {
		t.Fatalf("LPush failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("Expected length 3, got %d", n)
	}
	items, _ := store.LRange(ctx, key, 0, -1)
	want := [][]byte{[]byte("c"), []byte("b"), []byte("a")}
	if !reflect.DeepEqual(items, want) {
		t.Fatalf("Expected %q, got %q", want, items)
	}
	last, ok, _ := store.RPop(ctx, key)
	if !ok || string(last) != "a" {
		t.Fatalf("Expected RPop to return a, got %q", last)
	}
}

func testLRangeNegative(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:lrange"

	for _, v := range []string{"0", "1", "2", "3", "4"} {
		store.RPush(ctx, key, []byte(v))
	}
	cases := []struct {
		start, stop int64
		want        []string
	}{
		{0, -1, []string{"0", "1", "2", "3", "4"}},
		{-2, -1, []string{"3", "4"}},
		{1, 2, []string{"1", "2"}},
		{3, 100, []string{"3", "4"}},
		{4, 1, []string{}},
		{-100, 0, []string{"0"}},
	}
	for _, tc := range cases {
		items, err := store.LRange(ctx, key, tc.start, tc.stop)
		if err != nil {
			t.Fatalf("LRange failed: %v", err)
		}
		got := make([]string, 0, len(items))
		for _, b := range items {
			got = append(got, string(b))
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("LRange(%d,%d): expected %v, got %v", tc.start, tc.stop, tc.want, got)
		}
	}
	n, _ := store.LLen(ctx, key)
	if n != 5 {
		t.Fatalf("Expected length 5, got %d", n)
	}
}

func testLIndex(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:lindex"

	if _, ok, err := store.LIndex(ctx, key, 0); err != nil || ok {
		t.Fatalf("Expected empty result for missing list, got %v, %v", ok, err)
	}
	store.RPush(ctx, key, []byte("a"), []byte("b"), []byte("c"))

	cases := []struct {
		index int64
		want  string
		ok    bool
	}{
		{0, "a", true},
		{2, "c", true},
		{-1, "c", true},
		{-3, "a", true},
		{3, "", false},
		{-4, "", false},
	}
	for _, tc := range cases {
		item, ok, err := store.LIndex(ctx, key, tc.index)
		if err != nil {
			t.Fatalf("LIndex(%d) failed: %v", tc.index, err)
		}
		if ok != tc.ok || string(item) != tc.want {
			t.Fatalf("LIndex(%d): expected %q/%v, got %q/%v", tc.index, tc.want, tc.ok, item, ok)
		}
	}
}

func testPopEmpty(t *testing.T, store kv.Store) {
	ctx := context.Background()

	item, ok, err := store.LPop(ctx, "test:empty-list")
	if err != nil {
		t.Fatalf("Expected no error popping empty list, got %v", err)
	}
	if ok || item != nil {
		t.Fatalf("Expected empty result, got %q", item)
	}
}

func testZPopMaxOrder(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:score"

	store.ZAdd(ctx, key, kv.Z{Member: "Arbi", Score: 100})
	store.ZAdd(ctx, key, kv.Z{Member: "Maki", Score: 90})
	store.ZAdd(ctx, key, kv.Z{Member: "Katsuki", Score: 95})

	want := []kv.Z{{Member: "Arbi", Score: 100}, {Member: "Katsuki", Score: 95}, {Member: "Maki", Score: 90}}
	for _, w := range want {
		z, ok, err := store.ZPopMax(ctx, key)
		if err != nil || !ok {
			t.Fatalf("ZPopMax failed: %v %v", ok, err)
		}
		if z != w {
			t.Fatalf("Expected %v, got %v", w, z)
		}
	}
}

func testZPopMaxTies(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:ties"

	store.ZAdd(ctx, key, kv.Z{Member: "a", Score: 1}, kv.Z{Member: "c", Score: 1}, kv.Z{Member: "b", Score: 1})
	var got []string
	for {
		z, ok, err := store.ZPopMax(ctx, key)
		if err != nil {
			t.Fatalf("ZPopMax failed: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, z.Member)
	}
	if !reflect.DeepEqual(got, []string{"c", "b", "a"}) {
		t.Fatalf("Expected ties drained in reverse member order, got %v", got)
	}
}

func testZRangeOrder(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:zrange"

	store.ZAdd(ctx, key,
		kv.Z{Member: "b", Score: 2},
		kv.Z{Member: "a", Score: 2},
		kv.Z{Member: "z", Score: 1},
	)
	all, err := store.ZRange(ctx, key, 0, -1)
	if err != nil {
		t.Fatalf("ZRange failed: %v", err)
	}
	want := []kv.Z{{Member: "z", Score: 1}, {Member: "a", Score: 2}, {Member: "b", Score: 2}}
	if !reflect.DeepEqual(all, want) {
		t.Fatalf("Expected %v, got %v", want, all)
	}
	rev, _ := store.ZRevRange(ctx, key, 0, 0)
	if len(rev) != 1 || rev[0].Member != "b" {
		t.Fatalf("Expected b first in reverse order, got %v", rev)
	}
	n, _ := store.ZCard(ctx, key)
	if n != 3 {
		t.Fatalf("Expected 3 members, got %d", n)
	}
}

func testZUpsert(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:zupsert"

	added, _ := store.ZAdd(ctx, key, kv.Z{Member: "m", Score: 1})
	if added != 1 {
		t.Fatalf("Expected 1 added, got %d", added)
	}
	added, _ = store.ZAdd(ctx, key, kv.Z{Member: "m", Score: 7})
	if added != 0 {
		t.Fatalf("Expected upsert to add nothing, got %d", added)
	}
	score, err := store.ZScore(ctx, key, "m")
	if err != nil || score != 7 {
		t.Fatalf("Expected last score 7, got %v %v", score, err)
	}
	score, _ = store.ZIncrBy(ctx, key, 2.5, "m")
	if score != 9.5 {
		t.Fatalf("Expected 9.5, got %v", score)
	}
	removed, _ := store.ZRem(ctx, key, "m")
	if removed != 1 {
		t.Fatalf("Expected 1 removed, got %d", removed)
	}
	_, err = store.ZScore(ctx, key, "m")
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func testZPopEmpty(t *testing.T, store kv.Store) {
	ctx := context.Background()
	z, ok, err := store.ZPopMax(ctx, "test:zempty")
	if err != nil || ok || z != (kv.Z{}) {
		t.Fatalf("Expected empty result, got %v %v %v", z, ok, err)
	}
}

func testGeo(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:sellers"

	added, err := store.GeoAdd(ctx, key,
		kv.GeoLocation{Name: "Toko A", Longitude: 106.822695, Latitude: -6.177456},
		kv.GeoLocation{Name: "Toko B", Longitude: 106.821016, Latitude: -6.174598},
	)
	if err != nil {
		t.Fatalf("GeoAdd failed: %v", err)
	}
	if added != 2 {
		t.Fatalf("Expected 2 added, got %d", added)
	}

	dist, err := store.GeoDist(ctx, key, "Toko A", "Toko B", kv.Kilometers)
	if err != nil {
		t.Fatalf("GeoDist failed: %v", err)
	}
	if dist != 0.3682 {
		t.Fatalf("Expected 0.3682 km, got %v", dist)
	}

	pos, err := store.GeoPos(ctx, key, "Toko A")
	if err != nil {
		t.Fatalf("GeoPos failed: %v", err)
	}
	if math.Abs(pos.Longitude-106.822695) > 1e-5 || math.Abs(pos.Latitude-(-6.177456)) > 1e-5 {
		t.Fatalf("Unexpected position %v", pos)
	}

	found, err := store.GeoSearch(ctx, key, kv.GeoSearchQuery{
		Longitude: 106.821922,
		Latitude:  -6.175491,
		Radius:    5,
		Unit:      kv.Kilometers,
	})
	if err != nil {
		t.Fatalf("GeoSearch failed: %v", err)
	}
	if len(found) != 2 || found[0].Name != "Toko A" || found[1].Name != "Toko B" {
		t.Fatalf("Expected Toko A then Toko B, got %v", found)
	}

	nearest, _ := store.GeoSearch(ctx, key, kv.GeoSearchQuery{
		Longitude: 106.821922,
		Latitude:  -6.175491,
		Radius:    5,
		Unit:      kv.Kilometers,
		Sort:      kv.GeoSortAsc,
		Count:     1,
	})
	if len(nearest) != 1 || nearest[0].Name != "Toko B" {
		t.Fatalf("Expected Toko B to be nearest, got %v", nearest)
	}

	_, err = store.GeoPos(ctx, key, "Toko Z")
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for unknown member, got %v", err)
	}
}

func testHyperLogLog(t *testing.T, store kv.Store) {
	ctx := context.Background()

	changed, err := store.PFAdd(ctx, "test:visitors:1", "arbi", "dwi", "wijaya")
	if err != nil || !changed {
		t.Fatalf("PFAdd failed: %v %v", changed, err)
	}
	changed, _ = store.PFAdd(ctx, "test:visitors:1", "arbi")
	if changed {
		t.Fatalf("Expected re-adding a seen element to leave the sketch unchanged")
	}
	store.PFAdd(ctx, "test:visitors:2", "arbi", "budi")

	n, err := store.PFCount(ctx, "test:visitors:1")
	if err != nil || n != 3 {
		t.Fatalf("Expected count 3, got %d %v", n, err)
	}
	n, _ = store.PFCount(ctx, "test:visitors:1", "test:visitors:2")
	if n != 4 {
		t.Fatalf("Expected union count 4, got %d", n)
	}
	if err := store.PFMerge(ctx, "test:visitors:all", "test:visitors:1", "test:visitors:2"); err != nil {
		t.Fatalf("PFMerge failed: %v", err)
	}
	n, _ = store.PFCount(ctx, "test:visitors:all")
	if n != 4 {
		t.Fatalf("Expected merged count 4, got %d", n)
	}
}

func appendRecords(t *testing.T, store kv.Store, key string, n int) []kv.StreamID {
	t.Helper()
	ctx := context.Background()
	ids := make([]kv.StreamID, 0, n)
	for i := 0; i < n; i++ {
		id, err := store.XAdd(ctx, key, []kv.Field{
			{Name: "id", Value: fmt.Sprint(i)},
			{Name: "name", Value: "Product " + fmt.Sprint(i)},
		})
		if err != nil {
			t.Fatalf("XAdd failed: %v", err)
		}
		if len(ids) > 0 && id.Compare(ids[len(ids)-1]) <= 0 {
			t.Fatalf("Stream id %s is not greater than %s", id, ids[len(ids)-1])
		}
		ids = append(ids, id)
	}
	return ids
}

func testStreamReadGroup(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:stream-1"

	ids := appendRecords(t, store, key, 10)
	if err := store.XGroupCreate(ctx, key, "group-1", "0"); err != nil {
		t.Fatalf("XGroupCreate failed: %v", err)
	}

	records, err := store.XReadGroup(ctx, kv.XReadGroupArgs{
		Stream: key, Group: "group-1", Consumer: "consumer-1", From: kv.LastConsumed,
	})
	if err != nil {
		t.Fatalf("XReadGroup failed: %v", err)
	}
	if len(records) != 10 {
		t.Fatalf("Expected 10 records, got %d", len(records))
	}
	for i, r := range records {
		if r.ID != ids[i] {
			t.Fatalf("Record %d: expected id %s, got %s", i, ids[i], r.ID)
		}
	}

	again, err := store.XReadGroup(ctx, kv.XReadGroupArgs{
		Stream: key, Group: "group-1", Consumer: "consumer-1", From: kv.LastConsumed,
	})
	if err != nil {
		t.Fatalf("XReadGroup failed: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("Expected no new records, got %d", len(again))
	}

	n, _ := store.XLen(ctx, key)
	if n != 10 {
		t.Fatalf("Expected 10 records in stream, got %d", n)
	}
}

func testStreamGroupExists(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:stream-groups"

	appendRecords(t, store, key, 3)
	if err := store.XGroupCreate(ctx, key, "g", "0"); err != nil {
		t.Fatalf("XGroupCreate failed: %v", err)
	}
	first, _ := store.XReadGroup(ctx, kv.XReadGroupArgs{
		Stream: key, Group: "g", Consumer: "c", From: kv.LastConsumed, Count: 2,
	})
	if len(first) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(first))
	}

	err := store.XGroupCreate(ctx, key, "g", "0")
	if !errors.Is(err, kv.ErrGroupExists) {
		t.Fatalf("Expected ErrGroupExists, got %v", err)
	}

	rest, _ := store.XReadGroup(ctx, kv.XReadGroupArgs{
		Stream: key, Group: "g", Consumer: "c", From: kv.LastConsumed,
	})
	if len(rest) != 1 {
		t.Fatalf("Expected cursor to survive duplicate create, got %d records", len(rest))
	}
}

func testStreamReplayDoesNotRewind(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:stream-replay"

	ids := appendRecords(t, store, key, 4)
	if err := store.XGroupCreate(ctx, key, "g", "0"); err != nil {
		t.Fatalf("XGroupCreate failed: %v", err)
	}
	all, err := store.XReadGroup(ctx, kv.XReadGroupArgs{
		Stream: key, Group: "g", Consumer: "c", From: kv.LastConsumed,
	})
	if err != nil || len(all) != 4 {
		t.Fatalf("Expected 4 records, got %d (%v)", len(all), err)
	}

	replayed, err := store.XReadGroup(ctx, kv.XReadGroupArgs{
		Stream: key, Group: "g", Consumer: "c", From: ids[1].String(),
	})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(replayed) != 2 || replayed[0].ID != ids[2] {
		t.Fatalf("Expected records after %s, got %d", ids[1], len(replayed))
	}

	rest, _ := store.XReadGroup(ctx, kv.XReadGroupArgs{
		Stream: key, Group: "g", Consumer: "c", From: kv.LastConsumed,
	})
	if len(rest) != 0 {
		t.Fatalf("Expected replay to leave the cursor in place, got %d records", len(rest))
	}

	next := appendRecords(t, store, key, 1)
	fresh, _ := store.XReadGroup(ctx, kv.XReadGroupArgs{
		Stream: key, Group: "g", Consumer: "c", From: kv.LastConsumed,
	})
	if len(fresh) != 1 || fresh[0].ID != next[0] {
		t.Fatalf("Expected only the new record, got %d", len(fresh))
	}
}

func testStreamNoGroup(t *testing.T, store kv.Store) {
	ctx := context.Background()

	_, err := store.XReadGroup(ctx, kv.XReadGroupArgs{
		Stream: "test:stream-none", Group: "g", Consumer: "c", From: kv.LastConsumed,
	})
	if !errors.Is(err, kv.ErrNoGroup) {
		t.Fatalf("Expected ErrNoGroup for missing stream, got %v", err)
	}

	appendRecords(t, store, "test:stream-nogroup", 1)
	_, err = store.XReadGroup(ctx, kv.XReadGroupArgs{
		Stream: "test:stream-nogroup", Group: "g", Consumer: "c", From: kv.LastConsumed,
	})
	if !errors.Is(err, kv.ErrNoGroup) {
		t.Fatalf("Expected ErrNoGroup for missing group, got %v", err)
	}

	if err := store.XGroupCreate(ctx, "test:stream-mk", "g", "$"); err != nil {
		t.Fatalf("Expected XGroupCreate to create the stream, got %v", err)
	}
	records, err := store.XReadGroup(ctx, kv.XReadGroupArgs{
		Stream: "test:stream-mk", Group: "g", Consumer: "c", From: kv.LastConsumed,
	})
	if err != nil || len(records) != 0 {
		t.Fatalf("Expected empty read from fresh stream, got %v %v", records, err)
	}
}

func testStreamRange(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:stream-range"

	ids := appendRecords(t, store, key, 5)
	all, err := store.XRange(ctx, key, "-", "+", 0)
	if err != nil {
		t.Fatalf("XRange failed: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("Expected 5 records, got %d", len(all))
	}
	if v, _ := all[2].Value("name"); v != "Product 2" {
		t.Fatalf("Expected Product 2, got %q", v)
	}

	mid, _ := store.XRange(ctx, key, ids[1].String(), ids[3].String(), 0)
	if len(mid) != 3 || mid[0].ID != ids[1] || mid[2].ID != ids[3] {
		t.Fatalf("Expected records 1..3, got %v", mid)
	}
	limited, _ := store.XRange(ctx, key, "-", "+", 2)
	if len(limited) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(limited))
	}
}

func testStreamCountLimit(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:stream-count"

	ids := appendRecords(t, store, key, 4)
	store.XGroupCreate(ctx, key, "g", "0")

	var seen []kv.StreamID
	for {
		batch, err := store.XReadGroup(ctx, kv.XReadGroupArgs{
			Stream: key, Group: "g", Consumer: "c", From: kv.LastConsumed, Count: 3,
		})
		if err != nil {
			t.Fatalf("XReadGroup failed: %v", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, r := range batch {
			seen = append(seen, r.ID)
		}
	}
	if !reflect.DeepEqual(seen, ids) {
		t.Fatalf("Expected %v, got %v", ids, seen)
	}
}

func testWrongType(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:wrongtype"

	store.RPush(ctx, key, []byte("x"))

	if _, err := store.Get(ctx, key); !errors.Is(err, kv.ErrWrongType) {
		t.Fatalf("Get: expected ErrWrongType, got %v", err)
	}
	if _, err := store.SAdd(ctx, key, []byte("x")); !errors.Is(err, kv.ErrWrongType) {
		t.Fatalf("SAdd: expected ErrWrongType, got %v", err)
	}
	if _, err := store.ZAdd(ctx, key, kv.Z{Member: "x", Score: 1}); !errors.Is(err, kv.ErrWrongType) {
		t.Fatalf("ZAdd: expected ErrWrongType, got %v", err)
	}
	if err := store.HSet(ctx, key, "f", []byte("x")); !errors.Is(err, kv.ErrWrongType) {
		t.Fatalf("HSet: expected ErrWrongType, got %v", err)
	}
	if _, err := store.XAdd(ctx, key, []kv.Field{{Name: "f", Value: "x"}}); !errors.Is(err, kv.ErrWrongType) {
		t.Fatalf("XAdd: expected ErrWrongType, got %v", err)
	}
	n, _ := store.LLen(ctx, key)
	if n != 1 {
		t.Fatalf("Expected list untouched by failed commands, got length %d", n)
	}
}

func testTxCommit(t *testing.T, store kv.Store) {
	ctx := context.Background()

	tx := store.Tx()
	if err := tx.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := tx.Set("test:tx1", []byte("Arbi"), 0); err != nil {
		t.Fatalf("staging failed: %v", err)
	}
	if err := tx.Set("test:tx2", []byte("Kalista"), 0); err != nil {
		t.Fatalf("staging failed: %v", err)
	}

	// staged commands are invisible until commit
	if _, err := store.Get(ctx, "test:tx1"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected staged write to be invisible, got %v", err)
	}

	results, err := tx.Exec(ctx)
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if tx.State() != kv.TxCommitted {
		t.Fatalf("Expected committed state, got %s", tx.State())
	}

	v1, _ := store.GetString(ctx, "test:tx1")
	v2, _ := store.GetString(ctx, "test:tx2")
	if v1 != "Arbi" || v2 != "Kalista" {
		t.Fatalf("Expected both values, got %q %q", v1, v2)
	}

	if _, err := tx.Exec(ctx); !errors.Is(err, kv.ErrInvalidState) {
		t.Fatalf("Expected ErrInvalidState on reuse, got %v", err)
	}
}

func testTxDiscard(t *testing.T, store kv.Store) {
	ctx := context.Background()

	tx := store.Tx()
	tx.Begin()
	tx.Set("test:discard", []byte("x"), 0)
	if err := tx.Discard(); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
	if tx.State() != kv.TxAborted {
		t.Fatalf("Expected aborted state, got %s", tx.State())
	}
	if _, err := store.Get(ctx, "test:discard"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected discarded write to be absent, got %v", err)
	}
}

func testTxNestedBegin(t *testing.T, store kv.Store) {
	tx := store.Tx()
	if err := tx.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := tx.Begin(); !errors.Is(err, kv.ErrInvalidState) {
		t.Fatalf("Expected ErrInvalidState for nested begin, got %v", err)
	}
	if err := store.Tx().Set("test:idle", []byte("x"), 0); !errors.Is(err, kv.ErrInvalidState) {
		t.Fatalf("Expected ErrInvalidState staging on idle tx, got %v", err)
	}
	tx.Discard()
}

func testTxAbortOnError(t *testing.T, store kv.Store) {
	ctx := context.Background()
	store.RPush(ctx, "test:tx-list", []byte("x"))

	tx := store.Tx()
	tx.Begin()
	tx.Set("test:tx-partial", []byte("x"), 0)
	tx.SAdd("test:tx-list", []byte("y"))

	if _, err := tx.Exec(ctx); !errors.Is(err, kv.ErrWrongType) {
		t.Fatalf("Expected ErrWrongType, got %v", err)
	}
	if tx.State() != kv.TxAborted {
		t.Fatalf("Expected aborted state, got %s", tx.State())
	}
	if _, err := store.Get(ctx, "test:tx-partial"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected no partial commit, got %v", err)
	}
}

func testTxWatchConflict(t *testing.T, store kv.Store) {
	ctx := context.Background()
	store.SetString(ctx, "test:watched", "1")

	tx := store.Tx()
	if err := tx.Watch(ctx, "test:watched"); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	tx.Begin()
	tx.IncrBy("test:watched", 1)

	// concurrent writer sneaks in
	store.SetString(ctx, "test:watched", "10")

	if _, err := tx.Exec(ctx); !errors.Is(err, kv.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}
	got, _ := store.GetString(ctx, "test:watched")
	if got != "10" {
		t.Fatalf("Expected conflicting tx to leave value alone, got %q", got)
	}
}

func testTxAtomicity(t *testing.T, store kv.Store) {
	ctx := context.Background()
	const rounds = 50

	var wg sync.WaitGroup
	stop := make(chan struct{})
	violations := make(chan string, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			vals, err := store.MGet(ctx, "test:atomic:a", "test:atomic:b")
			if err != nil {
				continue
			}
			if string(vals[0]) != string(vals[1]) {
				select {
				case violations <- fmt.Sprintf("observed %q and %q", vals[0], vals[1]):
				default:
				}
				return
			}
		}
	}()

	for i := 0; i < rounds; i++ {
		tx := store.Tx()
		tx.Begin()
		v := []byte(fmt.Sprint(i))
		tx.Set("test:atomic:a", v, 0)
		tx.Set("test:atomic:b", v, 0)
		if _, err := tx.Exec(ctx); err != nil {
			t.Fatalf("Exec failed: %v", err)
		}
	}
	close(stop)
	wg.Wait()

	select {
	case msg := <-violations:
		t.Fatalf("Partial transaction visible: %s", msg)
	default:
	}
}

func testPipeline(t *testing.T, store kv.Store) {
	ctx := context.Background()
	store.RPush(ctx, "test:pipe-list", []byte("x"))

	p := store.Pipeline()
	p.Set("test:pipe", []byte("1"), 0)
	p.IncrBy("test:pipe", 4)
	p.SAdd("test:pipe-list", []byte("y"))
	p.Get("test:pipe")
	p.Get("test:pipe-missing")

	results, err := p.Exec(ctx)
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("Expected 5 results, got %d", len(results))
	}
	if results[1].Val != int64(5) {
		t.Fatalf("Expected incr result 5, got %v", results[1].Val)
	}
	if !errors.Is(results[2].Err, kv.ErrWrongType) {
		t.Fatalf("Expected ErrWrongType for sadd on list, got %v", results[2].Err)
	}
	if b, _ := results[3].Val.([]byte); string(b) != "5" {
		t.Fatalf("Expected get to see 5, got %v", results[3].Val)
	}
	if results[4].Val != nil || results[4].Err != nil {
		t.Fatalf("Expected nil result for missing key, got %v %v", results[4].Val, results[4].Err)
	}
	if p.Len() != 0 {
		t.Fatalf("Expected pipeline to be drained after Exec")
	}
}

func testPubSub(t *testing.T, store kv.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := store.Subscribe(ctx, "test:news")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	// give remote backends time to register the subscription
	deadline := time.Now().Add(2 * time.Second)
	var n int64
	for time.Now().Before(deadline) {
		n, err = store.Publish(ctx, "test:news", []byte("hello"))
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		if n > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if n != 1 {
		t.Fatalf("Expected 1 receiver, got %d", n)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Channel != "test:news" || string(msg.Payload) != "hello" {
			t.Fatalf("Unexpected message %v", msg)
		}
	case <-ctx.Done():
		t.Fatalf("Timed out waiting for message")
	}
}

func testMSetMGet(t *testing.T, store kv.Store) {
	ctx := context.Background()

	err := store.MSet(ctx, map[string][]byte{
		"test:m1": []byte("1"),
		"test:m2": []byte("2"),
	})
	if err != nil {
		t.Fatalf("MSet failed: %v", err)
	}
	vals, err := store.MGet(ctx, "test:m1", "test:missing", "test:m2")
	if err != nil {
		t.Fatalf("MGet failed: %v", err)
	}
	want := [][]byte{[]byte("1"), nil, []byte("2")}
	if !reflect.DeepEqual(vals, want) {
		t.Fatalf("Expected %q, got %q", want, vals)
	}
}

func testPing(t *testing.T, store kv.Store) {
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}
