package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/arbi/kvengine/internal/product"
	"github.com/arbi/kvengine/pkg/cache"
	"github.com/arbi/kvengine/pkg/kv"
)

// demo runs the tutorial walkthrough against one store. Every key is
// namespaced with prefix so a shared Redis is left clean.
type demo struct {
	store  kv.Store
	logger *zap.SugaredLogger
	prefix string
	ttl    time.Duration
}

type scenario struct {
	name string
	run  func(d *demo, ctx context.Context) error
}

var scenarios = []scenario{
	{"string", (*demo).stringTTL},
	{"list", (*demo).list},
	{"set", (*demo).set},
	{"zset", (*demo).zset},
	{"hash", (*demo).hash},
	{"geo", (*demo).geo},
	{"hyperloglog", (*demo).hyperLogLog},
	{"transaction", (*demo).transaction},
	{"pipeline", (*demo).pipeline},
	{"stream", (*demo).stream},
	{"pubsub", (*demo).pubSub},
	{"repository", (*demo).repository},
	{"cache", (*demo).cache},
}

func (d *demo) key(name string) string {
	return d.prefix + name
}

func expect(what string, got, want any) error {
	if fmt.Sprint(got) != fmt.Sprint(want) {
		return fmt.Errorf("%s: got %v, want %v", what, got, want)
	}
	return nil
}

func (d *demo) cleanup(ctx context.Context) error {
	keys, err := d.store.Keys(ctx, d.prefix+"*")
	if err != nil || len(keys) == 0 {
		return err
	}
	_, err = d.store.Del(ctx, keys...)
	return err
}

func (d *demo) stringTTL(ctx context.Context) error {
	key := d.key("name")
	if err := d.store.SetString(ctx, key, "Arbi", d.ttl); err != nil {
		return err
	}
	got, err := d.store.GetString(ctx, key)
	if err != nil {
		return err
	}
	if err := expect("value", got, "Arbi"); err != nil {
		return err
	}

	time.Sleep(d.ttl + d.ttl/2)
	if _, err := d.store.GetString(ctx, key); !errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("expected %s to expire, got %v", key, err)
	}
	return nil
}

func (d *demo) list(ctx context.Context) error {
	key := d.key("names")
	if _, err := d.store.RPush(ctx, key, []byte("Arbi"), []byte("Dwi"), []byte("Wijaya")); err != nil {
		return err
	}
	for _, want := range []string{"Arbi", "Dwi", "Wijaya"} {
		v, ok, err := d.store.LPop(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("list drained early, want %s", want)
		}
		if err := expect("lpop", string(v), want); err != nil {
			return err
		}
	}
	if _, ok, err := d.store.LPop(ctx, key); err != nil || ok {
		return fmt.Errorf("expected empty list, ok=%v err=%v", ok, err)
	}
	return nil
}

func (d *demo) set(ctx context.Context) error {
	key := d.key("students")
	for _, name := range []string{"Arbi", "Arbi", "Dwi", "Dwi", "Wijaya", "Wijaya"} {
		if _, err := d.store.SAdd(ctx, key, []byte(name)); err != nil {
			return err
		}
	}
	members, err := d.store.SMembers(ctx, key)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, string(m))
	}
	sort.Strings(names)
	return expect("members", strings.Join(names, ","), "Arbi,Dwi,Wijaya")
}

func (d *demo) zset(ctx context.Context) error {
	key := d.key("score")
	if _, err := d.store.ZAdd(ctx, key,
		kv.Z{Member: "Arbi", Score: 100},
		kv.Z{Member: "Maki", Score: 90},
		kv.Z{Member: "Katsuki", Score: 95},
	); err != nil {
		return err
	}
	for _, want := range []string{"Arbi", "Katsuki", "Maki"} {
		z, ok, err := d.store.ZPopMax(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("zset drained early, want %s", want)
		}
		if err := expect("zpopmax", z.Member, want); err != nil {
			return err
		}
	}
	return nil
}

func (d *demo) hash(ctx context.Context) error {
	key := d.key("user:1")
	if err := d.store.HMSet(ctx, key, map[string][]byte{
		"id":    []byte("1"),
		"name":  []byte("Arbi"),
		"email": []byte("arbi@example.com"),
	}); err != nil {
		return err
	}
	for field, want := range map[string]string{"id": "1", "name": "Arbi", "email": "arbi@example.com"} {
		v, err := d.store.HGet(ctx, key, field)
		if err != nil {
			return err
		}
		if err := expect(field, string(v), want); err != nil {
			return err
		}
	}
	_, err := d.store.Del(ctx, key)
	return err
}

func (d *demo) geo(ctx context.Context) error {
	key := d.key("sellers")
	if _, err := d.store.GeoAdd(ctx, key,
		kv.GeoLocation{Name: "Toko A", Longitude: 106.822695, Latitude: -6.177456},
		kv.GeoLocation{Name: "Toko B", Longitude: 106.821016, Latitude: -6.174598},
	); err != nil {
		return err
	}

	dist, err := d.store.GeoDist(ctx, key, "Toko A", "Toko B", kv.Kilometers)
	if err != nil {
		return err
	}
	if err := expect("distance", math.Round(dist*10000)/10000, 0.3682); err != nil {
		return err
	}

	found, err := d.store.GeoSearch(ctx, key, kv.GeoSearchQuery{
		Longitude: 106.821922,
		Latitude:  -6.175491,
		Radius:    5,
		Unit:      kv.Kilometers,
	})
	if err != nil {
		return err
	}
	// unsorted results come back in geohash order
	names := make([]string, 0, len(found))
	for _, loc := range found {
		names = append(names, loc.Name)
	}
	return expect("search", strings.Join(names, ","), "Toko A,Toko B")
}

func (d *demo) hyperLogLog(ctx context.Context) error {
	key := d.key("traffics")
	for _, batch := range [][]string{
		{"arbi", "dwi", "wijaya"},
		{"arbi", "katsuki", "maki"},
		{"katsuki", "maki", "kalista"},
	} {
		if _, err := d.store.PFAdd(ctx, key, batch...); err != nil {
			return err
		}
	}
	n, err := d.store.PFCount(ctx, key)
	if err != nil {
		return err
	}
	return expect("cardinality", n, 6)
}

func (d *demo) transaction(ctx context.Context) error {
	tx := d.store.Tx()
	if err := tx.Begin(); err != nil {
		return err
	}
	if err := tx.Set(d.key("test1"), []byte("Arbi"), d.ttl); err != nil {
		return err
	}
	if err := tx.Set(d.key("test2"), []byte("Kalista"), d.ttl); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx); err != nil {
		return err
	}

	values, err := d.store.MGet(ctx, d.key("test1"), d.key("test2"))
	if err != nil {
		return err
	}
	return expect("values", fmt.Sprintf("%s,%s", values[0], values[1]), "Arbi,Kalista")
}

func (d *demo) pipeline(ctx context.Context) error {
	p := d.store.Pipeline()
	for i, name := range []string{"Arbi", "Katsuki", "Maki", "Kalista"} {
		if err := p.Set(d.key("test"+strconv.Itoa(i+1)), []byte(name), d.ttl); err != nil {
			return err
		}
	}
	results, err := p.Exec(ctx)
	if err != nil {
		return err
	}
	if err := expect("results", len(results), 4); err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
		if ok, _ := r.Val.(bool); !ok {
			return fmt.Errorf("pipeline %s returned %v", r.Op, r.Val)
		}
	}
	return nil
}

func (d *demo) stream(ctx context.Context) error {
	key := d.key("stream-1")
	fields := []kv.Field{{Name: "name", Value: "Arbi Dwi Wijaya"}, {Name: "address", Value: "Indonesia"}}
	for i := 0; i < 10; i++ {
		if _, err := d.store.XAdd(ctx, key, fields); err != nil {
			return err
		}
	}

	if err := d.store.XGroupCreate(ctx, key, "sample-group", "0"); err != nil && !errors.Is(err, kv.ErrGroupExists) {
		return err
	}
	records, err := d.store.XReadGroup(ctx, kv.XReadGroupArgs{
		Stream:   key,
		Group:    "sample-group",
		Consumer: "sample-1",
		From:     kv.LastConsumed,
	})
	if err != nil {
		return err
	}
	for _, r := range records {
		d.logger.Debugw("Stream record", "id", r.ID.String(), "fields", r.Fields)
	}
	if err := expect("records", len(records), 10); err != nil {
		return err
	}

	again, err := d.store.XReadGroup(ctx, kv.XReadGroupArgs{
		Stream:   key,
		Group:    "sample-group",
		Consumer: "sample-1",
		From:     kv.LastConsumed,
	})
	if err != nil {
		return err
	}
	return expect("redelivered", len(again), 0)
}

func (d *demo) pubSub(ctx context.Context) error {
	channel := d.key("my-channel")
	sub, err := d.store.Subscribe(ctx, channel)
	if err != nil {
		return err
	}
	defer sub.Close()

	const n = 10
	for i := 0; i < n; i++ {
		if _, err := d.store.Publish(ctx, channel, []byte("Hello World : "+strconv.Itoa(i))); err != nil {
			return err
		}
	}

	timeout := time.After(5 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case msg := <-sub.Channel():
			if err := expect("message", string(msg.Payload), "Hello World : "+strconv.Itoa(i)); err != nil {
				return err
			}
			d.logger.Debugw("Receive message", "channel", msg.Channel, "payload", string(msg.Payload))
		case <-timeout:
			return fmt.Errorf("received %d of %d messages", i, n)
		}
	}
	return nil
}

func (d *demo) repository(ctx context.Context) error {
	repo := product.NewRepository(d.store, d.logger)
	p := product.Product{ID: d.prefix + "1", Name: "Mie Ayam Jakarta", Price: decimal.NewFromInt(20_000)}
	if err := repo.Save(ctx, p); err != nil {
		return err
	}
	found, err := repo.FindByID(ctx, p.ID)
	if err != nil {
		return err
	}
	if err := expect("product", found.Name+" "+found.Price.String(), "Mie Ayam Jakarta 20000"); err != nil {
		return err
	}

	p.TTL = d.ttl
	if err := repo.Save(ctx, p); err != nil {
		return err
	}
	time.Sleep(d.ttl + d.ttl/2)
	if _, err := repo.FindByID(ctx, p.ID); !errors.Is(err, product.ErrNotFound) {
		return fmt.Errorf("expected product to expire, got %v", err)
	}

	// drop the index entry the expired hash left behind
	_, err = repo.Delete(ctx, p.ID)
	return err
}

func (d *demo) cache(ctx context.Context) error {
	scores := cache.New[string, int](d.store, d.key("scores"))
	want := map[string]int{"Arbi": 100, "Katsuki": 95, "Maki": 90}
	for name, score := range want {
		if err := scores.Put(ctx, name, score); err != nil {
			return err
		}
	}
	for name, score := range want {
		got, err := scores.Get(ctx, name)
		if err != nil {
			return err
		}
		if err := expect(name, got, score); err != nil {
			return err
		}
	}
	for name := range want {
		if err := scores.Evict(ctx, name); err != nil {
			return err
		}
		if _, err := scores.Get(ctx, name); !errors.Is(err, cache.ErrCacheMiss) {
			return fmt.Errorf("expected %s evicted, got %v", name, err)
		}
	}
	return nil
}
