package kv_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/arbi/kvengine/pkg/kv"

	// Import backends to register them
	_ "github.com/arbi/kvengine/pkg/kv/memory"
	_ "github.com/arbi/kvengine/pkg/kv/redis"
)

func newMemoryStore() kv.Store {
	store, err := kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendMemory})
	if err != nil {
		log.Fatal(err)
	}
	return store
}

func ExampleNewStoreFromConfig_memory() {
	cfg := kv.Config{
		Backend:         kv.BackendMemory,
		JanitorInterval: 30 * time.Second,
	}

	store, err := kv.NewStoreFromConfig(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()

	if err := store.SetString(ctx, "name", "Arbi", 2*time.Second); err != nil {
		log.Fatal(err)
	}

	value, err := store.GetString(ctx, "name")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(value)
	// Output: Arbi
}

func ExampleStore_list() {
	store := newMemoryStore()
	defer store.Close()
	ctx := context.Background()

	queueKey := "jobs:queue"
	length, err := store.RPush(ctx, queueKey, []byte("job1"), []byte("job2"), []byte("job3"))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Queue length: %d\n", length)

	for {
		job, ok, err := store.LPop(ctx, queueKey)
		if err != nil {
			log.Fatal(err)
		}
		if !ok {
			fmt.Println("Queue is empty")
			break
		}
		fmt.Printf("Processing job: %s\n", job)
	}
	// Output:
	// Queue length: 3
	// Processing job: job1
	// Processing job: job2
	// Processing job: job3
	// Queue is empty
}

func ExampleStore_sortedSet() {
	store := newMemoryStore()
	defer store.Close()
	ctx := context.Background()

	_, err := store.ZAdd(ctx, "orders:priority",
		kv.Z{Member: "standard", Score: 1},
		kv.Z{Member: "express", Score: 3},
		kv.Z{Member: "same-day", Score: 5},
	)
	if err != nil {
		log.Fatal(err)
	}

	for {
		z, ok, err := store.ZPopMax(ctx, "orders:priority")
		if err != nil {
			log.Fatal(err)
		}
		if !ok {
			break
		}
		fmt.Printf("%s (%.0f)\n", z.Member, z.Score)
	}
	// Output:
	// same-day (5)
	// express (3)
	// standard (1)
}

func ExampleStore_geo() {
	store := newMemoryStore()
	defer store.Close()
	ctx := context.Background()

	_, err := store.GeoAdd(ctx, "stores",
		kv.GeoLocation{Name: "Toko A", Longitude: 106.822695, Latitude: -6.177456},
		kv.GeoLocation{Name: "Toko B", Longitude: 106.821016, Latitude: -6.174598},
	)
	if err != nil {
		log.Fatal(err)
	}

	dist, err := store.GeoDist(ctx, "stores", "Toko A", "Toko B", kv.Kilometers)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Distance: %.4f km\n", dist)

	nearby, err := store.GeoSearch(ctx, "stores", kv.GeoSearchQuery{
		Longitude: 106.821922,
		Latitude:  -6.175491,
		Radius:    5,
		Unit:      kv.Kilometers,
		Sort:      kv.GeoSortAsc,
	})
	if err != nil {
		log.Fatal(err)
	}
	for _, loc := range nearby {
		fmt.Println(loc.Name)
	}
	// Output:
	// Distance: 0.3682 km
	// Toko B
	// Toko A
}

func ExampleStore_stream() {
	store := newMemoryStore()
	defer store.Close()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := store.XAdd(ctx, "orders", []kv.Field{{Name: "order_id", Value: fmt.Sprint(i)}})
		if err != nil {
			log.Fatal(err)
		}
	}

	err := store.XGroupCreate(ctx, "orders", "billing", "0")
	if err != nil && !errors.Is(err, kv.ErrGroupExists) {
		log.Fatal(err)
	}

	records, err := store.XReadGroup(ctx, kv.XReadGroupArgs{
		Stream:   "orders",
		Group:    "billing",
		Consumer: "worker-1",
		From:     kv.LastConsumed,
	})
	if err != nil {
		log.Fatal(err)
	}
	for _, r := range records {
		id, _ := r.Value("order_id")
		fmt.Println("order", id)
	}
	// Output:
	// order 1
	// order 2
	// order 3
}

func ExampleTx() {
	store := newMemoryStore()
	defer store.Close()
	ctx := context.Background()

	tx := store.Tx()
	if err := tx.Begin(); err != nil {
		log.Fatal(err)
	}
	tx.Set("x", []byte("1"), 0)
	tx.Set("y", []byte("2"), 0)
	if _, err := tx.Exec(ctx); err != nil {
		log.Fatal(err)
	}

	values, err := store.MGet(ctx, "x", "y")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("x=%s y=%s\n", values[0], values[1])
	// Output: x=1 y=2
}

func ExampleStore_hyperLogLog() {
	store := newMemoryStore()
	defer store.Close()
	ctx := context.Background()

	store.PFAdd(ctx, "visitors:mon", "alice", "bob")
	store.PFAdd(ctx, "visitors:tue", "bob", "carol")

	n, err := store.PFCount(ctx, "visitors:mon", "visitors:tue")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("unique visitors:", n)
	// Output: unique visitors: 3
}
