package kv_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/arbi/kvengine/pkg/kv"

	// Import backends to register them
	_ "github.com/arbi/kvengine/pkg/kv/memory"
	_ "github.com/arbi/kvengine/pkg/kv/redis"
)

// A Redis that cannot be reached at startup degrades to the embedded engine.
// Order appends keep working and the primary is promoted once it answers.
func ExampleNewStoreFromConfig_failover() {
	store, err := kv.NewStoreFromConfig(kv.Config{
		Backend:             kv.BackendRedis,
		RedisURL:            "redis://127.0.0.1:1/0",
		FailoverEnabled:     true,
		ProbeInterval:       2 * time.Second,
		StartupProbeTimeout: 200 * time.Millisecond,
		Logger: func(msg string, fields ...any) {
			log.Println(append([]any{msg}, fields...)...)
		},
	})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		id, err := store.XAdd(ctx, "orders", []kv.Field{
			{Name: "id", Value: fmt.Sprintf("order-%d", i)},
			{Name: "amount", Value: "1000"},
		})
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println("appended", id)
	}

	if fs, ok := store.(interface{ GetActiveBackend() string }); ok {
		fmt.Println("active backend:", fs.GetActiveBackend())
	}
}
