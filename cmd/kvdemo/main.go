package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/arbi/kvengine/internal/config"
	"github.com/arbi/kvengine/internal/log"
	"github.com/arbi/kvengine/pkg/kv"
	_ "github.com/arbi/kvengine/pkg/kv/memory"
	_ "github.com/arbi/kvengine/pkg/kv/redis"
)

func main() {
	only := flag.String("only", "", "run a single scenario by name")
	prefix := flag.String("prefix", "kvdemo:", "key prefix used by every scenario")
	ttl := flag.Duration("ttl", 2*time.Second, "expiry used by the TTL scenarios")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := log.NewSugar(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	store, err := kv.NewStoreFromConfig(cfg.KV(log.KVLogFunc(logger)))
	if err != nil {
		logger.Fatalw("Failed to create store", "error", err)
	}
	defer store.Close()

	d := &demo{store: store, logger: logger, prefix: *prefix, ttl: *ttl}
	ctx := context.Background()

	failed := 0
	for _, s := range scenarios {
		if *only != "" && s.name != *only {
			continue
		}
		start := time.Now()
		if err := s.run(d, ctx); err != nil {
			failed++
			logger.Errorw("Scenario failed", "scenario", s.name, "error", err)
		} else {
			logger.Infow("Scenario passed", "scenario", s.name, "duration", time.Since(start))
		}
		if err := d.cleanup(ctx); err != nil {
			logger.Warnw("Cleanup failed", "scenario", s.name, "error", err)
		}
	}

	if failed > 0 {
		logger.Errorw("Demo finished with failures", "failed", failed)
		logger.Sync()
		os.Exit(1)
	}
	logger.Infow("Demo finished")
}
