package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/arbi/kvengine/internal/api"
	"github.com/arbi/kvengine/internal/config"
	"github.com/arbi/kvengine/internal/jobs"
	"github.com/arbi/kvengine/internal/log"
	"github.com/arbi/kvengine/internal/metrics"
	"github.com/arbi/kvengine/internal/product"
	"github.com/arbi/kvengine/internal/snapshot"
	"github.com/arbi/kvengine/internal/ws"
	"github.com/arbi/kvengine/pkg/kv"
	"github.com/arbi/kvengine/pkg/kv/memory"
	_ "github.com/arbi/kvengine/pkg/kv/redis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := log.NewSugar(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting kvd",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"backend", cfg.Store.Backend,
	)

	// Setup metrics
	metricsObj, metricsHandler, err := metrics.Setup("kvd")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	store, err := kv.NewStoreFromConfig(cfg.KV(log.KVLogFunc(logger)))
	if err != nil {
		logger.Fatalw("Failed to create store", "error", err)
	}
	defer store.Close()

	if mem, ok := store.(*memory.Store); ok {
		err := metricsObj.ObserveEngine(func() metrics.EngineStats {
			s := mem.Stats()
			return metrics.EngineStats{
				Keys:          s.Keys,
				ExpiredKeys:   s.ExpiredKeys,
				ReapedKeys:    s.ReapedKeys,
				Commits:       s.Commits,
				Conflicts:     s.Conflicts,
				StreamAppends: s.StreamAppends,
				Published:     s.Published,
			}
		})
		if err != nil {
			logger.Fatalw("Failed to register engine metrics", "error", err)
		}
	}

	// Background services share one context cancelled on shutdown
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	var wg sync.WaitGroup
	run := func(name string, start func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := start(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorw("Background service stopped", "service", name, "error", err)
			}
		}()
	}

	if cfg.SnapshotsEnabled() {
		source, ok := store.(kv.Snapshotter)
		if !ok {
			logger.Fatalw("Snapshots need a store that can export its keyspace", "backend", cfg.Store.Backend)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		sink, err := snapshot.NewPostgresSink(ctx, cfg.Snapshot.PostgresDSN)
		if err != nil {
			cancel()
			logger.Fatalw("Failed to connect snapshot database", "error", err)
		}
		defer sink.Close()

		snapshotter := snapshot.New(source, sink, cfg.Snapshot.Interval, logger, metricsObj)
		n, err := snapshotter.Restore(ctx)
		cancel()
		if err != nil {
			logger.Fatalw("Failed to restore snapshot", "error", err)
		}
		logger.Infow("Snapshot restored", "keys", n)
		run("snapshotter", snapshotter.Start)
	}

	// Order stream demo workload
	if cfg.Orders.PublishInterval > 0 {
		publisher := jobs.NewOrderPublisher(store, logger, metricsObj, jobs.OrderPublisherConfig{
			Stream:   cfg.Orders.Stream,
			Interval: cfg.Orders.PublishInterval,
			Amount:   jobs.DefaultOrderPublisherConfig().Amount,
		})
		run("order-publisher", publisher.Start)

		consumerCfg := jobs.DefaultOrderConsumerConfig()
		consumerCfg.Stream = cfg.Orders.Stream
		consumerCfg.Group = cfg.Orders.Group
		consumer := jobs.NewOrderConsumer(store, logger, metricsObj, consumerCfg, func(ctx context.Context, o jobs.Order) error {
			logger.Infow("Order received", "id", o.ID, "amount", o.Amount, "stream_id", o.StreamID)
			return nil
		})
		run("order-consumer", consumer.Start)
	}

	// Setup WebSocket hub and SSE handler
	wsHub := ws.NewHub(store, logger, metricsObj, cfg.Security.CORSAllowedOrigins)
	sseHandler := ws.NewSSEHandler(store, logger)
	run("ws-hub", func(ctx context.Context) error {
		wsHub.Run(ctx)
		return nil
	})

	products := product.NewService(product.NewRepository(store, logger), store, cfg.Products.CacheTTL, metricsObj, logger)

	// Setup API handler and middleware
	handler := api.NewHandler(store, products, wsHub, sseHandler, logger)
	middleware := api.NewMiddleware(logger, metricsObj)
	router := handler.Routes(middleware, cfg.Security.CORSAllowedOrigins, cfg.Security.RateLimitRPM, metricsHandler)

	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)

	// Streaming endpoints need an unbounded write timeout
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	server.RegisterOnShutdown(sseHandler.Shutdown)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Infow("API server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Errorw("Server startup failed", "error", err)
	case sig := <-shutdown:
		logger.Infow("Shutdown signal received", "signal", sig.String())
	}

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorw("Graceful shutdown failed", "error", err)
		server.Close()
	}

	// Stop background services; the snapshotter writes a final snapshot
	bgCancel()
	wg.Wait()
	logger.Infow("Server stopped")
}
