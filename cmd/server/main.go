package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-radio/internal/api"
	"github.com/technosupport/ts-radio/internal/audio"
	"github.com/technosupport/ts-radio/internal/bus"
	"github.com/technosupport/ts-radio/internal/closed"
	"github.com/technosupport/ts-radio/internal/config"
	"github.com/technosupport/ts-radio/internal/engine"
	"github.com/technosupport/ts-radio/internal/live"
	"github.com/technosupport/ts-radio/internal/metrics"
	"github.com/technosupport/ts-radio/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (optional, env overrides apply)")
	flag.Parse()

	logger := log.New(os.Stdout, "ts-radio: ", log.LstdFlags)

	// 1. Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Config error: %v", err)
	}

	// 2. DB Init
	db, err := sql.Open("postgres", cfg.ConnString())
	if err != nil {
		logger.Fatalf("DB open error: %v", err)
	}
	if err := db.Ping(); err != nil {
		logger.Fatalf("DB ping error: %v", err)
	}
	store := storage.NewPostgres(db)

	// 3. Redis (optional cross-instance terminal-call cache)
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Printf("Redis unavailable, continuing without it: %v", err)
			rdb = nil
		}
	}
	closedCache := closed.New(cfg.Engine.ClosedCacheSize, rdb, cfg.Engine.ClosedCacheTTL, logger)

	// 4. Engine core
	collector := metrics.NewCollector()
	normalizer := engine.NewNormalizer(storage.NewTalkgroupDirectory(db))
	router := engine.NewRouter(engine.RouterOptions{
		Store:            store,
		Committer:        store,
		Closed:           closedCache,
		Metrics:          collector,
		MaxLedgerEntries: cfg.Engine.MaxLedgerEntriesPerCall,
		Log:              logger,
	})
	eng := engine.New(normalizer, router, collector, logger)

	// 5. NATS transport
	nc, err := nats.Connect(cfg.NATS.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		logger.Fatalf("NATS connect error: %v", err)
	}
	defer nc.Close()

	consumer := bus.NewConsumer(bus.ConsumerOptions{
		Conn:   nc,
		Engine: eng,
		Queue:  cfg.NATS.Queue,
		Log:    logger,
	})
	if err := consumer.Start(); err != nil {
		logger.Fatalf("Bus subscribe error: %v", err)
	}
	defer consumer.Stop()

	// 6. Transition fanout: bus notifications + live WebSocket feed
	notifier := bus.NewNotifier(nc, bus.TransitionsSubject, 3, collector, logger)
	notifier.Start()
	defer notifier.Stop()
	router.AddSink(notifier)
	hub := live.NewHub(logger)
	router.AddSink(hub)

	// 7. Stale-call reaper
	reaper := engine.NewReaper(engine.ReaperConfig{
		Interval: cfg.Engine.ReaperInterval,
		Deadline: cfg.Engine.StaleCallDeadline,
	}, store, router, collector, logger)
	reaper.Start()
	defer reaper.Stop()

	// 8. Audio file watcher (optional)
	if cfg.WatchDir != "" {
		watcher := audio.NewWatcher(cfg.WatchDir, store, router, logger)
		if err := watcher.Start(); err != nil {
			logger.Fatalf("Audio watcher error: %v", err)
		}
		defer watcher.Stop()
	}

	// 9. HTTP surface
	handler := api.NewCallHandler(store, store)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.NewRouter(handler, hub.ServeWS, collector.Handler()),
	}

	go func() {
		logger.Printf("Listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	// 10. Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Printf("HTTP shutdown error: %v", err)
	}
}
