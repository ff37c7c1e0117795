// Command ingestion starts the ingestion trigger HTTP service.
//
// The service accepts ingestion requests via
// POST /api/v1/stores/{store}/ingestions, records a PENDING run in PostgreSQL
// and publishes it to Kafka for the worker. It also serves run lookups,
// dataset listing and removal, on-demand reconciliation, health probes at
// /health/live and /health/ready, and Prometheus metrics at /metrics.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/indexing"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/reconcile"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting ingestion service",
		"port", cfg.Server.Port,
		"indexing_mode", cfg.Indexing.Mode,
	)

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(context.Background()); err != nil {
		slog.Error("failed to migrate schema", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to postgres")

	rdb, err := redis.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	m := metrics.New()
	st := store.NewPostgres(db)
	idx := indexing.NewClient(cfg.Indexing, indexing.WithMetrics(m))

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IngestionRequested)
	defer producer.Close()
	slog.Info("kafka producer initialized", "topic", cfg.Kafka.Topics.IngestionRequested)

	svc := ingestion.NewService(ingestion.Deps{
		Store:   st,
		Indexer: idx,
		Sources: ingestion.ShopifySources(cfg.Shopify),
		Locker:  ingestion.RedisLocker(rdb),
		Metrics: m,
	}, cfg)

	sweeper, err := reconcile.NewSweeper(st, idx, m, cfg.Reconcile)
	if err != nil {
		slog.Error("failed to create sweeper", "error", err)
		os.Exit(1)
	}
	defer sweeper.Close()

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db, true))
	checker.Register("redis", health.PingCheck(rdb, true))
	checker.Register("indexing", health.PingCheck(idx, false))

	mux := http.NewServeMux()
	handler.New(publisher.New(st, producer), svc, sweeper).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	if cfg.Metrics.Enabled {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: middleware.Chain(mux,
			middleware.RequestID,
			middleware.Timeout(cfg.Server.RequestTimeout),
			middleware.Metrics(m),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()
	slog.Info("ingestion service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion service stopped")
}
