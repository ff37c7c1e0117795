// Command worker consumes IngestionRequested events from Kafka and runs each
// ingestion: it pages through the store's records, chunks and normalises them,
// and writes the chunks to the indexing service.
//
// Usage:
//
//	go run ./cmd/worker [-config configs/development.yaml]
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
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/ingestion/worker"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/metrics"
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
	slog.Info("starting ingestion worker",
		"indexing_mode", cfg.Indexing.Mode,
		"chunk_size", cfg.Pipeline.ChunkSize,
	)

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := redis.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	m := metrics.New()
	idx := indexing.NewClient(cfg.Indexing, indexing.WithMetrics(m))
	svc := ingestion.NewService(ingestion.Deps{
		Store:   store.NewPostgres(db),
		Indexer: idx,
		Sources: ingestion.ShopifySources(cfg.Shopify),
		Locker:  ingestion.RedisLocker(rdb),
		Metrics: m,
	}, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		checker := health.NewChecker()
		checker.Register("postgres", health.PingCheck(db, true))
		checker.Register("redis", health.PingCheck(rdb, true))
		checker.Register("indexing", health.PingCheck(idx, false))
		shutdown := metrics.StartServer(cfg.Metrics.Port, map[string]http.Handler{
			"GET /health/live":  checker.LiveHandler(),
			"GET /health/ready": checker.ReadyHandler(),
		})
		defer shutdown(context.Background())
	}

	kafkaConsumer := kafka.NewConsumer(
		cfg.Kafka,
		cfg.Kafka.Topics.IngestionRequested,
		worker.HandleMessage(svc),
	)
	w := worker.New(kafkaConsumer)

	slog.Info("ingestion worker ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.IngestionRequested,
		"group", cfg.Kafka.ConsumerGroup,
	)
	if err := w.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}
	slog.Info("ingestion worker stopped")
}
