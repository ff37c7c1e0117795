// Command reconciler periodically polls the indexing service for every
// outstanding batch and completes datasets whose batches have all finished.
//
// Usage:
//
//	go run ./cmd/reconciler [-config configs/development.yaml]
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
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/reconcile"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/postgres"
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
	slog.Info("starting reconciler",
		"interval", cfg.Reconcile.Interval,
		"workers", cfg.Reconcile.Workers,
	)

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	m := metrics.New()
	idx := indexing.NewClient(cfg.Indexing, indexing.WithMetrics(m))
	sweeper, err := reconcile.NewSweeper(store.NewPostgres(db), idx, m, cfg.Reconcile)
	if err != nil {
		slog.Error("failed to create sweeper", "error", err)
		os.Exit(1)
	}
	defer sweeper.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		checker := health.NewChecker()
		checker.Register("postgres", health.PingCheck(db, true))
		checker.Register("indexing", health.PingCheck(idx, false))
		shutdown := metrics.StartServer(cfg.Metrics.Port, map[string]http.Handler{
			"GET /health/live":  checker.LiveHandler(),
			"GET /health/ready": checker.ReadyHandler(),
		})
		defer shutdown(context.Background())
	}

	sweeper.Start(ctx, cfg.Reconcile.Interval)
	slog.Info("reconciler stopped")
}
