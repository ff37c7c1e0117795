package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/indexing"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/reconcile"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/redis"
)

// backend is everything a command may touch. Tests build one around the
// in-memory store.
type backend struct {
	Store   store.Store
	Indexer interface {
		ingestion.Indexer
		reconcile.StatusChecker
	}
	Sources ingestion.SourceFactory
	Locker  ingestion.Locker
	Metrics *metrics.Metrics
	Migrate func(ctx context.Context) error
	Close   func()
}

type opener func(ctx context.Context, cfg *config.Config) (*backend, error)

// openBackend connects to PostgreSQL and, when reachable, Redis. Without
// Redis the run lock only covers this process.
func openBackend(_ context.Context, cfg *config.Config) (*backend, error) {
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	closers := []func() error{db.Close}

	var locker ingestion.Locker
	if rdb, err := redis.NewClient(cfg.Redis); err != nil {
		slog.Warn("redis unavailable, using a process-local run lock", "error", err)
		locker = ingestion.NewLocalLocker()
	} else {
		locker = ingestion.RedisLocker(rdb)
		closers = append(closers, rdb.Close)
	}

	m := metrics.New()
	return &backend{
		Store:   store.NewPostgres(db),
		Indexer: indexing.NewClient(cfg.Indexing, indexing.WithMetrics(m)),
		Sources: ingestion.ShopifySources(cfg.Shopify),
		Locker:  locker,
		Metrics: m,
		Migrate: db.Migrate,
		Close: func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		},
	}, nil
}
