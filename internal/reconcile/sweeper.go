// Package reconcile polls the indexing service for outstanding batches and
// retires the ones that finished, completing datasets whose batch set drains.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/indexing"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/resilience"
)

// StatusChecker reports the indexing progress of a batch.
// *indexing.Client implements it.
type StatusChecker interface {
	GetIndexingStatus(ctx context.Context, datasetID, batchID string) (*indexing.IndexingStatus, error)
}

// Summary counts what one sweep of a store did.
type Summary struct {
	StoreID           string `json:"store_id"`
	Datasets          int    `json:"datasets"`
	Checked           int    `json:"checked"`
	Completed         int    `json:"completed"`
	NotFound          int    `json:"not_found"`
	Pending           int    `json:"pending"`
	Errors            int    `json:"errors"`
	DatasetsCompleted int    `json:"datasets_completed"`
}

type Sweeper struct {
	store   store.Store
	checker StatusChecker
	metrics *metrics.Metrics
	pool    *ants.Pool
	timeout time.Duration
	logger  *slog.Logger
}

// NewSweeper builds a sweeper whose SweepAll runs at most cfg.Workers stores
// at once. Close releases the worker pool.
func NewSweeper(st store.Store, checker StatusChecker, m *metrics.Metrics, cfg config.ReconcileConfig) (*Sweeper, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("creating sweep pool: %w", err)
	}
	return &Sweeper{
		store:   st,
		checker: checker,
		metrics: m,
		pool:    pool,
		timeout: cfg.StoreTimeout,
		logger:  slog.Default().With("component", "reconcile-sweeper"),
	}, nil
}

func (s *Sweeper) Close() {
	s.pool.Release()
}

// SweepStore checks every outstanding batch of storeID's INDEXING datasets.
// Each dataset's batch ids are snapshotted before the checks so removals do
// not disturb the iteration. A batch the service reports completed, or no
// longer knows, is removed; any other failure leaves it for the next sweep.
// Sweeping again is harmless: removing an absent batch is a no-op.
func (s *Sweeper) SweepStore(ctx context.Context, storeID string) (Summary, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
		}
	}()

	sum := Summary{StoreID: storeID}
	datasets, err := s.store.ListDatasetsByStatus(ctx, storeID, store.StatusIndexing)
	if err != nil {
		return sum, fmt.Errorf("listing indexing datasets: %w", err)
	}
	sum.Datasets = len(datasets)

	for _, d := range datasets {
		log := s.logger.With("store_id", storeID, "dataset_id", d.ID, "content_type", d.ContentType)
		batches := slices.Clone(d.BatchIDs)
		if len(batches) == 0 {
			if err := s.store.SetStatus(ctx, d.ID, store.StatusCompleted); err != nil {
				log.Error("failed to complete drained dataset", "error", err)
				sum.Errors++
				continue
			}
			sum.DatasetsCompleted++
			continue
		}

		remaining := len(batches)
		for _, batchID := range batches {
			if err := ctx.Err(); err != nil {
				return sum, err
			}
			sum.Checked++
			status, err := s.checker.GetIndexingStatus(ctx, d.ID, batchID)
			reason := ""
			switch {
			case errors.Is(err, apperrors.ErrBatchNotFound):
				reason = "not_found"
			case err != nil:
				if ctx.Err() != nil {
					return sum, ctx.Err()
				}
				log.Warn("failed to check batch, keeping it", "batch", batchID, "error", err)
				sum.Errors++
				continue
			case status.Completed():
				reason = "completed"
			default:
				log.Debug("batch still indexing",
					"batch", batchID,
					"indexing_status", status.IndexingStatus,
					"completed_segments", status.CompletedSegments,
					"total_segments", status.TotalSegments,
				)
				sum.Pending++
				continue
			}

			left, err := s.store.RemoveBatch(ctx, d.ID, storeID, batchID)
			if err != nil {
				log.Error("failed to remove batch", "batch", batchID, "error", err)
				sum.Errors++
				continue
			}
			remaining = len(left)
			if reason == "completed" {
				sum.Completed++
			} else {
				sum.NotFound++
			}
			if s.metrics != nil {
				s.metrics.BatchesResolvedTotal.WithLabelValues(reason).Inc()
			}
			log.Debug("batch resolved", "batch", batchID, "reason", reason, "remaining", remaining)
		}
		if remaining == 0 {
			sum.DatasetsCompleted++
			log.Info("dataset indexing completed")
		}
	}
	return sum, nil
}

// SweepAll sweeps every store that has INDEXING datasets on the worker pool,
// bounding each store by the configured timeout. Failures of one store do not
// stop the others; the first one is returned alongside all summaries.
func (s *Sweeper) SweepAll(ctx context.Context) ([]Summary, error) {
	stores, err := s.store.ListStoresWithStatus(ctx, store.StatusIndexing)
	if err != nil {
		return nil, fmt.Errorf("listing stores to sweep: %w", err)
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		summaries = make([]Summary, 0, len(stores))
		firstErr  error
	)
	record := func(sum Summary, err error) {
		mu.Lock()
		defer mu.Unlock()
		summaries = append(summaries, sum)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, storeID := range stores {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			var sum Summary
			err := resilience.WithTimeout(ctx, s.timeout, "sweep "+storeID, func(ctx context.Context) error {
				var err error
				sum, err = s.SweepStore(ctx, storeID)
				return err
			})
			if err != nil {
				s.logger.Error("store sweep failed", "store_id", storeID, "error", err)
			}
			record(sum, err)
		}
		if err := s.pool.Submit(task); err != nil {
			wg.Done()
			record(Summary{StoreID: storeID}, fmt.Errorf("scheduling sweep of %s: %w", storeID, err))
		}
	}
	wg.Wait()

	slices.SortFunc(summaries, func(a, b Summary) int {
		return strings.Compare(a.StoreID, b.StoreID)
	})
	return summaries, firstErr
}

// Start sweeps immediately and then every interval until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	s.logger.Info("reconciliation loop started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.sweepOnce(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("reconciliation loop stopped")
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	summaries, err := s.SweepAll(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Error("sweep finished with errors", "error", err)
	}
	var completed, notFound, pending int
	for _, sum := range summaries {
		completed += sum.Completed
		notFound += sum.NotFound
		pending += sum.Pending
	}
	if len(summaries) > 0 {
		s.logger.Info("sweep finished",
			"stores", len(summaries),
			"completed", completed,
			"not_found", notFound,
			"pending", pending,
		)
	}
}
