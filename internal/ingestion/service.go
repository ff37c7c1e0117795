package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/content"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/indexing"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/normalize"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/shopify"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/tracing"
)

// Indexer is the part of the indexing client a run writes through.
type Indexer interface {
	CreateDataset(ctx context.Context, req indexing.CreateDatasetRequest) (*indexing.Dataset, error)
	DeleteDataset(ctx context.Context, datasetID string) error
	CreateDocumentByText(ctx context.Context, datasetID string, req indexing.CreateDocumentRequest) (*indexing.DocumentResult, error)
	UpdateDocumentByText(ctx context.Context, datasetID, documentID string, req indexing.UpdateDocumentRequest) (*indexing.DocumentResult, error)
}

// Source reads one shop's records. *shopify.Client implements it.
type Source interface {
	ShopDomain() string
	FetchProducts(ctx context.Context, cursor string, pageSize int) (pipeline.Page[shopify.Product], error)
	OrdersFetcher(filter string) pipeline.FetchFunc[shopify.Order]
	FetchPolicies(ctx context.Context, cursor string, pageSize int) (pipeline.Page[shopify.Policy], error)
}

// SourceFactory builds a Source from a registered shop's credentials.
type SourceFactory func(shop store.Shop) Source

// ShopifySources returns a factory producing Admin GraphQL clients.
func ShopifySources(cfg config.ShopifyConfig, opts ...shopify.Option) SourceFactory {
	return func(shop store.Shop) Source {
		return shopify.NewClient(shop.ID, shop.AccessToken, cfg, opts...)
	}
}

// Deps are the collaborators of a Service.
type Deps struct {
	Store   store.Store
	Indexer Indexer
	Sources SourceFactory
	Locker  Locker
	Metrics *metrics.Metrics
	// Sleep replaces the paginator's delays; nil sleeps for real.
	Sleep resilience.Sleeper
}

// Service runs ingestion for one (store, content type) at a time per lock.
type Service struct {
	store   store.Store
	indexer Indexer
	sources SourceFactory
	locker  Locker
	metrics *metrics.Metrics
	sleep   resilience.Sleeper

	pipeline config.PipelineConfig
	shopify  config.ShopifyConfig
	indexing config.IndexingConfig
	tracing  bool

	resolve singleflight.Group
	logger  *slog.Logger
}

func NewService(deps Deps, cfg *config.Config) *Service {
	if deps.Locker == nil {
		deps.Locker = NewLocalLocker()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewWithRegistry(prometheus.NewRegistry())
	}
	return &Service{
		store:    deps.Store,
		indexer:  deps.Indexer,
		sources:  deps.Sources,
		locker:   deps.Locker,
		metrics:  deps.Metrics,
		sleep:    deps.Sleep,
		pipeline: cfg.Pipeline,
		shopify:  cfg.Shopify,
		indexing: cfg.Indexing,
		tracing:  cfg.Tracing.Enabled,
		logger:   slog.Default().With("component", "ingestion-service"),
	}
}

// Run streams every record of req.ContentType into the store's dataset.
// Chunks the indexing service rejects are counted and skipped; the run then
// reports failure through both Result and the returned error. Source,
// state-store and cancellation errors abort the run.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	queued := req.RunID != ""
	if !queued {
		req.RunID = uuid.NewString()
	}
	ctx = logger.WithRun(ctx, req.RunID, req.StoreID, string(req.ContentType))
	log := logger.FromContext(ctx)

	release, err := s.locker.Lock(ctx, lockKey(req.StoreID, req.ContentType))
	if err != nil {
		if queued {
			s.recordOutcome(ctx, req, &Result{RunID: req.RunID}, err)
		}
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release run lock", "error", err)
		}
	}()

	if err := s.markRunning(ctx, req, queued); err != nil {
		return nil, err
	}
	log.Info("ingestion run started")

	started := time.Now()
	ctx, span := tracing.StartSpan(ctx, "ingest."+string(req.ContentType), req.RunID)
	result := &Result{RunID: req.RunID, BatchIDs: []string{}}
	runErr := s.execute(ctx, req, result)

	if result.DatasetID != "" {
		failed := runErr != nil || result.Failed()
		status, err := s.store.FinishRun(context.WithoutCancel(ctx), result.DatasetID, failed)
		if err != nil {
			log.Error("failed to settle dataset status", "dataset_id", result.DatasetID, "error", err)
			if runErr == nil {
				runErr = err
			}
		}
		result.DatasetStatus = string(status)
	}
	if runErr == nil && result.Failed() {
		runErr = fmt.Errorf("%w: %d of %d chunks failed", apperrors.ErrIndexing, result.ChunksFailed, result.Chunks)
	}
	result.Duration = time.Since(started)

	span.SetAttr("records", result.Records)
	span.SetAttr("chunks", result.Chunks)
	span.End(runErr)
	if s.tracing {
		span.Log(log)
	}

	outcome := "succeeded"
	if runErr != nil {
		outcome = "failed"
	}
	s.metrics.IngestionRunsTotal.WithLabelValues(string(req.ContentType), outcome).Inc()
	s.metrics.IngestionDuration.WithLabelValues(string(req.ContentType)).Observe(result.Duration.Seconds())
	s.recordOutcome(ctx, req, result, runErr)

	if runErr != nil {
		log.Error("ingestion run failed",
			"error", runErr,
			"records", result.Records,
			"chunks_indexed", result.ChunksIndexed,
			"chunks_failed", result.ChunksFailed,
		)
		return result, runErr
	}
	log.Info("ingestion run finished",
		"dataset_id", result.DatasetID,
		"dataset_status", result.DatasetStatus,
		"records", result.Records,
		"chunks", result.Chunks,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

func (s *Service) validate(req Request) error {
	if strings.TrimSpace(req.StoreID) == "" {
		return fmt.Errorf("%w: store id is required", apperrors.ErrInvalidInput)
	}
	if !req.ContentType.Valid() {
		return fmt.Errorf("%w: %q", apperrors.ErrUnsupportedType, req.ContentType)
	}
	if !req.ContentType.FromStore() && strings.TrimSpace(req.Text) == "" {
		return fmt.Errorf("%w: %s requires text", apperrors.ErrInvalidInput, req.ContentType)
	}
	return nil
}

func (s *Service) execute(ctx context.Context, req Request, result *Result) error {
	var src Source
	if req.ContentType.FromStore() {
		shop, err := s.store.GetShop(ctx, req.StoreID)
		if err != nil {
			return fmt.Errorf("loading shop credentials: %w", err)
		}
		src = s.sources(*shop)
	}

	dataset, err := s.resolveDataset(ctx, req.StoreID, req.ContentType)
	if err != nil {
		return err
	}
	result.DatasetID = dataset.ID
	// Outstanding batches keep the dataset INDEXING so the sweep still sees
	// it if this run dies before its first chunk.
	if len(dataset.BatchIDs) == 0 {
		if err := s.store.SetStatus(ctx, dataset.ID, store.StatusSyncing); err != nil {
			return err
		}
	}

	c := &chunker{svc: s, req: req, datasetID: dataset.ID, result: result}
	switch req.ContentType {
	case content.Products:
		return stream(ctx, c, src.FetchProducts, normalize.Product{ShopDomain: src.ShopDomain()})
	case content.Orders:
		return stream(ctx, c, src.OrdersFetcher(shopify.ExcludeEmailsFilter(req.ExcludeEmails)), normalize.Order{})
	case content.Policies:
		return stream(ctx, c, src.FetchPolicies, normalize.Policy{})
	default:
		return stream(ctx, c, textPage(req.Text), normalize.Text{})
	}
}

// textPage serves merchant-supplied text as a single one-record page.
func textPage(text string) pipeline.FetchFunc[string] {
	return func(context.Context, string, int) (pipeline.Page[string], error) {
		return pipeline.Page[string]{Records: []string{text}}, nil
	}
}

// resolveDataset returns the pair's dataset, creating it on first use.
// Concurrent callers in this process share one resolution; a conflict in the
// state store means another process won, so the dataset created here is
// deleted and the stored one is used. The shared resolution outlives any one
// caller's cancellation; each caller still returns when its own ctx ends.
func (s *Service) resolveDataset(ctx context.Context, storeID string, ct content.Type) (*store.Dataset, error) {
	ch := s.resolve.DoChan(storeID+"|"+string(ct), func() (any, error) {
		ctx := context.WithoutCancel(ctx)
		existing, err := s.store.FindDataset(ctx, storeID, ct)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}

		_, span := tracing.StartChildSpan(ctx, "create_dataset")
		remote, err := s.indexer.CreateDataset(ctx, indexing.CreateDatasetRequest{
			Name:              datasetName(storeID, ct),
			Description:       fmt.Sprintf("%s dataset", ct),
			IndexingTechnique: s.indexing.IndexingTechnique,
			Permission:        s.indexing.Permission,
		})
		span.End(err)
		if err != nil {
			return nil, err
		}

		created, err := s.store.CreateDataset(ctx, store.Dataset{
			ID:          remote.ID,
			StoreID:     storeID,
			ContentType: ct,
			Status:      store.StatusPending,
		})
		if errors.Is(err, apperrors.ErrDatasetExists) {
			s.logger.Warn("dataset created concurrently, discarding duplicate",
				"store_id", storeID,
				"content_type", ct,
				"kept", created.ID,
				"discarded", remote.ID,
			)
			if delErr := s.indexer.DeleteDataset(ctx, remote.ID); delErr != nil {
				s.logger.Error("failed to delete duplicate dataset", "dataset_id", remote.ID, "error", delErr)
			}
			return created, nil
		}
		if err != nil {
			return nil, err
		}
		s.logger.Info("dataset created", "store_id", storeID, "content_type", ct, "dataset_id", created.ID)
		return created, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("resolving dataset: %w", res.Err)
		}
		return res.Val.(*store.Dataset), nil
	}
}

// datasetName is "{shop}-{type}" where shop is the domain without the
// myshopify suffix.
func datasetName(storeID string, ct content.Type) string {
	shop := strings.TrimSuffix(shopify.NormalizeDomain(storeID), ".myshopify.com")
	return shop + "-" + string(ct)
}

// DocumentName names the chunk holding records [start, end) of a stream.
func DocumentName(ct content.Type, start, end int) string {
	return fmt.Sprintf("%s-%d~%d", ct, start+1, end)
}

func (s *Service) markRunning(ctx context.Context, req Request, queued bool) error {
	if queued {
		run, err := s.store.GetRun(ctx, req.RunID)
		if err == nil {
			run.Status = store.RunRunning
			return s.store.UpdateRun(ctx, *run)
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
	}
	return s.store.CreateRun(ctx, store.Run{
		ID:          req.RunID,
		StoreID:     req.StoreID,
		ContentType: req.ContentType,
		Status:      store.RunRunning,
	})
}

func (s *Service) recordOutcome(ctx context.Context, req Request, result *Result, runErr error) {
	now := time.Now().UTC()
	run := store.Run{
		ID:            req.RunID,
		StoreID:       req.StoreID,
		ContentType:   req.ContentType,
		Status:        store.RunSucceeded,
		Records:       result.Records,
		ChunksIndexed: result.ChunksIndexed,
		ChunksFailed:  result.ChunksFailed,
		FinishedAt:    &now,
	}
	if runErr != nil {
		run.Status = store.RunFailed
		run.Message = runErr.Error()
	}
	if err := s.store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		logger.FromContext(ctx).Error("failed to record run outcome", "status", run.Status, "error", err)
	}
}

// DeleteDataset removes the pair's dataset from the indexing service and then
// from the state store. A dataset already gone remotely is still forgotten.
func (s *Service) DeleteDataset(ctx context.Context, storeID string, ct content.Type) (*store.Dataset, error) {
	release, err := s.locker.Lock(ctx, lockKey(storeID, ct))
	if err != nil {
		return nil, err
	}
	defer release(context.WithoutCancel(ctx))

	existing, err := s.store.FindDataset(ctx, storeID, ct)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("dataset for %s/%s: %w", storeID, ct, apperrors.ErrNotFound)
	}
	if err := s.indexer.DeleteDataset(ctx, existing.ID); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	deleted, err := s.store.DeleteDataset(ctx, storeID, ct)
	if err != nil {
		return nil, err
	}
	s.logger.Info("dataset deleted", "store_id", storeID, "content_type", ct, "dataset_id", existing.ID)
	if deleted == nil {
		return existing, nil
	}
	return deleted, nil
}

// ListDatasets returns every dataset tracked for storeID.
func (s *Service) ListDatasets(ctx context.Context, storeID string) ([]store.Dataset, error) {
	return s.store.ListDatasets(ctx, storeID)
}

// GetRun returns a run record.
func (s *Service) GetRun(ctx context.Context, id string) (*store.Run, error) {
	return s.store.GetRun(ctx, id)
}
