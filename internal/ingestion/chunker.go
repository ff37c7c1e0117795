package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/indexing"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/normalize"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/tracing"
)

// chunker uploads normalised chunks of one run.
type chunker struct {
	svc       *Service
	req       Request
	datasetID string
	result    *Result
}

// stream pages through fetch, buffers records into fixed-size chunks and
// uploads each chunk as one document.
func stream[T any](ctx context.Context, c *chunker, fetch pipeline.FetchFunc[T], n normalize.Normalizer[T]) error {
	s := c.svc
	ct := string(c.req.ContentType)
	pageSize := c.req.PageSize
	if pageSize <= 0 {
		pageSize = s.shopify.PageSize
	}
	paginator := pipeline.NewPaginator(fetch, pipeline.PaginatorConfig{
		PageSize:        pageSize,
		InterPageDelay:  s.shopify.InterPageDelay,
		RetryBaseDelay:  s.shopify.RetryBaseDelay,
		RetryMaxDelay:   s.shopify.RetryMaxDelay,
		RetryMultiplier: s.shopify.RetryMultiplier,
		MaxRetries:      s.shopify.MaxRetries,
		Sleep:           s.sleep,
		OnThrottle: func(attempt int, delay time.Duration) {
			s.metrics.ThrottleRetriesTotal.WithLabelValues(ct).Inc()
			logger.FromContext(ctx).Warn("source throttled, backing off",
				"attempt", attempt,
				"delay", delay,
			)
		},
	})

	buf := pipeline.NewBuffer[T](s.pipeline.ChunkSize)
	sep := s.indexing.Segmentation.Separator
	err := paginator.Each(ctx, func(ctx context.Context, records []T) error {
		s.metrics.PagesFetchedTotal.WithLabelValues(ct).Inc()
		s.metrics.RecordsFetchedTotal.WithLabelValues(ct).Add(float64(len(records)))
		c.result.Records += len(records)
		buf.Push(records...)
		for _, chunk := range buf.DrainReady() {
			if err := c.index(ctx, chunk.Start, chunk.End(), normalize.Batch(n, chunk.Records, sep)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if chunk, ok := buf.DrainRemainder(); ok {
		return c.index(ctx, chunk.Start, chunk.End(), normalize.Batch(n, chunk.Records, sep))
	}
	return nil
}

// index uploads one chunk. Errors from the indexing service are counted and
// swallowed so the remaining chunks still go out; anything else aborts.
func (c *chunker) index(ctx context.Context, start, end int, text string) error {
	s := c.svc
	ct := c.req.ContentType
	name := DocumentName(ct, start, end)
	log := logger.FromContext(ctx).With("document", name)
	if strings.TrimSpace(text) == "" {
		log.Debug("chunk rendered no text, skipping")
		return nil
	}
	c.result.Chunks++

	ctx, span := tracing.StartChildSpan(ctx, "index_chunk")
	op, res, err := c.upsert(ctx, name, text)
	span.End(err)
	if err != nil {
		if ctx.Err() != nil || !errors.Is(err, apperrors.ErrIndexing) {
			return err
		}
		s.metrics.ChunksTotal.WithLabelValues(string(ct), op, "error").Inc()
		c.result.ChunksFailed++
		log.Error("failed to index chunk", "operation", op, "error", err)
		return nil
	}

	if res.Document.ID != "" {
		if err := s.store.SaveDocument(ctx, c.datasetID, name, res.Document.ID); err != nil {
			return err
		}
	}
	if res.Batch != "" {
		if err := s.store.UpsertDatasetBatch(ctx, c.datasetID, ct, c.req.StoreID, res.Batch, store.StatusIndexing); err != nil {
			return err
		}
		c.result.BatchIDs = append(c.result.BatchIDs, res.Batch)
	}
	s.metrics.ChunksTotal.WithLabelValues(string(ct), op, "ok").Inc()
	c.result.ChunksIndexed++
	log.Debug("chunk indexed", "operation", op, "batch", res.Batch)
	return nil
}

// upsert updates the document previously stored under name, or creates it.
// A stored id the service no longer knows falls back to creation.
func (c *chunker) upsert(ctx context.Context, name, text string) (string, *indexing.DocumentResult, error) {
	s := c.svc
	docID, err := s.store.FindDocument(ctx, c.datasetID, name)
	if err != nil {
		return "lookup", nil, err
	}
	if docID != "" {
		res, err := s.indexer.UpdateDocumentByText(ctx, c.datasetID, docID, indexing.UpdateDocumentRequest{
			Name: name,
			Text: text,
		})
		if !errors.Is(err, apperrors.ErrNotFound) {
			return "update", res, err
		}
		logger.FromContext(ctx).Warn("stored document missing remotely, recreating", "document_id", docID)
	}
	res, err := s.indexer.CreateDocumentByText(ctx, c.datasetID, indexing.CreateDocumentRequest{
		Name:              name,
		Text:              text,
		IndexingTechnique: s.indexing.IndexingTechnique,
		DocForm:           s.indexing.DocForm,
		DocLanguage:       s.indexing.DocLanguage,
		ProcessRule:       indexing.HierarchicalRule(s.indexing.Segmentation),
	})
	if err != nil {
		return "create", nil, err
	}
	if res.Document.ID == "" {
		return "create", nil, fmt.Errorf("%w: created document %q has no id", apperrors.ErrIndexing, name)
	}
	return "create", res, nil
}
