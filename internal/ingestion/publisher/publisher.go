// Package publisher records a PENDING run for each trigger and hands it to
// the workers through Kafka.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/content"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/kafka"
)

// Publisher queues ingestion runs.
type Publisher struct {
	store    store.Store
	producer kafka.Publisher
	logger   *slog.Logger
}

func New(st store.Store, producer kafka.Publisher) *Publisher {
	return &Publisher{
		store:    st,
		producer: producer,
		logger:   slog.Default().With("component", "publisher"),
	}
}

// EventKey keeps every request for one (store, content type) on the same
// partition.
func EventKey(storeID string, ct content.Type) string {
	return storeID + "|" + string(ct)
}

// Trigger records a PENDING run and publishes an IngestionRequested event.
// It returns as soon as the event is accepted by Kafka. A failed publish
// marks the run FAILED.
func (p *Publisher) Trigger(ctx context.Context, storeID string, ct content.Type, req *ingestion.TriggerRequest) (*ingestion.TriggerResponse, error) {
	if ct.FromStore() {
		if _, err := p.store.GetShop(ctx, storeID); err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return nil, apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "store %s is not registered", storeID)
			}
			return nil, fmt.Errorf("loading shop: %w", err)
		}
	}

	run := store.Run{
		ID:          uuid.NewString(),
		StoreID:     storeID,
		ContentType: ct,
		Status:      store.RunPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := p.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("recording run: %w", err)
	}

	event := kafka.Event{
		Key: EventKey(storeID, ct),
		Value: ingestion.IngestionRequested{
			RunID:         run.ID,
			StoreID:       storeID,
			ContentType:   ct,
			ExcludeEmails: req.ExcludeEmails,
			Text:          req.Text,
			PageSize:      req.PageSize,
			RequestedAt:   run.CreatedAt,
		},
	}
	if err := p.producer.Publish(ctx, event); err != nil {
		p.logger.Error("failed to publish ingestion request, marking run failed",
			"run_id", run.ID,
			"store_id", storeID,
			"content_type", ct,
			"error", err,
		)
		now := time.Now().UTC()
		run.Status = store.RunFailed
		run.Message = "queueing failed: " + err.Error()
		run.FinishedAt = &now
		if updErr := p.store.UpdateRun(context.WithoutCancel(ctx), run); updErr != nil {
			p.logger.Error("failed to mark run failed", "run_id", run.ID, "error", updErr)
		}
		return nil, apperrors.New(apperrors.ErrInternal, http.StatusServiceUnavailable, "ingestion could not be queued")
	}

	p.logger.Info("ingestion queued",
		"run_id", run.ID,
		"store_id", storeID,
		"content_type", ct,
	)
	return &ingestion.TriggerResponse{
		RunID:       run.ID,
		StoreID:     storeID,
		ContentType: ct,
		Status:      string(store.RunPending),
	}, nil
}
