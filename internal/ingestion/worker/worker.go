// Package worker consumes IngestionRequested events from Kafka and runs them
// through the ingestion service.
package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/logger"
)

// Runner executes one ingestion run. *ingestion.Service implements it.
type Runner interface {
	Run(ctx context.Context, req ingestion.Request) (*ingestion.Result, error)
}

// Worker wraps a Kafka consumer to drive ingestion runs.
type Worker struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

func New(consumer *kafka.Consumer) *Worker {
	return &Worker{
		consumer: consumer,
		logger:   slog.Default().With("component", "ingestion-worker"),
	}
}

// Start consumes until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("ingestion worker starting")
	return w.consumer.Start(ctx)
}

// HandleMessage returns a MessageHandler that runs each requested ingestion.
// The outcome of a run lives in its run record, so only a run cut short by
// shutdown is left uncommitted for redelivery.
func HandleMessage(runner Runner) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		log := logger.FromContext(ctx).With("component", "ingestion-worker")
		event, err := kafka.DecodeJSON[ingestion.IngestionRequested](value)
		if err != nil {
			log.Error("failed to decode ingestion request",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		log.Debug("processing ingestion request",
			"run_id", event.RunID,
			"store_id", event.StoreID,
			"content_type", event.ContentType,
		)

		result, err := runner.Run(ctx, ingestion.RequestFromEvent(event))
		switch {
		case err == nil:
			log.Info("ingestion request completed",
				"run_id", event.RunID,
				"records", result.Records,
				"chunks_indexed", result.ChunksIndexed,
			)
			return nil
		case ctx.Err() != nil:
			return err
		case errors.Is(err, apperrors.ErrRunInProgress):
			log.Warn("ingestion already running, request dropped",
				"run_id", event.RunID,
				"store_id", event.StoreID,
				"content_type", event.ContentType,
			)
			return nil
		default:
			log.Error("ingestion request failed",
				"run_id", event.RunID,
				"error", err,
			)
			return nil
		}
	}
}
