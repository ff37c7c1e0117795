package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/content"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/reconcile"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/logger"
)

const maxBodyBytes = 2 << 20

// Trigger queues a run. *publisher.Publisher implements it.
type Trigger interface {
	Trigger(ctx context.Context, storeID string, ct content.Type, req *ingestion.TriggerRequest) (*ingestion.TriggerResponse, error)
}

// Datasets reads and removes tracked datasets. *ingestion.Service
// implements it.
type Datasets interface {
	ListDatasets(ctx context.Context, storeID string) ([]store.Dataset, error)
	DeleteDataset(ctx context.Context, storeID string, ct content.Type) (*store.Dataset, error)
	GetRun(ctx context.Context, id string) (*store.Run, error)
}

// Reconciler sweeps one store. *reconcile.Sweeper implements it.
type Reconciler interface {
	SweepStore(ctx context.Context, storeID string) (reconcile.Summary, error)
}

type Handler struct {
	trigger    Trigger
	datasets   Datasets
	reconciler Reconciler
	logger     *slog.Logger
}

func New(trigger Trigger, datasets Datasets, reconciler Reconciler) *Handler {
	return &Handler{
		trigger:    trigger,
		datasets:   datasets,
		reconciler: reconciler,
		logger:     slog.Default().With("component", "ingestion-handler"),
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/stores/{store}/ingestions", h.Ingest)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.GetRun)
	mux.HandleFunc("GET /api/v1/stores/{store}/datasets", h.ListDatasets)
	mux.HandleFunc("DELETE /api/v1/stores/{store}/datasets/{contentType}", h.DeleteDataset)
	mux.HandleFunc("POST /api/v1/stores/{store}/reconcile", h.Reconcile)
}

func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	storeID := r.PathValue("store")

	var req ingestion.TriggerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ct, err := validator.ValidateTrigger(storeID, &req)
	if err != nil {
		h.writeValidation(w, err)
		return
	}

	resp, err := h.trigger.Trigger(ctx, storeID, ct, &req)
	if err != nil {
		h.fail(w, log, "triggering ingestion failed", err)
		return
	}
	log.Info("ingestion triggered",
		"run_id", resp.RunID,
		"store_id", storeID,
		"content_type", ct,
	)
	h.writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.datasets.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, logger.FromContext(r.Context()), "loading run failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

func (h *Handler) ListDatasets(w http.ResponseWriter, r *http.Request) {
	storeID := r.PathValue("store")
	if err := validator.ValidateStoreID(storeID); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	datasets, err := h.datasets.ListDatasets(r.Context(), storeID)
	if err != nil {
		h.fail(w, logger.FromContext(r.Context()), "listing datasets failed", err)
		return
	}
	if datasets == nil {
		datasets = []store.Dataset{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"store_id": storeID,
		"datasets": datasets,
	})
}

func (h *Handler) DeleteDataset(w http.ResponseWriter, r *http.Request) {
	storeID := r.PathValue("store")
	if err := validator.ValidateStoreID(storeID); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ct, err := content.Parse(r.PathValue("contentType"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	deleted, err := h.datasets.DeleteDataset(r.Context(), storeID, ct)
	if err != nil {
		h.fail(w, logger.FromContext(r.Context()), "deleting dataset failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, deleted)
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	storeID := r.PathValue("store")
	if err := validator.ValidateStoreID(storeID); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := h.reconciler.SweepStore(r.Context(), storeID)
	if err != nil {
		h.fail(w, logger.FromContext(r.Context()), "reconciliation failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) fail(w http.ResponseWriter, log *slog.Logger, msg string, err error) {
	statusCode := apperrors.HTTPStatusCode(err)
	if statusCode >= 500 {
		log.Error(msg, "error", err, "status_code", statusCode)
	} else {
		log.Warn(msg, "error", err, "status_code", statusCode)
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		h.writeError(w, statusCode, appErr.Message)
		return
	}
	if statusCode >= 500 {
		h.writeError(w, statusCode, msg)
		return
	}
	h.writeError(w, statusCode, err.Error())
}

func (h *Handler) writeValidation(w http.ResponseWriter, err error) {
	var validationErr *validator.ValidationError
	if errors.As(err, &validationErr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": validationErr.Fields,
		})
		return
	}
	h.writeError(w, http.StatusBadRequest, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
