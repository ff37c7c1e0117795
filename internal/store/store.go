// Package store persists which dataset backs each (store, content type)
// pair, the indexing batches still outstanding for it, document ids per
// chunk name, and the history of ingestion runs.
package store

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/content"
)

// DatasetStatus is the lifecycle state of a Dataset. COMPLETED holds exactly
// when no batch is outstanding.
type DatasetStatus string

const (
	StatusPending   DatasetStatus = "PENDING"
	StatusSyncing   DatasetStatus = "SYNCING"
	StatusIndexing  DatasetStatus = "INDEXING"
	StatusCompleted DatasetStatus = "COMPLETED"
	StatusError     DatasetStatus = "ERROR"
)

// Dataset maps a store's content type to a dataset in the indexing service.
// ID is the indexing service's dataset id.
type Dataset struct {
	ID          string        `json:"id"`
	StoreID     string        `json:"store_id"`
	ContentType content.Type  `json:"content_type"`
	Status      DatasetStatus `json:"status"`
	BatchIDs    []string      `json:"batch_ids"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Shop holds the credentials used to read a store's data.
type Shop struct {
	ID          string
	AccessToken string
}

type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
)

// Run records one ingestion request and its outcome.
type Run struct {
	ID            string       `json:"id"`
	StoreID       string       `json:"store_id"`
	ContentType   content.Type `json:"content_type"`
	Status        RunStatus    `json:"status"`
	Message       string       `json:"message,omitempty"`
	Records       int          `json:"records"`
	ChunksIndexed int          `json:"chunks_indexed"`
	ChunksFailed  int          `json:"chunks_failed"`
	CreatedAt     time.Time    `json:"created_at"`
	FinishedAt    *time.Time   `json:"finished_at,omitempty"`
}

// Store is the indexing state store. Implementations must keep at most one
// dataset per (store, content type) and keep the COMPLETED status in step
// with an empty batch set.
type Store interface {
	// FindDataset returns nil, nil when no dataset exists.
	FindDataset(ctx context.Context, storeID string, ct content.Type) (*Dataset, error)
	// CreateDataset inserts d. If the pair already has a dataset, the existing
	// row is returned together with apperrors.ErrDatasetExists.
	CreateDataset(ctx context.Context, d Dataset) (*Dataset, error)
	// UpsertDatasetBatch adds batchID to the dataset's set and sets status.
	UpsertDatasetBatch(ctx context.Context, datasetID string, ct content.Type, storeID, batchID string, status DatasetStatus) error
	// RemoveBatch drops batchID and returns what remains. Removing an absent
	// id is a no-op. An INDEXING dataset left with no batches becomes
	// COMPLETED in the same write.
	RemoveBatch(ctx context.Context, datasetID, storeID, batchID string) ([]string, error)
	// SetStatus changes status; COMPLETED is refused while batches remain.
	SetStatus(ctx context.Context, datasetID string, status DatasetStatus) error
	// FinishRun settles a dataset after an ingestion run: INDEXING while
	// batches remain, otherwise ERROR if the run failed or COMPLETED.
	FinishRun(ctx context.Context, datasetID string, failed bool) (DatasetStatus, error)
	ListDatasets(ctx context.Context, storeID string) ([]Dataset, error)
	ListDatasetsByStatus(ctx context.Context, storeID string, status DatasetStatus) ([]Dataset, error)
	ListStoresWithStatus(ctx context.Context, status DatasetStatus) ([]string, error)
	// DeleteDataset removes the pair's dataset and its documents, returning
	// the deleted row or nil when there was none.
	DeleteDataset(ctx context.Context, storeID string, ct content.Type) (*Dataset, error)

	// FindDocument returns "" when the dataset has no document by that name.
	FindDocument(ctx context.Context, datasetID, name string) (string, error)
	SaveDocument(ctx context.Context, datasetID, name, documentID string) error

	GetShop(ctx context.Context, storeID string) (*Shop, error)
	UpsertShop(ctx context.Context, shop Shop) error

	CreateRun(ctx context.Context, run Run) error
	UpdateRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
}

// settle is the status a dataset takes after a run, shared by every
// implementation.
func settle(remaining int, failed bool) DatasetStatus {
	switch {
	case remaining > 0:
		return StatusIndexing
	case failed:
		return StatusError
	default:
		return StatusCompleted
	}
}
