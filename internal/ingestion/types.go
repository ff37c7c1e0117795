// Package ingestion runs a store's content through the pipeline and into the
// knowledge base, and defines the request, result and Kafka event types shared
// by the trigger API and the workers.
package ingestion

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/content"
)

// TriggerRequest is the JSON body accepted by the ingestion HTTP endpoint.
type TriggerRequest struct {
	ContentType   string   `json:"content_type"`
	ExcludeEmails []string `json:"exclude_emails,omitempty"`
	Text          string   `json:"text,omitempty"`
	PageSize      int      `json:"page_size,omitempty"`
}

// TriggerResponse is returned once a run has been queued.
type TriggerResponse struct {
	RunID       string       `json:"run_id"`
	StoreID     string       `json:"store_id"`
	ContentType content.Type `json:"content_type"`
	Status      string       `json:"status"`
}

// IngestionRequested is the Kafka payload consumed by workers.
type IngestionRequested struct {
	RunID         string       `json:"run_id"`
	StoreID       string       `json:"store_id"`
	ContentType   content.Type `json:"content_type"`
	ExcludeEmails []string     `json:"exclude_emails,omitempty"`
	Text          string       `json:"text,omitempty"`
	PageSize      int          `json:"page_size,omitempty"`
	RequestedAt   time.Time    `json:"requested_at"`
}

// Request describes one ingestion run. RunID is generated when empty.
type Request struct {
	RunID         string
	StoreID       string
	ContentType   content.Type
	ExcludeEmails []string
	Text          string
	PageSize      int
}

// Result summarises a finished run.
type Result struct {
	RunID         string        `json:"run_id"`
	DatasetID     string        `json:"dataset_id"`
	DatasetStatus string        `json:"dataset_status"`
	Records       int           `json:"records"`
	Chunks        int           `json:"chunks"`
	ChunksIndexed int           `json:"chunks_indexed"`
	ChunksFailed  int           `json:"chunks_failed"`
	BatchIDs      []string      `json:"batch_ids"`
	Duration      time.Duration `json:"duration"`
}

// Failed reports whether any chunk could not be indexed.
func (r *Result) Failed() bool {
	return r.ChunksFailed > 0
}

// RequestFromEvent converts a consumed event into a run request.
func RequestFromEvent(e IngestionRequested) Request {
	return Request{
		RunID:         e.RunID,
		StoreID:       e.StoreID,
		ContentType:   e.ContentType,
		ExcludeEmails: e.ExcludeEmails,
		Text:          e.Text,
		PageSize:      e.PageSize,
	}
}
