package indexing

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/errors"
)

// errorMessages maps the service's documented error codes to operator
// friendly text.
var errorMessages = map[string]string{
	"no_file_uploaded":            "no file was uploaded",
	"too_many_files":              "only one file is allowed",
	"file_too_large":              "file size exceeded",
	"unsupported_file_type":       "file type not allowed",
	"high_quality_dataset_only":   "operation requires a high quality dataset",
	"dataset_not_initialized":     "dataset is still initialising or indexing",
	"archived_document_immutable": "archived documents cannot be edited",
	"dataset_name_duplicate":      "dataset name already exists",
	"invalid_action":              "invalid action",
	"document_already_finished":   "document has already been processed",
	"document_indexing":           "document is being indexed and cannot be edited",
	"invalid_metadata":            "metadata is invalid",
}

// APIError is a non-2xx response. It matches apperrors.ErrIndexing, and
// apperrors.ErrNotFound for 404s.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if known, ok := errorMessages[e.Code]; ok && msg == "" {
		msg = known
	}
	if e.Code != "" {
		return fmt.Sprintf("indexing service: status %d: %s: %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("indexing service: status %d: %s", e.StatusCode, msg)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case apperrors.ErrIndexing:
		return true
	case apperrors.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case apperrors.ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// Describe returns the friendly text for a known error code.
func Describe(code string) (string, bool) {
	msg, ok := errorMessages[code]
	return msg, ok
}

// countsAsOutage reports whether err should trip the circuit breaker:
// transport failures and 5xx do, client errors do not.
func countsAsOutage(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, apperrors.ErrBatchNotFound) {
		return false
	}
	return true
}
