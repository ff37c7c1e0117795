// Package indexing is the HTTP client for the external knowledge-base
// service: datasets, text documents, and asynchronous indexing status.
package indexing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/resilience"
)

const breakerName = "indexing-service"

// Client calls the indexing service. All calls share one circuit breaker and
// one request limiter.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *resilience.CircuitBreaker
	retry      resilience.RetryConfig
	logger     *slog.Logger
}

type Option func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	metrics    *metrics.Metrics
	sleep      resilience.Sleeper
}

func WithHTTPClient(hc *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = hc }
}

// WithMetrics publishes circuit breaker transitions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *clientOptions) { o.metrics = m }
}

// WithSleeper replaces the backoff sleep used when the service answers 429.
func WithSleeper(s resilience.Sleeper) Option {
	return func(o *clientOptions) { o.sleep = s }
}

// NewClient builds a client for the endpoint selected by cfg.Mode.
func NewClient(cfg config.IndexingConfig, opts ...Option) *Client {
	o := clientOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	cbCfg := resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		IsFailure:        countsAsOutage,
	}
	if o.metrics != nil {
		gauge := o.metrics.CircuitBreakerState
		cbCfg.OnStateChange = func(name string, to resilience.State) {
			gauge.WithLabelValues(name).Set(float64(to))
		}
	}

	endpoint := cfg.Endpoint()
	return &Client{
		baseURL:    strings.TrimRight(endpoint.BaseURL, "/"),
		apiKey:     endpoint.APIKey,
		httpClient: o.httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		breaker:    resilience.NewCircuitBreaker(breakerName, cbCfg),
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     10 * time.Second,
			Multiplier:   2,
			Sleep:        o.sleep,
			Retryable: func(err error) bool {
				return errors.Is(err, apperrors.ErrRateLimited)
			},
		},
		logger: slog.Default().With("component", "indexing-client", "mode", cfg.Mode),
	}
}

// CreateDataset creates a new dataset. It is not idempotent: calling it
// twice yields two datasets.
func (c *Client) CreateDataset(ctx context.Context, req CreateDatasetRequest) (*Dataset, error) {
	var ds Dataset
	if err := c.do(ctx, http.MethodPost, "/datasets", req, &ds); err != nil {
		return nil, fmt.Errorf("creating dataset %q: %w", req.Name, err)
	}
	if ds.ID == "" {
		return nil, fmt.Errorf("creating dataset %q: %w: response has no id", req.Name, apperrors.ErrIndexing)
	}
	return &ds, nil
}

// DeleteDataset removes a dataset and every document in it.
func (c *Client) DeleteDataset(ctx context.Context, datasetID string) error {
	if err := c.do(ctx, http.MethodDelete, "/datasets/"+url.PathEscape(datasetID), nil, nil); err != nil {
		return fmt.Errorf("deleting dataset %s: %w", datasetID, err)
	}
	return nil
}

func (c *Client) CreateDocumentByText(ctx context.Context, datasetID string, req CreateDocumentRequest) (*DocumentResult, error) {
	var res DocumentResult
	path := fmt.Sprintf("/datasets/%s/document/create-by-text", url.PathEscape(datasetID))
	if err := c.do(ctx, http.MethodPost, path, req, &res); err != nil {
		return nil, fmt.Errorf("creating document %q: %w", req.Name, err)
	}
	return &res, nil
}

func (c *Client) UpdateDocumentByText(ctx context.Context, datasetID, documentID string, req UpdateDocumentRequest) (*DocumentResult, error) {
	var res DocumentResult
	path := fmt.Sprintf("/datasets/%s/documents/%s/update-by-text", url.PathEscape(datasetID), url.PathEscape(documentID))
	if err := c.do(ctx, http.MethodPost, path, req, &res); err != nil {
		return nil, fmt.Errorf("updating document %q: %w", req.Name, err)
	}
	return &res, nil
}

// GetIndexingStatus reports the progress of batchID. A batch the service no
// longer knows about yields apperrors.ErrBatchNotFound.
func (c *Client) GetIndexingStatus(ctx context.Context, datasetID, batchID string) (*IndexingStatus, error) {
	var res struct {
		Data []IndexingStatus `json:"data"`
	}
	path := fmt.Sprintf("/datasets/%s/documents/%s/indexing-status", url.PathEscape(datasetID), url.PathEscape(batchID))
	err := c.do(ctx, http.MethodGet, path, nil, &res)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("batch %s: %w", batchID, apperrors.ErrBatchNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting indexing status of batch %s: %w", batchID, err)
	}
	if len(res.Data) == 0 {
		return nil, fmt.Errorf("batch %s: %w", batchID, apperrors.ErrBatchNotFound)
	}
	return &res.Data[0], nil
}

// Ping lists a single dataset to confirm the service and key are usable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/datasets?page=1&limit=1", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
	}
	err := resilience.Retry(ctx, method+" "+path, c.retry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return c.breaker.Execute(func() error {
			return c.roundTrip(ctx, method, path, payload, out)
		})
	})
	if err != nil && !errors.Is(err, apperrors.ErrIndexing) {
		return fmt.Errorf("%w: %w", apperrors.ErrIndexing, err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrIndexing, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %w", apperrors.ErrIndexing, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil || (apiErr.Code == "" && apiErr.Message == "") {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		c.logger.Debug("indexing service error", "method", method, "path", path, "status", resp.StatusCode, "code", apiErr.Code)
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decoding response: %w", apperrors.ErrIndexing, err)
	}
	return nil
}
