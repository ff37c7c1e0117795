// Package pipeline holds the generic stages every store-backed ingestion run
// goes through: cursor pagination under throttling, and fixed-size batching.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/resilience"
)

// Page is one response of a cursor-paginated query. EndCursor is only
// meaningful when HasNextPage is true.
type Page[T any] struct {
	Records     []T
	HasNextPage bool
	EndCursor   string
}

// FetchFunc fetches the page after cursor. The empty cursor means "from the
// start". Throttling must be reported as an error wrapping
// apperrors.ErrRateLimited; anything else is treated as fatal.
type FetchFunc[T any] func(ctx context.Context, cursor string, pageSize int) (Page[T], error)

// PaginatorConfig controls paging and throttle backoff. Sleep and OnThrottle
// are optional.
type PaginatorConfig struct {
	PageSize        int
	InterPageDelay  time.Duration
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	RetryMultiplier float64
	MaxRetries      int
	Sleep           resilience.Sleeper
	OnThrottle      func(attempt int, delay time.Duration)
}

// Paginator walks every page of a FetchFunc sequentially.
type Paginator[T any] struct {
	fetch  FetchFunc[T]
	cfg    PaginatorConfig
	logger *slog.Logger
}

func NewPaginator[T any](fetch FetchFunc[T], cfg PaginatorConfig) *Paginator[T] {
	if cfg.Sleep == nil {
		cfg.Sleep = resilience.SleepContext
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 8
	}
	if cfg.RetryMultiplier < 1 {
		cfg.RetryMultiplier = 1.5
	}
	return &Paginator[T]{
		fetch:  fetch,
		cfg:    cfg,
		logger: slog.Default().With("component", "paginator"),
	}
}

// Each calls fn with the records of every page in order. A throttled page is
// retried on the same cursor with growing delays until MaxRetries attempts
// have failed. Errors returned by fn stop the walk and are returned as is.
func (p *Paginator[T]) Each(ctx context.Context, fn func(ctx context.Context, records []T) error) error {
	retryCfg := resilience.RetryConfig{
		MaxAttempts:  p.cfg.MaxRetries,
		InitialDelay: p.cfg.RetryBaseDelay,
		MaxDelay:     p.cfg.RetryMaxDelay,
		Multiplier:   p.cfg.RetryMultiplier,
		Sleep:        p.cfg.Sleep,
		Retryable: func(err error) bool {
			return errors.Is(err, apperrors.ErrRateLimited)
		},
		OnRetry: func(attempt int, delay time.Duration, _ error) {
			if p.cfg.OnThrottle != nil {
				p.cfg.OnThrottle(attempt, delay)
			}
		},
	}

	cursor := ""
	for pageNum := 1; ; pageNum++ {
		var page Page[T]
		err := resilience.Retry(ctx, "fetch page", retryCfg, func() error {
			var fetchErr error
			page, fetchErr = p.fetch(ctx, cursor, p.cfg.PageSize)
			return fetchErr
		})
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("paginating: %w", ctx.Err())
			}
			return fmt.Errorf("%w: page %d: %w", apperrors.ErrSourceFetch, pageNum, err)
		}
		p.logger.Debug("page fetched", "page", pageNum, "records", len(page.Records), "has_next", page.HasNextPage)

		if err := fn(ctx, page.Records); err != nil {
			return err
		}
		if !page.HasNextPage {
			return nil
		}
		if page.EndCursor == "" || page.EndCursor == cursor {
			return fmt.Errorf("%w: page %d reports more results without advancing the cursor", apperrors.ErrSourceFetch, pageNum)
		}
		cursor = page.EndCursor

		if err := p.cfg.Sleep(ctx, p.cfg.InterPageDelay); err != nil {
			return fmt.Errorf("paginating: %w", err)
		}
	}
}
