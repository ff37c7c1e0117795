// Package tracing records a span tree for each ingestion run (page fetches,
// chunk uploads, state writes) and logs it as a per-stage summary through
// slog when the run ends.
package tracing

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type contextKey struct{}

// Span represents a timed operation within a trace.
type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time
	Duration  time.Duration
	Err       error

	mu       sync.Mutex
	children []*Span
	attrs    map[string]any
}

// StartSpan creates a root span and stores it in the returned context.
func StartSpan(ctx context.Context, name string, traceID string) (context.Context, *Span) {
	span := &Span{
		Name:      name,
		TraceID:   traceID,
		StartTime: time.Now(),
		attrs:     make(map[string]any),
	}
	return context.WithValue(ctx, contextKey{}, span), span
}

// StartChildSpan creates a child of the span in ctx. Without a parent the
// child is detached and only its own End/Log are meaningful.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := SpanFromContext(ctx)
	child := &Span{
		Name:      name,
		StartTime: time.Now(),
		attrs:     make(map[string]any),
	}
	if parent != nil {
		child.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.children = append(parent.children, child)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, contextKey{}, child), child
}

// End records the span's duration and the error it finished with, if any.
func (s *Span) End(err error) {
	s.mu.Lock()
	s.Duration = time.Since(s.StartTime)
	s.Err = err
	s.mu.Unlock()
}

// SetAttr attaches a key-value attribute to the span.
func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs[key] = value
	s.mu.Unlock()
}

// SpanFromContext extracts the current Span from ctx, or nil if none.
func SpanFromContext(ctx context.Context) *Span {
	if span, ok := ctx.Value(contextKey{}).(*Span); ok {
		return span
	}
	return nil
}

// StageSummary aggregates the direct children of a span that share a name.
type StageSummary struct {
	Name   string
	Count  int
	Errors int
	Total  time.Duration
}

// Summary groups direct children by name, sorted by total time descending.
func (s *Span) Summary() []StageSummary {
	s.mu.Lock()
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()

	byName := make(map[string]*StageSummary)
	for _, c := range children {
		c.mu.Lock()
		st, ok := byName[c.Name]
		if !ok {
			st = &StageSummary{Name: c.Name}
			byName[c.Name] = st
		}
		st.Count++
		st.Total += c.Duration
		if c.Err != nil {
			st.Errors++
		}
		c.mu.Unlock()
	}
	out := make([]StageSummary, 0, len(byName))
	for _, st := range byName {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Log writes the root span and one line per stage to logger.
func (s *Span) Log(logger *slog.Logger) {
	s.mu.Lock()
	attrs := []any{
		"trace_id", s.TraceID,
		"span", s.Name,
		"duration_ms", s.Duration.Milliseconds(),
	}
	for k, v := range s.attrs {
		attrs = append(attrs, k, v)
	}
	if s.Err != nil {
		attrs = append(attrs, "error", s.Err)
	}
	s.mu.Unlock()
	logger.Info("span", attrs...)

	for _, st := range s.Summary() {
		logger.Info("span stage",
			"trace_id", s.TraceID,
			"stage", st.Name,
			"count", st.Count,
			"errors", st.Errors,
			"total_ms", st.Total.Milliseconds(),
		)
	}
}
