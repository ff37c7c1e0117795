// Package logger configures the process-wide slog handler and carries
// request and ingestion-run identifiers through contexts.
package logger

import (
	"context"
	"log/slog"
	"os"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	runKey
)

type runAttrs struct {
	runID       string
	storeID     string
	contentType string
}

func Setup(level string, format string) {
	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithRun tags ctx with the ingestion run it belongs to so every log line
// emitted through FromContext can be correlated across pages and chunks.
func WithRun(ctx context.Context, runID, storeID, contentType string) context.Context {
	return context.WithValue(ctx, runKey, runAttrs{runID: runID, storeID: storeID, contentType: contentType})
}

func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		logger = logger.With("request_id", requestID)
	}
	if run, ok := ctx.Value(runKey).(runAttrs); ok {
		logger = logger.With("run_id", run.runID, "store_id", run.storeID, "content_type", run.contentType)
	}
	return logger
}

func WithComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
