// Command syncctl is the operator CLI: it applies the schema, registers
// stores, runs an ingestion in the foreground, sweeps outstanding batches and
// lists tracked datasets.
//
// Usage:
//
//	go run ./cmd/syncctl [--config configs/development.yaml] <command>
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(openBackend).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
