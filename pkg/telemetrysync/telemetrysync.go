package telemetrysync

import (
	"context"

	"telemetry-sync/internal/pipeline"
	"telemetry-sync/internal/tasks"
)

// Options re-exposes the tasks.Options type for external callers.
type Options = tasks.Options

// Summary reports what one run did.
type Summary = pipeline.Summary

// Stats is a snapshot of the store's contents.
type Stats = tasks.Stats

// Stream syncs the watermark and streams live readings until the source
// ends or ctx is cancelled.
func Stream(ctx context.Context, opts Options) (Summary, error) {
	return tasks.RunStream(ctx, opts)
}

// Backfill imports one storage-media CSV dump.
func Backfill(ctx context.Context, opts Options) (Summary, error) {
	return tasks.RunBackfill(ctx, opts)
}

// Recover replays a captured console log through the watermark path.
func Recover(ctx context.Context, opts Options) (Summary, error) {
	return tasks.RunRecover(ctx, opts)
}

// StoreStats reports rows per family and the latest instant per device.
func StoreStats(ctx context.Context, opts Options) (Stats, error) {
	return tasks.RunStats(ctx, opts)
}
