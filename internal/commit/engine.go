// Package commit persists admitted readings: paged inserts for bulk
// imports and one atomic submission per batch for live streaming.
package commit

import (
	"context"
	"errors"
	"fmt"

	"telemetry-sync/internal/logger"
	"telemetry-sync/internal/reading"
)

const DefaultPageSize = 500

// PageWriter inserts one page of same-family readings atomically.
type PageWriter interface {
	InsertReadings(ctx context.Context, f reading.Family, rs []reading.Reading) error
}

// BatchSink accepts one instant's readings as a unit: the store or the
// upload transport.
type BatchSink interface {
	SubmitBatch(ctx context.Context, b *reading.Batch) error
}

type Counts struct {
	Inserted int
	Failed   int
}

func (c *Counts) Add(o Counts) {
	c.Inserted += o.Inserted
	c.Failed += o.Failed
}

type Config struct {
	PageSize int
	Retry    RetryPolicy
}

type Engine struct {
	pages    PageWriter
	sink     BatchSink
	pageSize int
	retry    RetryPolicy
	log      *logger.Logger
}

// NewEngine wires an engine. Either collaborator may be nil when the
// caller never uses the matching operation.
func NewEngine(pages PageWriter, sink BatchSink, cfg Config, log *logger.Logger) *Engine {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		pages:    pages,
		sink:     sink,
		pageSize: cfg.PageSize,
		retry:    cfg.Retry,
		log:      log.WithComponent("commit"),
	}
}

// CommitRows writes rows of one family in pages. A failed page is counted
// and reported but does not undo earlier pages or stop later ones.
func (e *Engine) CommitRows(ctx context.Context, f reading.Family, rows []reading.Reading) (Counts, error) {
	var counts Counts
	if len(rows) == 0 {
		return counts, nil
	}
	if e.pages == nil {
		return counts, errors.New("commit: no page writer configured")
	}

	var errs []error
	for start, page := 0, 0; start < len(rows); start, page = start+e.pageSize, page+1 {
		end := min(start+e.pageSize, len(rows))
		chunk := rows[start:end]

		if err := ctx.Err(); err != nil {
			counts.Failed += len(rows) - start
			errs = append(errs, err)
			break
		}
		err := e.retry.Do(ctx, func(ctx context.Context) error {
			return e.pages.InsertReadings(ctx, f, chunk)
		})
		if err != nil {
			counts.Failed += len(chunk)
			errs = append(errs, fmt.Errorf("%s page %d (%d rows): %w", f, page, len(chunk), err))
			e.log.Error().Err(err).
				Str("family", string(f)).
				Int("page", page).
				Int("rows", len(chunk)).
				Msg("page failed")
			continue
		}
		counts.Inserted += len(chunk)
		e.log.Debug().
			Str("family", string(f)).
			Int("page", page).
			Int("rows", len(chunk)).
			Msg("page committed")
	}
	return counts, errors.Join(errs...)
}

// CommitBatch submits one instant's readings. A nil error means the sink
// confirmed the write and the caller may advance its watermark.
func (e *Engine) CommitBatch(ctx context.Context, b *reading.Batch) error {
	if e.sink == nil {
		return errors.New("commit: no batch sink configured")
	}
	return e.retry.Do(ctx, func(ctx context.Context) error {
		return e.sink.SubmitBatch(ctx, b)
	})
}
