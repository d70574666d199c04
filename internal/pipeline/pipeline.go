// Package pipeline is the reconciliation orchestrator. A Pipeline runs one
// mode per instance: watermark sync followed by streaming (or log replay),
// or a bulk import.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"telemetry-sync/internal/commit"
	"telemetry-sync/internal/dedup"
	"telemetry-sync/internal/logger"
	"telemetry-sync/internal/reading"
	"telemetry-sync/internal/tzrule"
)

// ErrNoInput is a fatal precondition failure: there is nothing to read.
var ErrNoInput = errors.New("no input")

// WatermarkStore reports the latest persisted instant per device.
type WatermarkStore interface {
	LatestTimestamps(ctx context.Context) (map[string]time.Time, error)
}

// KeyStore returns the keys of one family already persisted in a range.
type KeyStore interface {
	ExistingKeys(ctx context.Context, f reading.Family, rg dedup.Range) (dedup.KeySet, error)
}

// Committer persists admitted readings.
type Committer interface {
	CommitRows(ctx context.Context, f reading.Family, rows []reading.Reading) (commit.Counts, error)
	CommitBatch(ctx context.Context, b *reading.Batch) error
}

type Deps struct {
	Watermarks WatermarkStore
	Keys       KeyStore
	Committer  Committer
}

type Config struct {
	Normalizer      *tzrule.Normalizer
	DefaultDeviceID string
	// FlushIdle is how long a partially assembled batch may wait on a
	// stalled source before it is committed. Zero flushes on the first stall.
	FlushIdle time.Duration
}

type Pipeline struct {
	cfg   Config
	deps  Deps
	state State
	wm    *dedup.Watermark
	runID string
	log   *logger.Logger
}

func New(cfg Config, deps Deps, log *logger.Logger) (*Pipeline, error) {
	if cfg.Normalizer == nil {
		n, err := tzrule.New(tzrule.DefaultZone)
		if err != nil {
			return nil, err
		}
		cfg.Normalizer = n
	}
	if deps.Committer == nil {
		return nil, errors.New("pipeline: committer required")
	}
	if log == nil {
		log = logger.Nop()
	}
	runID := uuid.NewString()
	return &Pipeline{
		cfg:   cfg,
		deps:  deps,
		state: StateInit,
		runID: runID,
		log:   log.WithComponent("pipeline").WithRun(runID),
	}, nil
}

func (p *Pipeline) RunID() string { return p.runID }
func (p *Pipeline) State() State  { return p.state }

// Watermark returns a copy of the current per-device watermark.
func (p *Pipeline) Watermark() map[string]time.Time {
	if p.wm == nil {
		return map[string]time.Time{}
	}
	return p.wm.Snapshot()
}

// SyncWatermark seeds the streaming watermark from the store. A failed
// query is not fatal: every device starts at Epoch and duplicates are
// preferred over missed readings.
func (p *Pipeline) SyncWatermark(ctx context.Context) error {
	if err := p.transition(StateSyncWatermark); err != nil {
		return err
	}
	if p.deps.Watermarks == nil {
		p.log.Warn().Msg("no watermark store; starting from epoch")
		p.wm = dedup.NewWatermark(nil)
		return nil
	}
	marks, err := p.deps.Watermarks.LatestTimestamps(ctx)
	if err != nil {
		p.log.Warn().Err(err).Time("watermark", dedup.Epoch).Msg("watermark sync failed; falling back to epoch")
		p.wm = dedup.NewWatermark(nil)
		return nil
	}
	p.wm = dedup.NewWatermark(marks)
	for dev, at := range marks {
		n := p.seedFrontier(ctx, dev, at)
		p.log.Info().Str("device_id", dev).Time("watermark", at).Int("frontier", n).Msg("watermark synced")
	}
	if len(marks) == 0 {
		p.log.Info().Msg("store empty; watermark at epoch")
	}
	return nil
}

// seedFrontier records the keys already stored at a device's watermark
// instant, so readings of that instant which never made it to the store
// are still admitted after a restart. A failed lookup leaves the frontier
// open: the instant may be delivered twice, never skipped.
func (p *Pipeline) seedFrontier(ctx context.Context, dev string, at time.Time) int {
	if p.deps.Keys == nil {
		return 0
	}
	n := 0
	for _, f := range reading.Families {
		keys, err := p.deps.Keys.ExistingKeys(ctx, f, dedup.Range{From: at, To: at})
		if err != nil {
			p.log.Warn().Err(err).Str("device_id", dev).Str("family", string(f)).Msg("frontier lookup failed")
			continue
		}
		for k := range keys {
			p.wm.Record(dev, f, k.Sensor, at)
			n++
		}
	}
	return n
}

// UseWatermark injects an initial watermark instead of querying the store.
func (p *Pipeline) UseWatermark(initial map[string]time.Time) {
	p.wm = dedup.NewWatermark(initial)
}

func (p *Pipeline) finish(s Summary) {
	if err := p.transition(StateDone); err != nil {
		p.log.Error().Err(err).Msg("finish")
	}
	s.logTo(p.log)
}

func (p *Pipeline) fillDefaults(r reading.Reading) {
	if h := r.Header(); h.DeviceID == "" {
		h.DeviceID = p.cfg.DefaultDeviceID
	}
}

func (p *Pipeline) normalize(local string) (time.Time, error) {
	at, err := p.cfg.Normalizer.Normalize(local)
	if err != nil {
		return time.Time{}, err
	}
	return at.UTC(), nil
}

// event starts a per-reading log entry with the fields every
// accept/skip/failure carries.
func event(e *zerolog.Event, r reading.Reading) *zerolog.Event {
	h := r.Header()
	return e.
		Str("ts", h.Local).
		Str("device_id", h.DeviceID).
		Str("sensor", h.SensorName).
		Str("family", string(r.Family())).
		Str("origin", string(h.Origin))
}
