package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"telemetry-sync/internal/dedup"
	"telemetry-sync/internal/reading"
	"telemetry-sync/internal/source"
)

func (p *Pipeline) enterStreaming() error {
	if err := p.transition(StateStreaming); err != nil {
		return err
	}
	if p.wm == nil {
		p.wm = dedup.NewWatermark(nil)
	}
	return nil
}

// Stream pulls live lines until the source ends or ctx is cancelled.
// Readings of one instant are committed together; the watermark advances
// only after the sink confirms the write. Rejected lines, stale batches
// and failed commits are logged and dropped.
func (p *Pipeline) Stream(ctx context.Context, src source.LineSource) (Summary, error) {
	sum := newSummary(p.runID, "stream")
	if err := p.enterStreaming(); err != nil {
		return sum, err
	}
	defer func() { p.finish(sum) }()

	var asm reading.Assembler
	lastLine := time.Now()
	flush := func(ctx context.Context) {
		if b := asm.Flush(); b != nil {
			p.admitBatch(ctx, b, &sum)
		}
	}

	for {
		line, err := src.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, source.ErrLineTooLong):
			sum.Lines++
			sum.Rejected++
			p.log.Warn().Err(err).Msg("reject")
			continue
		case errors.Is(err, source.ErrStalled):
			if asm.Pending() && time.Since(lastLine) >= p.cfg.FlushIdle {
				flush(ctx)
			}
			continue
		case errors.Is(err, io.EOF):
			flush(ctx)
			return sum, nil
		case ctx.Err() != nil:
			// Stop pulling, but do not lose the instant already read.
			flush(context.WithoutCancel(ctx))
			p.log.Info().Msg("stream stopped")
			return sum, nil
		default:
			flush(ctx)
			return sum, fmt.Errorf("read line: %w", err)
		}
		lastLine = time.Now()
		sum.Lines++

		if strings.HasPrefix(strings.TrimSpace(line), reading.UploadPrefix) {
			flush(ctx)
			b, err := reading.DecodeUpload(line, reading.OriginLive)
			if err != nil {
				sum.Rejected++
				p.log.Warn().Err(err).Msg("reject upload line")
				continue
			}
			b.SetDefaultDevice(p.cfg.DefaultDeviceID)
			p.admitBatch(ctx, b, &sum)
			continue
		}

		res := reading.Decode(line, reading.OriginLive)
		if !res.OK() {
			sum.Rejected++
			p.log.Debug().Str("reason", string(res.Reject)).Str("line", line).Msg("reject")
			continue
		}
		p.fillDefaults(res.Reading)
		if done := asm.Push(res.Reading); done != nil {
			p.admitBatch(ctx, done, &sum)
		}
	}
}

// Replay runs a recovered log dump through the watermark path. Lines are
// grouped into batches and replayed in timestamp order, so a dump captured
// out of order still converges.
func (p *Pipeline) Replay(ctx context.Context, src source.LineSource) (Summary, error) {
	sum := newSummary(p.runID, "replay")
	if err := p.enterStreaming(); err != nil {
		return sum, err
	}
	defer func() { p.finish(sum) }()

	var rs []reading.Reading
	for {
		line, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sum, fmt.Errorf("read log dump: %w", err)
		}
		sum.Lines++
		res := reading.Decode(line, reading.OriginRecoveredLog)
		if !res.OK() {
			sum.Rejected++
			p.log.Debug().Str("reason", string(res.Reject)).Str("line", line).Msg("reject")
			continue
		}
		p.fillDefaults(res.Reading)
		rs = append(rs, res.Reading)
	}

	batches := reading.Group(rs)
	ready := batches[:0]
	for _, b := range batches {
		at, err := p.normalize(b.Local())
		if err != nil {
			p.rejectBatch(b, err, &sum)
			continue
		}
		b.SetTime(at)
		ready = append(ready, b)
	}
	reading.SortBatches(ready)

	for _, b := range ready {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		p.admitBatch(ctx, b, &sum)
	}
	return sum, nil
}

func (p *Pipeline) rejectBatch(b *reading.Batch, err error, sum *Summary) {
	sum.Rejected += b.Len() + len(b.Superseded())
	p.log.Warn().Err(err).
		Str("ts", b.Local()).
		Str("device_id", b.DeviceID()).
		Str("origin", string(b.Origin())).
		Int("readings", b.Len()).
		Msg("reject batch")
}

// admitBatch is the streaming unit: normalize, watermark check, commit,
// advance. Readings of the batch are admitted individually, so a batch
// that repeats part of an instant already committed still carries its new
// readings through.
func (p *Pipeline) admitBatch(ctx context.Context, b *reading.Batch, sum *Summary) {
	sum.Batches++
	if b.At().IsZero() {
		at, err := p.normalize(b.Local())
		if err != nil {
			p.rejectBatch(b, err, sum)
			return
		}
		b.SetTime(at)
	}

	dev := b.DeviceID()
	for _, r := range b.Superseded() {
		sum.family(r.Family()).Skipped++
		event(p.log.Info(), r).Str("reason", "superseded at the same instant").Msg("skip")
	}

	mark := p.wm.Get(dev)
	admitted := b.Filter(func(r reading.Reading) bool {
		if p.wm.Admit(dev, r) {
			return true
		}
		sum.family(r.Family()).Skipped++
		event(p.log.Info(), r).
			Str("reason", "not after watermark").
			Time("watermark", mark).
			Msg("skip")
		return false
	})
	if admitted == nil {
		return
	}

	if err := p.deps.Committer.CommitBatch(ctx, admitted); err != nil {
		for _, r := range admitted.Readings() {
			sum.family(r.Family()).Failed++
			event(p.log.Error(), r).Err(err).Str("reason", "commit failed").Msg("failure")
		}
		return
	}
	committed := admitted.Readings()
	p.wm.Advance(dev, admitted.At(), committed...)
	for _, r := range committed {
		sum.family(r.Family()).Inserted++
		event(p.log.Info(), r).Time("at", admitted.At()).Msg("accept")
	}
}
