package commit

import (
	"context"

	"telemetry-sync/internal/logger"
	"telemetry-sync/internal/reading"
)

// MirrorSink submits each batch to a primary sink and, once the primary
// confirms it, records the batch in a local mirror. The live uploader uses
// the store as its mirror so a restart can sync the watermark from what was
// actually uploaded.
type MirrorSink struct {
	primary BatchSink
	mirror  BatchSink
	log     *logger.Logger
}

func NewMirrorSink(primary, mirror BatchSink, log *logger.Logger) *MirrorSink {
	if log == nil {
		log = logger.Nop()
	}
	return &MirrorSink{primary: primary, mirror: mirror, log: log.WithComponent("mirror")}
}

// SubmitBatch reports the primary's result only. A mirror failure after a
// confirmed submission is logged: the batch is delivered, but a restart may
// deliver it again.
func (m *MirrorSink) SubmitBatch(ctx context.Context, b *reading.Batch) error {
	if err := m.primary.SubmitBatch(ctx, b); err != nil {
		return err
	}
	if err := m.mirror.SubmitBatch(context.WithoutCancel(ctx), b); err != nil {
		m.log.Warn().Err(err).
			Str("device_id", b.DeviceID()).
			Str("ts", b.Local()).
			Int("readings", b.Len()).
			Msg("delivered batch not recorded locally")
	}
	return nil
}
