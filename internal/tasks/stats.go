package tasks

import (
	"context"
	"time"

	"telemetry-sync/internal/logger"
	"telemetry-sync/internal/reading"
	"telemetry-sync/internal/store"
)

// Stats is a snapshot of what the store holds: rows per family and the
// watermark a streaming run would start from.
type Stats struct {
	Rows   map[reading.Family]int64 `json:"rows"`
	Latest map[string]time.Time     `json:"latest"`
}

// RunStats opens the configured store and reports its contents.
func RunStats(ctx context.Context, opts Options) (Stats, error) {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return Stats{}, err
	}
	log := logger.New(cfg.Logging).WithComponent("stats")

	st, err := store.Open(store.Config{
		Driver:  cfg.Store.Driver,
		DSN:     cfg.Store.DSN,
		Timeout: cfg.Store.Timeout,
		SiteID:  cfg.SiteID,
	})
	if err != nil {
		return Stats{}, err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	}()

	out := Stats{Rows: make(map[reading.Family]int64, len(reading.Families))}
	for _, f := range reading.Families {
		n, err := st.Count(ctx, f)
		if err != nil {
			return Stats{}, err
		}
		out.Rows[f] = n
	}
	if out.Latest, err = st.LatestTimestamps(ctx); err != nil {
		return Stats{}, err
	}
	return out, nil
}
