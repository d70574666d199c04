package tasks

import (
	"context"
	"fmt"
	"io"
	"os"

	"telemetry-sync/internal/commit"
	"telemetry-sync/internal/config"
	"telemetry-sync/internal/logger"
	"telemetry-sync/internal/pipeline"
	"telemetry-sync/internal/source"
	"telemetry-sync/internal/store"
	"telemetry-sync/internal/tzrule"
	"telemetry-sync/internal/upload"
)

// Options defines overrides applied on top of the YAML configuration.
// Mirrors the CLI flags shared by the cmd binaries.
type Options struct {
	ConfigPath string
	Driver     string
	DSN        string
	SerialPort string
	// Input is a file to read instead of the serial port; "-" is stdin.
	Input    string
	Sink     string
	Timezone string
	PageSize int
	LogLevel string
}

// LoadConfig loads the YAML config and applies opts.
func LoadConfig(opts Options) (config.Config, error) {
	cfg, err := config.LoadYAML(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.Driver != "" {
		cfg.Store.Driver = opts.Driver
	}
	if opts.DSN != "" {
		cfg.Store.DSN = opts.DSN
	}
	if opts.SerialPort != "" {
		cfg.Serial.Port = opts.SerialPort
	}
	if opts.Sink != "" {
		cfg.Stream.Sink = opts.Sink
	}
	if opts.Timezone != "" {
		cfg.Timezone = opts.Timezone
	}
	if opts.PageSize > 0 {
		cfg.Store.PageSize = opts.PageSize
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

type runtime struct {
	cfg   config.Config
	log   *logger.Logger
	store *store.Store
	pipe  *pipeline.Pipeline
}

func (r *runtime) close() {
	if err := r.store.Close(); err != nil {
		r.log.Warn().Err(err).Msg("close store")
	}
}

func setup(opts Options) (*runtime, error) {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log := logger.New(cfg.Logging).WithFields(map[string]interface{}{
		"site_id": cfg.SiteID,
	})

	norm, err := tzrule.New(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	st, err := store.Open(store.Config{
		Driver:  cfg.Store.Driver,
		DSN:     cfg.Store.DSN,
		Timeout: cfg.Store.Timeout,
		SiteID:  cfg.SiteID,
	})
	if err != nil {
		return nil, err
	}

	var sink commit.BatchSink = st
	if cfg.Stream.Sink == config.SinkUpload {
		client := upload.NewClient(upload.Config{
			URL:     cfg.Upload.URL,
			APIKey:  cfg.Upload.APIKey,
			SiteID:  cfg.SiteID,
			Timeout: cfg.Upload.Timeout,
		})
		// Uploaded batches are mirrored into the store, which is where the
		// next run syncs its watermark from.
		sink = commit.NewMirrorSink(client, st, log)
	}
	eng := commit.NewEngine(st, sink, commit.Config{
		PageSize: cfg.Store.PageSize,
		Retry: commit.RetryPolicy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
		},
	}, log)

	pipe, err := pipeline.New(pipeline.Config{
		Normalizer:      norm,
		DefaultDeviceID: cfg.DefaultDeviceID,
		FlushIdle:       cfg.Stream.FlushIdle,
	}, pipeline.Deps{Watermarks: st, Keys: st, Committer: eng}, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	log.Info().
		Str("run_id", pipe.RunID()).
		Str("driver", cfg.Store.Driver).
		Str("sink", cfg.Stream.Sink).
		Str("timezone", cfg.Timezone).
		Msg("pipeline ready")
	return &runtime{cfg: cfg, log: log, store: st, pipe: pipe}, nil
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "" {
		return nil, pipeline.ErrNoInput
	}
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrNoInput, err)
	}
	return f, nil
}

// RunStream syncs the watermark and streams live lines from the serial
// port, or from opts.Input when set, until the source ends or ctx is done.
func RunStream(ctx context.Context, opts Options) (pipeline.Summary, error) {
	rt, err := setup(opts)
	if err != nil {
		return pipeline.Summary{}, err
	}
	defer rt.close()

	var src source.LineSource
	if opts.Input != "" {
		in, err := openInput(opts.Input)
		if err != nil {
			return pipeline.Summary{}, err
		}
		defer in.Close()
		src = source.NewReaderSource(in)
	} else {
		if rt.cfg.Serial.Port == "" {
			return pipeline.Summary{}, fmt.Errorf("%w: no serial port configured", pipeline.ErrNoInput)
		}
		port, err := source.OpenSerial(source.SerialParams{
			Address:  rt.cfg.Serial.Port,
			BaudRate: rt.cfg.Serial.BaudRate,
			Timeout:  rt.cfg.Serial.ReadTimeout,
		})
		if err != nil {
			return pipeline.Summary{}, fmt.Errorf("open serial %s: %w", rt.cfg.Serial.Port, err)
		}
		defer port.Close()
		rt.log.Info().Str("port", rt.cfg.Serial.Port).Int("baud", rt.cfg.Serial.BaudRate).Msg("serial connected")
		src = port
	}

	if err := rt.pipe.SyncWatermark(ctx); err != nil {
		return pipeline.Summary{}, err
	}
	return rt.pipe.Stream(ctx, src)
}

// RunBackfill imports the CSV dump named by opts.Input.
func RunBackfill(ctx context.Context, opts Options) (pipeline.Summary, error) {
	if opts.Input == "" {
		return pipeline.Summary{}, fmt.Errorf("%w: no dump file given", pipeline.ErrNoInput)
	}
	rt, err := setup(opts)
	if err != nil {
		return pipeline.Summary{}, err
	}
	defer rt.close()
	return rt.pipe.BulkImportFile(ctx, opts.Input)
}

// RunRecover replays the console log dump named by opts.Input through the
// watermark path.
func RunRecover(ctx context.Context, opts Options) (pipeline.Summary, error) {
	in, err := openInput(opts.Input)
	if err != nil {
		return pipeline.Summary{}, err
	}
	defer in.Close()

	rt, err := setup(opts)
	if err != nil {
		return pipeline.Summary{}, err
	}
	defer rt.close()

	if err := rt.pipe.SyncWatermark(ctx); err != nil {
		return pipeline.Summary{}, err
	}
	return rt.pipe.Replay(ctx, source.NewLogDumpSource(in))
}
