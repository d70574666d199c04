// Package store is the reconciliation store adapter: watermark and
// existence queries plus paged inserts into the three reading tables.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"telemetry-sync/internal/dedup"
	"telemetry-sync/internal/reading"
)

// ErrUnavailable wraps every failure talking to the database, timeouts
// included. Callers treat it as retryable.
var ErrUnavailable = errors.New("store unavailable")

const DefaultTimeout = 10 * time.Second

type Config struct {
	Driver  string
	DSN     string
	Timeout time.Duration
	SiteID  string
}

// Store wraps one database connection. Calls are made serially by the
// pipeline; every call is bounded by the configured timeout.
type Store struct {
	orm     *gorm.DB
	timeout time.Duration
	siteID  string
}

var tsColumn = clause.Column{Name: "timestamp"}

// Open connects and runs migrations.
func Open(cfg Config) (*Store, error) {
	g, err := openORM(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, unavailable("open", err)
	}
	if err := migrateORM(g); err != nil {
		_ = closeORM(g)
		return nil, unavailable("migrate", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Store{orm: g, timeout: timeout, siteID: cfg.SiteID}, nil
}

func (s *Store) Close() error { return closeORM(s.orm) }

func (s *Store) call(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	return s.orm.WithContext(ctx), cancel
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// LatestTimestamps returns, per device, the most recent instant stored in
// any of the three tables.
func (s *Store) LatestTimestamps(ctx context.Context) (map[string]time.Time, error) {
	db, cancel := s.call(ctx)
	defer cancel()

	out := make(map[string]time.Time)
	for _, f := range reading.Families {
		m, err := modelFor(f)
		if err != nil {
			return nil, err
		}
		var devices []string
		if err := db.Model(m).Distinct().Pluck("device_id", &devices).Error; err != nil {
			return nil, unavailable("list devices", err)
		}
		for _, dev := range devices {
			var latest []time.Time
			err := db.Model(m).
				Where("device_id = ?", dev).
				Order(clause.OrderByColumn{Column: tsColumn, Desc: true}).
				Limit(1).
				Pluck("timestamp", &latest).Error
			if err != nil {
				return nil, unavailable("latest timestamp", err)
			}
			if len(latest) == 1 && latest[0].After(out[dev]) {
				out[dev] = latest[0].UTC()
			}
		}
	}
	return out, nil
}

type keyRow struct {
	Timestamp  time.Time
	SensorName string
}

// ExistingKeys fetches every (timestamp, sensor) key of family f within rg,
// inclusive, in a single query.
func (s *Store) ExistingKeys(ctx context.Context, f reading.Family, rg dedup.Range) (dedup.KeySet, error) {
	m, err := modelFor(f)
	if err != nil {
		return nil, err
	}
	db, cancel := s.call(ctx)
	defer cancel()

	var rows []keyRow
	err = db.Model(m).
		Select("timestamp", "sensor_name").
		Where(clause.Gte{Column: tsColumn, Value: rg.From.UTC()}).
		Where(clause.Lte{Column: tsColumn, Value: rg.To.UTC()}).
		Find(&rows).Error
	if err != nil {
		return nil, unavailable(fmt.Sprintf("existing %s keys", f), err)
	}
	set := make(dedup.KeySet, len(rows))
	for _, r := range rows {
		set.Add(dedup.KeyOf(r.Timestamp, r.SensorName))
	}
	return set, nil
}

// InsertReadings writes one page of readings of family f in a single
// transaction.
func (s *Store) InsertReadings(ctx context.Context, f reading.Family, rs []reading.Reading) error {
	if len(rs) == 0 {
		return nil
	}
	rows, err := s.rowsFor(f, rs)
	if err != nil {
		return err
	}
	db, cancel := s.call(ctx)
	defer cancel()
	err = db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(rows).Error
	})
	if err != nil {
		return unavailable(fmt.Sprintf("insert %d %s rows", len(rs), f), err)
	}
	return nil
}

// SubmitBatch writes every reading of one instant in a single transaction.
func (s *Store) SubmitBatch(ctx context.Context, b *reading.Batch) error {
	groups := reading.ByFamily(b.Readings())
	pages := make(map[reading.Family]any, len(groups))
	for f, rs := range groups {
		rows, err := s.rowsFor(f, rs)
		if err != nil {
			return err
		}
		pages[f] = rows
	}

	db, cancel := s.call(ctx)
	defer cancel()
	err := db.Transaction(func(tx *gorm.DB) error {
		for _, f := range reading.Families {
			rows, ok := pages[f]
			if !ok {
				continue
			}
			if err := tx.Create(rows).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return unavailable(fmt.Sprintf("insert batch %s@%s", b.DeviceID(), b.Local()), err)
	}
	return nil
}

// Count returns the number of rows stored for family f.
func (s *Store) Count(ctx context.Context, f reading.Family) (int64, error) {
	m, err := modelFor(f)
	if err != nil {
		return 0, err
	}
	db, cancel := s.call(ctx)
	defer cancel()
	var n int64
	if err := db.Model(m).Count(&n).Error; err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}
