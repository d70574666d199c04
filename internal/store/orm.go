package store

import (
	"database/sql"
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"telemetry-sync/internal/model"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// openORM opens a GORM connection for the given driver. SQLite goes
// through the pure-Go modernc driver; the pipeline uses one connection.
func openORM(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		if dsn == "" {
			dsn = "telemetry.sqlite"
		}
		sqlDB, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		g, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn, Conn: sqlDB}), cfg)
		if err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		return g, nil
	case DriverPostgres, "postgresql":
		g, err := gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := g.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		return g, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q (expected sqlite or postgres)", driver)
	}
}

// migrateORM ensures the three reading tables exist.
func migrateORM(db *gorm.DB) error {
	return db.AutoMigrate(model.All()...)
}

// closeORM closes the underlying SQL DB associated with the GORM connection.
func closeORM(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
