package model

import (
	"time"

	"github.com/guregu/null"
)

// TemperatureReading is one probe sample.
// Table: temperature_readings
type TemperatureReading struct {
	ID         uint       `gorm:"column:id;primaryKey;autoIncrement"`
	Timestamp  time.Time  `gorm:"column:timestamp;not null;index:idx_temperature_ts_sensor"`
	SiteID     string     `gorm:"column:site_id"`
	DeviceID   string     `gorm:"column:device_id;index"`
	SensorName string     `gorm:"column:sensor_name;not null;size:64;index:idx_temperature_ts_sensor"`
	Bus        string     `gorm:"column:bus;size:8"`
	Pin        int        `gorm:"column:pin"`
	ROM        string     `gorm:"column:rom"`
	RawTempC   null.Float `gorm:"column:raw_temp_c;type:double precision"`
	TempC      null.Float `gorm:"column:temp_c;type:double precision"`
	Status     string     `gorm:"column:status"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (TemperatureReading) TableName() string { return "temperature_readings" }

// LevelSensorReading is one level switch sample.
// Table: level_sensor_readings
type LevelSensorReading struct {
	ID         uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Timestamp  time.Time `gorm:"column:timestamp;not null;index:idx_level_ts_sensor"`
	SiteID     string    `gorm:"column:site_id"`
	DeviceID   string    `gorm:"column:device_id;index"`
	SensorName string    `gorm:"column:sensor_name;not null;size:64;index:idx_level_ts_sensor"`
	Pin        int       `gorm:"column:pin"`
	State      string    `gorm:"column:state;size:16"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (LevelSensorReading) TableName() string { return "level_sensor_readings" }

// EnvironmentReading is one combined environment sensor sample.
// Table: environment_readings
type EnvironmentReading struct {
	ID                uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Timestamp         time.Time `gorm:"column:timestamp;not null;index:idx_environment_ts_sensor"`
	SiteID            string    `gorm:"column:site_id"`
	DeviceID          string    `gorm:"column:device_id;index"`
	SensorName        string    `gorm:"column:sensor_name;not null;size:64;index:idx_environment_ts_sensor"`
	SensorType        string    `gorm:"column:sensor_type;size:32"`
	TempC             float64   `gorm:"column:temp_c"`
	Humidity          float64   `gorm:"column:humidity"`
	PressureHPa       float64   `gorm:"column:pressure_hpa"`
	GasResistanceOhms float64   `gorm:"column:gas_resistance_ohms"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (EnvironmentReading) TableName() string { return "environment_readings" }

// All returns every model for migration.
func All() []any {
	return []any{&TemperatureReading{}, &LevelSensorReading{}, &EnvironmentReading{}}
}
