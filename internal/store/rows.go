package store

import (
	"fmt"

	"telemetry-sync/internal/model"
	"telemetry-sync/internal/reading"
)

func modelFor(f reading.Family) (any, error) {
	switch f {
	case reading.FamilyTemperature:
		return &model.TemperatureReading{}, nil
	case reading.FamilyLevel:
		return &model.LevelSensorReading{}, nil
	case reading.FamilyEnvironment:
		return &model.EnvironmentReading{}, nil
	default:
		return nil, fmt.Errorf("unknown reading family %q", f)
	}
}

// rowsFor converts readings of one family into a slice of that family's
// row model, ready for a single Create call.
func (s *Store) rowsFor(f reading.Family, rs []reading.Reading) (any, error) {
	switch f {
	case reading.FamilyTemperature:
		out := make([]model.TemperatureReading, 0, len(rs))
		for _, r := range rs {
			t, ok := r.(*reading.TemperatureReading)
			if !ok {
				return nil, fmt.Errorf("%T in temperature page", r)
			}
			out = append(out, model.TemperatureReading{
				Timestamp:  t.At.UTC(),
				SiteID:     s.siteID,
				DeviceID:   t.DeviceID,
				SensorName: t.SensorName,
				Bus:        string(t.Bus),
				Pin:        t.Pin,
				ROM:        t.ROM,
				RawTempC:   t.Raw,
				TempC:      t.Calibrated,
				Status:     t.Status,
			})
		}
		return &out, nil
	case reading.FamilyLevel:
		out := make([]model.LevelSensorReading, 0, len(rs))
		for _, r := range rs {
			l, ok := r.(*reading.LevelReading)
			if !ok {
				return nil, fmt.Errorf("%T in level page", r)
			}
			out = append(out, model.LevelSensorReading{
				Timestamp:  l.At.UTC(),
				SiteID:     s.siteID,
				DeviceID:   l.DeviceID,
				SensorName: l.SensorName,
				Pin:        l.Pin,
				State:      string(l.State),
			})
		}
		return &out, nil
	case reading.FamilyEnvironment:
		out := make([]model.EnvironmentReading, 0, len(rs))
		for _, r := range rs {
			e, ok := r.(*reading.EnvironmentReading)
			if !ok {
				return nil, fmt.Errorf("%T in environment page", r)
			}
			out = append(out, model.EnvironmentReading{
				Timestamp:         e.At.UTC(),
				SiteID:            s.siteID,
				DeviceID:          e.DeviceID,
				SensorName:        e.SensorName,
				SensorType:        e.SensorType,
				TempC:             e.Temperature,
				Humidity:          e.Humidity,
				PressureHPa:       e.Pressure,
				GasResistanceOhms: e.GasResistance,
			})
		}
		return &out, nil
	default:
		return nil, fmt.Errorf("unknown reading family %q", f)
	}
}
