package reading

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/guregu/null"
)

// UploadPrefix marks a live line that carries a complete batch document.
const UploadPrefix = "JSON_UPLOAD:"

// Document is the JSON shape of one batch submitted to the upload transport.
type Document struct {
	SiteID            string           `json:"site_id"`
	DeviceID          string           `json:"device_id"`
	Timestamp         string           `json:"timestamp"`
	Readings          []TemperatureDoc `json:"readings"`
	EnvironmentSensor *EnvironmentDoc  `json:"environment_sensor,omitempty"`
	LevelSensor       *LevelDoc        `json:"level_sensor,omitempty"`
}

type TemperatureDoc struct {
	SensorName string     `json:"sensor_name"`
	Bus        string     `json:"bus"`
	Pin        int        `json:"pin"`
	ROM        string     `json:"rom"`
	RawTempC   null.Float `json:"raw_temp_c"`
	TempC      null.Float `json:"temp_c"`
	Status     string     `json:"status"`
}

type EnvironmentDoc struct {
	SensorName        string  `json:"sensor_name"`
	Type              string  `json:"type"`
	TempC             float64 `json:"temp_c"`
	Humidity          float64 `json:"humidity"`
	PressureHPa       float64 `json:"pressure_hpa"`
	GasResistanceOhms float64 `json:"gas_resistance_ohms"`
}

type LevelDoc struct {
	SensorName string `json:"sensor_name"`
	Pin        int    `json:"pin"`
	State      string `json:"state"`
}

// Document renders b for upload. The timestamp is the normalized instant;
// an unnormalized batch falls back to its naive timestamp.
func (b *Batch) Document(siteID string) Document {
	doc := Document{
		SiteID:    siteID,
		DeviceID:  b.deviceID,
		Timestamp: b.local,
		Readings:  make([]TemperatureDoc, 0, len(b.Temperatures)),
	}
	if !b.at.IsZero() {
		doc.Timestamp = b.at.Format(time.RFC3339)
	}
	for _, t := range b.Temperatures {
		doc.Readings = append(doc.Readings, TemperatureDoc{
			SensorName: t.SensorName,
			Bus:        string(t.Bus),
			Pin:        t.Pin,
			ROM:        t.ROM,
			RawTempC:   t.Raw,
			TempC:      t.Calibrated,
			Status:     t.Status,
		})
	}
	if e := b.Environment; e != nil {
		doc.EnvironmentSensor = &EnvironmentDoc{
			SensorName:        e.SensorName,
			Type:              e.SensorType,
			TempC:             e.Temperature,
			Humidity:          e.Humidity,
			PressureHPa:       e.Pressure,
			GasResistanceOhms: e.GasResistance,
		}
	}
	if l := b.Level; l != nil {
		doc.LevelSensor = &LevelDoc{SensorName: l.SensorName, Pin: l.Pin, State: string(l.State)}
	}
	return doc
}

// DecodeUpload parses a JSON_UPLOAD line emitted by the device. The
// document timestamp is the device's naive local time.
func DecodeUpload(line string, origin Origin) (*Batch, error) {
	raw := strings.TrimSpace(line)
	if !strings.HasPrefix(raw, UploadPrefix) {
		return nil, fmt.Errorf("missing %s prefix", UploadPrefix)
	}
	raw = strings.TrimPrefix(raw, UploadPrefix)

	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode upload document: %w", err)
	}
	ts := timestampPattern.FindString(strings.TrimSpace(doc.Timestamp))
	if ts == "" {
		return nil, fmt.Errorf("upload document timestamp %q: %s", doc.Timestamp, RejectTimestamp)
	}

	meta := func(sensor string) Meta {
		return Meta{DeviceID: doc.DeviceID, SensorName: sensor, Local: ts, Origin: origin}
	}
	var rs []Reading
	for _, t := range doc.Readings {
		bus := Bus(strings.TrimSpace(t.Bus))
		if bus != BusA && bus != BusB {
			return nil, fmt.Errorf("sensor %s: %s %q", t.SensorName, RejectChannel, t.Bus)
		}
		rs = append(rs, &TemperatureReading{
			Meta:       meta(t.SensorName),
			Bus:        bus,
			Pin:        t.Pin,
			ROM:        t.ROM,
			Raw:        t.RawTempC,
			Calibrated: t.TempC,
			Status:     t.Status,
		})
	}
	if l := doc.LevelSensor; l != nil {
		rs = append(rs, &LevelReading{Meta: meta(l.SensorName), Pin: l.Pin, State: ParseLevelState(l.State)})
	}
	if e := doc.EnvironmentSensor; e != nil {
		typ := e.Type
		if typ == "" {
			typ = BME680
		}
		rs = append(rs, &EnvironmentReading{
			Meta:          meta(e.SensorName),
			SensorType:    typ,
			Temperature:   e.TempC,
			Humidity:      e.Humidity,
			Pressure:      e.PressureHPa,
			GasResistance: e.GasResistanceOhms,
		})
	}
	if len(rs) == 0 {
		return nil, fmt.Errorf("upload document at %s carries no readings", ts)
	}

	b := NewBatch(rs[0])
	for _, r := range rs[1:] {
		b.put(r)
	}
	return b, nil
}
