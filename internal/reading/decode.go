package reading

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/guregu/null"
)

// Record layout shared by the live stream, log dumps and the SD-card CSV:
// timestamp,device_id,sensor_name,channel,pin,rom,value1,value2,status,humidity,pressure,gas
const (
	fieldTimestamp = iota
	fieldDevice
	fieldSensor
	fieldChannel
	fieldPin
	fieldROM
	fieldValue1
	fieldValue2
	fieldStatus
	fieldHumidity
	fieldPressure
	fieldGas

	recordFields
)

const (
	minHeaderFields      = fieldChannel + 1
	minTemperatureFields = fieldStatus + 1
	minLevelFields       = fieldStatus + 1
	minEnvironmentFields = recordFields
)

// EnvironmentSensor is the sensor name the device gives its environment sensor.
const EnvironmentSensor = "ATM01"

// ChannelLevel tags level switch records.
const ChannelLevel = "L"

// LocalLayout is the layout of a naive device timestamp.
const LocalLayout = "2006-01-02T15:04:05"

var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`)

// Reject names why a line was not decoded. The empty Reject means success.
type Reject string

const (
	RejectEmpty     Reject = "empty line"
	RejectTimestamp Reject = "no leading timestamp"
	RejectShort     Reject = "too few fields"
	RejectNumber    Reject = "malformed number"
	RejectChannel   Reject = "unknown channel"
)

// Result is the outcome of decoding one line: either a Reading or a Reject.
type Result struct {
	Reading Reading
	Reject  Reject
}

// OK reports whether the line produced a reading.
func (r Result) OK() bool { return r.Reading != nil }

func rejected(why Reject) Result { return Result{Reject: why} }

// Decode turns one raw line into a typed reading. It never panics; any
// malformed input yields a Result with a Reject reason.
func Decode(line string, origin Origin) Result {
	line = strings.TrimSpace(line)
	if line == "" {
		return rejected(RejectEmpty)
	}
	return DecodeFields(strings.Split(line, ","), origin)
}

// DecodeFields decodes an already split record (for example a CSV row).
func DecodeFields(parts []string, origin Origin) Result {
	if len(parts) == 0 {
		return rejected(RejectEmpty)
	}
	ts := timestampPattern.FindString(strings.TrimSpace(parts[fieldTimestamp]))
	if ts == "" {
		return rejected(RejectTimestamp)
	}
	if len(parts) < minHeaderFields {
		return rejected(RejectShort)
	}
	field := func(i int) string { return strings.TrimSpace(parts[i]) }

	meta := Meta{
		DeviceID:   field(fieldDevice),
		SensorName: field(fieldSensor),
		Local:      ts,
		Origin:     origin,
	}
	channel := field(fieldChannel)

	switch {
	case channel == string(BusA) || channel == string(BusB):
		return decodeTemperature(meta, Bus(channel), parts, field)
	case meta.SensorName == EnvironmentSensor && len(parts) >= minEnvironmentFields:
		return decodeEnvironment(meta, field)
	case channel == ChannelLevel:
		return decodeLevel(meta, parts, field)
	case meta.SensorName == EnvironmentSensor:
		return rejected(RejectShort)
	default:
		return rejected(RejectChannel)
	}
}

func decodeTemperature(meta Meta, bus Bus, parts []string, field func(int) string) Result {
	if len(parts) < minTemperatureFields {
		return rejected(RejectShort)
	}
	pin, err := strconv.Atoi(field(fieldPin))
	if err != nil {
		return rejected(RejectNumber)
	}
	raw, ok := optionalFloat(field(fieldValue1))
	if !ok {
		return rejected(RejectNumber)
	}
	cal, ok := optionalFloat(field(fieldValue2))
	if !ok {
		return rejected(RejectNumber)
	}
	return Result{Reading: &TemperatureReading{
		Meta:       meta,
		Bus:        bus,
		Pin:        pin,
		ROM:        field(fieldROM),
		Raw:        raw,
		Calibrated: cal,
		Status:     field(fieldStatus),
	}}
}

func decodeEnvironment(meta Meta, field func(int) string) Result {
	var vals [4]float64
	for i, idx := range []int{fieldValue1, fieldHumidity, fieldPressure, fieldGas} {
		v, ok := parseFinite(field(idx))
		if !ok {
			return rejected(RejectNumber)
		}
		vals[i] = v
	}
	return Result{Reading: &EnvironmentReading{
		Meta:          meta,
		SensorType:    BME680,
		Temperature:   vals[0],
		Humidity:      vals[1],
		Pressure:      vals[2],
		GasResistance: vals[3],
	}}
}

func decodeLevel(meta Meta, parts []string, field func(int) string) Result {
	if len(parts) < minLevelFields {
		return rejected(RejectShort)
	}
	pin, err := strconv.Atoi(field(fieldPin))
	if err != nil {
		return rejected(RejectNumber)
	}
	return Result{Reading: &LevelReading{
		Meta:  meta,
		Pin:   pin,
		State: ParseLevelState(field(fieldStatus)),
	}}
}

// optionalFloat parses a probe value. "null" and the empty field are absent.
func optionalFloat(s string) (null.Float, bool) {
	if s == "" || s == "null" {
		return null.Float{}, true
	}
	v, ok := parseFinite(s)
	if !ok {
		return null.Float{}, false
	}
	return null.FloatFrom(v), true
}

// parseFinite rejects NaN and infinities along with malformed numbers.
func parseFinite(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
