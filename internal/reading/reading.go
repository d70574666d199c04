package reading

import (
	"strings"
	"time"

	"github.com/guregu/null"
)

// Family selects the table a reading is persisted to. Each family is an
// independent keyspace for deduplication.
type Family string

const (
	FamilyTemperature Family = "temperature"
	FamilyLevel       Family = "level"
	FamilyEnvironment Family = "environment"
)

// Families lists every family in commit order.
var Families = []Family{FamilyTemperature, FamilyLevel, FamilyEnvironment}

// Origin records where a reading came from. Diagnostics only.
type Origin string

const (
	OriginLive         Origin = "live"
	OriginRecoveredLog Origin = "recovered-log"
	OriginBulkDump     Origin = "bulk-dump"
)

// Bus is the one-wire bus a temperature probe hangs off.
type Bus string

const (
	BusA Bus = "A"
	BusB Bus = "B"
)

// LevelState is the discrete state reported by a level switch.
type LevelState string

const (
	LevelOn      LevelState = "ON"
	LevelOff     LevelState = "OFF"
	LevelUnknown LevelState = "NONE"
)

// ParseLevelState maps the device token onto a LevelState. Tokens other
// than on/off are kept verbatim (upper-cased) so nothing the device says is lost.
func ParseLevelState(s string) LevelState {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "":
		return LevelUnknown
	case "ON", "HIGH", "1":
		return LevelOn
	case "OFF", "LOW", "0":
		return LevelOff
	default:
		return LevelState(s)
	}
}

// BME680 is the sensor type tag attached to every environment reading.
const BME680 = "BME680"

// Meta is shared by every reading variant.
type Meta struct {
	DeviceID   string
	SensorName string
	// Local is the naive device timestamp, YYYY-MM-DDTHH:MM:SS, no offset.
	Local string
	// At is the offset-qualified instant; zero until normalized.
	At     time.Time
	Origin Origin
}

// Reading is implemented by TemperatureReading, EnvironmentReading and LevelReading.
type Reading interface {
	Header() *Meta
	Family() Family
}

// TemperatureReading is one probe on bus A or B. Raw and Calibrated are
// invalid when the device reported "null".
type TemperatureReading struct {
	Meta
	Bus        Bus
	Pin        int
	ROM        string
	Raw        null.Float
	Calibrated null.Float
	Status     string
}

func (r *TemperatureReading) Header() *Meta  { return &r.Meta }
func (r *TemperatureReading) Family() Family { return FamilyTemperature }

// EnvironmentReading is the combined temperature/humidity/pressure/gas sensor.
type EnvironmentReading struct {
	Meta
	SensorType    string
	Temperature   float64
	Humidity      float64
	Pressure      float64
	GasResistance float64
}

func (r *EnvironmentReading) Header() *Meta  { return &r.Meta }
func (r *EnvironmentReading) Family() Family { return FamilyEnvironment }

// LevelReading is a discrete level switch.
type LevelReading struct {
	Meta
	Pin   int
	State LevelState
}

func (r *LevelReading) Header() *Meta  { return &r.Meta }
func (r *LevelReading) Family() Family { return FamilyLevel }

// SetTime stores the normalized instant on r.
func SetTime(r Reading, at time.Time) { r.Header().At = at }

// ByFamily splits rs into one slice per family, preserving order.
func ByFamily(rs []Reading) map[Family][]Reading {
	out := make(map[Family][]Reading, len(Families))
	for _, r := range rs {
		f := r.Family()
		out[f] = append(out[f], r)
	}
	return out
}
