package dedup

import (
	"time"

	"telemetry-sync/internal/reading"
)

// Key identifies a persisted row within one family's table.
type Key struct {
	At     int64
	Sensor string
}

// KeyOf builds the existence key for an instant and sensor. Instants are
// compared at one-second resolution, the device's clock resolution.
func KeyOf(at time.Time, sensor string) Key {
	return Key{At: at.Unix(), Sensor: sensor}
}

// KeyFor builds the existence key of a normalized reading.
func KeyFor(r reading.Reading) Key {
	h := r.Header()
	return KeyOf(h.At, h.SensorName)
}

// KeySet is the set of keys present in one table.
type KeySet map[Key]struct{}

func (s KeySet) Has(k Key) bool {
	_, ok := s[k]
	return ok
}

func (s KeySet) Add(k Key) { s[k] = struct{}{} }

// Admit reports whether k is absent and records it, so a key repeated in
// the same input is admitted only once.
func (s KeySet) Admit(k Key) bool {
	if s.Has(k) {
		return false
	}
	s.Add(k)
	return true
}

// Range is an inclusive span of instants.
type Range struct {
	From, To time.Time
}

// Span returns the inclusive range of normalized instants in rs. ok is
// false when rs is empty.
func Span(rs []reading.Reading) (rg Range, ok bool) {
	for _, r := range rs {
		at := r.Header().At
		if !ok {
			rg = Range{From: at, To: at}
			ok = true
			continue
		}
		if at.Before(rg.From) {
			rg.From = at
		}
		if at.After(rg.To) {
			rg.To = at
		}
	}
	return rg, ok
}

// Partition splits rs into rows absent from set and rows already present.
// Admitted keys are added to set.
func Partition(rs []reading.Reading, set KeySet) (admitted, skipped []reading.Reading) {
	for _, r := range rs {
		if set.Admit(KeyFor(r)) {
			admitted = append(admitted, r)
		} else {
			skipped = append(skipped, r)
		}
	}
	return admitted, skipped
}
