// Package dedup decides whether a reading is new relative to what the
// store already holds. Watermark is used while streaming; KeySet, Span and
// Partition are used by bulk import.
package dedup

import (
	"time"

	"telemetry-sync/internal/reading"
)

// Epoch is the fail-open watermark used when nothing is known about a device.
var Epoch = time.Unix(0, 0).UTC()

// frontierKey names one committed reading at the watermark instant.
type frontierKey struct {
	family reading.Family
	sensor string
}

// Watermark tracks, per device, the latest instant known to be persisted
// and which (family, sensor) readings were committed at exactly that
// instant. A reading at the watermark instant is still new when its key is
// not in that frontier, so one instant split over several commits never
// loses a sibling reading of another family or sensor. The instant only
// moves forward. A Watermark is owned by a single streaming loop and is not
// safe for concurrent use.
type Watermark struct {
	marks    map[string]time.Time
	frontier map[string]map[frontierKey]struct{}
}

// NewWatermark seeds a watermark from previously committed instants. The
// frontier starts empty; see Record.
func NewWatermark(initial map[string]time.Time) *Watermark {
	w := &Watermark{
		marks:    make(map[string]time.Time, len(initial)),
		frontier: make(map[string]map[frontierKey]struct{}),
	}
	for dev, at := range initial {
		w.Advance(dev, at)
	}
	return w
}

// Get returns the watermark for device, Epoch if unknown.
func (w *Watermark) Get(device string) time.Time {
	if at, ok := w.marks[device]; ok {
		return at
	}
	return Epoch
}

// Admit reports whether r is new for device: strictly after the watermark,
// or at the watermark instant with a key not yet committed there.
func (w *Watermark) Admit(device string, r reading.Reading) bool {
	at := r.Header().At
	mark := w.Get(device)
	if at.After(mark) {
		return true
	}
	if !at.Equal(mark) {
		return false
	}
	_, seen := w.frontier[device][keyOf(r)]
	return !seen
}

// Advance moves the device's watermark to at if that is later and records
// the committed readings at that instant. It reports whether the instant
// moved.
func (w *Watermark) Advance(device string, at time.Time, committed ...reading.Reading) bool {
	mark := w.Get(device)
	moved := at.After(mark)
	switch {
	case moved:
		w.marks[device] = at.UTC()
		w.frontier[device] = make(map[frontierKey]struct{}, len(committed))
	case !at.Equal(mark):
		return false
	}
	for _, r := range committed {
		w.Record(device, r.Family(), r.Header().SensorName, at)
	}
	return moved
}

// Record marks a (family, sensor) reading at instant at as committed. It
// is ignored unless at is the device's current watermark.
func (w *Watermark) Record(device string, f reading.Family, sensor string, at time.Time) {
	if !at.Equal(w.Get(device)) {
		return
	}
	set, ok := w.frontier[device]
	if !ok {
		set = make(map[frontierKey]struct{})
		w.frontier[device] = set
	}
	set[frontierKey{family: f, sensor: sensor}] = struct{}{}
}

// Snapshot copies the current per-device marks.
func (w *Watermark) Snapshot() map[string]time.Time {
	out := make(map[string]time.Time, len(w.marks))
	for k, v := range w.marks {
		out[k] = v
	}
	return out
}

func keyOf(r reading.Reading) frontierKey {
	return frontierKey{family: r.Family(), sensor: r.Header().SensorName}
}
