package reading

import (
	"errors"
	"sort"
	"time"
)

// ErrBatchMismatch is returned when a reading does not share the batch's
// device and timestamp.
var ErrBatchMismatch = errors.New("reading does not belong to batch")

// Batch collects the readings a device emitted for one instant: any number
// of temperature probes plus at most one environment and one level reading.
// Device and timestamp are fixed by the first reading.
type Batch struct {
	deviceID string
	local    string
	at       time.Time
	origin   Origin

	Temperatures []*TemperatureReading
	Environment  *EnvironmentReading
	Level        *LevelReading

	// superseded holds environment and level readings replaced by a later
	// one of the same instant.
	superseded []Reading
}

// NewBatch starts a batch from its first reading.
func NewBatch(first Reading) *Batch {
	h := first.Header()
	b := &Batch{deviceID: h.DeviceID, local: h.Local, at: h.At, origin: h.Origin}
	b.put(first)
	return b
}

func (b *Batch) DeviceID() string { return b.deviceID }
func (b *Batch) Local() string    { return b.local }
func (b *Batch) At() time.Time    { return b.at }
func (b *Batch) Origin() Origin   { return b.origin }

// Accepts reports whether r belongs to the same device and instant.
func (b *Batch) Accepts(r Reading) bool {
	h := r.Header()
	return h.DeviceID == b.deviceID && h.Local == b.local
}

// Add appends r. A second environment or level reading for the same
// instant replaces the first, which is kept in Superseded.
func (b *Batch) Add(r Reading) error {
	if !b.Accepts(r) {
		return ErrBatchMismatch
	}
	b.put(r)
	return nil
}

func (b *Batch) put(r Reading) {
	switch v := r.(type) {
	case *TemperatureReading:
		b.Temperatures = append(b.Temperatures, v)
	case *EnvironmentReading:
		if b.Environment != nil {
			b.superseded = append(b.superseded, b.Environment)
		}
		b.Environment = v
	case *LevelReading:
		if b.Level != nil {
			b.superseded = append(b.superseded, b.Level)
		}
		b.Level = v
	}
}

// Superseded returns the readings dropped because a later reading of the
// same family replaced them at this instant.
func (b *Batch) Superseded() []Reading { return b.superseded }

// SetDefaultDevice assigns id to a batch that carries no device id.
func (b *Batch) SetDefaultDevice(id string) {
	if b.deviceID != "" {
		return
	}
	b.deviceID = id
	for _, r := range b.Readings() {
		r.Header().DeviceID = id
	}
	for _, r := range b.superseded {
		r.Header().DeviceID = id
	}
}

// Filter returns a batch of the same instant holding only the readings
// keep accepts, or nil when none are kept. Superseded readings are not
// carried over.
func (b *Batch) Filter(keep func(Reading) bool) *Batch {
	out := &Batch{deviceID: b.deviceID, local: b.local, at: b.at, origin: b.origin}
	for _, r := range b.Readings() {
		if keep(r) {
			out.put(r)
		}
	}
	if out.Len() == 0 {
		return nil
	}
	return out
}

// SetTime stores the normalized instant on the batch and every reading in it.
func (b *Batch) SetTime(at time.Time) {
	b.at = at
	for _, r := range b.Readings() {
		SetTime(r, at)
	}
}

// Readings returns every reading in the batch, temperatures first.
func (b *Batch) Readings() []Reading {
	out := make([]Reading, 0, b.Len())
	for _, t := range b.Temperatures {
		out = append(out, t)
	}
	if b.Level != nil {
		out = append(out, b.Level)
	}
	if b.Environment != nil {
		out = append(out, b.Environment)
	}
	return out
}

// Len is the number of readings in the batch.
func (b *Batch) Len() int {
	n := len(b.Temperatures)
	if b.Environment != nil {
		n++
	}
	if b.Level != nil {
		n++
	}
	return n
}

// Assembler groups a stream of readings into batches. Readings of one
// instant arrive back to back; a reading for another instant closes the
// pending batch.
type Assembler struct {
	pending *Batch
}

// Push adds r and returns the batch it completed, if any.
func (a *Assembler) Push(r Reading) *Batch {
	if a.pending == nil {
		a.pending = NewBatch(r)
		return nil
	}
	if a.pending.Accepts(r) {
		a.pending.put(r)
		return nil
	}
	done := a.pending
	a.pending = NewBatch(r)
	return done
}

// Flush returns the pending batch, if any, and resets the assembler.
func (a *Assembler) Flush() *Batch {
	done := a.pending
	a.pending = nil
	return done
}

// Pending reports whether a batch is being assembled.
func (a *Assembler) Pending() bool { return a.pending != nil }

// Group collects readings that may arrive in any order into one batch per
// (device, timestamp), ordered by timestamp then device.
func Group(rs []Reading) []*Batch {
	type key struct{ device, local string }
	index := make(map[key]*Batch)
	var out []*Batch
	for _, r := range rs {
		h := r.Header()
		k := key{h.DeviceID, h.Local}
		if b, ok := index[k]; ok {
			b.put(r)
			continue
		}
		b := NewBatch(r)
		index[k] = b
		out = append(out, b)
	}
	SortBatches(out)
	return out
}

// SortBatches orders batches by normalized instant when known, otherwise
// by the naive timestamp.
func SortBatches(bs []*Batch) {
	sort.SliceStable(bs, func(i, j int) bool {
		a, b := bs[i], bs[j]
		if !a.at.IsZero() && !b.at.IsZero() && !a.at.Equal(b.at) {
			return a.at.Before(b.at)
		}
		if a.local != b.local {
			return a.local < b.local
		}
		return a.deviceID < b.deviceID
	})
}
