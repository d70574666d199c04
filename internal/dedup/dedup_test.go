package dedup

import (
	"testing"
	"time"

	"telemetry-sync/internal/reading"
)

var base = time.Date(2026, 2, 19, 13, 0, 0, 0, time.UTC)

func temp(sensor string, at time.Time) *reading.TemperatureReading {
	return &reading.TemperatureReading{Meta: reading.Meta{DeviceID: "dev1", SensorName: sensor, At: at}, Bus: reading.BusA}
}

func level(sensor string, at time.Time) *reading.LevelReading {
	return &reading.LevelReading{Meta: reading.Meta{DeviceID: "dev1", SensorName: sensor, At: at}}
}

func TestWatermarkUnknownDeviceIsEpoch(t *testing.T) {
	w := NewWatermark(nil)
	if got := w.Get("dev1"); !got.Equal(Epoch) {
		t.Fatalf("Get: got %v, want epoch", got)
	}
	if !w.Admit("dev1", temp("TD01", base)) {
		t.Fatalf("reading after epoch should be admitted")
	}
}

func TestWatermarkStrictlyGreater(t *testing.T) {
	w := NewWatermark(nil)
	w.Advance("dev1", base, temp("TD01", base))
	if w.Admit("dev1", temp("TD01", base)) {
		t.Errorf("committed key at the watermark must be rejected")
	}
	if w.Admit("dev1", temp("TD02", base.Add(-time.Second))) {
		t.Errorf("earlier timestamp must be rejected")
	}
	if !w.Admit("dev1", temp("TD01", base.Add(time.Second))) {
		t.Errorf("later timestamp must be admitted")
	}
	if !w.Admit("dev2", temp("TD01", base)) {
		t.Errorf("other device has its own watermark")
	}
}

func TestWatermarkInstantSplitAcrossCommits(t *testing.T) {
	w := NewWatermark(nil)
	w.Advance("dev1", base, temp("TD01", base))

	// The same instant arriving in a later commit: other family, other sensor.
	if !w.Admit("dev1", level("LL01", base)) {
		t.Errorf("level reading gated by a temperature commit at the same instant")
	}
	if !w.Admit("dev1", temp("TD02", base)) {
		t.Errorf("second temperature sensor gated by the first")
	}
	// A level key named like a temperature sensor is still its own key.
	if !w.Admit("dev1", level("TD01", base)) {
		t.Errorf("families must not share keys")
	}

	if w.Advance("dev1", base, level("LL01", base)) {
		t.Errorf("recording at the same instant must not report a move")
	}
	if w.Admit("dev1", level("LL01", base)) {
		t.Errorf("level reading committed at the watermark must be rejected")
	}

	// Moving on clears the frontier.
	next := base.Add(time.Minute)
	w.Advance("dev1", next, temp("TD01", next))
	if w.Admit("dev1", level("LL01", base)) {
		t.Errorf("readings before the watermark must be rejected")
	}
}

func TestWatermarkSeededFrontier(t *testing.T) {
	w := NewWatermark(map[string]time.Time{"dev1": base})
	if !w.Admit("dev1", temp("TD01", base)) {
		t.Errorf("unknown frontier must fail open")
	}
	w.Record("dev1", reading.FamilyTemperature, "TD01", base)
	w.Record("dev1", reading.FamilyTemperature, "TD09", base.Add(-time.Minute))
	if w.Admit("dev1", temp("TD01", base)) {
		t.Errorf("recorded key must be rejected")
	}
	if !w.Admit("dev1", temp("TD02", base)) {
		t.Errorf("unrecorded key at the watermark must be admitted")
	}
}

func TestWatermarkMonotonic(t *testing.T) {
	w := NewWatermark(nil)
	offsets := []int{5, 3, 9, 1, 9, 12, 0, 7}
	prev := w.Get("dev1")
	for _, off := range offsets {
		at := base.Add(time.Duration(off) * time.Minute)
		r := temp("TD01", at)
		if w.Admit("dev1", r) {
			w.Advance("dev1", at, r)
		}
		cur := w.Get("dev1")
		if cur.Before(prev) {
			t.Fatalf("watermark decreased from %v to %v", prev, cur)
		}
		prev = cur
	}
	if want := base.Add(12 * time.Minute); !prev.Equal(want) {
		t.Errorf("final watermark: got %v, want %v", prev, want)
	}
	if w.Advance("dev1", base) {
		t.Errorf("Advance to an earlier instant must not move the watermark")
	}
}

func TestWatermarkSnapshotIsCopy(t *testing.T) {
	w := NewWatermark(map[string]time.Time{"dev1": base})
	snap := w.Snapshot()
	snap["dev1"] = Epoch
	if !w.Get("dev1").Equal(base) {
		t.Errorf("snapshot mutation leaked into watermark")
	}
}

func TestKeySetAdmitOnce(t *testing.T) {
	set := make(KeySet)
	k := KeyOf(base, "TD01")
	if !set.Admit(k) {
		t.Fatalf("first admit should succeed")
	}
	if set.Admit(k) {
		t.Fatalf("second admit of the same key should fail")
	}
	if !set.Admit(KeyOf(base, "TD02")) {
		t.Fatalf("different sensor is a different key")
	}
}

func TestKeyIgnoresLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	if KeyOf(base, "TD01") != KeyOf(base.In(ny), "TD01") {
		t.Errorf("same instant in different zones must produce the same key")
	}
}

func TestSpanAndPartition(t *testing.T) {
	rs := []reading.Reading{
		temp("TD01", base.Add(2*time.Minute)),
		temp("TD01", base),
		temp("TD02", base.Add(5*time.Minute)),
		temp("TD01", base),
	}
	rg, ok := Span(rs)
	if !ok {
		t.Fatalf("Span: expected ok")
	}
	if !rg.From.Equal(base) || !rg.To.Equal(base.Add(5*time.Minute)) {
		t.Errorf("Span: got %v..%v", rg.From, rg.To)
	}
	if _, ok := Span(nil); ok {
		t.Errorf("Span(nil): expected !ok")
	}

	existing := KeySet{KeyOf(base.Add(2*time.Minute), "TD01"): {}}
	admitted, skipped := Partition(rs, existing)
	if len(admitted) != 2 || len(skipped) != 2 {
		t.Fatalf("Partition: got %d admitted, %d skipped; want 2, 2", len(admitted), len(skipped))
	}
}
