package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"telemetry-sync/internal/reading"
	"telemetry-sync/internal/source"
)

func tempLine(ts, sensor string) string {
	return ts + ",dev1," + sensor + ",A,2,28FF1,21.5,21.3,ok,,,"
}

func TestTransitionsAreOneWay(t *testing.T) {
	p := newTestPipeline(t, newMemStore())
	if _, err := p.BulkImport(context.Background(), strings.NewReader("")); err != nil {
		t.Fatalf("BulkImport: %v", err)
	}
	if p.State() != StateDone {
		t.Fatalf("state: got %s, want DONE", p.State())
	}
	if _, err := p.Stream(context.Background(), lines()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Stream after DONE: got %v", err)
	}
	if err := p.SyncWatermark(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("SyncWatermark after DONE: got %v", err)
	}

	q := newTestPipeline(t, newMemStore())
	if err := q.SyncWatermark(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := q.BulkImport(context.Background(), strings.NewReader("")); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("BulkImport after SYNC_WATERMARK: got %v", err)
	}
}

func TestSyncWatermarkFromStore(t *testing.T) {
	st := newMemStore()
	at := time.Date(2026, 2, 19, 13, 5, 0, 0, time.UTC)
	r := reading.Decode(tempLine("2026-02-19T08:05:00", "TD01"), reading.OriginLive).Reading
	reading.SetTime(r, at)
	st.rows[reading.FamilyTemperature] = []reading.Reading{r}

	p := newTestPipeline(t, st)
	if err := p.SyncWatermark(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := p.Watermark()["dev1"]; !got.Equal(at) {
		t.Fatalf("watermark: got %v, want %v", got, at)
	}

	sum, err := p.Stream(context.Background(), lines(
		tempLine("2026-02-19T08:05:00", "TD01"),
		tempLine("2026-02-19T08:06:00", "TD01"),
	))
	if err != nil {
		t.Fatal(err)
	}
	c := sum.Families[reading.FamilyTemperature]
	if c.Inserted != 1 || c.Skipped != 1 {
		t.Errorf("counts: %+v", *c)
	}
}

func TestSyncWatermarkFailsOpen(t *testing.T) {
	st := newMemStore()
	st.failLatest = true
	p := newTestPipeline(t, st)
	if err := p.SyncWatermark(context.Background()); err != nil {
		t.Fatalf("sync failure must not be fatal: %v", err)
	}
	if len(p.Watermark()) != 0 {
		t.Fatalf("expected empty watermark, got %v", p.Watermark())
	}
	sum, err := p.Stream(context.Background(), lines(tempLine("1999-01-01T00:00:00", "TD01")))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Families[reading.FamilyTemperature].Inserted != 1 {
		t.Errorf("epoch watermark should admit old readings: %+v", *sum.Families[reading.FamilyTemperature])
	}
}

func TestStreamWatermarkIsMonotonic(t *testing.T) {
	st := newMemStore()
	p := newTestPipeline(t, st)
	p.UseWatermark(nil)

	var seen []time.Time
	record := func() { seen = append(seen, p.Watermark()["dev1"]) }
	src := &scriptSource{steps: []step{
		{line: tempLine("2026-02-19T08:00:00", "TD01")},
		{line: tempLine("2026-02-19T08:02:00", "TD01"), hook: record},
		{line: tempLine("2026-02-19T08:01:00", "TD01"), hook: record},
		{line: tempLine("2026-02-19T08:02:00", "TD01"), hook: record},
		{line: tempLine("2026-02-19T08:03:00", "TD01"), hook: record},
		{line: "", hook: record},
	}}
	sum, err := p.Stream(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	record()
	for i := 1; i < len(seen); i++ {
		if seen[i].Before(seen[i-1]) {
			t.Fatalf("watermark decreased: %v -> %v", seen[i-1], seen[i])
		}
	}
	want := time.Date(2026, 2, 19, 13, 3, 0, 0, time.UTC)
	if !seen[len(seen)-1].Equal(want) {
		t.Errorf("final watermark: got %v, want %v", seen[len(seen)-1], want)
	}
	c := sum.Families[reading.FamilyTemperature]
	if c.Inserted != 3 || c.Skipped != 2 {
		t.Errorf("counts: %+v", *c)
	}
	if sum.Rejected != 1 {
		t.Errorf("empty line should be rejected, got %d", sum.Rejected)
	}
}

func TestStreamFamiliesAtOneInstantAreIndependent(t *testing.T) {
	st := newMemStore()
	p := newTestPipeline(t, st)
	sum, err := p.Stream(context.Background(), lines(
		tempLine("2026-02-19T08:00:00", "TD01"),
		"2026-02-19T08:00:00,dev1,LL01,L,5,N/A,N/A,N/A,ON",
		"2026-02-19T08:00:00,dev1,ATM01,I2C,0,0,22.1,22.1,ok,45.2,987.3,12000",
	))
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range reading.Families {
		if sum.Families[f].Inserted != 1 || st.count(f) != 1 {
			t.Errorf("%s: summary %+v stored %d", f, *sum.Families[f], st.count(f))
		}
	}
	if sum.Batches != 1 {
		t.Errorf("batches: got %d, want 1", sum.Batches)
	}
}

func TestStreamFailedCommitKeepsWatermark(t *testing.T) {
	st := newMemStore()
	st.failBatches = 1
	p := newTestPipeline(t, st)
	sum, err := p.Stream(context.Background(), lines(
		tempLine("2026-02-19T08:00:00", "TD01"),
		tempLine("2026-02-19T08:00:00", "TD01"),
	))
	if err != nil {
		t.Fatal(err)
	}
	c := sum.Families[reading.FamilyTemperature]
	if c.Failed != 2 || c.Inserted != 0 {
		t.Errorf("counts: %+v", *c)
	}
	if _, ok := p.Watermark()["dev1"]; ok {
		t.Errorf("watermark advanced after failed commit: %v", p.Watermark())
	}

	// The same instant delivered again is accepted once the store recovers.
	q := newTestPipeline(t, st)
	sum, err = q.Stream(context.Background(), lines(tempLine("2026-02-19T08:00:00", "TD01")))
	if err != nil || sum.Families[reading.FamilyTemperature].Inserted != 1 {
		t.Fatalf("redelivery: %+v %v", *sum.Families[reading.FamilyTemperature], err)
	}
}

func TestStreamFlushesOnStall(t *testing.T) {
	st := newMemStore()
	p := newTestPipeline(t, st)
	var storedAtStall int
	src := &scriptSource{steps: []step{
		{line: tempLine("2026-02-19T08:00:00", "TD01")},
		{err: source.ErrStalled},
		{err: source.ErrStalled, hook: func() { storedAtStall = st.count(reading.FamilyTemperature) }},
	}}
	if _, err := p.Stream(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	if storedAtStall != 1 {
		t.Fatalf("pending batch not flushed on stall: stored %d", storedAtStall)
	}
	if st.count(reading.FamilyTemperature) != 1 {
		t.Errorf("batch committed more than once: %d", st.count(reading.FamilyTemperature))
	}
}

func TestStreamCancelFlushesPending(t *testing.T) {
	st := newMemStore()
	p := newTestPipeline(t, st)
	ctx, cancel := context.WithCancel(context.Background())
	src := &scriptSource{steps: []step{
		{line: tempLine("2026-02-19T08:00:00", "TD01")},
		{err: context.Canceled, hook: cancel},
	}}
	if _, err := p.Stream(ctx, src); err != nil {
		t.Fatalf("cancel should stop cleanly: %v", err)
	}
	if st.count(reading.FamilyTemperature) != 1 {
		t.Errorf("pending batch lost on cancel")
	}
	if p.State() != StateDone {
		t.Errorf("state: got %s", p.State())
	}
}

func TestStreamUploadLines(t *testing.T) {
	st := newMemStore()
	p := newTestPipeline(t, st)
	upload := `JSON_UPLOAD:{"site_id":"s","device_id":"dev1","timestamp":"2026-02-19T08:00:00",` +
		`"readings":[{"sensor_name":"TD01","bus":"A","pin":2,"rom":"28FF1","raw_temp_c":21.5,"temp_c":21.3,"status":"ok"}],` +
		`"level_sensor":{"sensor_name":"LL01","pin":5,"state":"OFF"}}`
	sum, err := p.Stream(context.Background(), lines(upload, "JSON_UPLOAD:{broken", upload))
	if err != nil {
		t.Fatal(err)
	}
	if st.count(reading.FamilyTemperature) != 1 || st.count(reading.FamilyLevel) != 1 {
		t.Errorf("stored: temps=%d level=%d", st.count(reading.FamilyTemperature), st.count(reading.FamilyLevel))
	}
	if sum.Rejected != 1 || sum.Families[reading.FamilyTemperature].Skipped != 1 {
		t.Errorf("summary: rejected=%d temp=%+v", sum.Rejected, *sum.Families[reading.FamilyTemperature])
	}
	at := st.rows[reading.FamilyLevel][0].Header().At
	if want := time.Date(2026, 2, 19, 13, 0, 0, 0, time.UTC); !at.Equal(want) {
		t.Errorf("normalized instant: got %v, want %v", at, want)
	}
}

func TestStreamDefaultsDeviceID(t *testing.T) {
	st := newMemStore()
	p := newTestPipeline(t, st)
	if _, err := p.Stream(context.Background(), lines("2026-02-19T08:00:00,,TD01,A,2,28FF1,21.5,21.3,ok,,,")); err != nil {
		t.Fatal(err)
	}
	if got := st.rows[reading.FamilyTemperature][0].Header().DeviceID; got != "arduino_node_01" {
		t.Errorf("device id: got %q", got)
	}
}

func TestReplayOrdersOutOfOrderDump(t *testing.T) {
	st := newMemStore()
	p := newTestPipeline(t, st)
	p.UseWatermark(nil)
	dump := strings.Join([]string{
		"[Arduino] " + tempLine("2026-02-19T08:02:00", "TD01"),
		"✅ Success: Uploaded",
		"[Arduino] " + tempLine("2026-02-19T08:00:00", "TD01"),
		"[Arduino] 2026-02-19T08:00:00,dev1,LL01,L,5,N/A,N/A,N/A,OFF",
		"[Arduino] Starting main loop",
		"[Arduino] " + tempLine("2026-02-19T08:01:00", "TD01"),
	}, "\n")
	sum, err := p.Replay(context.Background(), source.NewLogDumpSource(strings.NewReader(dump)))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Families[reading.FamilyTemperature].Inserted != 3 || sum.Families[reading.FamilyLevel].Inserted != 1 {
		t.Errorf("inserted: temp=%+v level=%+v", *sum.Families[reading.FamilyTemperature], *sum.Families[reading.FamilyLevel])
	}
	if sum.Rejected != 1 || sum.Batches != 3 {
		t.Errorf("rejected=%d batches=%d", sum.Rejected, sum.Batches)
	}

	// Replaying the same dump after a watermark sync inserts nothing.
	q := newTestPipeline(t, st)
	if err := q.SyncWatermark(context.Background()); err != nil {
		t.Fatal(err)
	}
	sum, err = q.Replay(context.Background(), source.NewLogDumpSource(strings.NewReader(dump)))
	if err != nil {
		t.Fatal(err)
	}
	if tot := sum.Totals(); tot.Inserted != 0 || tot.Skipped != 4 {
		t.Errorf("second replay: %+v", tot)
	}
	if !q.Watermark()["dev1"].Equal(time.Date(2026, 2, 19, 13, 2, 0, 0, time.UTC)) {
		t.Errorf("watermark: %v", q.Watermark())
	}
}

func TestStreamInstantSplitByStall(t *testing.T) {
	st := newMemStore()
	p := newTestPipeline(t, st)
	src := &scriptSource{steps: []step{
		{line: tempLine("2026-02-19T08:00:00", "TD01")},
		{err: source.ErrStalled},
		{line: "2026-02-19T08:00:00,dev1,LL01,L,5,N/A,N/A,N/A,ON"},
		{line: tempLine("2026-02-19T08:00:00", "TD02")},
		{err: source.ErrStalled},
		{line: tempLine("2026-02-19T08:00:00", "TD01")},
	}}
	sum, err := p.Stream(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	temp, level := sum.Families[reading.FamilyTemperature], sum.Families[reading.FamilyLevel]
	if temp.Inserted != 2 || temp.Skipped != 1 || level.Inserted != 1 {
		t.Errorf("temp=%+v level=%+v", *temp, *level)
	}
	if st.count(reading.FamilyTemperature) != 2 || st.count(reading.FamilyLevel) != 1 {
		t.Errorf("stored: temps=%d level=%d", st.count(reading.FamilyTemperature), st.count(reading.FamilyLevel))
	}
	if sum.Batches != 3 {
		t.Errorf("batches: got %d, want 3", sum.Batches)
	}
}

func TestStreamPartialUploadDocuments(t *testing.T) {
	st := newMemStore()
	p := newTestPipeline(t, st)
	temps := `JSON_UPLOAD:{"device_id":"dev1","timestamp":"2026-02-19T08:00:00",` +
		`"readings":[{"sensor_name":"TD01","bus":"A","pin":2,"rom":"28FF1","raw_temp_c":21.5,"temp_c":21.3,"status":"ok"}]}`
	levels := `JSON_UPLOAD:{"device_id":"dev1","timestamp":"2026-02-19T08:00:00","readings":[],` +
		`"level_sensor":{"sensor_name":"LL01","pin":5,"state":"ON"}}`
	if _, err := p.Stream(context.Background(), lines(temps, levels)); err != nil {
		t.Fatal(err)
	}
	if st.count(reading.FamilyTemperature) != 1 || st.count(reading.FamilyLevel) != 1 {
		t.Errorf("stored: temps=%d level=%d", st.count(reading.FamilyTemperature), st.count(reading.FamilyLevel))
	}
}

func TestStreamCountsSupersededReadings(t *testing.T) {
	st := newMemStore()
	p := newTestPipeline(t, st)
	sum, err := p.Stream(context.Background(), lines(
		"2026-02-19T08:00:00,dev1,LL01,L,5,N/A,N/A,N/A,OFF",
		"2026-02-19T08:00:00,dev1,LL02,L,6,N/A,N/A,N/A,ON",
	))
	if err != nil {
		t.Fatal(err)
	}
	c := sum.Families[reading.FamilyLevel]
	if c.Inserted != 1 || c.Skipped != 1 || st.count(reading.FamilyLevel) != 1 {
		t.Errorf("level: %+v stored %d", *c, st.count(reading.FamilyLevel))
	}
	if got := st.rows[reading.FamilyLevel][0].Header().SensorName; got != "LL02" {
		t.Errorf("stored sensor: got %s, want LL02", got)
	}
}

func TestStreamUploadLineDefaultsDeviceID(t *testing.T) {
	st := newMemStore()
	p := newTestPipeline(t, st)
	doc := `JSON_UPLOAD:{"device_id":"","timestamp":"2026-02-19T08:00:00",` +
		`"readings":[{"sensor_name":"TD01","bus":"A","pin":2,"rom":"28FF1","raw_temp_c":21.5,"temp_c":21.3,"status":"ok"}]}`
	if _, err := p.Stream(context.Background(), lines(doc)); err != nil {
		t.Fatal(err)
	}
	if got := st.rows[reading.FamilyTemperature][0].Header().DeviceID; got != "arduino_node_01" {
		t.Errorf("device id: got %q", got)
	}
	if _, ok := p.Watermark()[""]; ok {
		t.Errorf("watermark keyed on an empty device id: %v", p.Watermark())
	}
}

func TestStreamRejectsOversizedLine(t *testing.T) {
	st := newMemStore()
	p := newTestPipeline(t, st)
	src := &scriptSource{steps: []step{
		{err: source.ErrLineTooLong},
		{line: tempLine("2026-02-19T08:00:00", "TD01")},
	}}
	sum, err := p.Stream(context.Background(), src)
	if err != nil {
		t.Fatalf("oversized line must not stop the stream: %v", err)
	}
	if sum.Lines != 2 || sum.Rejected != 1 || st.count(reading.FamilyTemperature) != 1 {
		t.Errorf("lines=%d rejected=%d stored=%d", sum.Lines, sum.Rejected, st.count(reading.FamilyTemperature))
	}
}
