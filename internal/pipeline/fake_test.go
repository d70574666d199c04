package pipeline

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"telemetry-sync/internal/commit"
	"telemetry-sync/internal/dedup"
	"telemetry-sync/internal/logger"
	"telemetry-sync/internal/reading"
	"telemetry-sync/internal/source"
	"telemetry-sync/internal/tzrule"
)

var errDown = errors.New("store down")

// memStore is an in-memory store standing in for the database.
type memStore struct {
	rows        map[reading.Family][]reading.Reading
	calls       int
	failLatest  bool
	failKeys    map[reading.Family]bool
	failBatches int
	keyQueries  map[reading.Family]int
}

func newMemStore() *memStore {
	return &memStore{
		rows:       make(map[reading.Family][]reading.Reading),
		failKeys:   make(map[reading.Family]bool),
		keyQueries: make(map[reading.Family]int),
	}
}

func (m *memStore) LatestTimestamps(context.Context) (map[string]time.Time, error) {
	m.calls++
	if m.failLatest {
		return nil, errDown
	}
	out := make(map[string]time.Time)
	for _, rs := range m.rows {
		for _, r := range rs {
			h := r.Header()
			if h.At.After(out[h.DeviceID]) {
				out[h.DeviceID] = h.At
			}
		}
	}
	return out, nil
}

func (m *memStore) ExistingKeys(_ context.Context, f reading.Family, rg dedup.Range) (dedup.KeySet, error) {
	m.calls++
	m.keyQueries[f]++
	if m.failKeys[f] {
		return nil, errDown
	}
	set := make(dedup.KeySet)
	for _, r := range m.rows[f] {
		at := r.Header().At
		if !at.Before(rg.From) && !at.After(rg.To) {
			set.Add(dedup.KeyFor(r))
		}
	}
	return set, nil
}

func (m *memStore) InsertReadings(_ context.Context, f reading.Family, rs []reading.Reading) error {
	m.calls++
	m.rows[f] = append(m.rows[f], rs...)
	return nil
}

func (m *memStore) SubmitBatch(_ context.Context, b *reading.Batch) error {
	m.calls++
	if m.failBatches > 0 {
		m.failBatches--
		return errDown
	}
	for _, r := range b.Readings() {
		m.rows[r.Family()] = append(m.rows[r.Family()], r)
	}
	return nil
}

func (m *memStore) count(f reading.Family) int { return len(m.rows[f]) }

func newTestPipeline(t *testing.T, st *memStore) *Pipeline {
	t.Helper()
	n, err := tzrule.New(tzrule.DefaultZone)
	if err != nil {
		t.Fatalf("tzrule: %v", err)
	}
	eng := commit.NewEngine(st, st, commit.Config{PageSize: 2, Retry: commit.NoRetry()}, logger.Nop())
	p, err := New(
		Config{Normalizer: n, DefaultDeviceID: "arduino_node_01"},
		Deps{Watermarks: st, Keys: st, Committer: eng},
		logger.Nop(),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// step is one scripted result of a line source.
type step struct {
	line string
	err  error
	hook func()
}

type scriptSource struct {
	steps []step
}

func lines(ls ...string) *scriptSource {
	s := &scriptSource{}
	for _, l := range ls {
		s.steps = append(s.steps, step{line: l})
	}
	return s
}

func (s *scriptSource) Next(ctx context.Context) (string, error) {
	if len(s.steps) == 0 {
		return "", io.EOF
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	if st.hook != nil {
		st.hook()
	}
	return st.line, st.err
}

var _ source.LineSource = (*scriptSource)(nil)
