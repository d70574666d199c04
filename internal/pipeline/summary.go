package pipeline

import (
	"telemetry-sync/internal/logger"
	"telemetry-sync/internal/reading"
)

type FamilyCounts struct {
	Inserted int
	Skipped  int
	Failed   int
}

// Summary reports what one run did.
type Summary struct {
	RunID    string
	Mode     string
	Lines    int
	Rejected int
	Batches  int
	Families map[reading.Family]*FamilyCounts
}

func newSummary(runID, mode string) Summary {
	s := Summary{RunID: runID, Mode: mode, Families: make(map[reading.Family]*FamilyCounts, len(reading.Families))}
	for _, f := range reading.Families {
		s.Families[f] = &FamilyCounts{}
	}
	return s
}

func (s *Summary) family(f reading.Family) *FamilyCounts {
	c, ok := s.Families[f]
	if !ok {
		c = &FamilyCounts{}
		s.Families[f] = c
	}
	return c
}

// Totals sums the per-family counts.
func (s Summary) Totals() FamilyCounts {
	var t FamilyCounts
	for _, c := range s.Families {
		t.Inserted += c.Inserted
		t.Skipped += c.Skipped
		t.Failed += c.Failed
	}
	return t
}

func (s Summary) logTo(l *logger.Logger) {
	for _, f := range reading.Families {
		c := s.Families[f]
		l.Info().
			Str("family", string(f)).
			Int("inserted", c.Inserted).
			Int("skipped", c.Skipped).
			Int("failed", c.Failed).
			Msg("family summary")
	}
	t := s.Totals()
	l.Info().
		Str("mode", s.Mode).
		Int("lines", s.Lines).
		Int("rejected", s.Rejected).
		Int("batches", s.Batches).
		Int("inserted", t.Inserted).
		Int("skipped", t.Skipped).
		Int("failed", t.Failed).
		Msg("run summary")
}
