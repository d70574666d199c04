package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"telemetry-sync/internal/dedup"
	"telemetry-sync/internal/reading"
)

// headerCell is the first column name of the dump's optional header row.
const headerCell = "timestamp"

// uptimePrefix marks rows logged before the device clock was set.
const uptimePrefix = "UPTIME"

// BulkImportFile imports one storage-media CSV dump.
func (p *Pipeline) BulkImportFile(ctx context.Context, path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return newSummary(p.runID, "bulk"), fmt.Errorf("%w: %w", ErrNoInput, err)
	}
	defer f.Close()
	p.log.Info().Str("file", path).Msg("bulk import")
	return p.BulkImport(ctx, f)
}

// BulkImport reconciles a whole CSV dump against the store: every row is
// decoded and normalized, then each family is filtered against the keys
// already stored in the file's time range and committed in pages. Page
// and family failures are joined into the returned error; they do not
// stop the other families.
func (p *Pipeline) BulkImport(ctx context.Context, r io.Reader) (Summary, error) {
	sum := newSummary(p.runID, "bulk")
	if err := p.transition(StateBulkImport); err != nil {
		return sum, err
	}
	defer func() { p.finish(sum) }()

	rs, err := p.readDump(r, &sum)
	if err != nil {
		return sum, err
	}
	if len(rs) == 0 {
		p.log.Info().Msg("no readings in dump")
		return sum, nil
	}
	if p.deps.Keys == nil {
		return sum, errors.New("pipeline: bulk import needs a key store")
	}

	byFamily := reading.ByFamily(rs)
	var errs []error
	for _, f := range reading.Families {
		rows := byFamily[f]
		if len(rows) == 0 {
			continue
		}
		if err := p.importFamily(ctx, f, rows, &sum); err != nil {
			errs = append(errs, err)
		}
	}
	return sum, errors.Join(errs...)
}

func (p *Pipeline) importFamily(ctx context.Context, f reading.Family, rows []reading.Reading, sum *Summary) error {
	counts := sum.family(f)
	rg, _ := dedup.Span(rows)

	existing, err := p.deps.Keys.ExistingKeys(ctx, f, rg)
	if err != nil {
		counts.Failed += len(rows)
		p.log.Error().Err(err).
			Str("family", string(f)).
			Time("from", rg.From).
			Time("to", rg.To).
			Int("rows", len(rows)).
			Msg("existence query failed; family not imported")
		return fmt.Errorf("%s existence query: %w", f, err)
	}

	admitted, skipped := dedup.Partition(rows, existing)
	counts.Skipped += len(skipped)
	for _, r := range skipped {
		event(p.log.Debug(), r).Str("reason", "already stored").Msg("skip")
	}
	p.log.Info().
		Str("family", string(f)).
		Int("rows", len(rows)).
		Int("new", len(admitted)).
		Int("existing", len(skipped)).
		Msg("existence filter")

	res, err := p.deps.Committer.CommitRows(ctx, f, admitted)
	counts.Inserted += res.Inserted
	counts.Failed += res.Failed
	p.log.Info().
		Str("family", string(f)).
		Int("inserted", res.Inserted).
		Int("failed", res.Failed).
		Msg("committed")
	if err != nil {
		return fmt.Errorf("%s commit: %w", f, err)
	}
	return nil
}

// readDump decodes every data row of the dump and normalizes its instant.
// Malformed rows are counted as rejected.
func (p *Pipeline) readDump(r io.Reader, sum *Summary) ([]reading.Reading, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	var out []reading.Reading
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			sum.Lines++
			sum.Rejected++
			p.log.Debug().Err(err).Int("row", row).Msg("reject")
			continue
		}
		if err != nil {
			return out, fmt.Errorf("read dump: %w", err)
		}
		if row == 1 && strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(rec[0], "\ufeff")), headerCell) {
			continue
		}
		sum.Lines++

		if strings.HasPrefix(strings.TrimSpace(rec[0]), uptimePrefix) {
			sum.Rejected++
			p.log.Debug().Int("row", row).Str("reason", "device clock not set").Msg("reject")
			continue
		}
		res := reading.DecodeFields(rec, reading.OriginBulkDump)
		if !res.OK() {
			sum.Rejected++
			p.log.Debug().Int("row", row).Str("reason", string(res.Reject)).Msg("reject")
			continue
		}
		p.fillDefaults(res.Reading)
		h := res.Reading.Header()
		at, err := p.normalize(h.Local)
		if err != nil {
			sum.Rejected++
			p.log.Debug().Err(err).Int("row", row).Msg("reject")
			continue
		}
		h.At = at
		out = append(out, res.Reading)
	}
}
