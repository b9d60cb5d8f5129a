package fops

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/gnssqc/core"
	"github.com/signalsfoundry/gnssqc/internal/logging"
)

// span returns the time span of a record.
func span(rec core.Record) (time.Time, time.Time, bool) {
	switch {
	case rec.RINEX != nil:
		return rec.RINEX.Span()
	case rec.SP3 != nil:
		return rec.SP3.Span()
	}
	return time.Time{}, time.Time{}, false
}

// window restricts rec to [from, to); zero bounds are open.
func window(rec core.Record, from, to time.Time) core.Record {
	switch {
	case rec.RINEX != nil:
		rec.RINEX = rec.RINEX.Window(from, to)
	case rec.SP3 != nil:
		rec.SP3 = rec.SP3.Window(from, to)
	}
	return rec
}

// Split cuts every rover record at: epochs before at go to <stem>_a, the
// rest to <stem>_b. at must fall after the first epoch and no later than
// the last one of every record.
func Split(ctx context.Context, actx *core.AnalysisContext, at time.Time) ([]string, error) {
	records := actx.Rover().Records()
	for _, rec := range records {
		first, last, ok := span(rec)
		if !ok || !at.After(first) || at.After(last) {
			return nil, fmt.Errorf("split %s at %s: %w", rec.Path, at.Format(time.RFC3339), ErrSplitOutOfRange)
		}
	}
	if err := outputDir(actx); err != nil {
		return nil, err
	}

	log := logging.FromContext(ctx)
	var written []string
	names := outputNames{}
	for _, rec := range records {
		for _, part := range []struct {
			suffix   string
			from, to time.Time
		}{
			{suffix: "_a", to: at},
			{suffix: "_b", from: at},
		} {
			path, err := writeRecord(actx, window(rec, part.from, part.to), names.claim(suffixed(rec.Path, part.suffix)))
			if err != nil {
				return written, fmt.Errorf("split %s: %w", rec.Path, err)
			}
			written = append(written, path)
		}
		log.Info(ctx, "split", logging.String("path", rec.Path), logging.String("at", at.Format(time.RFC3339)))
	}
	return written, nil
}

// TimeBin re-chunks every rover record into consecutive bins of interval,
// starting at the record's first epoch. Empty bins are not written; each
// file is suffixed with its bin start as _YYYYMMDDhhmm.
func TimeBin(ctx context.Context, actx *core.AnalysisContext, interval time.Duration) ([]string, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("tbin %s: %w", interval, ErrInvalidInterval)
	}
	if err := outputDir(actx); err != nil {
		return nil, err
	}

	log := logging.FromContext(ctx)
	var written []string
	names := outputNames{}
	for _, rec := range actx.Rover().Records() {
		first, last, ok := span(rec)
		if !ok {
			continue
		}
		bins := 0
		for start := first; !start.After(last); start = start.Add(interval) {
			part := window(rec, start, start.Add(interval))
			if _, _, ok := span(part); !ok {
				continue
			}
			path, err := writeRecord(actx, part, names.claim(suffixed(rec.Path, "_"+start.UTC().Format("200601021504"))))
			if err != nil {
				return written, fmt.Errorf("tbin %s: %w", rec.Path, err)
			}
			written = append(written, path)
			bins++
		}
		log.Info(ctx, "time binned", logging.String("path", rec.Path), logging.Int("bins", bins))
	}
	return written, nil
}
