package fops

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/gnssqc/core"
	"github.com/signalsfoundry/gnssqc/internal/logging"
	"github.com/signalsfoundry/gnssqc/internal/rinex"
	"github.com/signalsfoundry/gnssqc/internal/sp3"
)

// Merge decodes path with probes and merges it into the first context record
// of the same kind (and RINEX type). Epochs present in both keep the context
// version. The result is written under the context record's file name.
func Merge(ctx context.Context, actx *core.AnalysisContext, path string, probes []core.Probe) (string, error) {
	if len(probes) == 0 {
		probes = core.DefaultProbes()
	}
	other, err := core.Classify(path, probes)
	if err != nil {
		return "", fmt.Errorf("merge %s: %w", path, err)
	}

	target, ok := matchingRecord(actx.Rover(), other)
	if !ok {
		return "", fmt.Errorf("merge %s: %w for %s", path, ErrNoMatchingRecord, describe(other))
	}

	merged := target
	switch {
	case other.RINEX != nil:
		merged.RINEX, err = rinex.Merge(target.RINEX, other.RINEX)
		if errors.Is(err, rinex.ErrIncompatible) {
			err = fmt.Errorf("%w: %v", ErrIncompatibleMerge, err)
		}
	case other.SP3 != nil:
		merged.SP3, err = sp3.Merge(target.SP3, other.SP3)
		if errors.Is(err, sp3.ErrIncompatible) {
			err = fmt.Errorf("%w: %v", ErrIncompatibleMerge, err)
		}
	}
	if err != nil {
		return "", fmt.Errorf("merge %s into %s: %w", path, target.Path, err)
	}

	if err := outputDir(actx); err != nil {
		return "", err
	}
	out, err := writeRecord(actx, merged, suffixed(target.Path, ""))
	if err != nil {
		return "", fmt.Errorf("merge: %w", err)
	}
	logging.FromContext(ctx).Info(ctx, "merged",
		logging.String("into", target.Path),
		logging.String("from", path),
		logging.String("path", out))
	return out, nil
}

func matchingRecord(ds *core.Dataset, other core.Record) (core.Record, bool) {
	for _, rec := range ds.Records() {
		switch {
		case other.RINEX != nil && rec.RINEX != nil:
			if rec.RINEX.Header.Type.String() == other.RINEX.Header.Type.String() {
				return rec, true
			}
		case other.SP3 != nil && rec.SP3 != nil:
			return rec, true
		}
	}
	return core.Record{}, false
}

func describe(rec core.Record) string {
	if rec.RINEX != nil {
		return "RINEX " + rec.RINEX.Header.Type.String()
	}
	return rec.Kind.String()
}
