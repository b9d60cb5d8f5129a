package fops

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/signalsfoundry/gnssqc/core"
	"github.com/signalsfoundry/gnssqc/internal/logging"
	"github.com/signalsfoundry/gnssqc/internal/rinex"
	"github.com/signalsfoundry/gnssqc/model"
)

func checkObservation(f *rinex.File, name string) error {
	if f.Header.Type != rinex.TypeObservation {
		return fmt.Errorf("%s: %w", name, ErrNoObservation)
	}
	if !f.HasObservations() {
		return fmt.Errorf("%s (%.2f): %w", name, f.Header.Version, ErrUnsupportedRevision)
	}
	return nil
}

// Diff differences the first rover observation file against the observation
// RINEX at path: for every epoch, satellite and code present in both the
// output holds rover minus path. The result is written as <stem>_diff.
func Diff(ctx context.Context, actx *core.AnalysisContext, path string) (string, error) {
	obs := actx.Rover().Observations()
	if len(obs) == 0 {
		return "", fmt.Errorf("diff: rover: %w", ErrNoObservation)
	}
	rover := obs[0]
	if err := checkObservation(rover, rover.Path); err != nil {
		return "", fmt.Errorf("diff: %w", err)
	}
	other, err := rinex.ParseFile(path)
	if err != nil {
		return "", fmt.Errorf("diff %s: %w", path, err)
	}
	if err := checkObservation(other, path); err != nil {
		return "", fmt.Errorf("diff: %w", err)
	}

	out := Difference(rover, other)
	if err := outputDir(actx); err != nil {
		return "", err
	}
	written, err := writeRecord(actx, core.Record{Path: rover.Path, Kind: model.KindRINEX, RINEX: out}, suffixed(rover.Path, "_diff"))
	if err != nil {
		return "", fmt.Errorf("diff: %w", err)
	}
	logging.FromContext(ctx).Info(ctx, "differenced",
		logging.String("rover", rover.Path),
		logging.String("other", path),
		logging.Int("epochs", len(out.Epochs)),
		logging.String("path", written))
	return written, nil
}

// Difference builds a file holding a minus b for every observation the two
// share. Epochs without any common observation are dropped. The header of a
// is kept with a COMMENT naming b.
func Difference(a, b *rinex.File) *rinex.File {
	byTime := make(map[time.Time]rinex.Epoch, len(b.Epochs))
	for _, e := range b.Epochs {
		byTime[e.Time] = e
	}

	out := &rinex.File{Path: a.Path, Header: a.Header}
	out.Header.Lines = withComment(a.Header.Lines, "DIFFERENCED WITH "+filepath.Base(b.Path))
	for _, ea := range a.Epochs {
		eb, ok := byTime[ea.Time]
		if !ok {
			continue
		}
		values := map[model.SV][]rinex.Observation{}
		for sv, obsA := range ea.Observations {
			obsB, ok := eb.Observations[sv]
			if !ok {
				continue
			}
			for _, oa := range obsA {
				for _, ob := range obsB {
					if oa.Code == ob.Code {
						values[sv] = append(values[sv], rinex.Observation{Code: oa.Code, Value: oa.Value - ob.Value})
					}
				}
			}
		}
		if len(values) == 0 {
			continue
		}
		out.Epochs = append(out.Epochs, rinex.ObservationEpoch(a.Header, ea.Time, ea.Flag, values))
	}
	return out
}

// withComment inserts a COMMENT line right before END OF HEADER.
func withComment(lines []string, comment string) []string {
	out := make([]string, 0, len(lines)+1)
	inserted := false
	for _, l := range lines {
		if !inserted && len(l) > 60 && strings.TrimSpace(l[60:]) == "END OF HEADER" {
			out = append(out, rinex.HeaderLine(comment, "COMMENT"))
			inserted = true
		}
		out = append(out, l)
	}
	if !inserted {
		out = append(out, rinex.HeaderLine(comment, "COMMENT"))
	}
	return out
}
