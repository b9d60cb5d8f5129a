// Package fops implements the file-production operations: generate, merge,
// split, time binning and differencing. Every operation writes into the
// OUTPUT directory of the context workspace.
package fops

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/signalsfoundry/gnssqc/core"
	"github.com/signalsfoundry/gnssqc/internal/rinex"
	"github.com/signalsfoundry/gnssqc/internal/sp3"
	"github.com/signalsfoundry/gnssqc/internal/workspace"
)

var (
	// ErrNoMatchingRecord indicates the context holds no record to combine
	// the given file with.
	ErrNoMatchingRecord = errors.New("no matching record in context")
	// ErrIncompatibleMerge indicates two records of the same kind that cannot
	// be merged.
	ErrIncompatibleMerge = errors.New("incompatible records")
	// ErrSplitOutOfRange indicates a split instant outside a record's span.
	ErrSplitOutOfRange = errors.New("split instant outside record span")
	// ErrNoObservation indicates an operation needing observation RINEX got
	// none.
	ErrNoObservation = errors.New("no observation RINEX")
	// ErrUnsupportedRevision indicates observation RINEX older than
	// revision 3.
	ErrUnsupportedRevision = errors.New("observation RINEX revision 3 or later required")
	// ErrInvalidInterval indicates a non-positive time-binning interval.
	ErrInvalidInterval = errors.New("interval must be positive")
)

func outputDir(actx *core.AnalysisContext) error {
	_, err := actx.Workspace().CreateSubdir(workspace.OutputDir)
	return err
}

// suffixed inserts suffix between the stem and the extensions of path's
// base name: ("/x/ESBC.rnx.gz", "_a") gives "ESBC_a.rnx.gz".
func suffixed(path, suffix string) string {
	base := filepath.Base(path)
	stem := core.FileStem(base)
	return stem + suffix + base[len(stem):]
}

// outputNames hands out OUTPUT file names that are unique within one
// operation. Records loaded from different directories may share a base name.
type outputNames map[string]bool

// claim returns name, or name suffixed _2, _3... before its extensions when
// an earlier record already took it.
func (n outputNames) claim(name string) string {
	out := name
	for i := 2; n[out]; i++ {
		out = suffixed(name, "_"+strconv.Itoa(i))
	}
	n[out] = true
	return out
}

// writeRecord encodes rec into the OUTPUT directory under name.
func writeRecord(actx *core.AnalysisContext, rec core.Record, name string) (string, error) {
	path := actx.Workspace().OutputPath(name)
	var err error
	switch {
	case rec.RINEX != nil:
		err = rinex.WriteFile(path, rec.RINEX)
	case rec.SP3 != nil:
		err = sp3.WriteFile(path, rec.SP3)
	default:
		err = fmt.Errorf("record %s has no payload", rec.Path)
	}
	if err != nil {
		return "", err
	}
	return path, nil
}
