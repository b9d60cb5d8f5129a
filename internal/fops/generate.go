package fops

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/signalsfoundry/gnssqc/core"
	"github.com/signalsfoundry/gnssqc/internal/logging"
)

// GenerateOptions selects the side products of Generate.
type GenerateOptions struct {
	// CSV writes <name>_epochs.csv indexing every epoch of every record.
	CSV bool
	// XLSX writes <name>.xlsx with one sheet per record.
	XLSX bool
}

var indexColumns = []string{"file", "kind", "epoch", "time", "flag", "satellites"}

type indexRow struct {
	file       string
	kind       string
	epoch      int
	time       time.Time
	flag       int
	satellites int
}

func (r indexRow) cells() []string {
	return []string{r.file, r.kind, strconv.Itoa(r.epoch), r.time.Format(time.RFC3339Nano), strconv.Itoa(r.flag), strconv.Itoa(r.satellites)}
}

// Generate re-emits every (preprocessed) record of the rover dataset under
// its original file name and returns the written paths.
func Generate(ctx context.Context, actx *core.AnalysisContext, opts GenerateOptions) ([]string, error) {
	log := logging.FromContext(ctx)
	if err := outputDir(actx); err != nil {
		return nil, err
	}

	var written []string
	byFile := map[string][]indexRow{}
	var order []string
	names := outputNames{}
	for _, rec := range actx.Rover().Records() {
		name := names.claim(suffixed(rec.Path, ""))
		if name != filepath.Base(rec.Path) {
			log.Warn(ctx, "output name already taken", logging.String("path", rec.Path), logging.String("name", name))
		}
		path, err := writeRecord(actx, rec, name)
		if err != nil {
			return written, fmt.Errorf("generate %s: %w", name, err)
		}
		log.Info(ctx, "generated", logging.String("path", path))
		written = append(written, path)

		order = append(order, name)
		byFile[name] = epochIndex(rec, name)
	}

	if opts.CSV {
		path := actx.Workspace().OutputPath(names.claim(actx.Name() + "_epochs.csv"))
		if err := writeIndexCSV(path, order, byFile); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	if opts.XLSX {
		path := actx.Workspace().OutputPath(names.claim(actx.Name() + ".xlsx"))
		if err := writeIndexXLSX(path, order, byFile); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

// epochIndex lists the epochs of rec, written to OUTPUT as file.
func epochIndex(rec core.Record, file string) []indexRow {
	var rows []indexRow
	switch {
	case rec.RINEX != nil:
		for i, e := range rec.RINEX.Epochs {
			n := len(e.Observations)
			if e.SV != nil {
				n = 1
			}
			rows = append(rows, indexRow{file: file, kind: rec.RINEX.Header.Type.String(), epoch: i, time: e.Time, flag: e.Flag, satellites: n})
		}
	case rec.SP3 != nil:
		for i, e := range rec.SP3.Epochs {
			rows = append(rows, indexRow{file: file, kind: "SP3", epoch: i, time: e.Time, satellites: len(e.Records)})
		}
	}
	return rows
}

func writeIndexCSV(path string, order []string, byFile map[string][]indexRow) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(indexColumns); err != nil {
		f.Close()
		return err
	}
	for _, file := range order {
		for _, row := range byFile[file] {
			if err := w.Write(row.cells()); err != nil {
				f.Close()
				return err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// sheetName shortens stem to Excel's 31 character limit.
func sheetName(stem string, used map[string]bool) string {
	name := stem
	if len(name) > 31 {
		name = name[:31]
	}
	for i := 2; used[name]; i++ {
		suffix := "_" + strconv.Itoa(i)
		base := stem
		if len(base)+len(suffix) > 31 {
			base = base[:31-len(suffix)]
		}
		name = base + suffix
	}
	used[name] = true
	return name
}

func writeIndexXLSX(path string, order []string, byFile map[string][]indexRow) error {
	book := excelize.NewFile()
	defer book.Close()

	used := map[string]bool{}
	first := true
	for _, file := range order {
		name := sheetName(core.FileStem(file), used)
		if first {
			if err := book.SetSheetName(book.GetSheetName(0), name); err != nil {
				return err
			}
			first = false
		} else if _, err := book.NewSheet(name); err != nil {
			return err
		}

		header := make([]interface{}, len(indexColumns))
		for i, c := range indexColumns {
			header[i] = c
		}
		if err := book.SetSheetRow(name, "A1", &header); err != nil {
			return err
		}
		for i, row := range byFile[file] {
			cell, err := excelize.CoordinatesToCellName(1, i+2)
			if err != nil {
				return err
			}
			values := []interface{}{row.file, row.kind, row.epoch, row.time.Format(time.RFC3339Nano), row.flag, row.satellites}
			if err := book.SetSheetRow(name, cell, &values); err != nil {
				return err
			}
		}
	}
	if err := book.SaveAs(path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
