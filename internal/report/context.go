package report

import (
	"fmt"
	"strconv"
	"time"

	"github.com/signalsfoundry/gnssqc/core"
	"github.com/signalsfoundry/gnssqc/model"
)

const timeLayout = "2006-01-02 15:04:05"

// ContextPages describes the context itself: the rover position, the
// reference site and one row per loaded file.
func ContextPages(actx *core.AnalysisContext) []Page {
	summary := Page{Title: "Context"}
	summary.AddSummary("Name", actx.Name())
	summary.AddSummary("Files", strconv.Itoa(actx.Rover().Len()))
	if pos, ok := actx.Position(); ok {
		summary.AddSummary("RX position", pos.String())
		summary.AddSummary("Position source", actx.PositionSource().String())
	} else {
		summary.AddSummary("RX position", "undefined")
	}
	if site := actx.ReferenceSite(); site != nil {
		summary.AddSummary("Reference site", site.Position().String())
		summary.AddSummary("Reference files", strconv.Itoa(site.Dataset().Len()))
		if b, ok := site.Baseline(); ok {
			summary.AddSummary("Baseline", core.FormatBaseline(b))
		}
	}

	files := Page{Title: "Files", Table: &Table{
		Columns: []string{"File", "Kind", "Type", "First epoch", "Last epoch", "Epochs", "Satellites"},
	}}
	for _, rec := range actx.Rover().Records() {
		files.Table.Rows = append(files.Table.Rows, recordRow(rec))
	}
	return []Page{summary, files}
}

func recordRow(rec core.Record) []string {
	row := []string{core.FileStem(rec.Path), rec.Kind.String()}
	switch {
	case rec.RINEX != nil:
		h := rec.RINEX.Header
		row = append(row, fmt.Sprintf("%s v%.2f", h.Type, h.Version))
		first, last, ok := rec.RINEX.Span()
		row = append(row, spanCells(first, last, ok)...)
		row = append(row, strconv.Itoa(len(rec.RINEX.Epochs)), strconv.Itoa(countRINEXSatellites(rec)))
	case rec.SP3 != nil:
		h := rec.SP3.Header
		row = append(row, fmt.Sprintf("SP3-%c %s", h.Version, h.CoordSystem))
		first, last, ok := rec.SP3.Span()
		row = append(row, spanCells(first, last, ok)...)
		row = append(row, strconv.Itoa(len(rec.SP3.Epochs)), strconv.Itoa(len(h.Satellites)))
	default:
		row = append(row, "", "", "", "", "")
	}
	return row
}

func spanCells(first, last time.Time, ok bool) []string {
	if !ok {
		return []string{"-", "-"}
	}
	return []string{first.Format(timeLayout), last.Format(timeLayout)}
}

func countRINEXSatellites(rec core.Record) int {
	seen := map[model.SV]struct{}{}
	for _, e := range rec.RINEX.Epochs {
		if e.SV != nil {
			seen[*e.SV] = struct{}{}
		}
		for sv := range e.Observations {
			seen[sv] = struct{}{}
		}
	}
	return len(seen)
}
