package positioning

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/signalsfoundry/gnssqc/core"
	"github.com/signalsfoundry/gnssqc/internal/report"
	"github.com/signalsfoundry/gnssqc/internal/workspace"
)

var solutionColumns = []string{"time", "x_m", "y_m", "z_m", "clock_bias_m", "satellites", "iterations", "rms_m", "error_m"}

// PPP runs single receiver positioning, writes the solutions CSV and
// returns the report page.
func (p *Positioner) PPP(ctx context.Context, actx *core.AnalysisContext) (report.Page, error) {
	res, err := p.SPP(ctx, actx)
	if err != nil {
		return report.Page{}, err
	}
	return publish(actx, res)
}

// RTK runs differential positioning against the reference site, writes the
// solutions CSV and returns the report page.
func (p *Positioner) RTK(ctx context.Context, actx *core.AnalysisContext) (report.Page, error) {
	res, err := p.DGNSS(ctx, actx)
	if err != nil {
		return report.Page{}, err
	}
	return publish(actx, res)
}

func publish(actx *core.AnalysisContext, res Result) (report.Page, error) {
	path, err := WriteCSV(actx, res)
	if err != nil {
		return report.Page{}, err
	}
	page := NewPage(res)
	if site := actx.ReferenceSite(); site != nil && res.Method == MethodDGNSS {
		if b, ok := site.Baseline(); ok {
			page.AddSummary("Baseline", core.FormatBaseline(b))
		}
	}
	page.AddSummary("Solutions file", path)
	return page, nil
}

// WriteCSV writes one row per solution into OUTPUT/<name>_<method>.csv.
func WriteCSV(actx *core.AnalysisContext, res Result) (string, error) {
	if _, err := actx.Workspace().CreateSubdir(workspace.OutputDir); err != nil {
		return "", err
	}
	path := actx.Workspace().OutputPath(fmt.Sprintf("%s_%s.csv", actx.Name(), res.Method))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	w := csv.NewWriter(f)
	_ = w.Write(solutionColumns)
	for _, s := range res.Solutions {
		_ = w.Write([]string{
			s.Time.Format(time.RFC3339Nano),
			ftoa(s.Position.X, 4), ftoa(s.Position.Y, 4), ftoa(s.Position.Z, 4),
			ftoa(s.ClockBiasM, 4),
			strconv.Itoa(s.Satellites),
			strconv.Itoa(s.Iterations),
			ftoa(s.RMS, 4),
			ftoa(s.Position.DistanceTo(res.Apriori), 4),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, f.Close()
}

func ftoa(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

// NewPage summarises res: mean position, error against the apriori position
// and one table row per solved epoch.
func NewPage(res Result) report.Page {
	title := "Single receiver positioning"
	if res.Method == MethodDGNSS {
		title = "Differential positioning"
	}
	page := report.Page{Title: title}
	mean := res.Mean()
	geo := core.Geodetic(mean)
	page.AddSummary("Method", string(res.Method))
	page.AddSummary("Epochs solved", fmt.Sprintf("%d / %d", len(res.Solutions), res.Epochs))
	page.AddSummary("Apriori position (ECEF m)", res.Apriori.String())
	page.AddSummary("Mean position (ECEF m)", mean.String())
	page.AddSummary("Mean position (WGS84)", fmt.Sprintf("%.8f°, %.8f°, %.3f m", geo.LatitudeDeg, geo.LongitudeDeg, geo.AltitudeM))
	page.AddSummary("3D error", fmt.Sprintf("%.3f m", res.Error()))

	table := &report.Table{Columns: []string{"Epoch", "X (m)", "Y (m)", "Z (m)", "Clock bias (m)", "SV", "RMS (m)"}}
	for _, s := range res.Solutions {
		table.Rows = append(table.Rows, []string{
			s.Time.Format("2006-01-02 15:04:05"),
			ftoa(s.Position.X, 3), ftoa(s.Position.Y, 3), ftoa(s.Position.Z, 3),
			ftoa(s.ClockBiasM, 3),
			strconv.Itoa(s.Satellites),
			ftoa(s.RMS, 3),
		})
	}
	page.Table = table
	return page
}
