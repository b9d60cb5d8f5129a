package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/gnssqc/core"
	"github.com/signalsfoundry/gnssqc/internal/fops"
	"github.com/signalsfoundry/gnssqc/internal/positioning"
	"github.com/signalsfoundry/gnssqc/internal/report"
)

// ErrUnknownMode indicates a Mode value Dispatch does not handle.
var ErrUnknownMode = errors.New("unknown operation mode")

// Operations performs the work behind each mode.
type Operations interface {
	Generate(ctx context.Context, actx *core.AnalysisContext, opts fops.GenerateOptions) ([]string, error)
	Merge(ctx context.Context, actx *core.AnalysisContext, path string) (string, error)
	Split(ctx context.Context, actx *core.AnalysisContext, at time.Time) ([]string, error)
	TimeBin(ctx context.Context, actx *core.AnalysisContext, interval time.Duration) ([]string, error)
	Diff(ctx context.Context, actx *core.AnalysisContext, path string) (string, error)
	PPP(ctx context.Context, actx *core.AnalysisContext, cfg positioning.Config) (report.Page, error)
	RTK(ctx context.Context, actx *core.AnalysisContext, cfg positioning.Config) (report.Page, error)
}

// Outcome is the result of a dispatched mode: either the run terminates
// after writing files, or it continues to the report with Pages appended.
type Outcome struct {
	Terminated bool
	Written    []string
	Pages      []report.Page
}

// Dispatch runs mode against actx.
func Dispatch(ctx context.Context, actx *core.AnalysisContext, mode Mode, ops Operations) (Outcome, error) {
	switch m := mode.(type) {
	case GenerateMode:
		written, err := ops.Generate(ctx, actx, m.Options)
		return terminated(written, err)
	case MergeMode:
		path, err := ops.Merge(ctx, actx, m.Path)
		return terminated([]string{path}, err)
	case SplitMode:
		written, err := ops.Split(ctx, actx, m.At)
		return terminated(written, err)
	case TimeBinMode:
		written, err := ops.TimeBin(ctx, actx, m.Interval)
		return terminated(written, err)
	case DiffMode:
		path, err := ops.Diff(ctx, actx, m.Path)
		return terminated([]string{path}, err)
	case PPPMode:
		page, err := ops.PPP(ctx, actx, m.Config)
		return continued(page, err)
	case RTKMode:
		page, err := ops.RTK(ctx, actx, m.Config)
		return continued(page, err)
	case ReportMode:
		return Outcome{}, nil
	default:
		return Outcome{}, fmt.Errorf("%w: %T", ErrUnknownMode, mode)
	}
}

func terminated(written []string, err error) (Outcome, error) {
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Terminated: true, Written: written}, nil
}

func continued(page report.Page, err error) (Outcome, error) {
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Pages: []report.Page{page}}, nil
}

// FileOperations is the Operations implementation backed by the fops and
// positioning packages.
type FileOperations struct {
	// Probes classify the files given to merge; nil uses the default chain.
	Probes []core.Probe
	// SolverMetrics receives positioning outcomes; nil disables them.
	SolverMetrics positioning.Metrics
}

func (o FileOperations) Generate(ctx context.Context, actx *core.AnalysisContext, opts fops.GenerateOptions) ([]string, error) {
	return fops.Generate(ctx, actx, opts)
}

func (o FileOperations) Merge(ctx context.Context, actx *core.AnalysisContext, path string) (string, error) {
	return fops.Merge(ctx, actx, path, o.Probes)
}

func (o FileOperations) Split(ctx context.Context, actx *core.AnalysisContext, at time.Time) ([]string, error) {
	return fops.Split(ctx, actx, at)
}

func (o FileOperations) TimeBin(ctx context.Context, actx *core.AnalysisContext, interval time.Duration) ([]string, error) {
	return fops.TimeBin(ctx, actx, interval)
}

func (o FileOperations) Diff(ctx context.Context, actx *core.AnalysisContext, path string) (string, error) {
	return fops.Diff(ctx, actx, path)
}

func (o FileOperations) PPP(ctx context.Context, actx *core.AnalysisContext, cfg positioning.Config) (report.Page, error) {
	p, err := o.positioner(cfg)
	if err != nil {
		return report.Page{}, err
	}
	return p.PPP(ctx, actx)
}

func (o FileOperations) RTK(ctx context.Context, actx *core.AnalysisContext, cfg positioning.Config) (report.Page, error) {
	p, err := o.positioner(cfg)
	if err != nil {
		return report.Page{}, err
	}
	return p.RTK(ctx, actx)
}

func (o FileOperations) positioner(cfg positioning.Config) (*positioning.Positioner, error) {
	var opts []positioning.Option
	if o.SolverMetrics != nil {
		opts = append(opts, positioning.WithMetrics(o.SolverMetrics))
	}
	return positioning.New(cfg, opts...)
}
