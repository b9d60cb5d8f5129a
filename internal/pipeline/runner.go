package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/signalsfoundry/gnssqc/core"
	"github.com/signalsfoundry/gnssqc/internal/logging"
	"github.com/signalsfoundry/gnssqc/internal/observability"
	"github.com/signalsfoundry/gnssqc/internal/report"
	"github.com/signalsfoundry/gnssqc/internal/workspace"
)

// ContextBuilder assembles the analysis context of a run.
type ContextBuilder interface {
	Build(ctx context.Context, req core.BuildRequest) (*core.AnalysisContext, error)
}

// Assembler renders the final report.
type Assembler interface {
	Assemble(ctx context.Context, actx *core.AnalysisContext, extra []report.Page) (string, error)
}

// Metrics receives run level measurements.
type Metrics interface {
	RunFinished(mode, outcome string)
	ObserveStage(stage string, d time.Duration)
}

// Request is one run: the context inputs plus the selected mode. A nil
// Mode is the report-only run.
type Request struct {
	Build core.BuildRequest
	Mode  Mode
}

// Result describes a finished run.
type Result struct {
	Context *core.AnalysisContext
	// Written lists the files of a file-production mode.
	Written []string
	// Report is the rendered report path; empty for file-production modes.
	Report string
}

// Runner drives a run from context construction to report assembly.
type Runner struct {
	builder   ContextBuilder
	ops       Operations
	assembler Assembler
	metrics   Metrics
	log       logging.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the run logger; every line carries the run id.
func WithLogger(l logging.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMetrics reports run outcomes and stage timings to m.
func WithMetrics(m Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner returns a Runner.
func NewRunner(builder ContextBuilder, ops Operations, assembler Assembler, opts ...RunnerOption) *Runner {
	r := &Runner{
		builder:   builder,
		ops:       ops,
		assembler: assembler,
		metrics:   (*observability.PipelineCollector)(nil),
		log:       logging.Noop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = (*observability.PipelineCollector)(nil)
	}
	return r
}

// Run builds the context, dispatches the mode and, unless the mode
// produced files, assembles the report exactly once.
func (r *Runner) Run(ctx context.Context, req Request) (res Result, err error) {
	mode := req.Mode
	if mode == nil {
		mode = ReportMode{}
	}
	ctx, log := logging.WithRunLogger(ctx, r.log)
	log = log.With(logging.String("mode", mode.Name()))
	ctx = logging.ContextWithLogger(ctx, log)

	ctx, span := observability.Tracer().Start(ctx, "pipeline.Run")
	span.SetAttributes(attribute.String("mode", mode.Name()))
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.SetStatus(codes.Error, err.Error())
		}
		r.metrics.RunFinished(mode.Name(), outcome)
		span.End()
	}()

	build := req.Build
	if rtk, ok := mode.(RTKMode); ok {
		base := rtk.Base
		build.Base = &base
	} else {
		build.Base = nil
	}

	actx, err := r.builder.Build(ctx, build)
	if err != nil {
		return Result{}, err
	}
	res.Context = actx

	if Terminal(mode) {
		if _, err := actx.Workspace().CreateSubdir(workspace.OutputDir); err != nil {
			return res, fmt.Errorf("%s: %w", mode.Name(), err)
		}
	}

	start := time.Now()
	outcome, err := Dispatch(ctx, actx, mode, r.ops)
	r.metrics.ObserveStage(mode.Name(), time.Since(start))
	if err != nil {
		return res, fmt.Errorf("%s: %w", mode.Name(), err)
	}
	if outcome.Terminated {
		res.Written = outcome.Written
		log.Info(ctx, "run complete", logging.Int("files", len(outcome.Written)))
		return res, nil
	}

	start = time.Now()
	path, err := r.assembler.Assemble(ctx, actx, outcome.Pages)
	r.metrics.ObserveStage("report", time.Since(start))
	if err != nil {
		return res, err
	}
	res.Report = path
	log.Info(ctx, "run complete", logging.String("report", path))
	return res, nil
}
