package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/gnssqc/internal/logging"
	"github.com/signalsfoundry/gnssqc/internal/observability"
	"github.com/signalsfoundry/gnssqc/internal/workspace"
	"github.com/signalsfoundry/gnssqc/model"
)

// defaultName is used when neither the rover dataset nor the inputs give a
// usable name.
const defaultName = "gnssqc"

// AnalysisContext is everything an operation needs. It is built once per run
// and never modified afterwards; only its workspace gains subdirectories.
type AnalysisContext struct {
	name      string
	rover     *Dataset
	site      *ReferenceSite
	quiet     bool
	workspace *workspace.Workspace
	position  *model.GeodeticPosition
	source    PositionSource
}

// ContextParts are the already resolved pieces of an AnalysisContext.
type ContextParts struct {
	Name           string
	Rover          *Dataset
	Site           *ReferenceSite
	Position       *model.GeodeticPosition
	PositionSource PositionSource
	Workspace      *workspace.Workspace
	Quiet          bool
}

// NewAnalysisContext assembles a context from parts. Runs go through
// Builder.Build; this serves callers holding their own datasets.
func NewAnalysisContext(p ContextParts) *AnalysisContext {
	if p.Rover == nil {
		p.Rover = &Dataset{}
	}
	if p.Position == nil {
		p.PositionSource = SourceNone
	}
	return &AnalysisContext{
		name:      p.Name,
		rover:     p.Rover,
		site:      p.Site,
		quiet:     p.Quiet,
		workspace: p.Workspace,
		position:  p.Position,
		source:    p.PositionSource,
	}
}

func (c *AnalysisContext) Name() string                    { return c.name }
func (c *AnalysisContext) Rover() *Dataset                 { return c.rover }
func (c *AnalysisContext) ReferenceSite() *ReferenceSite   { return c.site }
func (c *AnalysisContext) Quiet() bool                     { return c.quiet }
func (c *AnalysisContext) Workspace() *workspace.Workspace { return c.workspace }
func (c *AnalysisContext) PositionSource() PositionSource  { return c.source }

// Position returns the resolved rover position.
func (c *AnalysisContext) Position() (model.GeodeticPosition, bool) {
	if c.position == nil {
		return model.GeodeticPosition{}, false
	}
	return *c.position, true
}

// BuildRequest carries the user choices needed to assemble a context.
type BuildRequest struct {
	Rover Inputs
	// Base is set only for differential runs.
	Base           *Inputs
	ManualPosition *model.ECEF
	Quiet          bool
	WorkspaceRoot  string
}

// BaselineRecorder receives the rover/base distance.
type BaselineRecorder interface {
	SetBaseline(meters float64)
}

// StageRecorder receives stage timings.
type StageRecorder interface {
	ObserveStage(stage string, d time.Duration)
}

// Builder assembles AnalysisContexts.
type Builder struct {
	loader   *Loader
	log      logging.Logger
	baseline BaselineRecorder
	stages   StageRecorder
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets the builder logger.
func WithLogger(l logging.Logger) BuilderOption {
	return func(b *Builder) {
		if l != nil {
			b.log = l
		}
	}
}

// WithBaselineRecorder reports computed baselines to r.
func WithBaselineRecorder(r BaselineRecorder) BuilderOption {
	return func(b *Builder) { b.baseline = r }
}

// WithStageRecorder reports load and resolve timings to r.
func WithStageRecorder(r StageRecorder) BuilderOption {
	return func(b *Builder) { b.stages = r }
}

// NewBuilder returns a Builder loading datasets with loader.
func NewBuilder(loader *Loader, opts ...BuilderOption) *Builder {
	b := &Builder{loader: loader, log: logging.Noop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build loads the rover dataset (and the base dataset when req.Base is set,
// concurrently), resolves the rover position, pairs the reference site and
// creates the workspace.
//
// A base dataset without a geodetic marker is logged and leaves the
// reference site absent; only cancellation of ctx and workspace creation
// can fail the build.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (*AnalysisContext, error) {
	ctx, span := observability.Tracer().Start(ctx, "core.Build")
	defer span.End()

	start := time.Now()
	var rover, base *Dataset
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rover = b.loader.Load(gctx, req.Rover, SideRover)
		return gctx.Err()
	})
	if req.Base != nil {
		g.Go(func() error {
			base = b.loader.Load(gctx, *req.Base, SideBase)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load datasets: %w", err)
	}
	b.observe("load", start)

	start = time.Now()
	position, source := ResolvePosition(req.ManualPosition, rover)
	switch source {
	case SourceManual:
		b.log.Info(ctx, "manually defined position", logging.String("position", position.String()))
	case SourceDataset:
		b.log.Info(ctx, "position defined in dataset", logging.String("position", position.String()))
	default:
		b.log.Warn(ctx, "no RX position defined")
	}

	var site *ReferenceSite
	if base != nil {
		var err error
		site, err = BuildReferenceSite(ctx, base, position, b.log.With(logging.String("side", string(SideBase))))
		switch {
		case errors.Is(err, ErrMissingGeodeticMarker):
			b.log.Error(ctx, "rtk reference site not built", logging.Err(err))
			site = nil
		case err != nil:
			return nil, err
		}
		if site != nil && b.baseline != nil {
			if m, ok := site.Baseline(); ok {
				b.baseline.SetBaseline(m)
			}
		}
	}
	b.observe("resolve", start)

	name := contextName(req.Rover, rover)
	ws, err := workspace.New(req.WorkspaceRoot, name)
	if err != nil {
		return nil, &BootstrapError{Stage: "workspace", Err: err}
	}
	b.log.Info(ctx, "workspace ready", logging.String("path", ws.Root()))

	return NewAnalysisContext(ContextParts{
		Name:           name,
		Rover:          rover,
		Site:           site,
		Position:       position,
		PositionSource: source,
		Workspace:      ws,
		Quiet:          req.Quiet,
	}), nil
}

func (b *Builder) observe(stage string, start time.Time) {
	if b.stages != nil {
		b.stages.ObserveStage(stage, time.Since(start))
	}
}

// contextName derives the run name from the rover: the first loaded file,
// else the first explicit file, else the first directory.
func contextName(in Inputs, rover *Dataset) string {
	if stem := rover.Stem(); stem != "" {
		return stem
	}
	if len(in.Files) > 0 {
		if stem := FileStem(in.Files[0]); stem != "" && stem != "." {
			return stem
		}
	}
	if len(in.Directories) > 0 {
		if base := filepath.Base(filepath.Clean(in.Directories[0])); base != "." && base != string(filepath.Separator) && base != ".." {
			return base
		}
	}
	return defaultName
}
