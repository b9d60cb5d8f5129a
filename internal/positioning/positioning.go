// Package positioning computes per-epoch receiver solutions from the rover
// observations of an analysis context: single receiver pseudorange
// positioning (ppp mode) and code differential positioning against the
// reference site (rtk mode).
package positioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/gnssqc/core"
	"github.com/signalsfoundry/gnssqc/internal/logging"
	"github.com/signalsfoundry/gnssqc/internal/observability"
	"github.com/signalsfoundry/gnssqc/internal/rinex"
	"github.com/signalsfoundry/gnssqc/internal/sp3"
	"github.com/signalsfoundry/gnssqc/model"
)

var (
	// ErrUndefinedAprioriPosition indicates the context has no rover
	// position to start the solver from.
	ErrUndefinedAprioriPosition = errors.New("undefined apriori position")
	// ErrMissingReferenceSite indicates differential positioning without a
	// reference site.
	ErrMissingReferenceSite = errors.New("missing reference site")
	// ErrNoObservation indicates no revision 3+ observation RINEX.
	ErrNoObservation = errors.New("no observation RINEX (revision 3+)")
	// ErrNoOrbits indicates no SP3 file to compute satellite positions.
	ErrNoOrbits = errors.New("no SP3 orbits")
	// ErrNoSolution indicates every epoch was rejected.
	ErrNoSolution = errors.New("no epoch solved")
)

// Method names a positioning technique.
type Method string

const (
	MethodSPP   Method = "spp"
	MethodDGNSS Method = "dgnss"
)

// Metrics receives per-epoch solver outcomes.
type Metrics interface {
	EpochSolved(method string, iterations, sats int)
	EpochRejected(method, reason string)
	SetMeanError(meters float64)
}

// Positioner runs the solver over an analysis context.
type Positioner struct {
	cfg     Config
	metrics Metrics
}

// Option configures a Positioner.
type Option func(*Positioner)

// WithMetrics reports solver outcomes to m.
func WithMetrics(m Metrics) Option {
	return func(p *Positioner) { p.metrics = m }
}

// New validates cfg and returns a Positioner.
func New(cfg Config, opts ...Option) (*Positioner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Positioner{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = (*observability.SolverCollector)(nil)
	}
	return p, nil
}

// Result holds the solutions of one run.
type Result struct {
	Method    Method
	Apriori   model.ECEF
	Solutions []Solution
	// Epochs counts the observation epochs considered.
	Epochs int
}

// Mean returns the average of all solved positions.
func (r Result) Mean() model.ECEF {
	var sum model.ECEF
	for _, s := range r.Solutions {
		sum = sum.Add(s.Position)
	}
	if len(r.Solutions) == 0 {
		return sum
	}
	return sum.Scale(1 / float64(len(r.Solutions)))
}

// Error returns the 3D distance between the mean solution and the apriori
// position.
func (r Result) Error() float64 {
	return r.Mean().DistanceTo(r.Apriori)
}

type inputs struct {
	rover   *rinex.File
	orbits  orbitSource
	apriori model.ECEF
}

func (p *Positioner) inputs(actx *core.AnalysisContext, extraOrbits ...*sp3.File) (inputs, error) {
	var rover *rinex.File
	for _, f := range actx.Rover().Observations() {
		if f.HasObservations() {
			rover = f
			break
		}
	}
	if rover == nil {
		return inputs{}, ErrNoObservation
	}
	files := append(actx.Rover().SP3(), extraOrbits...)
	if len(files) == 0 {
		return inputs{}, ErrNoOrbits
	}
	pos, ok := actx.Position()
	if !ok {
		return inputs{}, ErrUndefinedAprioriPosition
	}
	return inputs{
		rover:   rover,
		orbits:  orbitSource{files: files, order: p.cfg.InterpolationOrder},
		apriori: pos.ECEF,
	}, nil
}

// SPP solves every rover epoch with satellite clock corrected pseudoranges.
func (p *Positioner) SPP(ctx context.Context, actx *core.AnalysisContext) (Result, error) {
	ctx, span := observability.Tracer().Start(ctx, "positioning.SPP")
	defer span.End()

	in, err := p.inputs(actx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("spp: %w", err)
	}
	res := Result{Method: MethodSPP, Apriori: in.apriori}
	for _, e := range in.rover.Epochs {
		if e.Flag > 1 {
			continue
		}
		res.Epochs++
		var meas []Measurement
		for sv := range e.Observations {
			pr, ok := e.Pseudorange(sv, p.cfg.Codes...)
			if !ok {
				continue
			}
			sat, clk, err := in.orbits.transmit(sv, e.Time, pr.Value, !p.cfg.DisableSagnac)
			if err != nil {
				continue
			}
			meas = append(meas, Measurement{SV: sv, Range: pr.Value + speedOfLight*clk, Satellite: sat})
		}
		p.solveEpoch(ctx, &res, e.Time, meas)
	}
	return p.finish(ctx, span, res)
}

// DGNSS corrects rover pseudoranges with the range errors observed at the
// reference site, then solves every epoch shared with the base station.
func (p *Positioner) DGNSS(ctx context.Context, actx *core.AnalysisContext) (Result, error) {
	ctx, span := observability.Tracer().Start(ctx, "positioning.DGNSS")
	defer span.End()

	site := actx.ReferenceSite()
	if site == nil {
		span.SetStatus(codes.Error, ErrMissingReferenceSite.Error())
		return Result{}, fmt.Errorf("dgnss: %w", ErrMissingReferenceSite)
	}
	in, err := p.inputs(actx, site.Dataset().SP3()...)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("dgnss: %w", err)
	}
	var base *rinex.File
	for _, f := range site.Dataset().Observations() {
		if f.HasObservations() {
			base = f
			break
		}
	}
	if base == nil {
		return Result{}, fmt.Errorf("dgnss: base: %w", ErrNoObservation)
	}
	basePos := site.Position().ECEF
	baseEpochs := make(map[time.Time]rinex.Epoch, len(base.Epochs))
	for _, e := range base.Epochs {
		baseEpochs[e.Time] = e
	}

	res := Result{Method: MethodDGNSS, Apriori: in.apriori}
	for _, e := range in.rover.Epochs {
		be, ok := baseEpochs[e.Time]
		if !ok || e.Flag > 1 {
			continue
		}
		res.Epochs++
		var meas []Measurement
		for sv := range e.Observations {
			pr, ok := e.Pseudorange(sv, p.cfg.Codes...)
			if !ok {
				continue
			}
			bpr, ok := be.Pseudorange(sv, pr.Code)
			if !ok || bpr.Code != pr.Code {
				continue
			}
			bsat, _, err := in.orbits.transmit(sv, e.Time, bpr.Value, !p.cfg.DisableSagnac)
			if err != nil {
				continue
			}
			sat, _, err := in.orbits.transmit(sv, e.Time, pr.Value, !p.cfg.DisableSagnac)
			if err != nil {
				continue
			}
			correction := bsat.DistanceTo(basePos) - bpr.Value
			meas = append(meas, Measurement{SV: sv, Range: pr.Value + correction, Satellite: sat})
		}
		p.solveEpoch(ctx, &res, e.Time, meas)
	}
	return p.finish(ctx, span, res)
}

func (p *Positioner) solveEpoch(ctx context.Context, res *Result, t time.Time, meas []Measurement) {
	sol, err := solve(t, meas, res.Apriori, p.cfg)
	if err != nil {
		p.metrics.EpochRejected(string(res.Method), rejectReason(err))
		logging.FromContext(ctx).Debug(ctx, "epoch rejected",
			logging.String("epoch", t.Format(time.RFC3339)),
			logging.Err(err))
		return
	}
	p.metrics.EpochSolved(string(res.Method), sol.Iterations, sol.Satellites)
	res.Solutions = append(res.Solutions, sol)
}

func (p *Positioner) finish(ctx context.Context, span trace.Span, res Result) (Result, error) {
	span.SetAttributes(
		attribute.String("method", string(res.Method)),
		attribute.Int("epochs", res.Epochs),
		attribute.Int("solved", len(res.Solutions)),
	)
	if len(res.Solutions) == 0 {
		err := fmt.Errorf("%s: %w (%d epochs)", res.Method, ErrNoSolution, res.Epochs)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	p.metrics.SetMeanError(res.Error())
	logging.FromContext(ctx).Info(ctx, "positioning complete",
		logging.String("method", string(res.Method)),
		logging.Int("epochs", res.Epochs),
		logging.Int("solved", len(res.Solutions)),
		logging.Float("error_m", res.Error()),
	)
	return res, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrTooFewSatellites):
		return "too_few_sv"
	case errors.Is(err, ErrNotConverged):
		return "not_converged"
	case errors.Is(err, ErrSingularGeometry):
		return "singular"
	default:
		return "other"
	}
}
