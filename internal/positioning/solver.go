package positioning

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/signalsfoundry/gnssqc/core"
	"github.com/signalsfoundry/gnssqc/internal/sp3"
	"github.com/signalsfoundry/gnssqc/model"
)

const (
	speedOfLight = 299792458.0
	// earthRotation is the WGS84 Earth rotation rate in rad/s.
	earthRotation = 7.2921151467e-5
)

var (
	// ErrTooFewSatellites indicates an epoch with fewer usable satellites
	// than Config.MinSV.
	ErrTooFewSatellites = errors.New("not enough satellites")
	// ErrNotConverged indicates the iteration limit was reached.
	ErrNotConverged = errors.New("solution did not converge")
	// ErrSingularGeometry indicates a rank deficient design matrix.
	ErrSingularGeometry = errors.New("singular satellite geometry")
)

// Measurement is one corrected pseudorange ready for the solver.
type Measurement struct {
	SV model.SV
	// Range is the pseudorange in metres, including every correction the
	// caller applied.
	Range float64
	// Satellite is the satellite position at transmit time, rotated into
	// the ECEF frame of reception.
	Satellite model.ECEF
}

// Solution is the receiver state for one epoch.
type Solution struct {
	Time       time.Time
	Position   model.ECEF
	ClockBiasM float64
	Satellites int
	Iterations int
	// RMS is the root mean square of the post-fit residuals in metres.
	RMS float64
}

// orbitSource finds a satellite position and clock offset in a set of SP3
// files.
type orbitSource struct {
	files []*sp3.File
	order int
}

func (o orbitSource) at(sv model.SV, t time.Time) (model.ECEF, float64, error) {
	var firstErr error
	for _, f := range o.files {
		pos, clk, err := f.Position(sv, t, o.order)
		if err == nil {
			return pos, clk, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = fmt.Errorf("%w: no orbit file", sp3.ErrInterpolation)
	}
	return model.ECEF{}, 0, firstErr
}

// transmit returns the satellite position at the emission of a signal
// received at rx with the given pseudorange, plus the satellite clock
// offset in seconds. With sagnac set, the position is rotated by the Earth
// rotation accumulated during the signal flight.
func (o orbitSource) transmit(sv model.SV, rx time.Time, pseudorange float64, sagnac bool) (model.ECEF, float64, error) {
	flight := pseudorange / speedOfLight
	_, clk, err := o.at(sv, rx.Add(-seconds(flight)))
	if err != nil {
		return model.ECEF{}, 0, err
	}
	pos, clk, err := o.at(sv, rx.Add(-seconds(flight+clk)))
	if err != nil {
		return model.ECEF{}, 0, err
	}
	if sagnac {
		pos = rotateZ(pos, earthRotation*flight)
	}
	return pos, clk, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// rotateZ rotates p by -angle around the Z axis, which moves a position
// expressed in the ECEF frame of transmission into the frame of reception.
func rotateZ(p model.ECEF, angle float64) model.ECEF {
	sin, cos := math.Sincos(angle)
	return model.ECEF{
		X: cos*p.X + sin*p.Y,
		Y: -sin*p.X + cos*p.Y,
		Z: p.Z,
	}
}

// solve runs an iterative least squares adjustment of position and
// receiver clock bias, starting from apriori. Satellites below the
// elevation mask (seen from apriori) are dropped first.
func solve(t time.Time, meas []Measurement, apriori model.ECEF, cfg Config) (Solution, error) {
	used := make([]Measurement, 0, len(meas))
	for _, m := range meas {
		if core.ElevationDegrees(apriori, m.Satellite) >= cfg.ElevationMaskDeg {
			used = append(used, m)
		}
	}
	if len(used) < cfg.MinSV {
		return Solution{}, fmt.Errorf("%w: %d of %d required", ErrTooFewSatellites, len(used), cfg.MinSV)
	}

	x := [4]float64{apriori.X, apriori.Y, apriori.Z, 0}
	h := mat.NewDense(len(used), 4, nil)
	r := mat.NewVecDense(len(used), nil)
	for iter := 1; iter <= cfg.MaxIter; iter++ {
		pos := model.ECEF{X: x[0], Y: x[1], Z: x[2]}
		for i, m := range used {
			los := m.Satellite.Sub(pos)
			rho := los.Norm()
			h.SetRow(i, []float64{-los.X / rho, -los.Y / rho, -los.Z / rho, 1})
			r.SetVec(i, m.Range-(rho+x[3]))
		}
		dx, err := leastSquares(h, r)
		if err != nil {
			return Solution{}, err
		}
		for i := range x {
			x[i] += dx.AtVec(i)
		}
		if math.Sqrt(dx.AtVec(0)*dx.AtVec(0)+dx.AtVec(1)*dx.AtVec(1)+dx.AtVec(2)*dx.AtVec(2)) < cfg.ConvergenceM {
			pos := model.ECEF{X: x[0], Y: x[1], Z: x[2]}
			return Solution{
				Time:       t,
				Position:   pos,
				ClockBiasM: x[3],
				Satellites: len(used),
				Iterations: iter,
				RMS:        residualRMS(used, pos, x[3]),
			}, nil
		}
	}
	return Solution{}, fmt.Errorf("%w after %d iterations", ErrNotConverged, cfg.MaxIter)
}

func residualRMS(meas []Measurement, pos model.ECEF, bias float64) float64 {
	var sum float64
	for _, m := range meas {
		r := m.Range - (m.Satellite.DistanceTo(pos) + bias)
		sum += r * r
	}
	return math.Sqrt(sum / float64(len(meas)))
}

// leastSquares solves h·dx = r in the least squares sense. An ill
// conditioned design matrix is reported as ErrSingularGeometry.
func leastSquares(h *mat.Dense, r *mat.VecDense) (*mat.VecDense, error) {
	var dx mat.VecDense
	if err := dx.SolveVec(h, r); err != nil {
		var cond mat.Condition
		if errors.As(err, &cond) {
			return nil, fmt.Errorf("%w: condition number %.3g", ErrSingularGeometry, float64(cond))
		}
		return nil, err
	}
	return &dx, nil
}
