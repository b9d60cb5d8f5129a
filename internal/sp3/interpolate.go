package sp3

import (
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/gnssqc/model"
)

// ErrInterpolation indicates not enough valid records surround the requested
// instant.
var ErrInterpolation = errors.New("sp3 interpolation window unavailable")

type sample struct {
	t   float64
	rec Record
}

func (f *File) samples(sv model.SV) []sample {
	var out []sample
	var ref time.Time
	if len(f.Epochs) > 0 {
		ref = f.Epochs[0].Time
	}
	for _, e := range f.Epochs {
		for _, rec := range e.Records {
			if rec.SV == sv && rec.Valid {
				out = append(out, sample{t: e.Time.Sub(ref).Seconds(), rec: rec})
			}
		}
	}
	return out
}

// Position interpolates the position of sv at t with a Lagrange polynomial
// of the given order, centred on t. The clock offset, in seconds, is
// interpolated linearly between the two neighbouring records.
func (f *File) Position(sv model.SV, t time.Time, order int) (model.ECEF, float64, error) {
	if order < 1 {
		order = 1
	}
	s := f.samples(sv)
	n := order + 1
	if len(s) < n {
		return model.ECEF{}, 0, fmt.Errorf("%w: %s has %d records", ErrInterpolation, sv, len(s))
	}
	x := t.Sub(f.Epochs[0].Time).Seconds()
	if x < s[0].t || x > s[len(s)-1].t {
		return model.ECEF{}, 0, fmt.Errorf("%w: %s outside %s coverage", ErrInterpolation, t.Format(time.RFC3339), sv)
	}

	// index of the first sample after x
	after := len(s)
	for i := range s {
		if s[i].t > x {
			after = i
			break
		}
	}
	start := after - n/2
	if start < 0 {
		start = 0
	}
	if start+n > len(s) {
		start = len(s) - n
	}
	win := s[start : start+n]

	var pos model.ECEF
	for j := range win {
		l := 1.0
		for m := range win {
			if m != j {
				l *= (x - win[m].t) / (win[j].t - win[m].t)
			}
		}
		pos = pos.Add(win[j].rec.Position.Scale(l))
	}

	clk, err := linearClock(s, x)
	if err != nil {
		return model.ECEF{}, 0, fmt.Errorf("%w: %s clock: %v", ErrInterpolation, sv, err)
	}
	return pos, clk, nil
}

func linearClock(s []sample, x float64) (float64, error) {
	var prev, next *sample
	for i := range s {
		if !s[i].rec.ClockValid {
			continue
		}
		if s[i].t <= x {
			prev = &s[i]
		}
		if s[i].t >= x {
			next = &s[i]
			break
		}
	}
	switch {
	case prev == nil || next == nil:
		return 0, errors.New("no bracketing clock record")
	case prev.t == next.t:
		return prev.rec.ClockUs * 1e-6, nil
	}
	w := (x - prev.t) / (next.t - prev.t)
	us := prev.rec.ClockUs + w*(next.rec.ClockUs-prev.rec.ClockUs)
	return us * 1e-6, nil
}
