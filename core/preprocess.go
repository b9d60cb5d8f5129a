package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/gnssqc/internal/rinex"
	"github.com/signalsfoundry/gnssqc/internal/sp3"
	"github.com/signalsfoundry/gnssqc/model"
)

type filterKind int

const (
	filterMask filterKind = iota
	filterTime
	filterDecimate
)

// Filter is one compiled preprocessing expression:
//
//	GPS,GAL      keep only these constellations
//	!GLO         drop a constellation
//	>=T, <T ...  keep epochs on the given side of T (RFC3339 or "2006-01-02 15:04:05")
//	decim:N      keep every Nth epoch
//	decim:30s    keep epochs at least 30s apart
type Filter struct {
	expr string
	kind filterKind

	systems map[model.Constellation]bool
	invert  bool

	op string
	at time.Time

	every   int
	spacing time.Duration
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"}

// ParseFilter compiles expr.
func ParseFilter(expr string) (Filter, error) {
	s := strings.TrimSpace(expr)
	f := Filter{expr: s}
	switch {
	case s == "":
		return f, fmt.Errorf("empty filter")

	case strings.HasPrefix(s, "decim:"):
		f.kind = filterDecimate
		arg := strings.TrimPrefix(s, "decim:")
		if n, err := strconv.Atoi(arg); err == nil {
			if n < 1 {
				return f, fmt.Errorf("filter %q: decimation ratio must be positive", expr)
			}
			f.every = n
			return f, nil
		}
		d, err := time.ParseDuration(arg)
		if err != nil || d <= 0 {
			return f, fmt.Errorf("filter %q: want decim:N or decim:<duration>", expr)
		}
		f.spacing = d
		return f, nil

	case s[0] == '>' || s[0] == '<':
		f.kind = filterTime
		f.op = s[:1]
		if len(s) > 1 && s[1] == '=' {
			f.op = s[:2]
		}
		t, err := ParseInstant(strings.TrimSpace(s[len(f.op):]))
		if err != nil {
			return f, fmt.Errorf("filter %q: %w", expr, err)
		}
		f.at = t
		return f, nil

	default:
		f.kind = filterMask
		if strings.HasPrefix(s, "!") {
			f.invert = true
			s = s[1:]
		}
		f.systems = make(map[model.Constellation]bool)
		for _, item := range strings.Split(s, ",") {
			c, err := model.ParseConstellation(strings.TrimSpace(item))
			if err != nil {
				return f, fmt.Errorf("filter %q: %w", expr, err)
			}
			f.systems[c] = true
		}
		return f, nil
	}
}

// ParseInstant parses an RFC3339 instant or one of the "2006-01-02
// 15:04:05", "2006-01-02T15:04:05" and "2006-01-02" layouts, as UTC.
func ParseInstant(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized instant %q", s)
}

func (f Filter) String() string { return f.expr }

func (f Filter) keepSV(sv model.SV) bool {
	return f.systems[sv.Constellation] != f.invert
}

func (f Filter) keepTime(t time.Time) bool {
	switch f.op {
	case ">":
		return t.After(f.at)
	case ">=":
		return !t.Before(f.at)
	case "<":
		return t.Before(f.at)
	default:
		return !t.After(f.at)
	}
}

// decimator returns a stateful predicate over consecutive epoch times.
func (f Filter) decimator() func(i int, t time.Time) bool {
	var last time.Time
	kept := false
	return func(i int, t time.Time) bool {
		if f.every > 0 {
			return i%f.every == 0
		}
		if kept && t.Sub(last) < f.spacing {
			return false
		}
		last, kept = t, true
		return true
	}
}

// Apply runs the filter over one record.
func (f Filter) Apply(rec Record) Record {
	switch {
	case rec.RINEX != nil:
		rec.RINEX = f.applyRINEX(rec.RINEX)
	case rec.SP3 != nil:
		rec.SP3 = f.applySP3(rec.SP3)
	}
	return rec
}

func (f Filter) applyRINEX(file *rinex.File) *rinex.File {
	switch f.kind {
	case filterMask:
		return file.RetainSatellites(f.keepSV)
	case filterTime:
		return file.RetainEpochs(func(_ int, e rinex.Epoch) bool { return f.keepTime(e.Time) })
	default:
		keep := f.decimator()
		return file.RetainEpochs(func(i int, e rinex.Epoch) bool { return keep(i, e.Time) })
	}
}

func (f Filter) applySP3(file *sp3.File) *sp3.File {
	switch f.kind {
	case filterMask:
		return file.RetainSatellites(f.keepSV)
	case filterTime:
		return file.RetainEpochs(func(_ int, e sp3.Epoch) bool { return f.keepTime(e.Time) })
	default:
		keep := f.decimator()
		return file.RetainEpochs(func(i int, e sp3.Epoch) bool { return keep(i, e.Time) })
	}
}

// Preprocessor applies an ordered list of filters to every record of a
// dataset.
type Preprocessor struct {
	filters []Filter
}

// NewPreprocessor compiles exprs in order.
func NewPreprocessor(exprs []string) (*Preprocessor, error) {
	p := &Preprocessor{}
	for _, expr := range exprs {
		f, err := ParseFilter(expr)
		if err != nil {
			return nil, err
		}
		p.filters = append(p.filters, f)
	}
	return p, nil
}

// Filters returns the compiled filters.
func (p *Preprocessor) Filters() []Filter {
	return append([]Filter(nil), p.filters...)
}

// Apply returns a new dataset with every filter applied to every record. ds
// itself is left untouched.
func (p *Preprocessor) Apply(ds *Dataset) *Dataset {
	if p == nil || len(p.filters) == 0 {
		return ds
	}
	recs := ds.Records()
	for i := range recs {
		for _, f := range p.filters {
			recs[i] = f.Apply(recs[i])
		}
	}
	return ds.withRecords(recs)
}
