package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/gnssqc/internal/logging"
	"github.com/signalsfoundry/gnssqc/internal/observability"
	"github.com/signalsfoundry/gnssqc/internal/rinex"
	"github.com/signalsfoundry/gnssqc/internal/sp3"
	"github.com/signalsfoundry/gnssqc/model"
)

var (
	// ErrNotRecognized is returned by a Probe when the file is not of its
	// kind at all, as opposed to a file of its kind that fails to decode.
	ErrNotRecognized = errors.New("not recognized")
	// ErrUnsupportedFormat indicates no probe recognized a file.
	ErrUnsupportedFormat = errors.New("non supported file format")
)

// Side tells which dataset of a run is being loaded.
type Side string

const (
	SideRover Side = "rover"
	SideBase  Side = "base"
)

// DefaultMaxDepth bounds directory recursion when none is configured.
const DefaultMaxDepth = 5

// Probe decodes files of one kind.
type Probe interface {
	Kind() model.Kind
	// Decode returns ErrNotRecognized (possibly wrapped) when path is not a
	// file of this kind.
	Decode(path string) (Record, error)
}

// RINEXProbe decodes RINEX files.
type RINEXProbe struct{}

func (RINEXProbe) Kind() model.Kind { return model.KindRINEX }

func (RINEXProbe) Decode(path string) (Record, error) {
	f, err := rinex.ParseFile(path)
	if err != nil {
		if errors.Is(err, rinex.ErrNotRINEX) {
			return Record{}, fmt.Errorf("%w: %v", ErrNotRecognized, err)
		}
		return Record{}, err
	}
	return Record{Path: path, Kind: model.KindRINEX, RINEX: f}, nil
}

// SP3Probe decodes SP3 files.
type SP3Probe struct{}

func (SP3Probe) Kind() model.Kind { return model.KindSP3 }

func (SP3Probe) Decode(path string) (Record, error) {
	f, err := sp3.ParseFile(path)
	if err != nil {
		if errors.Is(err, sp3.ErrNotSP3) {
			return Record{}, fmt.Errorf("%w: %v", ErrNotRecognized, err)
		}
		return Record{}, err
	}
	return Record{Path: path, Kind: model.KindSP3, SP3: f}, nil
}

// DefaultProbes is the RINEX-then-SP3 probe chain.
func DefaultProbes() []Probe {
	return []Probe{RINEXProbe{}, SP3Probe{}}
}

// Classify runs probes in order and returns the first successful decode.
// When every probe fails, the error is the first decode failure of a
// recognizing probe, or ErrUnsupportedFormat.
func Classify(path string, probes []Probe) (Record, error) {
	var decodeErr error
	for _, p := range probes {
		rec, err := p.Decode(path)
		if err == nil {
			return rec, nil
		}
		if decodeErr == nil && !errors.Is(err, ErrNotRecognized) {
			decodeErr = fmt.Errorf("%s: %w", p.Kind(), err)
		}
	}
	if decodeErr != nil {
		return Record{}, decodeErr
	}
	return Record{}, ErrUnsupportedFormat
}

// Inputs is a user file selection.
type Inputs struct {
	Files       []string
	Directories []string
}

// Empty reports whether nothing was selected.
func (in Inputs) Empty() bool { return len(in.Files) == 0 && len(in.Directories) == 0 }

// LoaderMetrics receives per-file load outcomes.
type LoaderMetrics interface {
	FileLoaded(side, kind string)
	FileSkipped(side, reason string)
}

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	MaxDepth int
	// Filters are preprocessing expressions, see ParseFilter.
	Filters []string
	Probes  []Probe
	Log     logging.Logger
	Metrics LoaderMetrics
}

// Loader turns Inputs into a Dataset.
type Loader struct {
	maxDepth int
	pre      *Preprocessor
	probes   []Probe
	log      logging.Logger
	metrics  LoaderMetrics
}

// NewLoader validates cfg. Invalid settings are reported as a
// *BootstrapError.
func NewLoader(cfg LoaderConfig) (*Loader, error) {
	if cfg.MaxDepth < 0 {
		return nil, &BootstrapError{Stage: "loader", Err: fmt.Errorf("negative max depth %d", cfg.MaxDepth)}
	}
	pre, err := NewPreprocessor(cfg.Filters)
	if err != nil {
		return nil, &BootstrapError{Stage: "preprocess", Err: err}
	}
	probes := cfg.Probes
	if len(probes) == 0 {
		probes = DefaultProbes()
	}
	log := cfg.Log
	if log == nil {
		log = logging.Noop()
	}
	return &Loader{
		maxDepth: cfg.MaxDepth,
		pre:      pre,
		probes:   probes,
		log:      log,
		metrics:  cfg.Metrics,
	}, nil
}

// Load discovers, classifies and merges every candidate of in, then applies
// the preprocessing filters. Directories are walked before explicit files.
// Per-file failures are logged and skipped; Load never fails as a whole.
// When ctx is cancelled the remaining candidates are left out.
func (l *Loader) Load(ctx context.Context, in Inputs, side Side) *Dataset {
	ctx, span := observability.Tracer().Start(ctx, "core.Load",
		trace.WithAttributes(attribute.String("side", string(side))))
	defer span.End()
	log := l.log.With(logging.String("side", string(side)))
	start := time.Now()

	var candidates []string
	for _, dir := range in.Directories {
		candidates = append(candidates, l.discover(ctx, log, dir)...)
	}
	candidates = append(candidates, in.Files...)

	ds := &Dataset{}
	unrecognized := 0
	for i, path := range candidates {
		if err := ctx.Err(); err != nil {
			log.Warn(ctx, "loading interrupted", logging.Int("remaining", len(candidates)-i), logging.Err(err))
			break
		}
		if entry := l.loadFile(ctx, log, ds, path, side); entry.Kind == model.KindUnknown {
			unrecognized++
		}
	}
	ds.freeze()
	ds = l.pre.Apply(ds)

	filters := make([]string, 0, len(l.pre.Filters()))
	for _, f := range l.pre.Filters() {
		filters = append(filters, f.String())
	}
	span.SetAttributes(
		attribute.Int("files", ds.Len()),
		attribute.Int("candidates", len(candidates)),
		attribute.StringSlice("filters", filters),
	)
	log.Info(ctx, "dataset loaded",
		logging.Int("files", ds.Len()),
		logging.Int("candidates", len(candidates)),
		logging.Int("unrecognized", unrecognized),
		logging.Any("filters", filters),
		logging.Duration("elapsed", time.Since(start)),
	)
	return ds
}

// loadFile classifies path and merges it into ds. The returned entry keeps
// KindUnknown when no probe recognized the file.
func (l *Loader) loadFile(ctx context.Context, log logging.Logger, ds *Dataset, path string, side Side) RawFileEntry {
	entry := RawFileEntry{Path: path}
	rec, err := Classify(path, l.probes)
	if err != nil {
		if errors.Is(err, ErrUnsupportedFormat) {
			log.Warn(ctx, "non supported file format", logging.String("path", path))
			l.skipped(side, "unsupported")
			return entry
		}
		log.Warn(ctx, "failed to load", logging.String("path", path), logging.Err(err))
		l.skipped(side, "decode")
		return entry
	}
	entry = rec.Entry()
	if err := ds.merge(rec); err != nil {
		log.Warn(ctx, "failed to merge", logging.String("path", path), logging.Err(err))
		l.skipped(side, "merge")
		return entry
	}
	log.Info(ctx, "loaded", logging.String("path", entry.Path), logging.String("kind", entry.Kind.String()))
	if l.metrics != nil {
		l.metrics.FileLoaded(string(side), entry.Kind.String())
	}
	return entry
}

func (l *Loader) skipped(side Side, reason string) {
	if l.metrics != nil {
		l.metrics.FileSkipped(string(side), reason)
	}
}

// discover lists the regular files below dir, descending at most maxDepth
// levels (dir itself is depth 0).
func (l *Loader) discover(ctx context.Context, log logging.Logger, dir string) []string {
	var out []string
	root := filepath.Clean(dir)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warn(ctx, "cannot walk", logging.String("path", path), logging.Err(err))
			return nil
		}
		depth := 0
		if rel, relErr := filepath.Rel(root, path); relErr == nil && rel != "." {
			depth = strings.Count(rel, string(os.PathSeparator)) + 1
		}
		if d.IsDir() {
			if depth >= l.maxDepth {
				return fs.SkipDir
			}
			return nil
		}
		if depth <= l.maxDepth {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		log.Warn(ctx, "directory walk aborted", logging.String("dir", dir), logging.Err(err))
	}
	return out
}
