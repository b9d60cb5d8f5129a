package core

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/signalsfoundry/gnssqc/internal/logging"
	"github.com/signalsfoundry/gnssqc/internal/rinex"
	"github.com/signalsfoundry/gnssqc/model"
)

func newTestLoader(t *testing.T, cfg LoaderConfig) *Loader {
	t.Helper()
	l, err := NewLoader(cfg)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	return l
}

func sortedPaths(ds *Dataset) []string {
	p := ds.Paths()
	sort.Strings(p)
	return p
}

func TestLoadKeepsOnlySupportedFiles(t *testing.T) {
	root := t.TempDir()
	obs := writeFile(t, filepath.Join(root, "data", "ESBC00DNK.rnx"), obsText("ESBC", &esbc, 2))
	orb := writeFile(t, filepath.Join(root, "data", "IGS0OPSFIN.sp3"), sp3Text(2))
	writeFile(t, filepath.Join(root, "data", "notes.txt"), "field notes\n")
	writeFile(t, filepath.Join(root, "data", "empty.dat"), "")
	extra := writeFile(t, filepath.Join(root, "extra.rnx"), obsText("EXTR", nil, 1))

	metrics := newFakeMetrics()
	l := newTestLoader(t, LoaderConfig{MaxDepth: DefaultMaxDepth, Metrics: metrics})
	ds := l.Load(context.Background(), Inputs{
		Files:       []string{extra},
		Directories: []string{filepath.Join(root, "data")},
	}, SideRover)

	want := []string{obs, orb, extra}
	sort.Strings(want)
	got := sortedPaths(ds)
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("paths = %v, want %v", got, want)
	}
	if metrics.loaded["rover/rinex"] != 2 || metrics.loaded["rover/sp3"] != 1 {
		t.Fatalf("loaded metrics = %v", metrics.loaded)
	}
	if metrics.skipped["rover/unsupported"] != 2 {
		t.Fatalf("skipped metrics = %v", metrics.skipped)
	}

	// directories come before explicit files
	if ds.Paths()[len(ds.Paths())-1] != extra {
		t.Fatalf("explicit file should be merged last, got %v", ds.Paths())
	}
	if len(ds.Observations()) != 2 || len(ds.SP3()) != 1 {
		t.Fatalf("observations=%d sp3=%d", len(ds.Observations()), len(ds.SP3()))
	}
}

func TestLoadRespectsMaxDepth(t *testing.T) {
	root := t.TempDir()
	a := writeFile(t, filepath.Join(root, "a.rnx"), obsText("A", nil, 1))
	b := writeFile(t, filepath.Join(root, "d1", "b.rnx"), obsText("B", nil, 1))
	writeFile(t, filepath.Join(root, "d1", "d2", "c.rnx"), obsText("C", nil, 1))

	tests := []struct {
		depth int
		want  []string
	}{
		{depth: 0, want: nil},
		{depth: 1, want: []string{a}},
		{depth: 2, want: []string{a, b}},
	}
	for _, tt := range tests {
		l := newTestLoader(t, LoaderConfig{MaxDepth: tt.depth})
		ds := l.Load(context.Background(), Inputs{Directories: []string{root}}, SideRover)
		got := sortedPaths(ds)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("depth %d: paths = %v, want %v", tt.depth, got, tt.want)
		}
	}
}

func TestLoadIsolatesBrokenFiles(t *testing.T) {
	root := t.TempDir()
	good := writeFile(t, filepath.Join(root, "good.rnx"), obsText("GOOD", &esbc, 1))
	text := obsText("BAD", nil, 1)
	broken := writeFile(t, filepath.Join(root, "broken.rnx"), text[:strings.Index(text, "END OF HEADER")-60])

	metrics := newFakeMetrics()
	l := newTestLoader(t, LoaderConfig{MaxDepth: 1, Metrics: metrics})
	ds := l.Load(context.Background(), Inputs{Files: []string{broken, good}}, SideBase)

	if got := ds.Paths(); len(got) != 1 || got[0] != good {
		t.Fatalf("paths = %v, want only %s", got, good)
	}
	if metrics.skipped["base/decode"] != 1 {
		t.Fatalf("skipped metrics = %v", metrics.skipped)
	}
}

func TestLoadSkipsDuplicatePaths(t *testing.T) {
	root := t.TempDir()
	obs := writeFile(t, filepath.Join(root, "a.rnx"), obsText("A", nil, 1))

	metrics := newFakeMetrics()
	l := newTestLoader(t, LoaderConfig{MaxDepth: 1, Metrics: metrics})
	ds := l.Load(context.Background(), Inputs{Files: []string{obs}, Directories: []string{root}}, SideRover)

	if ds.Len() != 1 {
		t.Fatalf("len = %d, want 1", ds.Len())
	}
	if metrics.skipped["rover/merge"] != 1 {
		t.Fatalf("skipped metrics = %v", metrics.skipped)
	}
}

func TestLoadGzipInput(t *testing.T) {
	f, err := rinex.Decode(strings.NewReader(obsText("GZIP", &esbc, 2)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	path := filepath.Join(t.TempDir(), "GZIP00DNK.rnx.gz")
	if err := rinex.WriteFile(path, f); err != nil {
		t.Fatalf("write gz: %v", err)
	}

	l := newTestLoader(t, LoaderConfig{})
	ds := l.Load(context.Background(), Inputs{Files: []string{path}}, SideRover)
	if ds.Len() != 1 {
		t.Fatalf("len = %d, want 1", ds.Len())
	}
	if ds.Stem() != "GZIP00DNK" {
		t.Fatalf("stem = %q", ds.Stem())
	}
}

func TestLoadMissingDirectoryYieldsEmptyDataset(t *testing.T) {
	l := newTestLoader(t, LoaderConfig{MaxDepth: 3})
	ds := l.Load(context.Background(), Inputs{Directories: []string{filepath.Join(t.TempDir(), "nope")}}, SideRover)
	if !ds.IsEmpty() {
		t.Fatalf("expected empty dataset, got %v", ds.Paths())
	}
	if _, ok := ds.Position(); ok {
		t.Fatalf("empty dataset must not declare a position")
	}
}

func TestLoadAppliesPreprocessing(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "a.rnx"), obsText("A", &esbc, 4))

	l := newTestLoader(t, LoaderConfig{Filters: []string{"GPS", "decim:2"}})
	ds := l.Load(context.Background(), Inputs{Files: []string{path}}, SideRover)

	obs := ds.Observations()
	if len(obs) != 1 {
		t.Fatalf("observations = %d", len(obs))
	}
	if n := len(obs[0].Epochs); n != 2 {
		t.Fatalf("epochs after decim:2 = %d, want 2", n)
	}
	for _, e := range obs[0].Epochs {
		if len(e.Observations) != 1 {
			t.Fatalf("epoch %s keeps %d satellites, want GPS only", e.Time, len(e.Observations))
		}
		if _, ok := e.Observations[gps01]; !ok {
			t.Fatalf("epoch %s lost G01", e.Time)
		}
	}
}

func TestLoadSummaryCountsUnrecognized(t *testing.T) {
	root := t.TempDir()
	obs := writeFile(t, filepath.Join(root, "a.rnx"), obsText("A", &esbc, 2))
	notes := writeFile(t, filepath.Join(root, "notes.txt"), "field notes\n")

	var logs bytes.Buffer
	l := newTestLoader(t, LoaderConfig{
		Filters: []string{"GPS"},
		Log:     logging.New(logging.Config{Format: "text", Output: &logs}),
	})
	ds := l.Load(context.Background(), Inputs{Files: []string{obs, notes}}, SideRover)
	if ds.Len() != 1 {
		t.Fatalf("files = %d", ds.Len())
	}
	out := logs.String()
	for _, want := range []string{"dataset loaded", "unrecognized=1", "candidates=2", "GPS"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log %q missing %q", out, want)
		}
	}
}

func TestLoadStopsWhenCancelled(t *testing.T) {
	obs := writeFile(t, filepath.Join(t.TempDir(), "a.rnx"), obsText("A", &esbc, 2))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	metrics := newFakeMetrics()
	l := newTestLoader(t, LoaderConfig{Metrics: metrics})
	ds := l.Load(ctx, Inputs{Files: []string{obs}}, SideRover)
	if !ds.IsEmpty() {
		t.Fatalf("cancelled load kept %v", ds.Paths())
	}
	if len(metrics.loaded) != 0 {
		t.Fatalf("loaded metrics = %v", metrics.loaded)
	}
}

func TestNewLoaderBootstrapErrors(t *testing.T) {
	for _, cfg := range []LoaderConfig{
		{Filters: []string{"decim:0"}},
		{Filters: []string{"XYZ"}},
		{Filters: []string{">yesterday"}},
		{MaxDepth: -1},
	} {
		_, err := NewLoader(cfg)
		if !errors.Is(err, ErrBootstrap) {
			t.Fatalf("NewLoader(%+v) err = %v, want ErrBootstrap", cfg, err)
		}
		var be *BootstrapError
		if !errors.As(err, &be) || be.Stage == "" {
			t.Fatalf("expected *BootstrapError with stage, got %T", err)
		}
	}
}

type stubProbe struct {
	kind model.Kind
	err  error
}

func (p stubProbe) Kind() model.Kind { return p.kind }

func (p stubProbe) Decode(path string) (Record, error) {
	if p.err != nil {
		return Record{}, p.err
	}
	return Record{Path: path, Kind: p.kind}, nil
}

func TestClassifyProbeOrder(t *testing.T) {
	notMine := stubProbe{kind: model.KindRINEX, err: ErrNotRecognized}
	sp3OK := stubProbe{kind: model.KindSP3}
	rinexOK := stubProbe{kind: model.KindRINEX}

	rec, err := Classify("x", []Probe{notMine, sp3OK})
	if err != nil || rec.Kind != model.KindSP3 {
		t.Fatalf("fallback probe: rec=%+v err=%v", rec, err)
	}
	rec, err = Classify("x", []Probe{rinexOK, sp3OK})
	if err != nil || rec.Kind != model.KindRINEX {
		t.Fatalf("first probe must win: rec=%+v err=%v", rec, err)
	}

	_, err = Classify("x", []Probe{notMine})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}

	boom := errors.New("boom")
	_, err = Classify("x", []Probe{stubProbe{kind: model.KindRINEX, err: boom}, notMine})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want decode failure", err)
	}
}
