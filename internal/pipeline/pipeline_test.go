package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/gnssqc/core"
	"github.com/signalsfoundry/gnssqc/internal/fops"
	"github.com/signalsfoundry/gnssqc/internal/positioning"
	"github.com/signalsfoundry/gnssqc/internal/report"
	"github.com/signalsfoundry/gnssqc/internal/rinex"
	"github.com/signalsfoundry/gnssqc/internal/workspace"
	"github.com/signalsfoundry/gnssqc/model"
)

var errOp = errors.New("operation failed")

type fakeOps struct {
	calls []string
	fail  bool
}

func (f *fakeOps) record(name string) error {
	f.calls = append(f.calls, name)
	if f.fail {
		return errOp
	}
	return nil
}

func (f *fakeOps) Generate(context.Context, *core.AnalysisContext, fops.GenerateOptions) ([]string, error) {
	return []string{"a.rnx"}, f.record("generate")
}

func (f *fakeOps) Merge(context.Context, *core.AnalysisContext, string) (string, error) {
	return "merged.rnx", f.record("merge")
}

func (f *fakeOps) Split(context.Context, *core.AnalysisContext, time.Time) ([]string, error) {
	return []string{"a_a.rnx", "a_b.rnx"}, f.record("split")
}

func (f *fakeOps) TimeBin(context.Context, *core.AnalysisContext, time.Duration) ([]string, error) {
	return []string{"a_202006250000.rnx"}, f.record("tbin")
}

func (f *fakeOps) Diff(context.Context, *core.AnalysisContext, string) (string, error) {
	return "a_diff.rnx", f.record("diff")
}

func (f *fakeOps) PPP(context.Context, *core.AnalysisContext, positioning.Config) (report.Page, error) {
	return report.Page{Title: "ppp"}, f.record("ppp")
}

func (f *fakeOps) RTK(context.Context, *core.AnalysisContext, positioning.Config) (report.Page, error) {
	return report.Page{Title: "rtk"}, f.record("rtk")
}

type fakeAssembler struct {
	calls int
	pages []report.Page
}

func (a *fakeAssembler) Assemble(_ context.Context, actx *core.AnalysisContext, extra []report.Page) (string, error) {
	a.calls++
	a.pages = extra
	return actx.Workspace().Path(report.FileName), nil
}

type fakeBuilder struct {
	t    *testing.T
	req  core.BuildRequest
	err  error
	root string
}

func (b *fakeBuilder) Build(_ context.Context, req core.BuildRequest) (*core.AnalysisContext, error) {
	b.req = req
	if b.err != nil {
		return nil, b.err
	}
	ws, err := workspace.New(b.root, "ESBC")
	if err != nil {
		b.t.Fatalf("workspace: %v", err)
	}
	return core.NewAnalysisContext(core.ContextParts{Name: "ESBC", Workspace: ws, Quiet: true}), nil
}

type fakeMetrics struct {
	mu       sync.Mutex
	outcomes []string
	stages   []string
}

func (m *fakeMetrics) RunFinished(mode, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, mode+"/"+outcome)
}

func (m *fakeMetrics) ObserveStage(stage string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, stage)
}

type unknownMode struct{}

func (unknownMode) Name() string        { return "unknown" }
func (unknownMode) producesFiles() bool { return false }

var allModes = []Mode{
	GenerateMode{},
	MergeMode{Path: "x.rnx"},
	SplitMode{At: time.Now()},
	TimeBinMode{Interval: time.Hour},
	DiffMode{Path: "x.rnx"},
	PPPMode{Config: positioning.DefaultConfig()},
	RTKMode{Config: positioning.DefaultConfig()},
	ReportMode{},
}

func TestDispatch(t *testing.T) {
	for _, mode := range allModes {
		ops := &fakeOps{}
		out, err := Dispatch(context.Background(), nil, mode, ops)
		if err != nil {
			t.Fatalf("%s: %v", mode.Name(), err)
		}
		if out.Terminated != Terminal(mode) {
			t.Fatalf("%s: terminated=%v, want %v", mode.Name(), out.Terminated, Terminal(mode))
		}
		switch mode.(type) {
		case ReportMode:
			if len(ops.calls) != 0 || len(out.Pages) != 0 {
				t.Fatalf("report mode ran %v and produced %d pages", ops.calls, len(out.Pages))
			}
		case PPPMode, RTKMode:
			if len(out.Pages) != 1 || out.Pages[0].Title != mode.Name() {
				t.Fatalf("%s: pages = %+v", mode.Name(), out.Pages)
			}
		default:
			if len(out.Written) == 0 || len(out.Pages) != 0 {
				t.Fatalf("%s: outcome = %+v", mode.Name(), out)
			}
		}
		if _, ok := mode.(ReportMode); !ok && (len(ops.calls) != 1 || ops.calls[0] != mode.Name()) {
			t.Fatalf("%s: calls = %v", mode.Name(), ops.calls)
		}
	}
}

func TestDispatchUnknownMode(t *testing.T) {
	_, err := Dispatch(context.Background(), nil, unknownMode{}, &fakeOps{})
	if !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("expected ErrUnknownMode, got %v", err)
	}
}

func TestRunAssemblesOnlyForAnalysisModes(t *testing.T) {
	for _, mode := range allModes {
		builder := &fakeBuilder{t: t, root: t.TempDir()}
		asm := &fakeAssembler{}
		metrics := &fakeMetrics{}
		r := NewRunner(builder, &fakeOps{}, asm, WithMetrics(metrics))

		res, err := r.Run(context.Background(), Request{Mode: mode})
		if err != nil {
			t.Fatalf("%s: %v", mode.Name(), err)
		}
		outputDir := res.Context.Workspace().Path(workspace.OutputDir)
		_, statErr := os.Stat(outputDir)
		if Terminal(mode) {
			if asm.calls != 0 {
				t.Fatalf("%s: report assembled %d times", mode.Name(), asm.calls)
			}
			if len(res.Written) == 0 || res.Report != "" {
				t.Fatalf("%s: result = %+v", mode.Name(), res)
			}
			if statErr != nil {
				t.Fatalf("%s: OUTPUT not created: %v", mode.Name(), statErr)
			}
		} else {
			if asm.calls != 1 {
				t.Fatalf("%s: report assembled %d times, want 1", mode.Name(), asm.calls)
			}
			if res.Report == "" {
				t.Fatalf("%s: no report path", mode.Name())
			}
			wantPages := 1
			if _, ok := mode.(ReportMode); ok {
				wantPages = 0
			}
			if len(asm.pages) != wantPages {
				t.Fatalf("%s: %d extra pages, want %d", mode.Name(), len(asm.pages), wantPages)
			}
		}
		if got := strings.Join(metrics.outcomes, ","); got != mode.Name()+"/ok" {
			t.Fatalf("%s: outcomes = %s", mode.Name(), got)
		}
	}
}

func TestRunWithoutModeIsReportOnly(t *testing.T) {
	asm := &fakeAssembler{}
	ops := &fakeOps{}
	r := NewRunner(&fakeBuilder{t: t, root: t.TempDir()}, ops, asm)
	if _, err := r.Run(context.Background(), Request{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if asm.calls != 1 || len(asm.pages) != 0 || len(ops.calls) != 0 {
		t.Fatalf("assembler=%d pages=%d ops=%v", asm.calls, len(asm.pages), ops.calls)
	}
}

func TestRunLoadsBaseOnlyForRTK(t *testing.T) {
	base := core.Inputs{Directories: []string{"/data/base"}}
	for _, mode := range []Mode{RTKMode{Base: base, Config: positioning.DefaultConfig()}, PPPMode{}, ReportMode{}} {
		builder := &fakeBuilder{t: t, root: t.TempDir()}
		r := NewRunner(builder, &fakeOps{}, &fakeAssembler{})
		stray := core.Inputs{Files: []string{"/stray"}}
		if _, err := r.Run(context.Background(), Request{Mode: mode, Build: core.BuildRequest{Base: &stray}}); err != nil {
			t.Fatalf("%s: %v", mode.Name(), err)
		}
		_, rtk := mode.(RTKMode)
		switch {
		case rtk && (builder.req.Base == nil || builder.req.Base.Directories[0] != "/data/base"):
			t.Fatalf("rtk: base = %+v", builder.req.Base)
		case !rtk && builder.req.Base != nil:
			t.Fatalf("%s: base requested: %+v", mode.Name(), builder.req.Base)
		}
	}
}

func TestRunPropagatesErrors(t *testing.T) {
	asm := &fakeAssembler{}
	metrics := &fakeMetrics{}
	r := NewRunner(&fakeBuilder{t: t, root: t.TempDir()}, &fakeOps{fail: true}, asm, WithMetrics(metrics))

	_, err := r.Run(context.Background(), Request{Mode: PPPMode{}})
	if !errors.Is(err, errOp) {
		t.Fatalf("expected operation error, got %v", err)
	}
	if asm.calls != 0 {
		t.Fatalf("report assembled after a failed operation")
	}
	if metrics.outcomes[0] != "ppp/error" {
		t.Fatalf("outcomes = %v", metrics.outcomes)
	}

	boot := &core.BootstrapError{Stage: "preprocess", Err: errors.New("bad filter")}
	ops := &fakeOps{}
	r = NewRunner(&fakeBuilder{t: t, err: boot}, ops, asm)
	_, err = r.Run(context.Background(), Request{Mode: GenerateMode{}})
	if !errors.Is(err, core.ErrBootstrap) {
		t.Fatalf("expected bootstrap error, got %v", err)
	}
	if len(ops.calls) != 0 {
		t.Fatalf("operation dispatched after bootstrap failure: %v", ops.calls)
	}
}

func obsFile(t *testing.T, dir string) string {
	t.Helper()
	pos := model.ECEF{X: 3513649.63, Y: 778954.5, Z: 5248201.63}
	t0 := time.Date(2020, 6, 25, 0, 0, 0, 0, time.UTC)
	lines := []string{
		rinex.HeaderLine(fmt.Sprintf("%9.2f%11s%-20s%-20s", 3.04, "", "OBSERVATION DATA", "G"), "RINEX VERSION / TYPE"),
		rinex.HeaderLine(fmt.Sprintf("%14.4f%14.4f%14.4f", pos.X, pos.Y, pos.Z), "APPROX POSITION XYZ"),
		rinex.HeaderLine("G    1 C1C", "SYS / # / OBS TYPES"),
		rinex.HeaderLine("", "END OF HEADER"),
	}
	for i := 0; i < 4; i++ {
		lines = append(lines,
			rinex.FormatObsEpochLine(t0.Add(time.Duration(i)*time.Minute), 0, 1),
			rinex.FormatObservationLine(model.SV{Constellation: model.GPS, PRN: 1}, []*rinex.Observation{{Value: 2e7}}))
	}
	path := filepath.Join(dir, "ESBC00DNK.rnx")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestRunEndToEnd(t *testing.T) {
	in := t.TempDir()
	obs := obsFile(t, in)
	loader, err := core.NewLoader(core.LoaderConfig{MaxDepth: core.DefaultMaxDepth})
	if err != nil {
		t.Fatalf("loader: %v", err)
	}
	r := NewRunner(core.NewBuilder(loader), FileOperations{}, report.NewAssembler())

	root := t.TempDir()
	req := core.BuildRequest{Rover: core.Inputs{Files: []string{obs}}, Quiet: true, WorkspaceRoot: root}

	res, err := r.Run(context.Background(), Request{Build: req, Mode: GenerateMode{}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	want := filepath.Join(root, "ESBC00DNK", workspace.OutputDir, "ESBC00DNK.rnx")
	if len(res.Written) != 1 || res.Written[0] != want {
		t.Fatalf("written = %v, want %s", res.Written, want)
	}
	if _, err := os.Stat(filepath.Join(root, "ESBC00DNK", report.FileName)); !os.IsNotExist(err) {
		t.Fatalf("generate must not render the report")
	}

	res, err = r.Run(context.Background(), Request{Build: req})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	data, err := os.ReadFile(res.Report)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(data), "ESBC00DNK") {
		t.Fatalf("report does not name the context")
	}

	_, err = r.Run(context.Background(), Request{Build: req, Mode: PPPMode{Config: positioning.DefaultConfig()}})
	if !errors.Is(err, positioning.ErrNoOrbits) {
		t.Fatalf("ppp without orbits: %v", err)
	}
}
