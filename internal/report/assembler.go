package report

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"os"
	"time"

	"github.com/signalsfoundry/gnssqc/core"
	"github.com/signalsfoundry/gnssqc/internal/logging"
	"github.com/signalsfoundry/gnssqc/internal/observability"
)

// FileName is the report written at the workspace root.
const FileName = "index.html"

//go:embed report.html.tmpl
var reportTemplate string

var tmpl = template.Must(template.New("report").Parse(reportTemplate))

type document struct {
	Title     string
	Generated string
	Pages     []Page
}

// Assembler turns an AnalysisContext and the extra pages of an analysis
// operation into the report file.
type Assembler struct {
	log logging.Logger
	now func() time.Time
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLogger sets the assembler logger.
func WithLogger(l logging.Logger) Option {
	return func(a *Assembler) {
		if l != nil {
			a.log = l
		}
	}
}

// WithClock overrides the generation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

// NewAssembler returns an Assembler.
func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{log: logging.Noop(), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble renders the context summary followed by extra, in order, into
// <workspace>/index.html and returns its path. Unless the context is quiet
// the report is then opened; a viewer failure is only logged.
func (a *Assembler) Assemble(ctx context.Context, actx *core.AnalysisContext, extra []Page) (string, error) {
	ctx, span := observability.Tracer().Start(ctx, "report.Assemble")
	defer span.End()

	doc := document{
		Title:     actx.Name(),
		Generated: a.now().UTC().Format(time.RFC3339),
		Pages:     append(ContextPages(actx), extra...),
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, doc); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}

	ws := actx.Workspace()
	path := ws.Path(FileName)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	a.log.Info(ctx, "report generated", logging.String("path", path), logging.Int("pages", len(doc.Pages)))

	if !actx.Quiet() {
		if err := ws.Open(path); err != nil {
			a.log.Warn(ctx, "failed to open report", logging.Err(err))
		}
	}
	return path, nil
}
