// Package pipeline selects and runs the operation of a gnssqc run against
// its analysis context.
package pipeline

import (
	"time"

	"github.com/signalsfoundry/gnssqc/core"
	"github.com/signalsfoundry/gnssqc/internal/fops"
	"github.com/signalsfoundry/gnssqc/internal/positioning"
)

// Mode is the operation selected for a run. The set is closed: only the
// types of this package implement it.
type Mode interface {
	// Name is the command name of the mode.
	Name() string
	// producesFiles reports whether the mode terminates the run after
	// writing into the OUTPUT directory.
	producesFiles() bool
}

// GenerateMode re-emits every rover record.
type GenerateMode struct {
	Options fops.GenerateOptions
}

// MergeMode merges Path into the matching rover record.
type MergeMode struct {
	Path string
}

// SplitMode splits every rover record at At.
type SplitMode struct {
	At time.Time
}

// TimeBinMode chunks every rover record into bins of Interval.
type TimeBinMode struct {
	Interval time.Duration
}

// DiffMode differences the rover observations against Path.
type DiffMode struct {
	Path string
}

// PPPMode runs single receiver positioning.
type PPPMode struct {
	Config positioning.Config
}

// RTKMode runs differential positioning against the base station found
// in Base.
type RTKMode struct {
	Base   core.Inputs
	Config positioning.Config
}

// ReportMode only renders the context report. It is the mode of a run
// without command.
type ReportMode struct{}

func (GenerateMode) Name() string { return "generate" }
func (MergeMode) Name() string    { return "merge" }
func (SplitMode) Name() string    { return "split" }
func (TimeBinMode) Name() string  { return "tbin" }
func (DiffMode) Name() string     { return "diff" }
func (PPPMode) Name() string      { return "ppp" }
func (RTKMode) Name() string      { return "rtk" }
func (ReportMode) Name() string   { return "report" }

func (GenerateMode) producesFiles() bool { return true }
func (MergeMode) producesFiles() bool    { return true }
func (SplitMode) producesFiles() bool    { return true }
func (TimeBinMode) producesFiles() bool  { return true }
func (DiffMode) producesFiles() bool     { return true }
func (PPPMode) producesFiles() bool      { return false }
func (RTKMode) producesFiles() bool      { return false }
func (ReportMode) producesFiles() bool   { return false }

// Terminal reports whether m ends the run without a report.
func Terminal(m Mode) bool {
	return m != nil && m.producesFiles()
}
