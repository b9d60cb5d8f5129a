// Package rinex decodes and re-encodes RINEX files at header and epoch
// granularity. Observation values are decoded for revision 3 and later; all
// other record bodies are carried verbatim so that files can be filtered,
// split and merged without loss.
package rinex

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/signalsfoundry/gnssqc/model"
)

var (
	// ErrNotRINEX indicates the input does not start with a RINEX header.
	ErrNotRINEX = errors.New("not a RINEX file")
	// ErrTruncatedHeader indicates END OF HEADER was never reached.
	ErrTruncatedHeader = errors.New("truncated RINEX header")
	// ErrIncompatible indicates two files cannot be combined.
	ErrIncompatible = errors.New("incompatible RINEX files")
)

// Type is the RINEX file type letter found in the first header line.
type Type byte

const (
	TypeObservation Type = 'O'
	TypeNavigation  Type = 'N'
	TypeGlonassNav  Type = 'G'
	TypeSBASNav     Type = 'H'
	TypeMeteo       Type = 'M'
	TypeClock       Type = 'C'
)

func (t Type) String() string {
	switch t {
	case TypeObservation:
		return "OBS"
	case TypeNavigation, TypeGlonassNav, TypeSBASNav:
		return "NAV"
	case TypeMeteo:
		return "MET"
	case TypeClock:
		return "CLK"
	default:
		return string(rune(t))
	}
}

const labelColumn = 60

// Header holds the decoded header fields plus the raw header lines.
type Header struct {
	Version       float64
	Type          Type
	Constellation model.Constellation
	Program       string
	MarkerName    string
	MarkerNumber  string
	// ApproxPosition is nil when absent or declared as all zeros.
	ApproxPosition *model.ECEF
	// ObsCodes lists observation codes per constellation (revision 3+).
	ObsCodes map[model.Constellation][]string
	// ObsCodesV2 lists the shared observation types of revision 2 files.
	ObsCodesV2 []string
	Interval   time.Duration
	Lines      []string
}

// Major returns the major revision number.
func (h Header) Major() int {
	return int(h.Version)
}

// Observation is a single decoded observable.
type Observation struct {
	Code  string
	Value float64
	LLI   byte
	SSI   byte
}

// Epoch is one time-tagged record block. For navigation and clock files an
// epoch is a single record and SV names the satellite it describes.
type Epoch struct {
	Time  time.Time
	Flag  int
	SV    *model.SV
	Lines []string
	// Observations is populated for observation files of revision 3+.
	Observations map[model.SV][]Observation
}

// File is a decoded RINEX file.
type File struct {
	Path   string
	Header Header
	Epochs []Epoch
}

// ParseFile opens path, decompressing .gz files, and decodes it.
func ParseFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("gzip %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	file, err := Decode(r)
	if err != nil {
		return nil, err
	}
	file.Path = path
	return file, nil
}

// Decode reads a RINEX file from r.
func Decode(r io.Reader) (*File, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotRINEX
	}
	first := sc.Text()
	if label(first) != "RINEX VERSION / TYPE" {
		return nil, ErrNotRINEX
	}

	hdr := Header{ObsCodes: map[model.Constellation][]string{}}
	if err := hdr.parseVersionLine(first); err != nil {
		return nil, err
	}
	hdr.Lines = append(hdr.Lines, first)

	var lastSys model.Constellation
	ended := false
	for sc.Scan() {
		line := sc.Text()
		hdr.Lines = append(hdr.Lines, line)
		lbl := label(line)
		if lbl == "END OF HEADER" {
			ended = true
			break
		}
		if err := hdr.parseLine(line, lbl, &lastSys); err != nil {
			return nil, fmt.Errorf("%s: %w", lbl, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !ended {
		return nil, ErrTruncatedHeader
	}

	file := &File{Header: hdr}
	matcher := epochMatcherFor(hdr)

	var pending []string
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if hdr.Type != TypeObservation && strings.HasPrefix(line, ">") {
			// revision 4 navigation frame marker, belongs to the next record
			pending = append(pending, line)
			continue
		}
		if e, ok := matcher(line); ok {
			e.Lines = append(pending, line)
			pending = nil
			file.Epochs = append(file.Epochs, e)
			continue
		}
		if n := len(file.Epochs); n > 0 {
			file.Epochs[n-1].Lines = append(file.Epochs[n-1].Lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if hdr.Type == TypeObservation && hdr.Major() >= 3 {
		for i := range file.Epochs {
			file.Epochs[i].Observations = decodeObservations(hdr, file.Epochs[i].Lines)
		}
	}
	return file, nil
}

func label(line string) string {
	if len(line) <= labelColumn {
		return ""
	}
	return strings.TrimSpace(line[labelColumn:])
}

func field(line string, from, to int) string {
	if from >= len(line) {
		return ""
	}
	if to > len(line) {
		to = len(line)
	}
	return line[from:to]
}

func (h *Header) parseVersionLine(line string) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(field(line, 0, 9)), 64)
	if err != nil {
		return fmt.Errorf("RINEX version: %w", err)
	}
	h.Version = v
	t := strings.TrimSpace(field(line, 20, 21))
	if t == "" {
		return fmt.Errorf("RINEX type missing")
	}
	h.Type = Type(t[0])
	if c := strings.TrimSpace(field(line, 40, 41)); c != "" {
		h.Constellation = model.Constellation(c[0])
	} else {
		h.Constellation = model.GPS
	}
	return nil
}

func (h *Header) parseLine(line, lbl string, lastSys *model.Constellation) error {
	switch lbl {
	case "PGM / RUN BY / DATE":
		h.Program = strings.TrimSpace(field(line, 0, 20))
	case "MARKER NAME":
		h.MarkerName = strings.TrimSpace(field(line, 0, 60))
	case "MARKER NUMBER":
		h.MarkerNumber = strings.TrimSpace(field(line, 0, 20))
	case "APPROX POSITION XYZ":
		vals := strings.Fields(field(line, 0, 60))
		if len(vals) < 3 {
			return fmt.Errorf("expected 3 coordinates, got %d", len(vals))
		}
		var xyz [3]float64
		for i := range xyz {
			v, err := strconv.ParseFloat(vals[i], 64)
			if err != nil {
				return err
			}
			xyz[i] = v
		}
		p := model.ECEF{X: xyz[0], Y: xyz[1], Z: xyz[2]}
		if !p.IsZero() {
			h.ApproxPosition = &p
		}
	case "SYS / # / OBS TYPES":
		sys := field(line, 0, 1)
		if strings.TrimSpace(sys) != "" {
			*lastSys = model.Constellation(sys[0])
		}
		if *lastSys == 0 {
			return fmt.Errorf("continuation line without system")
		}
		h.ObsCodes[*lastSys] = append(h.ObsCodes[*lastSys], strings.Fields(field(line, 7, 60))...)
	case "# / TYPES OF OBSERV":
		h.ObsCodesV2 = append(h.ObsCodesV2, strings.Fields(field(line, 6, 60))...)
	case "INTERVAL":
		v, err := strconv.ParseFloat(strings.TrimSpace(field(line, 0, 10)), 64)
		if err != nil {
			return err
		}
		h.Interval = time.Duration(v * float64(time.Second))
	}
	return nil
}

// HasObservations reports whether decoded observation values are available.
func (f *File) HasObservations() bool {
	return f.Header.Type == TypeObservation && f.Header.Major() >= 3
}

// Span returns the first and last epoch times.
func (f *File) Span() (time.Time, time.Time, bool) {
	if len(f.Epochs) == 0 {
		return time.Time{}, time.Time{}, false
	}
	start, end := f.Epochs[0].Time, f.Epochs[0].Time
	for _, e := range f.Epochs[1:] {
		if e.Time.Before(start) {
			start = e.Time
		}
		if e.Time.After(end) {
			end = e.Time
		}
	}
	return start, end, true
}

// RetainEpochs returns a copy of f holding only the epochs keep accepts.
func (f *File) RetainEpochs(keep func(i int, e Epoch) bool) *File {
	out := f.shallowCopy()
	out.Epochs = make([]Epoch, 0, len(f.Epochs))
	for i, e := range f.Epochs {
		if keep(i, e) {
			out.Epochs = append(out.Epochs, e)
		}
	}
	return out
}

// Window returns the epochs in [from, to). A zero bound is open.
func (f *File) Window(from, to time.Time) *File {
	return f.RetainEpochs(func(_ int, e Epoch) bool {
		if !from.IsZero() && e.Time.Before(from) {
			return false
		}
		if !to.IsZero() && !e.Time.Before(to) {
			return false
		}
		return true
	})
}

// RetainSatellites returns a copy of f without the satellites keep rejects.
// Revision 2 observation bodies are not decoded and are kept as they are.
func (f *File) RetainSatellites(keep func(model.SV) bool) *File {
	out := f.shallowCopy()
	out.Epochs = make([]Epoch, 0, len(f.Epochs))
	for _, e := range f.Epochs {
		switch {
		case e.SV != nil:
			if keep(*e.SV) {
				out.Epochs = append(out.Epochs, e)
			}
		case f.HasObservations():
			out.Epochs = append(out.Epochs, filterObservationEpoch(e, keep))
		default:
			out.Epochs = append(out.Epochs, e)
		}
	}
	return out
}

func filterObservationEpoch(e Epoch, keep func(model.SV) bool) Epoch {
	if len(e.Lines) == 0 {
		return e
	}
	kept := Epoch{Time: e.Time, Flag: e.Flag, Observations: map[model.SV][]Observation{}}
	lines := []string{e.Lines[0]}
	for _, line := range e.Lines[1:] {
		sv, err := model.ParseSV(field(line, 0, 3))
		if err == nil && !keep(sv) {
			continue
		}
		lines = append(lines, line)
	}
	for sv, obs := range e.Observations {
		if keep(sv) {
			kept.Observations[sv] = obs
		}
	}
	lines[0] = setEpochSatCount(lines[0], len(lines)-1)
	kept.Lines = lines
	return kept
}

func setEpochSatCount(line string, n int) string {
	if len(line) < 35 {
		return line
	}
	return line[:32] + fmt.Sprintf("%3d", n) + line[35:]
}

func (f *File) shallowCopy() *File {
	out := &File{Path: f.Path, Header: f.Header}
	out.Header.Lines = append([]string(nil), f.Header.Lines...)
	return out
}

// Merge combines two files of the same type and major revision. Epochs are
// merged in time order; when both files carry the same record the one from a
// wins.
func Merge(a, b *File) (*File, error) {
	if a.Header.Type.String() != b.Header.Type.String() {
		return nil, fmt.Errorf("%w: %s vs %s", ErrIncompatible, a.Header.Type, b.Header.Type)
	}
	if a.Header.Major() != b.Header.Major() {
		return nil, fmt.Errorf("%w: revision %.2f vs %.2f", ErrIncompatible, a.Header.Version, b.Header.Version)
	}
	if a.HasObservations() {
		for sys, codes := range b.Header.ObsCodes {
			have, ok := a.Header.ObsCodes[sys]
			if !ok {
				return nil, fmt.Errorf("%w: %s not declared in %s", ErrIncompatible, sys, a.Path)
			}
			if strings.Join(have, " ") != strings.Join(codes, " ") {
				return nil, fmt.Errorf("%w: %s observation types differ", ErrIncompatible, sys)
			}
		}
	}

	out := a.shallowCopy()
	seen := make(map[string]struct{}, len(a.Epochs))
	out.Epochs = make([]Epoch, 0, len(a.Epochs)+len(b.Epochs))
	for _, e := range a.Epochs {
		seen[epochKey(e)] = struct{}{}
		out.Epochs = append(out.Epochs, e)
	}
	for _, e := range b.Epochs {
		if _, dup := seen[epochKey(e)]; dup {
			continue
		}
		out.Epochs = append(out.Epochs, e)
	}
	sort.SliceStable(out.Epochs, func(i, j int) bool {
		return out.Epochs[i].Time.Before(out.Epochs[j].Time)
	})
	return out, nil
}

func epochKey(e Epoch) string {
	key := e.Time.Format(time.RFC3339Nano)
	if e.SV != nil {
		key += "/" + e.SV.String()
	}
	return key
}
