// Package sp3 decodes, re-encodes and interpolates SP3-c/d precise orbit
// files.
package sp3

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
	// ErrNotSP3 indicates the input does not start with an SP3 header.
	ErrNotSP3 = errors.New("not an SP3 file")
	// ErrNoEpochs indicates the header was not followed by any epoch.
	ErrNoEpochs = errors.New("SP3 file holds no epochs")
	// ErrIncompatible indicates two files cannot be combined.
	ErrIncompatible = errors.New("incompatible SP3 files")
)

const (
	badPosition = 0.0
	badClock    = 999999.0
)

// Header holds the decoded SP3 header fields plus the raw header lines.
type Header struct {
	Version     byte
	PosVelFlag  byte
	FirstEpoch  time.Time
	NumEpochs   int
	DataUsed    string
	CoordSystem string
	OrbitType   string
	Agency      string
	TimeSystem  string
	Interval    time.Duration
	Satellites  []model.SV
	Lines       []string
}

// Record is one satellite state at an epoch.
type Record struct {
	SV model.SV
	// Position is in metres; Valid is false for the 0.000000 sentinel.
	Position model.ECEF
	Valid    bool
	// ClockUs is the satellite clock offset in microseconds.
	ClockUs    float64
	ClockValid bool
}

// Epoch groups the records sharing one epoch line.
type Epoch struct {
	Time    time.Time
	Records []Record
	Lines   []string
}

// File is a decoded SP3 file.
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

// Decode reads an SP3 file from r.
func Decode(r io.Reader) (*File, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotSP3
	}
	first := sc.Text()
	if len(first) < 3 || first[0] != '#' || !strings.ContainsRune("abcd", rune(first[1])) {
		return nil, ErrNotSP3
	}

	file := &File{}
	h := &file.Header
	if err := h.parseFirstLine(first); err != nil {
		return nil, err
	}
	h.Lines = append(h.Lines, first)

	var current *Epoch
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "EOF"):
			current = nil
		case strings.HasPrefix(line, "*"):
			t, err := parseEpochLine(line)
			if err != nil {
				return nil, err
			}
			file.Epochs = append(file.Epochs, Epoch{Time: t, Lines: []string{line}})
			current = &file.Epochs[len(file.Epochs)-1]
		case current == nil:
			if len(file.Epochs) > 0 {
				continue
			}
			h.Lines = append(h.Lines, line)
			if err := h.parseLine(line); err != nil {
				return nil, err
			}
		default:
			current.Lines = append(current.Lines, line)
			if strings.HasPrefix(line, "P") {
				rec, err := parsePositionLine(line)
				if err != nil {
					return nil, err
				}
				current.Records = append(current.Records, rec)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(file.Epochs) == 0 {
		return nil, ErrNoEpochs
	}
	return file, nil
}

func (h *Header) parseFirstLine(line string) error {
	h.Version = line[1]
	h.PosVelFlag = line[2]
	f := strings.Fields(line[3:])
	if len(f) < 7 {
		return fmt.Errorf("%w: short first header line", ErrNotSP3)
	}
	t, err := civilTime(f[:6])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotSP3, err)
	}
	h.FirstEpoch = t
	if h.NumEpochs, err = strconv.Atoi(f[6]); err != nil {
		return fmt.Errorf("%w: epoch count: %v", ErrNotSP3, err)
	}
	rest := f[7:]
	for i, dst := range []*string{&h.DataUsed, &h.CoordSystem, &h.OrbitType, &h.Agency} {
		if i < len(rest) {
			*dst = rest[i]
		}
	}
	return nil
}

func (h *Header) parseLine(line string) error {
	switch {
	case strings.HasPrefix(line, "##"):
		f := strings.Fields(line)
		if len(f) >= 4 {
			v, err := strconv.ParseFloat(f[3], 64)
			if err != nil {
				return fmt.Errorf("sp3 interval: %w", err)
			}
			h.Interval = time.Duration(v * float64(time.Second))
		}
	case strings.HasPrefix(line, "+ "):
		for i := 9; i+3 <= len(line); i += 3 {
			id := line[i : i+3]
			if strings.TrimSpace(id) == "" || strings.TrimSpace(id) == "0" || id == " 00" || id == "  0" {
				continue
			}
			sv, err := model.ParseSV(id)
			if err != nil || sv.PRN == 0 {
				continue
			}
			h.Satellites = append(h.Satellites, sv)
		}
	case strings.HasPrefix(line, "%c") && h.TimeSystem == "":
		f := strings.Fields(line)
		if len(f) >= 4 {
			h.TimeSystem = f[3]
		}
	}
	return nil
}

func parseEpochLine(line string) (time.Time, error) {
	f := strings.Fields(strings.TrimPrefix(line, "*"))
	if len(f) < 6 {
		return time.Time{}, fmt.Errorf("malformed sp3 epoch %q", line)
	}
	return civilTime(f[:6])
}

func parsePositionLine(line string) (Record, error) {
	if len(line) < 4 {
		return Record{}, fmt.Errorf("malformed sp3 record %q", line)
	}
	sv, err := model.ParseSV(line[1:4])
	if err != nil {
		return Record{}, err
	}
	var v [4]float64
	n := 0
	for i := range v {
		raw := strings.TrimSpace(field(line, 4+14*i, 18+14*i))
		if raw == "" {
			break
		}
		if v[i], err = strconv.ParseFloat(raw, 64); err != nil {
			return Record{}, fmt.Errorf("sp3 record %s: %w", sv, err)
		}
		n++
	}
	if n < 3 {
		return Record{}, fmt.Errorf("malformed sp3 record %q", line)
	}
	rec := Record{
		SV:       sv,
		Position: model.ECEF{X: v[0] * 1e3, Y: v[1] * 1e3, Z: v[2] * 1e3},
	}
	rec.Valid = !(v[0] == badPosition && v[1] == badPosition && v[2] == badPosition)
	if n >= 4 {
		rec.ClockUs = v[3]
		rec.ClockValid = v[3] < badClock
	}
	return rec, nil
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

func civilTime(f []string) (time.Time, error) {
	var ints [5]int
	for i := 0; i < 5; i++ {
		v, err := strconv.Atoi(f[i])
		if err != nil {
			return time.Time{}, err
		}
		ints[i] = v
	}
	sec, err := strconv.ParseFloat(f[5], 64)
	if err != nil {
		return time.Time{}, err
	}
	t := time.Date(ints[0], time.Month(ints[1]), ints[2], ints[3], ints[4], 0, 0, time.UTC)
	return t.Add(time.Duration(sec * float64(time.Second)).Round(time.Microsecond)), nil
}

// Span returns the first and last epoch times.
func (f *File) Span() (time.Time, time.Time, bool) {
	if len(f.Epochs) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return f.Epochs[0].Time, f.Epochs[len(f.Epochs)-1].Time, true
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
func (f *File) RetainSatellites(keep func(model.SV) bool) *File {
	out := f.shallowCopy()
	out.Header.Satellites = nil
	for _, sv := range f.Header.Satellites {
		if keep(sv) {
			out.Header.Satellites = append(out.Header.Satellites, sv)
		}
	}
	out.Epochs = make([]Epoch, 0, len(f.Epochs))
	for _, e := range f.Epochs {
		kept := Epoch{Time: e.Time}
		for _, rec := range e.Records {
			if keep(rec.SV) {
				kept.Records = append(kept.Records, rec)
			}
		}
		for _, line := range e.Lines {
			if len(line) >= 4 && (line[0] == 'P' || line[0] == 'V' || strings.HasPrefix(line, "EP") || strings.HasPrefix(line, "EV")) {
				id := line[1:4]
				if line[0] == 'E' && len(line) >= 5 {
					id = line[2:5]
				}
				if sv, err := model.ParseSV(id); err == nil && !keep(sv) {
					continue
				}
			}
			kept.Lines = append(kept.Lines, line)
		}
		out.Epochs = append(out.Epochs, kept)
	}
	return out
}

func (f *File) shallowCopy() *File {
	out := &File{Path: f.Path, Header: f.Header}
	out.Header.Lines = append([]string(nil), f.Header.Lines...)
	out.Header.Satellites = append([]model.SV(nil), f.Header.Satellites...)
	return out
}

// Merge combines two SP3 files published in the same coordinate system.
// Records present in both files at the same epoch are taken from a.
func Merge(a, b *File) (*File, error) {
	if a.Header.CoordSystem != b.Header.CoordSystem {
		return nil, fmt.Errorf("%w: coordinate system %s vs %s", ErrIncompatible, a.Header.CoordSystem, b.Header.CoordSystem)
	}
	if a.Header.TimeSystem != b.Header.TimeSystem {
		return nil, fmt.Errorf("%w: time system %s vs %s", ErrIncompatible, a.Header.TimeSystem, b.Header.TimeSystem)
	}

	out := a.shallowCopy()
	byTime := make(map[time.Time]int, len(a.Epochs))
	out.Epochs = make([]Epoch, 0, len(a.Epochs)+len(b.Epochs))
	for _, e := range a.Epochs {
		byTime[e.Time] = len(out.Epochs)
		out.Epochs = append(out.Epochs, cloneEpoch(e))
	}
	for _, e := range b.Epochs {
		idx, ok := byTime[e.Time]
		if !ok {
			byTime[e.Time] = len(out.Epochs)
			out.Epochs = append(out.Epochs, cloneEpoch(e))
			continue
		}
		have := make(map[model.SV]bool)
		for _, rec := range out.Epochs[idx].Records {
			have[rec.SV] = true
		}
		for _, rec := range e.Records {
			if have[rec.SV] {
				continue
			}
			out.Epochs[idx].Records = append(out.Epochs[idx].Records, rec)
			out.Epochs[idx].Lines = append(out.Epochs[idx].Lines, FormatPositionLine(rec))
		}
	}
	sort.SliceStable(out.Epochs, func(i, j int) bool { return out.Epochs[i].Time.Before(out.Epochs[j].Time) })

	seen := make(map[model.SV]bool)
	for _, sv := range out.Header.Satellites {
		seen[sv] = true
	}
	for _, sv := range b.Header.Satellites {
		if !seen[sv] {
			seen[sv] = true
			out.Header.Satellites = append(out.Header.Satellites, sv)
		}
	}
	return out, nil
}

func cloneEpoch(e Epoch) Epoch {
	return Epoch{
		Time:    e.Time,
		Records: append([]Record(nil), e.Records...),
		Lines:   append([]string(nil), e.Lines...),
	}
}
