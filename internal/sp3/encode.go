package sp3

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/signalsfoundry/gnssqc/model"
)

const svPerLine = 17

// FormatPositionLine renders rec as an SP3 "P" record.
func FormatPositionLine(rec Record) string {
	clk := badClock + 0.999999
	if rec.ClockValid {
		clk = rec.ClockUs
	}
	var x, y, z float64
	if rec.Valid {
		x, y, z = rec.Position.X/1e3, rec.Position.Y/1e3, rec.Position.Z/1e3
	}
	return fmt.Sprintf("P%-3s%14.6f%14.6f%14.6f%14.6f", rec.SV, x, y, z, clk)
}

// FormatEpochLine renders an SP3 epoch header line.
func FormatEpochLine(t time.Time) string {
	return fmt.Sprintf("*  %4d %2d %2d %2d %2d %11.8f",
		t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), seconds(t))
}

func formatFirstLine(h Header, first time.Time, count int) string {
	if h.Version == 0 {
		h.Version = 'd'
	}
	if h.PosVelFlag == 0 {
		h.PosVelFlag = 'P'
	}
	return fmt.Sprintf("#%c%c%4d %2d %2d %2d %2d %11.8f %7d %-5s %-5s %-3s %-4s",
		h.Version, h.PosVelFlag,
		first.Year(), int(first.Month()), first.Day(), first.Hour(), first.Minute(), seconds(first),
		count, h.DataUsed, h.CoordSystem, h.OrbitType, h.Agency)
}

func seconds(t time.Time) float64 {
	return float64(t.Second()) + float64(t.Nanosecond())/1e9
}

// satelliteLines renders the "+" satellite list and the matching "++"
// accuracy lines, leaving accuracies unknown.
func satelliteLines(svs []model.SV) []string {
	rows := (len(svs) + svPerLine - 1) / svPerLine
	if rows < 5 {
		rows = 5
	}
	var plus, acc []string
	for r := 0; r < rows; r++ {
		var b strings.Builder
		if r == 0 {
			fmt.Fprintf(&b, "+  %3d   ", len(svs))
		} else {
			b.WriteString("+        ")
		}
		for i := r * svPerLine; i < (r+1)*svPerLine; i++ {
			if i < len(svs) {
				b.WriteString(svs[i].String())
			} else {
				b.WriteString("  0")
			}
		}
		plus = append(plus, b.String())
		acc = append(acc, "++       "+strings.Repeat("  0", svPerLine))
	}
	return append(plus, acc...)
}

// NewHeaderLines builds a minimal SP3-d header for h. The first line is
// refreshed by Encode.
func NewHeaderLines(h Header) []string {
	lines := []string{formatFirstLine(h, h.FirstEpoch, h.NumEpochs)}
	week, sow := gpsWeek(h.FirstEpoch)
	lines = append(lines, fmt.Sprintf("## %4d %15.8f %14.8f %5d %15.13f",
		week, sow, h.Interval.Seconds(), mjd(h.FirstEpoch), 0.0))
	lines = append(lines, satelliteLines(h.Satellites)...)
	ts := h.TimeSystem
	if ts == "" {
		ts = "GPS"
	}
	lines = append(lines,
		fmt.Sprintf("%%c M  cc %-3s ccc cccc cccc cccc cccc ccccc ccccc ccccc ccccc", ts),
		"%c cc cc ccc ccc cccc cccc cccc cccc ccccc ccccc ccccc ccccc",
		"%f  1.2500000  1.025000000  0.00000000000  0.000000000000000",
		"%f  0.0000000  0.000000000  0.00000000000  0.000000000000000",
		"%i    0    0    0    0      0      0      0      0         0",
		"%i    0    0    0    0      0      0      0      0         0",
		"/* gnssqc",
	)
	return lines
}

var gpsEpoch = time.Date(1980, 1, 6, 0, 0, 0, 0, time.UTC)

func gpsWeek(t time.Time) (int, float64) {
	d := t.Sub(gpsEpoch)
	week := int(d / (7 * 24 * time.Hour))
	sow := (d - time.Duration(week)*7*24*time.Hour).Seconds()
	return week, sow
}

func mjd(t time.Time) int {
	return int(t.Sub(time.Date(1858, 11, 17, 0, 0, 0, 0, time.UTC)).Hours() / 24)
}

// Encode writes f to w. The first header line is refreshed with the current
// first epoch and epoch count; satellite lines follow Header.Satellites.
func Encode(w io.Writer, f *File) error {
	bw := bufio.NewWriter(w)
	lines := f.Header.Lines
	if len(lines) == 0 {
		lines = NewHeaderLines(f.Header)
	}

	first := f.Header.FirstEpoch
	if start, _, ok := f.Span(); ok {
		first = start
	}
	wroteSats := false
	for i, line := range lines {
		switch {
		case i == 0:
			line = formatFirstLine(f.Header, first, len(f.Epochs))
		case strings.HasPrefix(line, "+ ") || strings.HasPrefix(line, "++"):
			if wroteSats {
				continue
			}
			wroteSats = true
			for _, s := range satelliteLines(f.Header.Satellites) {
				if _, err := fmt.Fprintln(bw, s); err != nil {
					return err
				}
			}
			continue
		}
		if _, err := fmt.Fprintln(bw, line); err != nil {
			return err
		}
	}
	for _, e := range f.Epochs {
		lines := e.Lines
		if len(lines) == 0 {
			lines = append(lines, FormatEpochLine(e.Time))
			for _, rec := range e.Records {
				lines = append(lines, FormatPositionLine(rec))
			}
		}
		for _, line := range lines {
			if _, err := fmt.Fprintln(bw, line); err != nil {
				return err
			}
		}
	}
	if _, err := fmt.Fprintln(bw, "EOF"); err != nil {
		return err
	}
	return bw.Flush()
}

// WriteFile encodes f into path, compressing when path ends in .gz.
func WriteFile(path string, f *File) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	var w io.Writer = out
	var gz *gzip.Writer
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz = gzip.NewWriter(out)
		w = gz
	}
	if err := Encode(w, f); err != nil {
		out.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			out.Close()
			return err
		}
	}
	return out.Close()
}
