package rinex

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/signalsfoundry/gnssqc/model"
)

// HeaderLine pads content to the label column and appends the label.
func HeaderLine(content, label string) string {
	if len(content) > labelColumn {
		content = content[:labelColumn]
	}
	return fmt.Sprintf("%-60s%s", content, label)
}

// FormatObsEpochLine renders a revision 3 observation epoch line.
func FormatObsEpochLine(t time.Time, flag, numSat int) string {
	sec := float64(t.Second()) + float64(t.Nanosecond())/1e9
	return fmt.Sprintf("> %04d %02d %02d %02d %02d%11.7f  %d%3d",
		t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), sec, flag, numSat)
}

// FormatObservationLine renders one satellite line of a revision 3
// observation epoch. A nil entry leaves its field blank.
func FormatObservationLine(sv model.SV, obs []*Observation) string {
	var b strings.Builder
	b.WriteString(sv.String())
	for _, o := range obs {
		if o == nil {
			b.WriteString(strings.Repeat(" ", obsFieldWidth))
			continue
		}
		fmt.Fprintf(&b, "%14.3f%c%c", o.Value, flagChar(o.LLI), flagChar(o.SSI))
	}
	return strings.TrimRight(b.String(), " ")
}

func flagChar(c byte) byte {
	if c == 0 {
		return ' '
	}
	return c
}

// ObservationEpoch builds a revision 3 observation epoch from decoded values,
// ordering satellites and fields by the header's code table.
func ObservationEpoch(h Header, t time.Time, flag int, values map[model.SV][]Observation) Epoch {
	svs := make([]model.SV, 0, len(values))
	for sv := range values {
		svs = append(svs, sv)
	}
	sort.Slice(svs, func(i, j int) bool { return svs[i].String() < svs[j].String() })

	lines := []string{FormatObsEpochLine(t, flag, len(svs))}
	for _, sv := range svs {
		codes := h.ObsCodes[sv.Constellation]
		row := make([]*Observation, len(codes))
		for _, o := range values[sv] {
			for i, code := range codes {
				if code == o.Code {
					o := o
					row[i] = &o
				}
			}
		}
		lines = append(lines, FormatObservationLine(sv, row))
	}
	return Epoch{Time: t, Flag: flag, Lines: lines, Observations: values}
}

// Encode writes f to w. TIME OF FIRST OBS / TIME OF LAST OBS header lines are
// refreshed to match the epochs being written.
func Encode(w io.Writer, f *File) error {
	bw := bufio.NewWriter(w)
	start, end, ok := f.Span()
	for _, line := range f.Header.Lines {
		if ok {
			switch label(line) {
			case "TIME OF FIRST OBS":
				line = timeOfObsLine(line, start, "TIME OF FIRST OBS")
			case "TIME OF LAST OBS":
				line = timeOfObsLine(line, end, "TIME OF LAST OBS")
			}
		}
		if _, err := fmt.Fprintln(bw, line); err != nil {
			return err
		}
	}
	for _, e := range f.Epochs {
		for _, line := range e.Lines {
			if _, err := fmt.Fprintln(bw, line); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

func timeOfObsLine(orig string, t time.Time, lbl string) string {
	timescale := strings.TrimSpace(field(orig, 48, 51))
	sec := float64(t.Second()) + float64(t.Nanosecond())/1e9
	content := fmt.Sprintf("  %04d    %02d    %02d    %02d    %02d   %10.7f     %-3s",
		t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), sec, timescale)
	return HeaderLine(content, lbl)
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
