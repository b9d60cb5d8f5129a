package rinex

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/gnssqc/model"
)

type epochMatcher func(line string) (Epoch, bool)

var (
	obsV2Epoch = regexp.MustCompile(`^ ([ \d]\d) ([ \d]\d) ([ \d]\d) ([ \d]\d) ([ \d]\d) ([ \d]\d\.\d{7})  ([0-6])`)
	navV3Epoch = regexp.MustCompile(`^([GRECJIS])(\d{2}) (\d{4}) (\d{2}) (\d{2}) (\d{2}) (\d{2}) (\d{2})`)
	navV2Epoch = regexp.MustCompile(`^([ \d]\d) ([ \d]\d) ([ \d]\d) ([ \d]\d) ([ \d]\d) ([ \d]\d) ([ \d]\d\.\d)`)
	metV3Epoch = regexp.MustCompile(`^ (\d{4}) ([ \d]\d) ([ \d]\d) ([ \d]\d) ([ \d]\d) ([ \d]\d)`)
	metV2Epoch = regexp.MustCompile(`^ ([ \d]\d) ([ \d]\d) ([ \d]\d) ([ \d]\d) ([ \d]\d) ([ \d]\d)`)
	clkEpoch   = regexp.MustCompile(`^(AR|AS|CR|DR|MS) (\S{1,4}) +(\d{4}) +(\d{1,2}) +(\d{1,2}) +(\d{1,2}) +(\d{1,2}) +(\d{1,2}(?:\.\d+)?)`)
)

func epochMatcherFor(h Header) epochMatcher {
	switch h.Type {
	case TypeObservation:
		if h.Major() >= 3 {
			return matchObsV3
		}
		return matchRegexp(obsV2Epoch, 1, 7)
	case TypeNavigation, TypeGlonassNav, TypeSBASNav:
		if h.Major() >= 3 {
			return matchNavV3
		}
		sys := model.GPS
		switch h.Type {
		case TypeGlonassNav:
			sys = model.Glonass
		case TypeSBASNav:
			sys = model.SBAS
		}
		return matchNavV2(sys)
	case TypeMeteo:
		if h.Major() >= 3 {
			return matchRegexp(metV3Epoch, 1, 0)
		}
		return matchRegexp(metV2Epoch, 1, 0)
	case TypeClock:
		return matchClock
	default:
		return func(string) (Epoch, bool) { return Epoch{}, false }
	}
}

func matchObsV3(line string) (Epoch, bool) {
	if !strings.HasPrefix(line, ">") {
		return Epoch{}, false
	}
	f := strings.Fields(line[1:])
	if len(f) < 7 {
		return Epoch{}, false
	}
	t, err := civilTime(f[0], f[1], f[2], f[3], f[4], f[5])
	if err != nil {
		return Epoch{}, false
	}
	flag, _ := strconv.Atoi(f[6])
	return Epoch{Time: t, Flag: flag}, true
}

func matchNavV3(line string) (Epoch, bool) {
	m := navV3Epoch.FindStringSubmatch(line)
	if m == nil {
		return Epoch{}, false
	}
	t, err := civilTime(m[3], m[4], m[5], m[6], m[7], m[8])
	if err != nil {
		return Epoch{}, false
	}
	sv, err := model.ParseSV(m[1] + m[2])
	if err != nil {
		return Epoch{}, false
	}
	return Epoch{Time: t, SV: &sv}, true
}

func matchNavV2(sys model.Constellation) epochMatcher {
	return func(line string) (Epoch, bool) {
		m := navV2Epoch.FindStringSubmatch(line)
		if m == nil {
			return Epoch{}, false
		}
		t, err := civilTime(m[2], m[3], m[4], m[5], m[6], m[7])
		if err != nil {
			return Epoch{}, false
		}
		prn, err := strconv.Atoi(strings.TrimSpace(m[1]))
		if err != nil {
			return Epoch{}, false
		}
		return Epoch{Time: t, SV: &model.SV{Constellation: sys, PRN: prn}}, true
	}
}

func matchClock(line string) (Epoch, bool) {
	m := clkEpoch.FindStringSubmatch(line)
	if m == nil {
		return Epoch{}, false
	}
	t, err := civilTime(m[3], m[4], m[5], m[6], m[7], m[8])
	if err != nil {
		return Epoch{}, false
	}
	e := Epoch{Time: t}
	if m[1] == "AS" {
		if sv, err := model.ParseSV(m[2]); err == nil {
			e.SV = &sv
		}
	}
	return e, true
}

// matchRegexp builds a matcher whose first six groups starting at first are
// year..seconds. flagGroup, when non-zero, holds the epoch flag.
func matchRegexp(re *regexp.Regexp, first, flagGroup int) epochMatcher {
	return func(line string) (Epoch, bool) {
		m := re.FindStringSubmatch(line)
		if m == nil {
			return Epoch{}, false
		}
		g := m[first : first+6]
		t, err := civilTime(g[0], g[1], g[2], g[3], g[4], g[5])
		if err != nil {
			return Epoch{}, false
		}
		e := Epoch{Time: t}
		if flagGroup > 0 {
			e.Flag, _ = strconv.Atoi(m[flagGroup])
		}
		return e, true
	}
}

func civilTime(year, month, day, hour, minute, second string) (time.Time, error) {
	var ints [5]int
	for i, s := range []string{year, month, day, hour, minute} {
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return time.Time{}, err
		}
		ints[i] = v
	}
	sec, err := strconv.ParseFloat(strings.TrimSpace(second), 64)
	if err != nil {
		return time.Time{}, err
	}
	y := ints[0]
	if y < 100 {
		if y < 80 {
			y += 2000
		} else {
			y += 1900
		}
	}
	if ints[1] < 1 || ints[1] > 12 || ints[2] < 1 || ints[2] > 31 {
		return time.Time{}, fmt.Errorf("invalid date %d-%d-%d", y, ints[1], ints[2])
	}
	t := time.Date(y, time.Month(ints[1]), ints[2], ints[3], ints[4], 0, 0, time.UTC)
	return t.Add(time.Duration(sec * float64(time.Second)).Round(time.Microsecond)), nil
}

const obsFieldWidth = 16

func decodeObservations(h Header, lines []string) map[model.SV][]Observation {
	out := make(map[model.SV][]Observation)
	if len(lines) == 0 {
		return out
	}
	for _, line := range lines[1:] {
		if len(line) < 3 {
			continue
		}
		sv, err := model.ParseSV(line[:3])
		if err != nil {
			continue
		}
		codes := h.ObsCodes[sv.Constellation]
		for i, code := range codes {
			start := 3 + i*obsFieldWidth
			raw := strings.TrimSpace(field(line, start, start+14))
			if raw == "" {
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			o := Observation{Code: code, Value: v}
			if lli := field(line, start+14, start+15); lli != "" {
				o.LLI = lli[0]
			}
			if ssi := field(line, start+15, start+16); ssi != "" {
				o.SSI = ssi[0]
			}
			out[sv] = append(out[sv], o)
		}
	}
	return out
}

// Pseudorange returns the first code observation of sv matching one of the
// preferred codes, falling back to any C-code.
func (e Epoch) Pseudorange(sv model.SV, preferred ...string) (Observation, bool) {
	obs := e.Observations[sv]
	for _, want := range preferred {
		for _, o := range obs {
			if o.Code == want {
				return o, true
			}
		}
	}
	for _, o := range obs {
		if strings.HasPrefix(o.Code, "C") {
			return o, true
		}
	}
	return Observation{}, false
}
