package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/gnssqc/internal/rinex"
	"github.com/signalsfoundry/gnssqc/internal/sp3"
	"github.com/signalsfoundry/gnssqc/model"
)

var (
	epoch0 = time.Date(2020, 6, 25, 0, 0, 0, 0, time.UTC)
	esbc   = model.ECEF{X: 3513649.63, Y: 778954.5, Z: 5248201.63}
	gps01  = model.SV{Constellation: model.GPS, PRN: 1}
	gal05  = model.SV{Constellation: model.Galileo, PRN: 5}
	glo10  = model.SV{Constellation: model.Glonass, PRN: 10}
)

// obsText renders a mixed-constellation revision 3 observation file with
// epochs every 30 s.
func obsText(marker string, pos *model.ECEF, epochs int) string {
	var b strings.Builder
	line := func(s string) { b.WriteString(s + "\n") }
	line(rinex.HeaderLine(fmt.Sprintf("%9.2f%11s%-20s%-20s", 3.04, "", "OBSERVATION DATA", "M"), "RINEX VERSION / TYPE"))
	line(rinex.HeaderLine(marker, "MARKER NAME"))
	if pos != nil {
		line(rinex.HeaderLine(fmt.Sprintf("%14.4f%14.4f%14.4f", pos.X, pos.Y, pos.Z), "APPROX POSITION XYZ"))
	}
	for _, sys := range []string{"G", "E", "R"} {
		line(rinex.HeaderLine(sys+"    1 C1C", "SYS / # / OBS TYPES"))
	}
	line(rinex.HeaderLine("", "END OF HEADER"))
	for i := 0; i < epochs; i++ {
		t := epoch0.Add(time.Duration(i) * 30 * time.Second)
		line(rinex.FormatObsEpochLine(t, 0, 3))
		for j, sv := range []model.SV{gps01, gal05, glo10} {
			line(rinex.FormatObservationLine(sv, []*rinex.Observation{{Value: 2e7 + float64(j*1000+i)}}))
		}
	}
	return b.String()
}

func sp3Text(epochs int) string {
	var b strings.Builder
	h := sp3.Header{
		FirstEpoch: epoch0, NumEpochs: epochs, DataUsed: "ORBIT", CoordSystem: "IGS14",
		OrbitType: "FIT", Agency: "IGS", TimeSystem: "GPS", Interval: 15 * time.Minute,
		Satellites: []model.SV{gps01, gal05},
	}
	for _, l := range sp3.NewHeaderLines(h) {
		b.WriteString(l + "\n")
	}
	for i := 0; i < epochs; i++ {
		b.WriteString(sp3.FormatEpochLine(epoch0.Add(time.Duration(i)*15*time.Minute)) + "\n")
		for _, sv := range []model.SV{gps01, gal05} {
			b.WriteString(sp3.FormatPositionLine(sp3.Record{
				SV: sv, Valid: true, Position: model.ECEF{X: 15000e3, Y: -12000e3, Z: 18000e3},
			}) + "\n")
		}
	}
	b.WriteString("EOF\n")
	return b.String()
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func mustDataset(t *testing.T, records ...Record) *Dataset {
	t.Helper()
	ds, err := NewDataset(records...)
	if err != nil {
		t.Fatalf("NewDataset: %v", err)
	}
	return ds
}

func obsRecord(t *testing.T, path string, pos *model.ECEF, epochs int) Record {
	t.Helper()
	f, err := rinex.Decode(strings.NewReader(obsText("TEST", pos, epochs)))
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	f.Path = path
	return Record{Path: path, Kind: model.KindRINEX, RINEX: f}
}

type fakeMetrics struct {
	mu      sync.Mutex
	loaded  map[string]int
	skipped map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{loaded: map[string]int{}, skipped: map[string]int{}}
}

func (m *fakeMetrics) FileLoaded(side, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded[side+"/"+kind]++
}

func (m *fakeMetrics) FileSkipped(side, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped[side+"/"+reason]++
}
