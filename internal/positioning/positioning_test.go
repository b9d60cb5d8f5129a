package positioning

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/signalsfoundry/gnssqc/core"
	"github.com/signalsfoundry/gnssqc/internal/logging"
	"github.com/signalsfoundry/gnssqc/internal/observability"
	"github.com/signalsfoundry/gnssqc/internal/rinex"
	"github.com/signalsfoundry/gnssqc/internal/sp3"
	"github.com/signalsfoundry/gnssqc/internal/workspace"
	"github.com/signalsfoundry/gnssqc/model"
)

var (
	t0      = time.Date(2020, 6, 25, 12, 0, 0, 0, time.UTC)
	apriori = model.ECEF{X: 3513649.63, Y: 778954.5, Z: 5248201.63}
	truth   = apriori.Add(model.ECEF{X: 3.2, Y: -1.7, Z: 4.1})
	base    = apriori.Add(model.ECEF{X: 1200, Y: 650, Z: -480})
)

type scene struct {
	svs    []model.SV
	sats   map[model.SV]model.ECEF
	clocks map[model.SV]float64 // seconds
}

// newScene places satellites 22000 km away from the receiver, all well
// above the horizon, with a constant clock offset each.
func newScene() scene {
	up := apriori.Scale(1 / apriori.Norm())
	east := model.ECEF{X: -up.Y, Y: up.X}
	east = east.Scale(1 / east.Norm())
	north := model.ECEF{
		X: up.Y*east.Z - up.Z*east.Y,
		Y: up.Z*east.X - up.X*east.Z,
		Z: up.X*east.Y - up.Y*east.X,
	}
	offsets := [][2]float64{{0, 0}, {0.9, 0.2}, {-0.8, 0.4}, {0.3, -0.9}, {-0.4, -0.7}, {0.6, 0.8}, {-0.9, -0.1}}
	s := scene{sats: map[model.SV]model.ECEF{}, clocks: map[model.SV]float64{}}
	for i, o := range offsets {
		sv := model.SV{Constellation: model.GPS, PRN: i + 1}
		dir := up.Add(east.Scale(o[0])).Add(north.Scale(o[1]))
		s.svs = append(s.svs, sv)
		s.sats[sv] = apriori.Add(dir.Scale(2.2e7 / dir.Norm()))
		s.clocks[sv] = float64(i-3) * 1e-5
	}
	return s
}

func (s scene) orbits() *sp3.File {
	f := &sp3.File{Path: "/in/ORBITS.SP3", Header: sp3.Header{Satellites: s.svs}}
	for i := -5; i <= 5; i++ {
		e := sp3.Epoch{Time: t0.Add(time.Duration(i) * 15 * time.Minute)}
		for _, sv := range s.svs {
			e.Records = append(e.Records, sp3.Record{
				SV: sv, Valid: true, Position: s.sats[sv],
				ClockValid: true, ClockUs: s.clocks[sv] * 1e6,
			})
		}
		f.Epochs = append(f.Epochs, e)
	}
	return f
}

// pseudorange simulates a code observation from rx with receiver clock bias
// (metres) and an extra error. With sagnac set the range matches the rotated
// satellite position the solver uses.
func (s scene) pseudorange(sv model.SV, rx model.ECEF, bias, extra float64, sagnac bool) float64 {
	offset := bias + extra - speedOfLight*s.clocks[sv]
	pr := s.sats[sv].DistanceTo(rx) + offset
	if sagnac {
		for i := 0; i < 5; i++ {
			pr = rotateZ(s.sats[sv], earthRotation*pr/speedOfLight).DistanceTo(rx) + offset
		}
	}
	return pr
}

// observations renders three epochs 30 s apart as an in-memory revision 3
// observation file.
func (s scene) observations(name string, marker *model.ECEF, pr func(sv model.SV) float64) *rinex.File {
	f := &rinex.File{Path: "/in/" + name, Header: rinex.Header{
		Version:        3.04,
		Type:           rinex.TypeObservation,
		ApproxPosition: marker,
		ObsCodes:       map[model.Constellation][]string{model.GPS: {"C1C"}},
	}}
	for i := 0; i < 3; i++ {
		obs := map[model.SV][]rinex.Observation{}
		for _, sv := range s.svs {
			obs[sv] = []rinex.Observation{{Code: "C1C", Value: pr(sv)}}
		}
		f.Epochs = append(f.Epochs, rinex.ObservationEpoch(f.Header, t0.Add(time.Duration(i)*30*time.Second), 0, obs))
	}
	return f
}

func dataset(t *testing.T, records ...core.Record) *core.Dataset {
	t.Helper()
	ds, err := core.NewDataset(records...)
	require.NoError(t, err)
	return ds
}

func analysisContext(t *testing.T, rover *core.Dataset, pos *model.ECEF, site *core.ReferenceSite) *core.AnalysisContext {
	t.Helper()
	ws, err := workspace.New(t.TempDir(), "ROVR")
	require.NoError(t, err)
	parts := core.ContextParts{Name: "ROVR", Rover: rover, Site: site, Workspace: ws, Quiet: true}
	if pos != nil {
		g := core.Geodetic(*pos)
		parts.Position = &g
		parts.PositionSource = core.SourceManual
	}
	return core.NewAnalysisContext(parts)
}

func TestSPPRecoversReceiverPosition(t *testing.T) {
	for _, sagnac := range []bool{false, true} {
		s := newScene()
		obs := s.observations("ROVR.rnx", nil, func(sv model.SV) float64 {
			return s.pseudorange(sv, truth, 1500, 0, sagnac)
		})
		ds := dataset(t,
			core.Record{Path: obs.Path, Kind: model.KindRINEX, RINEX: obs},
			core.Record{Path: "/in/ORBITS.SP3", Kind: model.KindSP3, SP3: s.orbits()},
		)
		actx := analysisContext(t, ds, &apriori, nil)

		cfg := DefaultConfig()
		cfg.DisableSagnac = !sagnac
		reg := prometheus.NewRegistry()
		collector, err := observability.NewSolverCollector(reg)
		require.NoError(t, err)
		p, err := New(cfg, WithMetrics(collector))
		require.NoError(t, err)

		res, err := p.SPP(context.Background(), actx)
		require.NoError(t, err, "sagnac=%v", sagnac)
		require.Len(t, res.Solutions, 3)
		for _, sol := range res.Solutions {
			assert.Less(t, sol.Position.DistanceTo(truth), 1e-3, "sagnac=%v", sagnac)
			assert.InDelta(t, 1500, sol.ClockBiasM, 1e-3)
			assert.Equal(t, 7, sol.Satellites)
			assert.Less(t, sol.RMS, 1e-3)
		}
		assert.InDelta(t, truth.DistanceTo(apriori), res.Error(), 1e-3)
		assert.Equal(t, 3.0, testutil.ToFloat64(collector.Epochs.WithLabelValues("spp", "solved")))
		assert.InDelta(t, res.Error(), testutil.ToFloat64(collector.LastErrorM), 1e-9)
	}
}

func TestDGNSSRemovesCommonErrors(t *testing.T) {
	s := newScene()
	common := func(sv model.SV) float64 { return 4 + float64(sv.PRN)*1.5 }
	rover := s.observations("ROVR.rnx", nil, func(sv model.SV) float64 {
		return s.pseudorange(sv, truth, 900, common(sv), false)
	})
	baseObs := s.observations("BASE.rnx", &base, func(sv model.SV) float64 {
		return s.pseudorange(sv, base, -250, common(sv), false)
	})
	roverDS := dataset(t,
		core.Record{Path: rover.Path, Kind: model.KindRINEX, RINEX: rover},
		core.Record{Path: "/in/ORBITS.SP3", Kind: model.KindSP3, SP3: s.orbits()},
	)
	baseDS := dataset(t, core.Record{Path: baseObs.Path, Kind: model.KindRINEX, RINEX: baseObs})
	roverGeo := core.Geodetic(apriori)
	site, err := core.BuildReferenceSite(context.Background(), baseDS, &roverGeo, logging.Noop())
	require.NoError(t, err)
	actx := analysisContext(t, roverDS, &apriori, site)

	cfg := DefaultConfig()
	cfg.DisableSagnac = true
	p, err := New(cfg)
	require.NoError(t, err)

	res, err := p.DGNSS(context.Background(), actx)
	require.NoError(t, err)
	require.Len(t, res.Solutions, 3)
	for _, sol := range res.Solutions {
		assert.Less(t, sol.Position.DistanceTo(truth), 1e-3)
		assert.InDelta(t, 900-(-250), sol.ClockBiasM, 1e-3)
	}

	// the same rover data alone is biased by the common errors
	spp, err := p.SPP(context.Background(), actx)
	require.NoError(t, err)
	assert.Greater(t, spp.Solutions[0].Position.DistanceTo(truth), 0.1)
}

func TestRequirements(t *testing.T) {
	s := newScene()
	obs := s.observations("ROVR.rnx", nil, func(sv model.SV) float64 { return s.pseudorange(sv, truth, 0, 0, false) })
	withOrbits := dataset(t,
		core.Record{Path: obs.Path, Kind: model.KindRINEX, RINEX: obs},
		core.Record{Path: "/in/ORBITS.SP3", Kind: model.KindSP3, SP3: s.orbits()},
	)
	p, err := New(DefaultConfig())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = p.SPP(ctx, analysisContext(t, withOrbits, nil, nil))
	assert.ErrorIs(t, err, ErrUndefinedAprioriPosition)

	_, err = p.DGNSS(ctx, analysisContext(t, withOrbits, &apriori, nil))
	assert.ErrorIs(t, err, ErrMissingReferenceSite)

	noOrbits := dataset(t, core.Record{Path: obs.Path, Kind: model.KindRINEX, RINEX: obs})
	_, err = p.SPP(ctx, analysisContext(t, noOrbits, &apriori, nil))
	assert.ErrorIs(t, err, ErrNoOrbits)

	onlyOrbits := dataset(t, core.Record{Path: "/in/ORBITS.SP3", Kind: model.KindSP3, SP3: s.orbits()})
	_, err = p.SPP(ctx, analysisContext(t, onlyOrbits, &apriori, nil))
	assert.ErrorIs(t, err, ErrNoObservation)

	strict := DefaultConfig()
	strict.MinSV = 8
	sp, err := New(strict)
	require.NoError(t, err)
	_, err = sp.SPP(ctx, analysisContext(t, withOrbits, &apriori, nil))
	assert.ErrorIs(t, err, ErrNoSolution)
}

func TestPPPWritesSolutionsAndPage(t *testing.T) {
	s := newScene()
	obs := s.observations("ROVR.rnx", nil, func(sv model.SV) float64 { return s.pseudorange(sv, truth, 10, 0, true) })
	ds := dataset(t,
		core.Record{Path: obs.Path, Kind: model.KindRINEX, RINEX: obs},
		core.Record{Path: "/in/ORBITS.SP3", Kind: model.KindSP3, SP3: s.orbits()},
	)
	actx := analysisContext(t, ds, &apriori, nil)
	p, err := New(DefaultConfig())
	require.NoError(t, err)

	page, err := p.PPP(context.Background(), actx)
	require.NoError(t, err)
	assert.Equal(t, "Single receiver positioning", page.Title)
	require.NotNil(t, page.Table)
	assert.Len(t, page.Table.Rows, 3)

	csvPath := actx.Workspace().OutputPath("ROVR_spp.csv")
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "time,x_m,y_m,z_m"))

	var file string
	for _, kv := range page.Summary {
		if kv.Key == "Solutions file" {
			file = kv.Value
		}
	}
	assert.Equal(t, csvPath, file)
}

func TestElevationMaskDropsLowSatellites(t *testing.T) {
	s := newScene()
	var meas []Measurement
	for _, sv := range s.svs {
		meas = append(meas, Measurement{SV: sv, Range: s.sats[sv].DistanceTo(truth), Satellite: s.sats[sv]})
	}
	cfg := DefaultConfig()
	cfg.ElevationMaskDeg = 89
	_, err := solve(t0, meas, apriori, cfg)
	assert.ErrorIs(t, err, ErrTooFewSatellites)
}

func TestLeastSquares(t *testing.T) {
	h := mat.NewDense(5, 4, []float64{
		0.3, -0.5, 0.8, 1,
		-0.6, 0.2, 0.77, 1,
		0.1, 0.9, 0.42, 1,
		-0.2, -0.7, 0.68, 1,
		0.7, 0.4, 0.59, 1,
	})
	want := mat.NewVecDense(4, []float64{1, -2, 3, 0.5})
	var r mat.VecDense
	r.MulVec(h, want)

	got, err := leastSquares(h, &r)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		assert.InDelta(t, want.AtVec(i), got.AtVec(i), 1e-9)
	}
}

func TestLeastSquaresSingularGeometry(t *testing.T) {
	// every line of sight is zero: position is unobservable
	h := mat.NewDense(5, 4, nil)
	for i := 0; i < 5; i++ {
		h.Set(i, 3, 1)
	}
	_, err := leastSquares(h, mat.NewVecDense(5, []float64{1, 2, 3, 4, 5}))
	assert.ErrorIs(t, err, ErrSingularGeometry)
}

func TestRotateZ(t *testing.T) {
	p := model.ECEF{X: 2e7, Y: 0, Z: 1e7}
	r := rotateZ(p, math.Pi/2)
	assert.InDelta(t, 0, r.X, 1e-6)
	assert.InDelta(t, -2e7, r.Y, 1e-6)
	assert.InDelta(t, 1e7, r.Z, 1e-9)
	assert.InDelta(t, p.Norm(), rotateZ(p, earthRotation*0.075).Norm(), 1e-6)
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	dir := t.TempDir()
	path := filepath.Join(dir, "ppp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("elevation_mask_deg: 15\nmin_sv: 5\ncode: [C1W]\ndisable_sagnac: true\n"), 0o644))
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 15.0, cfg.ElevationMaskDeg)
	assert.Equal(t, 5, cfg.MinSV)
	assert.Equal(t, []string{"C1W"}, cfg.Codes)
	assert.True(t, cfg.DisableSagnac)
	assert.Equal(t, 10, cfg.MaxIter, "unset keys keep defaults")

	for name, body := range map[string]string{
		"too few sv":  "min_sv: 3\n",
		"bad mask":    "elevation_mask_deg: 95\n",
		"unknown key": "elevation: 5\n",
		"bad code":    "code: [L1C]\n",
	} {
		p := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".yaml")
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		_, err := LoadConfig(p)
		assert.Error(t, err, name)
	}
}
