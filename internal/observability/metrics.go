package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineCollector bundles Prometheus metrics for one gnssqc run: file
// loading per side, stage latencies, run outcomes and the rover/base
// baseline.
type PipelineCollector struct {
	gatherer prometheus.Gatherer

	FilesLoaded    *prometheus.CounterVec
	FilesSkipped   *prometheus.CounterVec
	StageDurations *prometheus.HistogramVec
	Runs           *prometheus.CounterVec
	BaselineMeters prometheus.Gauge
}

// NewPipelineCollector registers pipeline metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewPipelineCollector(reg prometheus.Registerer) (*PipelineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	loaded, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gnssqc_files_loaded_total",
		Help: "Files merged into a dataset, labeled by side (rover/base) and record kind.",
	}, []string{"side", "kind"}), "gnssqc_files_loaded_total")
	if err != nil {
		return nil, err
	}

	skipped, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gnssqc_files_skipped_total",
		Help: "Candidate files left out of a dataset, labeled by side and reason.",
	}, []string{"side", "reason"}), "gnssqc_files_skipped_total")
	if err != nil {
		return nil, err
	}

	stages, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gnssqc_stage_duration_seconds",
		Help:    "Wall time spent per pipeline stage.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"stage"}), "gnssqc_stage_duration_seconds")
	if err != nil {
		return nil, err
	}

	runs, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gnssqc_runs_total",
		Help: "Completed runs, labeled by operating mode and outcome.",
	}, []string{"mode", "outcome"}), "gnssqc_runs_total")
	if err != nil {
		return nil, err
	}

	baseline, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gnssqc_baseline_meters",
		Help: "Distance between the rover position and the reference site.",
	}), "gnssqc_baseline_meters")
	if err != nil {
		return nil, err
	}

	return &PipelineCollector{
		gatherer:       gatherer,
		FilesLoaded:    loaded,
		FilesSkipped:   skipped,
		StageDurations: stages,
		Runs:           runs,
		BaselineMeters: baseline,
	}, nil
}

// FileLoaded counts one file merged into the dataset of side.
func (c *PipelineCollector) FileLoaded(side, kind string) {
	if c == nil || c.FilesLoaded == nil {
		return
	}
	c.FilesLoaded.WithLabelValues(side, kind).Inc()
}

// FileSkipped counts one candidate file left out of the dataset of side.
func (c *PipelineCollector) FileSkipped(side, reason string) {
	if c == nil || c.FilesSkipped == nil {
		return
	}
	c.FilesSkipped.WithLabelValues(side, reason).Inc()
}

// ObserveStage records the duration of a named stage.
func (c *PipelineCollector) ObserveStage(stage string, d time.Duration) {
	if c == nil || c.StageDurations == nil {
		return
	}
	c.StageDurations.WithLabelValues(stage).Observe(d.Seconds())
}

// RunFinished counts a run in mode ending with outcome.
func (c *PipelineCollector) RunFinished(mode, outcome string) {
	if c == nil || c.Runs == nil {
		return
	}
	c.Runs.WithLabelValues(mode, outcome).Inc()
}

// SetBaseline records the rover/base baseline.
func (c *PipelineCollector) SetBaseline(meters float64) {
	if c == nil || c.BaselineMeters == nil {
		return
	}
	c.BaselineMeters.Set(meters)
}

// WriteTextfile dumps every gathered metric to path in the Prometheus text
// exposition format, for node_exporter's textfile collector.
func (c *PipelineCollector) WriteTextfile(path string) error {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if err := prometheus.WriteToTextfile(path, gatherer); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
