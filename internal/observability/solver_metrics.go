package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// SolverCollector exposes positioning-solver Prometheus metrics.
type SolverCollector struct {
	gatherer prometheus.Gatherer

	Epochs     *prometheus.CounterVec
	Iterations prometheus.Histogram
	UsedSats   prometheus.Histogram
	LastErrorM prometheus.Gauge
}

// NewSolverCollector registers solver metrics against the provided registerer.
func NewSolverCollector(reg prometheus.Registerer) (*SolverCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	epochs, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gnssqc_solver_epochs_total",
		Help: "Epochs handed to the positioning solver, labeled by method and status.",
	}, []string{"method", "status"}), "gnssqc_solver_epochs_total")
	if err != nil {
		return nil, err
	}

	iterations, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gnssqc_solver_iterations",
		Help:    "Least-squares iterations needed per converged epoch.",
		Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10, 15, 20},
	}), "gnssqc_solver_iterations")
	if err != nil {
		return nil, err
	}

	sats, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gnssqc_solver_used_satellites",
		Help:    "Satellites contributing to each solution.",
		Buckets: []float64{4, 5, 6, 7, 8, 10, 12, 15, 20, 30},
	}), "gnssqc_solver_used_satellites")
	if err != nil {
		return nil, err
	}

	lastErr, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gnssqc_solver_mean_error_meters",
		Help: "3D distance between the mean solution and the apriori position.",
	}), "gnssqc_solver_mean_error_meters")
	if err != nil {
		return nil, err
	}

	return &SolverCollector{
		gatherer:   gatherer,
		Epochs:     epochs,
		Iterations: iterations,
		UsedSats:   sats,
		LastErrorM: lastErr,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SolverCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// EpochSolved records a converged epoch.
func (c *SolverCollector) EpochSolved(method string, iterations, sats int) {
	if c == nil {
		return
	}
	if c.Epochs != nil {
		c.Epochs.WithLabelValues(method, "solved").Inc()
	}
	if c.Iterations != nil {
		c.Iterations.Observe(float64(iterations))
	}
	if c.UsedSats != nil {
		c.UsedSats.Observe(float64(sats))
	}
}

// EpochRejected records an epoch the solver could not use.
func (c *SolverCollector) EpochRejected(method, reason string) {
	if c == nil || c.Epochs == nil {
		return
	}
	c.Epochs.WithLabelValues(method, reason).Inc()
}

// SetMeanError updates the mean-solution error gauge.
func (c *SolverCollector) SetMeanError(meters float64) {
	if c == nil || c.LastErrorM == nil {
		return
	}
	if meters < 0 {
		meters = 0
	}
	c.LastErrorM.Set(meters)
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}
