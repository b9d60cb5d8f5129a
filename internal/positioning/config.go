package positioning

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"
)

// Config tunes the epoch solver. It is read from the YAML file given with
// --cfg; missing keys keep their DefaultConfig value.
type Config struct {
	ElevationMaskDeg   float64  `yaml:"elevation_mask_deg" validate:"gte=0,lt=90"`
	MinSV              int      `yaml:"min_sv" validate:"gte=4"`
	MaxIter            int      `yaml:"max_iter" validate:"gte=1,lte=100"`
	ConvergenceM       float64  `yaml:"convergence_m" validate:"gt=0"`
	InterpolationOrder int      `yaml:"interpolation_order" validate:"gte=1,lte=17"`
	Codes              []string `yaml:"code" validate:"dive,len=3,startswith=C"`
	// DisableSagnac skips the Earth rotation correction during signal
	// flight.
	DisableSagnac bool `yaml:"disable_sagnac"`
}

// DefaultConfig returns the settings used without a --cfg file.
func DefaultConfig() Config {
	return Config{
		ElevationMaskDeg:   10,
		MinSV:              4,
		MaxIter:            10,
		ConvergenceM:       1e-3,
		InterpolationOrder: 9,
		Codes:              []string{"C1C", "C1P", "C1W"},
	}
}

var validate = validator.New()

// Validate checks every field against its bounds.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid solver config: %w", err)
	}
	return nil
}

// LoadConfig reads a YAML solver configuration on top of DefaultConfig.
// An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read solver config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse solver config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
