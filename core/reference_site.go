package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/gnssqc/internal/logging"
	"github.com/signalsfoundry/gnssqc/model"
)

// ErrMissingGeodeticMarker indicates a base station dataset without a
// declared reference position.
var ErrMissingGeodeticMarker = errors.New("base station does not declare a geodetic marker")

// ReferenceSite is the base station of a differential run.
type ReferenceSite struct {
	dataset  *Dataset
	position model.GeodeticPosition
	baseline *float64
}

// Dataset returns the base station records.
func (s *ReferenceSite) Dataset() *Dataset { return s.dataset }

// Position returns the base station marker.
func (s *ReferenceSite) Position() model.GeodeticPosition { return s.position }

// Baseline returns the rover/base distance in metres when the rover
// position was known at construction.
func (s *ReferenceSite) Baseline() (float64, bool) {
	if s.baseline == nil {
		return 0, false
	}
	return *s.baseline, true
}

// BuildReferenceSite pairs the base dataset with its declared marker. rover
// may be nil, in which case no baseline is computed. The baseline is
// informational only.
func BuildReferenceSite(ctx context.Context, base *Dataset, rover *model.GeodeticPosition, log logging.Logger) (*ReferenceSite, error) {
	if log == nil {
		log = logging.Noop()
	}
	p, ok := base.Position()
	if !ok {
		return nil, ErrMissingGeodeticMarker
	}
	site := &ReferenceSite{dataset: base, position: Geodetic(p)}
	log.Info(ctx, "reference site", logging.String("position", site.position.String()))

	if rover != nil {
		b := Baseline(rover.ECEF, p)
		site.baseline = &b
		log.Info(ctx, "rtk baseline", logging.String("baseline", FormatBaseline(b)))
	}
	return site, nil
}

// FormatBaseline renders metres, switching to kilometres above 1 km.
func FormatBaseline(m float64) string {
	if m > 1000 {
		return fmt.Sprintf("%.3f km", m/1000)
	}
	return fmt.Sprintf("%.3f m", m)
}
