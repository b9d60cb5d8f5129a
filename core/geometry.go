package core

import (
	"math"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/gnssqc/model"
)

const metresPerKm = 1000.0

// Geodetic converts an ECEF position (metres) to WGS84 latitude, longitude
// and altitude. go-satellite's ECI routine is used with a zero sidereal
// angle, which makes the ECI frame coincide with ECEF.
func Geodetic(p model.ECEF) model.GeodeticPosition {
	alt, _, rad := satellite.ECIToLLA(satellite.Vector3{
		X: p.X / metresPerKm,
		Y: p.Y / metresPerKm,
		Z: p.Z / metresPerKm,
	}, 0)
	deg := satellite.LatLongDeg(rad)
	return model.GeodeticPosition{
		ECEF:         p,
		LatitudeDeg:  deg.Latitude,
		LongitudeDeg: deg.Longitude,
		AltitudeM:    alt * metresPerKm,
	}
}

// Baseline returns the straight-line distance between two ECEF points in
// metres.
func Baseline(a, b model.ECEF) float64 {
	return a.DistanceTo(b)
}

// ElevationDegrees returns the elevation angle of the target as seen from
// the observer, in degrees. 0° = geometric horizon, 90° = overhead.
//
// The local zenith is approximated by the geocentric direction, which is
// within 0.2° of the ellipsoidal normal.
func ElevationDegrees(observer, target model.ECEF) float64 {
	v := target.Sub(observer)
	vNorm := v.Norm()
	if vNorm == 0 {
		return 90
	}
	r := observer.Norm()
	if r == 0 {
		return 90
	}
	zenith := observer.Scale(1 / r)

	cosGamma := v.Dot(zenith) / vNorm
	if cosGamma > 1 {
		cosGamma = 1
	} else if cosGamma < -1 {
		cosGamma = -1
	}
	gammaDeg := math.Acos(cosGamma) * 180.0 / math.Pi

	// Elevation is measured from local horizon (90° − zenith angle).
	return 90.0 - gammaDeg
}
