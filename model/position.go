package model

import (
	"fmt"
	"math"
)

// ECEF is an Earth-centred, Earth-fixed position in metres.
type ECEF struct {
	X float64
	Y float64
	Z float64
}

// DistanceTo returns the straight-line distance between two points.
func (p ECEF) DistanceTo(other ECEF) float64 {
	return p.Sub(other).Norm()
}

// Norm returns the Euclidean norm of the vector.
func (p ECEF) Norm() float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
}

// Sub returns p - other.
func (p ECEF) Sub(other ECEF) ECEF {
	return ECEF{X: p.X - other.X, Y: p.Y - other.Y, Z: p.Z - other.Z}
}

// Add returns p + other.
func (p ECEF) Add(other ECEF) ECEF {
	return ECEF{X: p.X + other.X, Y: p.Y + other.Y, Z: p.Z + other.Z}
}

// Scale returns p multiplied by k.
func (p ECEF) Scale(k float64) ECEF {
	return ECEF{X: p.X * k, Y: p.Y * k, Z: p.Z * k}
}

// Dot returns the dot product of two vectors.
func (p ECEF) Dot(other ECEF) float64 {
	return p.X*other.X + p.Y*other.Y + p.Z*other.Z
}

// IsZero reports whether all three components are zero. RINEX headers use an
// all-zero APPROX POSITION XYZ to mean "unknown".
func (p ECEF) IsZero() bool {
	return p.X == 0 && p.Y == 0 && p.Z == 0
}

func (p ECEF) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f)", p.X, p.Y, p.Z)
}

// GeodeticPosition pairs an ECEF position with its WGS84 geodetic form.
// Latitude, longitude and altitude are for display only; computations stay
// in ECEF metres.
type GeodeticPosition struct {
	ECEF         ECEF
	LatitudeDeg  float64
	LongitudeDeg float64
	AltitudeM    float64
}

func (g GeodeticPosition) String() string {
	return fmt.Sprintf("%s [ECEF] (lat=%.5f°, lon=%.5f°, alt=%.1fm)",
		g.ECEF, g.LatitudeDeg, g.LongitudeDeg, g.AltitudeM)
}
