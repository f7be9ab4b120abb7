package core

import (
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"github.com/soniakeys/meeus/v3/julian"
	"github.com/soniakeys/unit"

	"github.com/signalsfoundry/orbit-tracker/model"
)

// WGS84 reference ellipsoid.
const (
	WGS84A = 6378137.0         // equatorial radius, m
	WGS84F = 1 / 298.257223563 // flattening
)

var wgs84E2 = WGS84F * (2 - WGS84F)

// GMST returns the Greenwich mean sidereal angle (IAU-82) in radians for t.
// Sub-second precision is kept by converting through a fractional Julian
// date rather than whole calendar fields.
func GMST(t time.Time) float64 {
	return satellite.ThetaG_JD(julian.TimeToJD(t.UTC()))
}

// TEMEToECEF rotates a TEME vector into the earth-fixed frame by sidereal
// rotation only. TEME is already a true-of-date frame; polar motion is
// below the metre level and is not applied.
func TEMEToECEF(r Vec3, t time.Time) Vec3 {
	ecef := satellite.ECIToECEF(satellite.Vector3{X: r.X, Y: r.Y, Z: r.Z}, GMST(t))
	return Vec3{X: ecef.X, Y: ecef.Y, Z: ecef.Z}
}

// Geodetic converts a TEME position in metres at t to a WGS84 geodetic
// point. Longitude is normalised to (-180, 180]; altitude is not clamped.
func Geodetic(r Vec3, t time.Time) (model.OrbitPoint, error) {
	if !r.Finite() {
		return model.OrbitPoint{}, &TransformError{Err: ErrDegenerateVector}
	}
	if r.Norm() == 0 {
		return model.OrbitPoint{}, &TransformError{Err: ErrDegenerateVector}
	}
	lat, lon, alt := ecefToGeodetic(TEMEToECEF(r, t))
	return model.OrbitPoint{
		Time:      t,
		Latitude:  lat.Deg(),
		Longitude: normLongitude(lon.Deg()),
		Altitude:  alt,
	}, nil
}

// ecefToGeodetic iterates latitude to convergence. The height expression
// p*cos(lat) + z*sin(lat) - a*sqrt(1 - e2*sin^2(lat)) stays well conditioned
// at the poles.
func ecefToGeodetic(r Vec3) (unit.Angle, unit.Angle, float64) {
	p := math.Hypot(r.X, r.Y)
	lon := math.Atan2(r.Y, r.X)
	lat := math.Atan2(r.Z, p*(1-wgs84E2))

	for i := 0; i < 20; i++ {
		sinLat := math.Sin(lat)
		n := WGS84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
		next := math.Atan2(r.Z+wgs84E2*n*sinLat, p)
		done := math.Abs(next-lat) < 1e-12
		lat = next
		if done {
			break
		}
	}

	sinLat, cosLat := math.Sincos(lat)
	alt := p*cosLat + r.Z*sinLat - WGS84A*math.Sqrt(1-wgs84E2*sinLat*sinLat)
	return unit.Angle(lat), unit.Angle(lon), alt
}

func normLongitude(deg float64) float64 {
	for deg <= -180 {
		deg += 360
	}
	for deg > 180 {
		deg -= 360
	}
	return deg
}
