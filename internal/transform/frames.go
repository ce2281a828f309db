// Package transform converts between the inertial and Earth-fixed frames used
// by the propagators and the geodetic and topocentric views served to users.
//
// SGP4 produces TEME vectors in km. Broadcast Kepler ephemerides are already
// Earth-fixed. Both leave here as ECEF meters. The TEME rotation uses GMST only
// (TEME to PEF), so polar motion and the equation of the equinoxes are ignored;
// the error is tens of meters, well inside SGP4's own accuracy.
//
// Reference: Vallado, "Fundamentals of Astrodynamics and Applications", Ch. 3.
package transform

import (
	"math"
	"time"
)

const (
	jdUnixEpoch = 2440587.5 // 1970-01-01T00:00:00Z
	jdJ2000     = 2451545.0 // 2000-01-01T12:00:00 TT
	secPerDay   = 86400.0
)

// OmegaEarth is the WGS-84 Earth rotation rate in rad/s.
const OmegaEarth = 7.292115146706979e-5

// Orbit shell accepted by Plausible, in meters from the geocenter. It spans
// low orbits up to past the geostationary ring used by BeiDou GEO and IGSO.
const (
	MinOrbitRadius = 6200e3
	MaxOrbitRadius = 50000e3
)

// JulianDate returns the Julian Date of t.
func JulianDate(t time.Time) float64 {
	sec := float64(t.Unix()) + float64(t.Nanosecond())/1e9
	return jdUnixEpoch + sec/secPerDay
}

// GMST returns Greenwich Mean Sidereal Time in radians, in [0, 2π), using the
// IAU-82 polynomial (Vallado Eq. 3-47) with UTC standing in for UT1.
func GMST(t time.Time) float64 {
	tu := (JulianDate(t) - jdJ2000) / 36525.0

	// Seconds of time; 876600h is folded into the linear term.
	sec := 67310.54841 + (876600*3600+8640184.812866)*tu + 0.093104*tu*tu - 6.2e-6*tu*tu*tu
	sec = math.Mod(sec, secPerDay)
	if sec < 0 {
		sec += secPerDay
	}
	return sec / secPerDay * 2 * math.Pi
}

// TEMEToECEF rotates a TEME state (km, km/s) at t into ECEF (m, m/s).
func TEMEToECEF(posKm, velKms [3]float64, t time.Time) (pos, vel [3]float64) {
	return TEMEToECEFAt(posKm, velKms, GMST(t))
}

// TEMEToECEFAt is TEMEToECEF with a precomputed GMST angle, for rotating many
// satellites to the same instant.
//
//	r_ecef = R3(θ) r_teme
//	v_ecef = R3(θ) v_teme - ω × r_ecef
func TEMEToECEFAt(posKm, velKms [3]float64, gmst float64) (pos, vel [3]float64) {
	r := rotZ(posKm, gmst)
	v := rotZ(velKms, gmst)

	// ω × r = (-ω y, ω x, 0)
	v[0] += OmegaEarth * r[1]
	v[1] -= OmegaEarth * r[0]

	for i := range r {
		pos[i] = r[i] * 1000
		vel[i] = v[i] * 1000
	}
	return pos, vel
}

// rotZ applies the frame rotation R3(theta) to v.
func rotZ(v [3]float64, theta float64) [3]float64 {
	sin, cos := math.Sincos(theta)
	return [3]float64{
		cos*v[0] + sin*v[1],
		-sin*v[0] + cos*v[1],
		v[2],
	}
}

// Norm returns the Euclidean length of v.
func Norm(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// Plausible reports whether an ECEF position in meters is finite and lies in
// the orbit shell.
func Plausible(pos [3]float64) bool {
	for _, c := range pos {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	r := Norm(pos)
	return r >= MinOrbitRadius && r <= MaxOrbitRadius
}
