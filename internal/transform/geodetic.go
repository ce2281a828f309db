package transform

import "math"

// WGS-84 ellipsoid.
const (
	wgs84A  = 6378137.0
	wgs84F  = 1 / 298.257223563
	wgs84E2 = wgs84F * (2 - wgs84F)
)

const (
	deg = math.Pi / 180
	rad = 180 / math.Pi
)

// Geodetic is a WGS-84 position.
type Geodetic struct {
	LatDeg, LonDeg, AltM float64
}

// Observer is a ground station. The ECEF vector and the ENU basis are computed
// once so that repeated look-angle queries only do a subtraction and three dot
// products.
type Observer struct {
	LatRad, LonRad, AltM float64
	ECEF                 [3]float64 // meters

	east, north, up [3]float64
}

// LookAngles is the topocentric direction from an observer to a satellite.
type LookAngles struct {
	AzimuthDeg   float64 // clockwise from north, [0, 360)
	ElevationDeg float64 // above the local horizon
	RangeKm      float64
}

// NewObserver builds an Observer from latitude and longitude in degrees and
// height above the ellipsoid in meters.
func NewObserver(latDeg, lonDeg, altM float64) Observer {
	lat, lon := latDeg*deg, lonDeg*deg
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)

	n := primeVertical(sinLat)
	return Observer{
		LatRad: lat,
		LonRad: lon,
		AltM:   altM,
		ECEF: [3]float64{
			(n + altM) * cosLat * cosLon,
			(n + altM) * cosLat * sinLon,
			(n*(1-wgs84E2) + altM) * sinLat,
		},
		east:  [3]float64{-sinLon, cosLon, 0},
		north: [3]float64{-sinLat * cosLon, -sinLat * sinLon, cosLat},
		up:    [3]float64{cosLat * cosLon, cosLat * sinLon, sinLat},
	}
}

// Geodetic returns the observer's position in degrees.
func (o Observer) Geodetic() Geodetic {
	return Geodetic{LatDeg: o.LatRad * rad, LonDeg: o.LonRad * rad, AltM: o.AltM}
}

// LookAt returns azimuth, elevation and range to an ECEF position in meters.
func (o Observer) LookAt(pos [3]float64) LookAngles {
	d := [3]float64{pos[0] - o.ECEF[0], pos[1] - o.ECEF[1], pos[2] - o.ECEF[2]}
	e, n, u := dot(d, o.east), dot(d, o.north), dot(d, o.up)

	rng := Norm(d)
	if rng == 0 {
		return LookAngles{ElevationDeg: 90}
	}
	az := math.Atan2(e, n)
	if az < 0 {
		az += 2 * math.Pi
	}
	return LookAngles{
		AzimuthDeg:   az * rad,
		ElevationDeg: math.Asin(u/rng) * rad,
		RangeKm:      rng / 1000,
	}
}

// ToGeodetic converts an ECEF position in meters to WGS-84 latitude, longitude
// and height, iterating on latitude until it settles below a microarcsecond.
func ToGeodetic(pos [3]float64) Geodetic {
	x, y, z := pos[0], pos[1], pos[2]
	p := math.Hypot(x, y)
	lon := math.Atan2(y, x)

	lat := math.Atan2(z, p*(1-wgs84E2))
	for i := 0; i < 10; i++ {
		n := primeVertical(math.Sin(lat))
		next := math.Atan2(z+wgs84E2*n*math.Sin(lat), p)
		done := math.Abs(next-lat) < 1e-12
		lat = next
		if done {
			break
		}
	}

	sinLat, cosLat := math.Sincos(lat)
	n := primeVertical(sinLat)
	var alt float64
	if math.Abs(cosLat) > 1e-10 {
		alt = p/cosLat - n
	} else {
		alt = math.Abs(z) - n*(1-wgs84E2)
	}
	return Geodetic{LatDeg: lat * rad, LonDeg: lon * rad, AltM: alt}
}

// primeVertical is the ellipsoid's radius of curvature in the prime vertical.
func primeVertical(sinLat float64) float64 {
	return wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}
