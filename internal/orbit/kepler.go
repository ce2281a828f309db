package orbit

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/star/gnsseph/internal/gnss"
)

const (
	gmGPS     = 3.9860050e14 // m^3/s^2, IS-GPS-200
	gmGalileo = 3.986004418e14
	omegaEGPS = 7.2921151467e-5 // rad/s
	omegaEBDS = 7.2921150e-5
	relF      = -4.442807633e-10 // s/m^(1/2)

	keplerTol     = 1e-13
	keplerMaxIter = 30

	defaultFitHours = 4.0
)

// KeplerElements are the broadcast quasi-Keplerian parameters of a GPS-style
// navigation message (GPS LNAV, QZSS, Galileo I/NAV and F/NAV, BeiDou D1/D2).
type KeplerElements struct {
	Af0, Af1, Af2 float64 // clock polynomial: s, s/s, s/s^2

	SqrtA    float64 // sqrt(m)
	Ecc      float64
	I0       float64 // rad
	Omega0   float64 // rad
	Omega    float64 // argument of perigee, rad
	M0       float64 // rad
	DeltaN   float64 // rad/s
	OmegaDot float64 // rad/s
	IDot     float64 // rad/s

	Cuc, Cus float64 // rad
	Crc, Crs float64 // m
	Cic, Cis float64 // rad

	Tgd      float64 // s
	IODE     int
	IODC     int
	Health   int
	FitHours float64 // 0 means the nominal 4-hour fit
}

// KeplerRecord is a broadcast-ephemeris record propagated with the
// navigation-message user algorithm.
type KeplerRecord struct {
	Header
	KeplerElements
}

var _ Record = (*KeplerRecord)(nil)

// NewKeplerRecord builds a record from decoded elements. The fit interval
// starts at the transmit time (or Toe minus half the fit when transmit is
// zero) and ends half a fit interval after Toe.
func NewKeplerRecord(sat gnss.SatID, toe, toc, transmit time.Time, el KeplerElements) (*KeplerRecord, error) {
	if el.SqrtA <= 0 {
		return nil, fmt.Errorf("%s: sqrtA must be positive, got %g", sat, el.SqrtA)
	}
	if el.Ecc < 0 || el.Ecc >= 1 {
		return nil, fmt.Errorf("%s: eccentricity out of range: %g", sat, el.Ecc)
	}
	if el.FitHours <= 0 {
		el.FitHours = defaultFitHours
	}

	half := time.Duration(el.FitHours / 2 * float64(time.Hour))
	begin := transmit
	if begin.IsZero() {
		begin = toe.Add(-half)
		transmit = begin
	}

	r := &KeplerRecord{
		Header: Header{
			Satellite: sat,
			Toe:       toe,
			Toc:       toc,
			Begin:     begin,
			End:       toe.Add(half),
			Transmit:  transmit,
		},
		KeplerElements: el,
	}
	if err := r.check(); err != nil {
		return nil, err
	}
	return r, nil
}

// IsHealthy reports a zero health word.
func (r *KeplerRecord) IsHealthy() bool {
	return r.Health == 0
}

// Clone returns a copy; the record holds no references.
func (r *KeplerRecord) Clone() Record {
	c := *r
	return &c
}

// StateAt computes the ECEF state at t.
func (r *KeplerRecord) StateAt(t time.Time) (State, error) {
	if !r.IsValid(t) {
		return State{}, r.outside(t)
	}

	pos, vel, sinE := r.position(t)
	for _, v := range pos {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return State{}, fmt.Errorf("%s: %w: position is NaN/Inf", r.Satellite, ErrPropagation)
		}
	}

	dt := t.Sub(r.Toc).Seconds()
	return State{
		Position:   pos,
		Velocity:   vel,
		ClockBias:  r.Af0 + r.Af1*dt + r.Af2*dt*dt,
		ClockDrift: r.Af1 + 2*r.Af2*dt,
		RelCorr:    relF * r.Ecc * r.SqrtA * sinE,
	}, nil
}

func (r *KeplerRecord) constants() (gm, omegaE float64) {
	switch r.Satellite.System {
	case gnss.SystemGalileo:
		return gmGalileo, omegaEGPS
	case gnss.SystemBeiDou:
		return gmGalileo, omegaEBDS
	}
	return gmGPS, omegaEGPS
}

// isBeiDouGEO reports the BeiDou geostationary PRNs, whose elements are
// referenced to an inclined frame.
func (r *KeplerRecord) isBeiDouGEO() bool {
	id := r.Satellite.ID
	return r.Satellite.System == gnss.SystemBeiDou && (id <= 5 || id >= 59)
}

// plane holds the orbital-plane solution at one instant.
type plane struct {
	tk     float64 // seconds since Toe
	sinE   float64
	xp, yp float64 // position in the orbital plane, m
	inc    float64 // corrected inclination, rad
	xpDot  float64
	ypDot  float64
	incDot float64
	toeSOW float64
	omegaE float64
}

func (r *KeplerRecord) solve(t time.Time) plane {
	gm, omegaE := r.constants()

	a := r.SqrtA * r.SqrtA
	n := math.Sqrt(gm/(a*a*a)) + r.DeltaN
	tk := t.Sub(r.Toe).Seconds()

	m := r.M0 + n*tk
	e := m
	for i := 0; i < keplerMaxIter; i++ {
		next := m + r.Ecc*math.Sin(e)
		if math.Abs(next-e) < keplerTol {
			e = next
			break
		}
		e = next
	}
	sinE, cosE := math.Sincos(e)

	oneMinusECosE := 1 - r.Ecc*cosE
	sq := math.Sqrt(1 - r.Ecc*r.Ecc)
	v := math.Atan2(sq*sinE, cosE-r.Ecc)
	phi := v + r.Omega
	sin2p, cos2p := math.Sincos(2 * phi)

	u := phi + r.Cus*sin2p + r.Cuc*cos2p
	rad := a*oneMinusECosE + r.Crs*sin2p + r.Crc*cos2p
	inc := r.I0 + r.IDot*tk + r.Cis*sin2p + r.Cic*cos2p
	sinU, cosU := math.Sincos(u)
	xp := rad * cosU
	yp := rad * sinU

	eDot := n / oneMinusECosE
	vDot := sq * eDot / oneMinusECosE
	uDot := vDot * (1 + 2*(r.Cus*cos2p-r.Cuc*sin2p))
	rDot := a*r.Ecc*sinE*eDot + 2*vDot*(r.Crs*cos2p-r.Crc*sin2p)

	_, toeSOW := gnss.WeekSeconds(r.Satellite.System, r.Toe)

	return plane{
		tk:     tk,
		sinE:   sinE,
		xp:     xp,
		yp:     yp,
		inc:    inc,
		xpDot:  rDot*cosU - yp*uDot,
		ypDot:  rDot*sinU + xp*uDot,
		incDot: r.IDot + 2*vDot*(r.Cis*cos2p-r.Cic*sin2p),
		toeSOW: toeSOW,
		omegaE: omegaE,
	}
}

// position returns ECEF position and velocity plus sin(E) for the
// relativistic term.
func (r *KeplerRecord) position(t time.Time) ([3]float64, [3]float64, float64) {
	p := r.solve(t)

	if r.isBeiDouGEO() {
		const h = 0.5 // seconds
		p1 := r.geoPosition(r.solve(t.Add(-500 * time.Millisecond)))
		p2 := r.geoPosition(r.solve(t.Add(500 * time.Millisecond)))
		vel := [3]float64{(p2[0] - p1[0]) / (2 * h), (p2[1] - p1[1]) / (2 * h), (p2[2] - p1[2]) / (2 * h)}
		return r.geoPosition(p), vel, p.sinE
	}

	node := r.Omega0 + (r.OmegaDot-p.omegaE)*p.tk - p.omegaE*p.toeSOW
	nodeDot := r.OmegaDot - p.omegaE
	sinO, cosO := math.Sincos(node)
	sinI, cosI := math.Sincos(p.inc)

	x := p.xp*cosO - p.yp*cosI*sinO
	y := p.xp*sinO + p.yp*cosI*cosO
	z := p.yp * sinI

	vx := p.xpDot*cosO - p.ypDot*cosI*sinO + p.yp*sinI*sinO*p.incDot - y*nodeDot
	vy := p.xpDot*sinO + p.ypDot*cosI*cosO - p.yp*sinI*cosO*p.incDot + x*nodeDot
	vz := p.ypDot*sinI + p.yp*cosI*p.incDot

	return [3]float64{x, y, z}, [3]float64{vx, vy, vz}, p.sinE
}

// geoPosition applies the BeiDou GEO rotation: elements are in a frame tilted
// by -5 degrees about X and rotating with the Earth from Toe.
func (r *KeplerRecord) geoPosition(p plane) [3]float64 {
	node := r.Omega0 + r.OmegaDot*p.tk - p.omegaE*p.toeSOW
	sinO, cosO := math.Sincos(node)
	sinI, cosI := math.Sincos(p.inc)

	xg := p.xp*cosO - p.yp*cosI*sinO
	yg := p.xp*sinO + p.yp*cosI*cosO
	zg := p.yp * sinI

	sino, coso := math.Sincos(p.omegaE * p.tk)
	sin5, cos5 := math.Sincos(-5 * math.Pi / 180)

	return [3]float64{
		xg*coso + yg*sino*cos5 + zg*sino*sin5,
		-xg*sino + yg*coso*cos5 + zg*coso*sin5,
		-yg*sin5 + zg*cos5,
	}
}

// Dump writes every element.
func (r *KeplerRecord) Dump(w io.Writer) error {
	if err := r.dumpHeader(w, "Kepler"); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w,
		"    Af0: %.12e  Af1: %.12e  Af2: %.12e\n"+
			"  SqrtA: %.12e  Ecc: %.12e  I0: %.12e\n"+
			" Omega0: %.12e  Omega: %.12e  M0: %.12e\n"+
			" DeltaN: %.12e  OmegaDot: %.12e  IDot: %.12e\n"+
			"    Cuc: %.12e  Cus: %.12e\n"+
			"    Crc: %.12e  Crs: %.12e\n"+
			"    Cic: %.12e  Cis: %.12e\n"+
			"    Tgd: %.12e  IODE: %d  IODC: %d  Health: %d  Fit: %.1f h\n",
		r.Af0, r.Af1, r.Af2,
		r.SqrtA, r.Ecc, r.I0,
		r.Omega0, r.Omega, r.M0,
		r.DeltaN, r.OmegaDot, r.IDot,
		r.Cuc, r.Cus,
		r.Crc, r.Crs,
		r.Cic, r.Cis,
		r.Tgd, r.IODE, r.IODC, r.Health, r.FitHours,
	)
	return err
}
