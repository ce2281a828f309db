// Package ephjson is the JSON form of broadcast Kepler ephemerides shared by
// the HTTP API and the command-line tool.
package ephjson

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/star/gnsseph/internal/gnss"
	"github.com/star/gnsseph/internal/orbit"
)

// ErrMissingToe is returned by Record when no reference epoch was given.
var ErrMissingToe = errors.New("toe is required")

// Elements carries broadcast Kepler elements on the wire.
type Elements struct {
	Af0      float64 `json:"af0"`
	Af1      float64 `json:"af1"`
	Af2      float64 `json:"af2"`
	SqrtA    float64 `json:"sqrt_a"`
	Ecc      float64 `json:"ecc"`
	I0       float64 `json:"i0"`
	Omega0   float64 `json:"omega0"`
	Omega    float64 `json:"omega"`
	M0       float64 `json:"m0"`
	DeltaN   float64 `json:"delta_n"`
	OmegaDot float64 `json:"omega_dot"`
	IDot     float64 `json:"idot"`
	Cuc      float64 `json:"cuc"`
	Cus      float64 `json:"cus"`
	Crc      float64 `json:"crc"`
	Crs      float64 `json:"crs"`
	Cic      float64 `json:"cic"`
	Cis      float64 `json:"cis"`
	Tgd      float64 `json:"tgd"`
	IODE     int     `json:"iode"`
	IODC     int     `json:"iodc"`
	Health   int     `json:"health"`
	FitHours float64 `json:"fit_hours,omitempty"`
}

// Kepler converts to the orbit package form.
func (e Elements) Kepler() orbit.KeplerElements {
	return orbit.KeplerElements{
		Af0: e.Af0, Af1: e.Af1, Af2: e.Af2,
		SqrtA: e.SqrtA, Ecc: e.Ecc, I0: e.I0, Omega0: e.Omega0, Omega: e.Omega, M0: e.M0,
		DeltaN: e.DeltaN, OmegaDot: e.OmegaDot, IDot: e.IDot,
		Cuc: e.Cuc, Cus: e.Cus, Crc: e.Crc, Crs: e.Crs, Cic: e.Cic, Cis: e.Cis,
		Tgd: e.Tgd, IODE: e.IODE, IODC: e.IODC, Health: e.Health, FitHours: e.FitHours,
	}
}

// FromKepler converts from the orbit package form.
func FromKepler(k orbit.KeplerElements) Elements {
	return Elements{
		Af0: k.Af0, Af1: k.Af1, Af2: k.Af2,
		SqrtA: k.SqrtA, Ecc: k.Ecc, I0: k.I0, Omega0: k.Omega0, Omega: k.Omega, M0: k.M0,
		DeltaN: k.DeltaN, OmegaDot: k.OmegaDot, IDot: k.IDot,
		Cuc: k.Cuc, Cus: k.Cus, Crc: k.Crc, Crs: k.Crs, Cic: k.Cic, Cis: k.Cis,
		Tgd: k.Tgd, IODE: k.IODE, IODC: k.IODC, Health: k.Health, FitHours: k.FitHours,
	}
}

// Ephemeris is one broadcast ephemeris. Toc defaults to Toe; a zero transmit
// time puts the start of validity half a fit interval before Toe.
type Ephemeris struct {
	Sat      string    `json:"sat"`
	Toe      time.Time `json:"toe"`
	Toc      time.Time `json:"toc"`
	Transmit time.Time `json:"transmit"`
	Elements Elements  `json:"elements"`
}

// Record builds the orbit record.
func (e Ephemeris) Record() (*orbit.KeplerRecord, error) {
	if e.Toe.IsZero() {
		return nil, ErrMissingToe
	}
	sat, err := gnss.ParseSatID(e.Sat)
	if err != nil {
		return nil, err
	}
	toc := e.Toc
	if toc.IsZero() {
		toc = e.Toe
	}
	return orbit.NewKeplerRecord(sat, e.Toe, toc, e.Transmit, e.Elements.Kepler())
}

// Decode reads either a single object or an array of objects. The second
// result reports whether the input was an array.
func Decode(data []byte) ([]Ephemeris, bool, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var many []Ephemeris
		if err := json.Unmarshal(trimmed, &many); err != nil {
			return nil, true, fmt.Errorf("decoding ephemerides: %w", err)
		}
		return many, true, nil
	}
	var one Ephemeris
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, false, fmt.Errorf("decoding ephemeris: %w", err)
	}
	return []Ephemeris{one}, false, nil
}

// ReadRecords decodes r and builds every record, stopping at the first invalid one.
func ReadRecords(r io.Reader) ([]orbit.Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	ephs, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	recs := make([]orbit.Record, 0, len(ephs))
	for i, e := range ephs {
		rec, err := e.Record()
		if err != nil {
			return nil, fmt.Errorf("ephemeris %d (%s): %w", i, e.Sat, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
