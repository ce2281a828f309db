// Package orbit defines the orbital-element record held by the ephemeris
// store and the concrete record kinds the service knows how to propagate.
//
// A Record is immutable once constructed. The store clones records on ingest
// and hands out shared references on lookup; callers must not mutate a record
// obtained from the store.
package orbit

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/star/gnsseph/internal/gnss"
)

var (
	// ErrOutsideValidity is returned by StateAt when t is outside the fit interval.
	ErrOutsideValidity = errors.New("time outside record validity")
	// ErrInvalidInterval is returned by constructors when BeginValid > EndValid.
	ErrInvalidInterval = errors.New("begin of validity after end of validity")
	// ErrPropagation is returned when the orbit model produces an unusable state.
	ErrPropagation = errors.New("orbit propagation failed")
)

// State is a satellite position, velocity and clock at one instant.
// Position and velocity are ECEF.
type State struct {
	Position   [3]float64 // meters
	Velocity   [3]float64 // m/s
	ClockBias  float64    // seconds
	ClockDrift float64    // seconds/second
	RelCorr    float64    // relativistic clock correction, seconds
}

// Record is one set of orbital elements for one satellite.
type Record interface {
	Sat() gnss.SatID
	ReferenceEpoch() time.Time // Toe
	ClockEpoch() time.Time     // Toc
	BeginValid() time.Time
	EndValid() time.Time
	TransmitTime() time.Time

	// IsValid reports BeginValid <= t <= EndValid.
	IsValid(t time.Time) bool
	IsHealthy() bool

	// StateAt fails with ErrOutsideValidity when !IsValid(t).
	StateAt(t time.Time) (State, error)

	// Clone returns an independent deep copy.
	Clone() Record

	// Dump writes a full human-readable description.
	Dump(w io.Writer) error
}

// Header carries the timing attributes common to every record kind. Record
// implementations embed it.
type Header struct {
	Satellite gnss.SatID
	Toe       time.Time
	Toc       time.Time
	Begin     time.Time
	End       time.Time
	Transmit  time.Time
}

func (h Header) Sat() gnss.SatID           { return h.Satellite }
func (h Header) ReferenceEpoch() time.Time { return h.Toe }
func (h Header) ClockEpoch() time.Time     { return h.Toc }
func (h Header) BeginValid() time.Time     { return h.Begin }
func (h Header) EndValid() time.Time       { return h.End }
func (h Header) TransmitTime() time.Time   { return h.Transmit }

func (h Header) IsValid(t time.Time) bool {
	return !t.Before(h.Begin) && !t.After(h.End)
}

// check validates the interval invariant.
func (h Header) check() error {
	if h.Begin.After(h.End) {
		return fmt.Errorf("%s: %w (begin %s, end %s)", h.Satellite, ErrInvalidInterval,
			h.Begin.UTC().Format(time.RFC3339), h.End.UTC().Format(time.RFC3339))
	}
	return nil
}

func (h Header) outside(t time.Time) error {
	return fmt.Errorf("%s at %s: %w [%s, %s]", h.Satellite, t.UTC().Format(time.RFC3339),
		ErrOutsideValidity, h.Begin.UTC().Format(time.RFC3339), h.End.UTC().Format(time.RFC3339))
}

func (h Header) dumpHeader(w io.Writer, kind string) error {
	_, err := fmt.Fprintf(w,
		"%s ephemeris for %s\n    Toe: %s\n    Toc: %s\n    Tot: %s\n  Begin: %s\n    End: %s\n",
		kind, h.Satellite,
		h.Toe.UTC().Format(gnss.TimeFormat),
		h.Toc.UTC().Format(gnss.TimeFormat),
		h.Transmit.UTC().Format(gnss.TimeFormat),
		h.Begin.UTC().Format(gnss.TimeFormat),
		h.End.UTC().Format(gnss.TimeFormat),
	)
	return err
}
