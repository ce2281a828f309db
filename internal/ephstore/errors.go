package ephstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/star/gnsseph/internal/gnss"
)

var (
	// ErrNotFound means no stored record covers the query time.
	ErrNotFound = errors.New("no ephemeris covers the requested time")
	// ErrUnknownSatellite means the store has never seen the satellite.
	ErrUnknownSatellite = errors.New("satellite not in store")
	// ErrConflict means two records with different Toe claim the same key.
	ErrConflict = errors.New("inconsistent ephemeris")
	// ErrUnhealthy is returned by StateAt when health filtering rejects the
	// selected record.
	ErrUnhealthy = errors.New("ephemeris is unhealthy")
	// ErrNilRecord is returned when a nil record is offered for ingest.
	ErrNilRecord = errors.New("nil record")
)

// ConflictError describes an ingest conflict. It matches ErrConflict.
type ConflictError struct {
	Sat          gnss.SatID
	Key          time.Time
	StoredToe    time.Time
	CandidateToe time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s for %s: matching key %s but Toe(stored)=%s, Toe(candidate)=%s",
		ErrConflict, e.Sat,
		e.Key.UTC().Format(gnss.TimeFormat),
		e.StoredToe.UTC().Format(gnss.TimeFormat),
		e.CandidateToe.UTC().Format(gnss.TimeFormat))
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}
