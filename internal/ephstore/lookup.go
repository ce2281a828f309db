package ephstore

import (
	"fmt"
	"time"

	"github.com/star/gnsseph/internal/gnss"
	"github.com/star/gnsseph/internal/orbit"
)

// FindUser returns the record a receiver tracking sat in real time would
// have been using at t: the most recently started fit interval that covers t.
//
// When a record's key equals t exactly, that broadcast is taken to be still
// in reception and the preceding record is preferred if it covers t. Every
// returned record satisfies IsValid(t), so its BeginValid is never after t.
//
// It returns ErrUnknownSatellite if sat has no table and ErrNotFound if no
// record covers t.
func (s *Store) FindUser(sat gnss.SatID, t time.Time) (orbit.Record, error) {
	tbl, err := s.table(sat)
	if err != nil {
		return nil, err
	}
	if tbl.Len() == 0 {
		return nil, notFound(sat, t)
	}

	if exact, ok := tbl.Get(t); ok {
		if prior, ok := tbl.Prev(t); ok && prior.rec.IsValid(t) {
			return prior.rec, nil
		}
		if exact.rec.IsValid(t) {
			return exact.rec, nil
		}
		return nil, notFound(sat, t)
	}

	next, ok := tbl.LowerBound(t)
	if !ok {
		// t is past the last key; the last fit interval may still stretch over it.
		last, _ := tbl.Last()
		if last.rec.IsValid(t) {
			return last.rec, nil
		}
		return nil, notFound(sat, t)
	}

	if next.rec.IsValid(t) {
		return next.rec, nil
	}
	prior, ok := tbl.Prev(next.key)
	if ok && prior.rec.IsValid(t) {
		return prior.rec, nil
	}
	return nil, notFound(sat, t)
}

// FindNear returns the valid record whose Toe is closest to t. When the
// records on either side of t are equally distant the later one wins.
//
// It returns ErrUnknownSatellite if sat has no table and ErrNotFound if no
// record covers t.
func (s *Store) FindNear(sat gnss.SatID, t time.Time) (orbit.Record, error) {
	tbl, err := s.table(sat)
	if err != nil {
		return nil, err
	}
	if tbl.Len() == 0 {
		return nil, notFound(sat, t)
	}

	if exact, ok := tbl.Get(t); ok {
		return exact.rec, nil
	}

	next, ok := tbl.LowerBound(t)
	if !ok {
		last, _ := tbl.Last()
		if last.rec.IsValid(t) {
			return last.rec, nil
		}
		return nil, notFound(sat, t)
	}

	prior, ok := tbl.Prev(next.key)
	if !ok {
		if next.rec.IsValid(t) {
			return next.rec, nil
		}
		return nil, notFound(sat, t)
	}

	toNext := next.rec.ReferenceEpoch().Sub(t)
	fromPrior := t.Sub(prior.rec.ReferenceEpoch())

	primary, fallback := next.rec, prior.rec
	if toNext > fromPrior {
		primary, fallback = prior.rec, next.rec
	}
	switch {
	case primary.IsValid(t):
		return primary, nil
	case fallback.IsValid(t):
		return fallback, nil
	}
	return nil, notFound(sat, t)
}

// Find dispatches to FindUser or FindNear according to the key policy.
func (s *Store) Find(sat gnss.SatID, t time.Time) (orbit.Record, error) {
	if s.policy == PolicyStrict {
		return s.FindUser(sat, t)
	}
	return s.FindNear(sat, t)
}

// StateAt finds the governing record for sat at t and computes its state.
// With health filtering on, an unhealthy record yields ErrUnhealthy.
func (s *Store) StateAt(sat gnss.SatID, t time.Time) (orbit.State, error) {
	r, err := s.Find(sat, t)
	if err != nil {
		return orbit.State{}, err
	}
	if s.onlyHealthy && !r.IsHealthy() {
		return orbit.State{}, fmt.Errorf("%s at %s: %w", sat, gnss.FormatTime(t, s.timeSystem), ErrUnhealthy)
	}
	st, err := r.StateAt(t)
	if err != nil {
		return orbit.State{}, fmt.Errorf("state for %s: %w", sat, err)
	}
	return st, nil
}

func notFound(sat gnss.SatID, t time.Time) error {
	return fmt.Errorf("%s at %s: %w", sat, t.UTC().Format(gnss.TimeFormat), ErrNotFound)
}
