package ephstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/star/gnsseph/internal/orbit"
)

// Outcome classifies what Add did with a record.
type Outcome int

const (
	// Inserted means the record was new and a clone is now stored.
	Inserted Outcome = iota
	// Replaced means the record superseded a later-keyed copy of the same
	// orbit (same Toe), which was removed.
	Replaced
	// Duplicate means the record repeats an orbit already stored; nothing changed.
	Duplicate
	// Conflict means another record with a different Toe holds the same key.
	Conflict
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Replaced:
		return "replaced"
	case Duplicate:
		return "duplicate"
	case Conflict:
		return "conflict"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Reason explains a Duplicate outcome.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonSameKey     Reason = "duplicate Toe"
	ReasonMatchesLast Reason = "Toe matches last"
	ReasonLateCopy    Reason = "late transmit copy"
)

// Result reports the effect of one Add.
type Result struct {
	Outcome Outcome
	Reason  Reason
	Key     time.Time

	// Record is the stored clone for Inserted and Replaced, nil otherwise.
	Record orbit.Record

	// Superseded is the key of the entry removed by a Replaced outcome.
	Superseded time.Time
}

// Stored reports whether the record now lives in the store.
func (r Result) Stored() bool {
	return r.Outcome == Inserted || r.Outcome == Replaced
}

// Add offers one record to the store. Repeated broadcasts of the same orbit
// (same Toe) are collapsed to the earliest-keyed copy. A record whose key is
// already held by a different orbit is rejected with a *ConflictError and the
// table is left unchanged.
//
// The store keeps a clone of r; the caller keeps ownership of r.
func (s *Store) Add(r orbit.Record) (Result, error) {
	if r == nil {
		return Result{}, ErrNilRecord
	}

	sat := r.Sat()
	key := s.keyOf(r)
	toe := r.ReferenceEpoch()

	tbl, ok := s.tables[sat]
	if !ok {
		tbl = newIndex()
		s.tables[sat] = tbl
	}

	if tbl.Len() == 0 {
		return s.insert(tbl, key, r), nil
	}

	if cur, ok := tbl.Get(key); ok {
		if cur.rec.ReferenceEpoch().Equal(toe) {
			return Result{Outcome: Duplicate, Reason: ReasonSameKey, Key: key}, nil
		}
		return Result{Outcome: Conflict, Key: key}, &ConflictError{
			Sat:          sat,
			Key:          key,
			StoredToe:    cur.rec.ReferenceEpoch(),
			CandidateToe: toe,
		}
	}

	next, hasNext := tbl.LowerBound(key)
	if !hasNext {
		// After everything stored.
		last, _ := tbl.Last()
		if last.rec.ReferenceEpoch().Equal(toe) {
			return Result{Outcome: Duplicate, Reason: ReasonMatchesLast, Key: key}, nil
		}
		return s.insert(tbl, key, r), nil
	}

	// A later-keyed copy of the same orbit gives way to this earlier one,
	// whether it is the first entry or in the middle.
	if next.rec.ReferenceEpoch().Equal(toe) {
		tbl.Delete(next.key)
		res := s.insert(tbl, key, r)
		res.Outcome = Replaced
		res.Superseded = next.key
		return res, nil
	}

	prior, hasPrior := tbl.Prev(next.key)
	if hasPrior && prior.rec.ReferenceEpoch().Equal(toe) {
		return Result{Outcome: Duplicate, Reason: ReasonLateCopy, Key: key}, nil
	}
	return s.insert(tbl, key, r), nil
}

func (s *Store) insert(tbl *index, key time.Time, r orbit.Record) Result {
	c := r.Clone()
	tbl.Put(key, c)
	s.updateTimeLimits(c)
	return Result{Outcome: Inserted, Key: key, Record: c}
}

// updateTimeLimits widens the store span to cover r.
func (s *Store) updateTimeLimits(r orbit.Record) {
	if b := r.BeginValid(); b.Before(s.initialTime) {
		s.initialTime = b
	}
	if e := r.EndValid(); e.After(s.finalTime) {
		s.finalTime = e
	}
}

// BatchResult summarises AddBatch.
type BatchResult struct {
	Inserted   int
	Replaced   int
	Duplicates int
	Conflicts  int
	Errors     []error
}

// Stored is the number of records that now live in the store.
func (b BatchResult) Stored() int {
	return b.Inserted + b.Replaced
}

// AddBatch offers records in order. Conflicts and nil records are collected
// in Errors and do not stop the batch.
func (s *Store) AddBatch(recs []orbit.Record) BatchResult {
	var br BatchResult
	for _, r := range recs {
		res, err := s.Add(r)
		switch {
		case errors.Is(err, ErrConflict):
			br.Conflicts++
			br.Errors = append(br.Errors, err)
			continue
		case err != nil:
			br.Errors = append(br.Errors, err)
			continue
		}
		switch res.Outcome {
		case Inserted:
			br.Inserted++
		case Replaced:
			br.Replaced++
		case Duplicate:
			br.Duplicates++
		}
	}
	return br
}
