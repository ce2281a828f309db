// Package ephstore holds broadcast orbital-element records per satellite,
// ordered by a time key, and answers which record governs a satellite at a
// given instant.
//
// A Store is not safe for concurrent use. Readers may share it only while
// no Add, AddBatch, Edit or Clear runs; propagation.Propagator provides that
// locking for the service. Records returned by lookups are shared with the
// store and must be treated as read-only; a later Add, Edit or Clear may
// drop them from the store.
package ephstore

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/star/gnsseph/internal/gnss"
	"github.com/star/gnsseph/internal/orbit"
)

// KeyPolicy selects the time each record is keyed by. It is fixed when the
// store is created.
type KeyPolicy int

const (
	// PolicyStrict keys records by BeginValid (earliest transmission),
	// reproducing what a receiver could have used in real time.
	PolicyStrict KeyPolicy = iota
	// PolicyNear keys records by ReferenceEpoch for post-processing.
	PolicyNear
)

func (p KeyPolicy) String() string {
	switch p {
	case PolicyStrict:
		return "User"
	case PolicyNear:
		return "Past"
	}
	return fmt.Sprintf("KeyPolicy(%d)", int(p))
}

// ParseKeyPolicy accepts "strict"/"user" and "near"/"past".
func ParseKeyPolicy(s string) (KeyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict", "user":
		return PolicyStrict, nil
	case "near", "past":
		return PolicyNear, nil
	}
	return PolicyStrict, fmt.Errorf("unknown key policy %q", s)
}

// Options configures a new Store.
type Options struct {
	Name        string // used in dump headers
	Policy      KeyPolicy
	OnlyHealthy bool // StateAt rejects unhealthy records
	TimeSystem  gnss.TimeSystem
}

// Store is the per-satellite table of orbital-element records.
type Store struct {
	name        string
	policy      KeyPolicy
	onlyHealthy bool
	timeSystem  gnss.TimeSystem

	tables map[gnss.SatID]*index

	initialTime time.Time
	finalTime   time.Time
}

// New creates an empty store.
func New(opts Options) *Store {
	if opts.Name == "" {
		opts.Name = "OrbitEphStore"
	}
	s := &Store{
		name:        opts.Name,
		policy:      opts.Policy,
		onlyHealthy: opts.OnlyHealthy,
		timeSystem:  opts.TimeSystem,
		tables:      make(map[gnss.SatID]*index),
	}
	s.initialTime, s.finalTime = emptySpan()
	return s
}

func emptySpan() (time.Time, time.Time) {
	return gnss.EndOfTime, gnss.BeginningOfTime
}

func (s *Store) Name() string                { return s.name }
func (s *Store) Policy() KeyPolicy           { return s.policy }
func (s *Store) OnlyHealthy() bool           { return s.onlyHealthy }
func (s *Store) TimeSystem() gnss.TimeSystem { return s.timeSystem }

// SetOnlyHealthy toggles health filtering in StateAt.
func (s *Store) SetOnlyHealthy(v bool) { s.onlyHealthy = v }

// Span returns the retained time span. An empty store reports
// [gnss.EndOfTime, gnss.BeginningOfTime].
func (s *Store) Span() (initial, final time.Time) {
	return s.initialTime, s.finalTime
}

// SatSpan returns the earliest BeginValid and latest EndValid among the
// records of one satellite.
func (s *Store) SatSpan(sat gnss.SatID) (time.Time, time.Time, error) {
	tbl, err := s.table(sat)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	b, e := tbl.span()
	return b, e, nil
}

// keyOf returns the index key for r under the store's policy.
func (s *Store) keyOf(r orbit.Record) time.Time {
	if s.policy == PolicyStrict {
		return r.BeginValid()
	}
	return r.ReferenceEpoch()
}

// table returns the index for sat. An unknown satellite matches both
// ErrUnknownSatellite and ErrNotFound so callers that only care about
// coverage need a single check.
func (s *Store) table(sat gnss.SatID) (*index, error) {
	tbl, ok := s.tables[sat]
	if !ok {
		return nil, fmt.Errorf("%s: %w: %w", sat, ErrUnknownSatellite, ErrNotFound)
	}
	return tbl, nil
}

// sortedSats returns the satellite ids in ascending order.
func (s *Store) sortedSats() []gnss.SatID {
	sats := make([]gnss.SatID, 0, len(s.tables))
	for sat := range s.tables {
		sats = append(sats, sat)
	}
	sort.Slice(sats, func(i, j int) bool { return sats[i].Less(sats[j]) })
	return sats
}
