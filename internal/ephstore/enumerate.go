package ephstore

import (
	"time"

	"github.com/star/gnsseph/internal/gnss"
	"github.com/star/gnsseph/internal/orbit"
)

// SatFilter selects satellites for Size, AddToList and Dump-like walks.
type SatFilter func(gnss.SatID) bool

// MatchAll selects every satellite.
func MatchAll(gnss.SatID) bool { return true }

// MatchSystem selects every satellite of one constellation.
func MatchSystem(sys gnss.System) SatFilter {
	return func(id gnss.SatID) bool { return id.System == sys }
}

// MatchSat selects exactly one satellite.
func MatchSat(sat gnss.SatID) SatFilter {
	return func(id gnss.SatID) bool { return id == sat }
}

// Size returns the total number of stored records.
func (s *Store) Size() int {
	n := 0
	for _, tbl := range s.tables {
		n += tbl.Len()
	}
	return n
}

// SizeMatching counts records of the satellites selected by match.
// A nil filter selects everything.
func (s *Store) SizeMatching(match SatFilter) int {
	if match == nil {
		match = MatchAll
	}
	n := 0
	for sat, tbl := range s.tables {
		if match(sat) {
			n += tbl.Len()
		}
	}
	return n
}

// AddToList appends clones of the selected records to dst, satellite by
// satellite in id order and in key order within each satellite. It returns
// the extended slice and the number of records added.
func (s *Store) AddToList(dst []orbit.Record, match SatFilter) ([]orbit.Record, int) {
	if match == nil {
		match = MatchAll
	}
	n := 0
	for _, sat := range s.sortedSats() {
		if !match(sat) {
			continue
		}
		s.tables[sat].Ascend(func(e entry) bool {
			dst = append(dst, e.rec.Clone())
			n++
			return true
		})
	}
	return dst, n
}

// IndexSet returns every satellite the store holds a table for, including
// tables emptied by Edit, in ascending order.
func (s *Store) IndexSet() []gnss.SatID {
	return s.sortedSats()
}

// Has reports whether the store holds a table for sat.
func (s *Store) Has(sat gnss.SatID) bool {
	_, ok := s.tables[sat]
	return ok
}

// Records returns the records of one satellite in key order. The records
// are shared with the store.
func (s *Store) Records(sat gnss.SatID) ([]orbit.Record, error) {
	tbl, err := s.table(sat)
	if err != nil {
		return nil, err
	}
	out := make([]orbit.Record, 0, tbl.Len())
	tbl.Ascend(func(e entry) bool {
		out = append(out, e.rec)
		return true
	})
	return out, nil
}

// Summary is a point-in-time description of the store's contents.
type Summary struct {
	Name        string
	Satellites  int
	Records     int
	Initial     time.Time
	Final       time.Time
	Policy      KeyPolicy
	OnlyHealthy bool
	TimeSystem  gnss.TimeSystem
}

// Summarize counts tables and records and reports the span.
func (s *Store) Summarize() Summary {
	return Summary{
		Name:        s.name,
		Satellites:  len(s.tables),
		Records:     s.Size(),
		Initial:     s.initialTime,
		Final:       s.finalTime,
		Policy:      s.policy,
		OnlyHealthy: s.onlyHealthy,
		TimeSystem:  s.timeSystem,
	}
}
