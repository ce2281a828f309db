package ephstore

import "time"

// Edit drops every record keyed before tmin or after tmax, in every table.
// Records keyed exactly at a bound are kept. Tables left empty stay in the
// store. The store span becomes [tmin, tmax] whatever was removed.
// It returns the number of records removed.
func (s *Store) Edit(tmin, tmax time.Time) int {
	removed := 0
	for _, tbl := range s.tables {
		removed += tbl.DeleteBefore(tmin)
		removed += tbl.DeleteAfter(tmax)
	}
	s.initialTime = tmin
	s.finalTime = tmax
	return removed
}

// Clear removes every table and resets the span to the empty sentinels.
func (s *Store) Clear() {
	clear(s.tables)
	s.initialTime, s.finalTime = emptySpan()
}
