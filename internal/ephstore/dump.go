package ephstore

import (
	"bufio"
	"fmt"
	"io"

	"github.com/star/gnsseph/internal/gnss"
)

// Dump levels.
const (
	DumpSummary = 0 // counts and span
	DumpSats    = 1 // one line per satellite
	DumpRecords = 2 // one line per record
	DumpTable   = 3 // key/begin/Toe/Toc/end table
	DumpFull    = 4 // every record's own dump
)

// Dump writes a diagnostic listing of the store. Levels above DumpFull are
// treated as DumpFull.
func (s *Store) Dump(w io.Writer, level int) error {
	bw := bufio.NewWriter(w)
	ts := s.timeSystem

	fmt.Fprintf(bw, "Dump of %s (detail level=%d):\n", s.name, level)
	fmt.Fprintf(bw, " BCE table for all satellites has %d entries; Time span is %s to %s\n",
		s.Size(), gnss.FormatTime(s.initialTime, ts), gnss.FormatTime(s.finalTime, ts))
	fmt.Fprintf(bw, " Search method is %s\n", s.policy)

	switch {
	case level <= DumpSummary:
	case level == DumpSats:
		for _, sat := range s.sortedSats() {
			tbl := s.tables[sat]
			b, e := tbl.span()
			fmt.Fprintf(bw, "Sat %s has %3d entries; Time span is %s to %s\n",
				sat, tbl.Len(), gnss.FormatTime(b, ts), gnss.FormatTime(e, ts))
		}

	case level == DumpRecords:
		for _, sat := range s.sortedSats() {
			tbl := s.tables[sat]
			s.dumpSatHeader(bw, sat, tbl)
			tbl.Ascend(func(e entry) bool {
				fit := e.rec.EndValid().Sub(e.rec.BeginValid()).Hours()
				fmt.Fprintf(bw, "SAT %s TOE %s TOC %s KEY %s HRS %5.2f\n", sat,
					gnss.FormatTime(e.rec.ReferenceEpoch(), ts),
					gnss.FormatTime(e.rec.ClockEpoch(), ts),
					gnss.FormatTime(e.key, ts), fit)
				return true
			})
		}
		fmt.Fprintf(bw, "  End of %s data.\n\n", s.name)

	case level == DumpTable:
		const (
			dateFmt  = "01/02/06 15:04:05"
			clockFmt = "15:04:05"
		)
		for _, sat := range s.sortedSats() {
			tbl := s.tables[sat]
			s.dumpSatHeader(bw, sat, tbl)
			fmt.Fprintln(bw, "  Sat  MM/DD/YY      Key     Begin       Toe       Toc      End")
			tbl.Ascend(func(e entry) bool {
				fmt.Fprintf(bw, "%s  %s  %s  %s  %s  %s\n", sat,
					e.key.UTC().Format(dateFmt),
					e.rec.BeginValid().UTC().Format(clockFmt),
					e.rec.ReferenceEpoch().UTC().Format(clockFmt),
					e.rec.ClockEpoch().UTC().Format(clockFmt),
					e.rec.EndValid().UTC().Format(clockFmt))
				return true
			})
		}

	default:
		for _, sat := range s.sortedSats() {
			tbl := s.tables[sat]
			s.dumpSatHeader(bw, sat, tbl)
			var err error
			tbl.Ascend(func(e entry) bool {
				err = e.rec.Dump(bw)
				return err == nil
			})
			if err != nil {
				return fmt.Errorf("dump %s: %w", sat, err)
			}
		}
	}

	fmt.Fprintf(bw, "END Dump of %s (detail level=%d)\n", s.name, level)
	return bw.Flush()
}

func (s *Store) dumpSatHeader(w io.Writer, sat gnss.SatID, tbl *index) {
	b, e := tbl.span()
	fmt.Fprintf(w, "Sat %s has %d entries, with times from %s to %s\n",
		sat, tbl.Len(), gnss.FormatTime(b, s.timeSystem), gnss.FormatTime(e, s.timeSystem))
}
