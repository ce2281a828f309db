package tle

import (
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/star/gnsseph/internal/gnss"
	"github.com/star/gnsseph/internal/orbit"
)

// prnPattern matches the navigation id CelesTrak appends to GNSS names,
// e.g. "GPS BIIR-2  (PRN 13)" or "GSAT0101 (PRN E11)".
var prnPattern = regexp.MustCompile(`\(PRN\s*([A-Z]?)\s*(\d{1,3})\)`)

// SatIDFor maps an entry to a satellite id. Names carrying a PRN become GNSS
// ids (GPS when no system letter is given); everything else is keyed by its
// NORAD catalog number.
func SatIDFor(e TLEEntry) gnss.SatID {
	if m := prnPattern.FindStringSubmatch(e.Name); m != nil {
		id, err := strconv.Atoi(m[2])
		if err == nil && id > 0 {
			sys, ok := gnss.SystemGPS, true
			if m[1] != "" {
				sys, ok = gnss.SystemFromLetter(m[1][0])
			}
			if ok && sys != gnss.SystemNORAD {
				return gnss.NewSatID(sys, id)
			}
		}
	}
	return gnss.NewSatID(gnss.SystemNORAD, e.NORADID)
}

// ToRecords builds SGP4 records valid for fit either side of each epoch.
// Entries SGP4 rejects are logged and skipped.
func ToRecords(entries []TLEEntry, fit time.Duration, logger *slog.Logger) []orbit.Record {
	recs := make([]orbit.Record, 0, len(entries))
	for _, e := range entries {
		sat := SatIDFor(e)
		r, err := orbit.NewTLERecord(sat, e.Name, e.NORADID, e.Epoch, e.Line1, e.Line2, fit)
		if err != nil {
			logger.Warn("skipping TLE entry", "sat", sat.String(), "norad_id", e.NORADID, "error", err)
			continue
		}
		recs = append(recs, r)
	}
	return recs
}
