// Package gnss holds the identifiers shared by every layer of the ephemeris
// service: satellite ids, constellation systems and time-system tags.
package gnss

import (
	"fmt"
	"strconv"
	"strings"
)

// System identifies a satellite constellation. The value is the RINEX
// system letter.
type System byte

const (
	SystemUnknown System = 0
	SystemGPS     System = 'G'
	SystemGLONASS System = 'R'
	SystemGalileo System = 'E'
	SystemBeiDou  System = 'C'
	SystemQZSS    System = 'J'
	SystemSBAS    System = 'S'
	SystemIRNSS   System = 'I'
	// SystemNORAD is used for objects known only by catalog number
	// (TLE sources without a PRN mapping).
	SystemNORAD System = 'N'
)

var systemNames = map[System]string{
	SystemGPS:     "GPS",
	SystemGLONASS: "GLONASS",
	SystemGalileo: "Galileo",
	SystemBeiDou:  "BeiDou",
	SystemQZSS:    "QZSS",
	SystemSBAS:    "SBAS",
	SystemIRNSS:   "IRNSS",
	SystemNORAD:   "NORAD",
}

// String returns the constellation name.
func (s System) String() string {
	if n, ok := systemNames[s]; ok {
		return n
	}
	return "Unknown"
}

// Letter returns the single-character RINEX code, or '?' when unknown.
func (s System) Letter() byte {
	if _, ok := systemNames[s]; ok {
		return byte(s)
	}
	return '?'
}

// SystemFromLetter maps a RINEX system letter to a System.
func SystemFromLetter(c byte) (System, bool) {
	s := System(c)
	_, ok := systemNames[s]
	return s, ok
}

// SatID names one satellite: a constellation plus a PRN / slot / catalog number.
type SatID struct {
	System System
	ID     int
}

// NewSatID is a convenience constructor.
func NewSatID(sys System, id int) SatID {
	return SatID{System: sys, ID: id}
}

// String renders the id the way RINEX does: "G05", "E11", "N25544".
func (s SatID) String() string {
	return fmt.Sprintf("%c%02d", s.System.Letter(), s.ID)
}

// Less orders ids by system letter, then number.
func (s SatID) Less(o SatID) bool {
	if s.System != o.System {
		return s.System < o.System
	}
	return s.ID < o.ID
}

// ParseSatID accepts "G05", "g5", "E11" or a bare number (treated as GPS).
// It covers what the CLI and HTTP routes need; it is not a full RINEX id parser.
func ParseSatID(s string) (SatID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return SatID{}, fmt.Errorf("empty satellite id")
	}

	sys := SystemGPS
	num := s
	if c := s[0]; c < '0' || c > '9' {
		upper := strings.ToUpper(s[:1])[0]
		var ok bool
		sys, ok = SystemFromLetter(upper)
		if !ok {
			return SatID{}, fmt.Errorf("unknown system letter %q in %q", s[:1], s)
		}
		num = strings.TrimSpace(s[1:])
	}

	id, err := strconv.Atoi(num)
	if err != nil || id <= 0 {
		return SatID{}, fmt.Errorf("invalid satellite number in %q", s)
	}
	return SatID{System: sys, ID: id}, nil
}
