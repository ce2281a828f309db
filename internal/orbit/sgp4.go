package orbit

import (
	"fmt"
	"io"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/star/gnsseph/internal/gnss"
	"github.com/star/gnsseph/internal/transform"
)

// DefaultTLEFit is the half-width of the validity window placed around a TLE epoch.
const DefaultTLEFit = 3 * 24 * time.Hour

// TLERecord is a two-line element set propagated with SGP4.
//
// go-satellite's Propagate takes Satellite by value so SGP4 error codes are
// not visible to the caller. Failures are detected from NaN/Inf output and
// unreasonable position magnitudes.
type TLERecord struct {
	Header
	Name    string
	NORADID int
	Line1   string
	Line2   string

	sat satellite.Satellite
}

var _ Record = (*TLERecord)(nil)

// NewTLERecord initialises SGP4 for one element set. The record is valid for
// fit either side of epoch (DefaultTLEFit when fit <= 0); reference and clock
// epochs are both the TLE epoch.
//
// The lines are validated before reaching go-satellite, which calls log.Fatal
// on malformed input.
func NewTLERecord(id gnss.SatID, name string, noradID int, epoch time.Time, line1, line2 string, fit time.Duration) (*TLERecord, error) {
	if err := validateTLELines(line1, line2); err != nil {
		return nil, fmt.Errorf("invalid TLE for NORAD %d: %w", noradID, err)
	}
	if fit <= 0 {
		fit = DefaultTLEFit
	}

	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed for NORAD %d: code=%d %s", noradID, sat.Error, sat.ErrorStr)
	}

	begin := epoch.Add(-fit)
	return &TLERecord{
		Header: Header{
			Satellite: id,
			Toe:       epoch,
			Toc:       epoch,
			Begin:     begin,
			End:       epoch.Add(fit),
			Transmit:  begin,
		},
		Name:    name,
		NORADID: noradID,
		Line1:   line1,
		Line2:   line2,
		sat:     sat,
	}, nil
}

// validateTLELines performs basic format validation on TLE lines.
func validateTLELines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}
	return nil
}

// IsHealthy is always true; element sets carry no health word.
func (r *TLERecord) IsHealthy() bool { return true }

// Clone copies the record. satellite.Satellite holds only values.
func (r *TLERecord) Clone() Record {
	c := *r
	return &c
}

// StateAt propagates to t and rotates the TEME result into ECEF.
func (r *TLERecord) StateAt(t time.Time) (State, error) {
	if !r.IsValid(t) {
		return State{}, r.outside(t)
	}

	u := t.UTC()
	pos, vel := satellite.Propagate(r.sat, u.Year(), int(u.Month()), u.Day(), u.Hour(), u.Minute(), u.Second())

	p, v := transform.TEMEToECEF([3]float64{pos.X, pos.Y, pos.Z}, [3]float64{vel.X, vel.Y, vel.Z}, u)
	if !transform.Plausible(p) {
		return State{}, fmt.Errorf("NORAD %d: %w: position %.1f km from geocenter", r.NORADID, ErrPropagation, transform.Norm(p)/1000)
	}
	return State{Position: p, Velocity: v}, nil
}

// Dump writes the header and the raw element lines.
func (r *TLERecord) Dump(w io.Writer) error {
	if err := r.dumpHeader(w, "SGP4"); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "   Name: %s (NORAD %d)\n  %s\n  %s\n", r.Name, r.NORADID, r.Line1, r.Line2)
	return err
}
