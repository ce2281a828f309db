package orbit

import (
	"errors"
	"testing"
	"time"

	"github.com/star/gnsseph/internal/gnss"
	"github.com/star/gnsseph/internal/transform"
)

// ISS TLE (epoch 2024 day 100.5), real orbital elements.
const (
	issLine1 = "1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9005"
	issLine2 = "2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    09"
)

var issEpoch = time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC)

func TestTLERecordState(t *testing.T) {
	r, err := NewTLERecord(gnss.NewSatID(gnss.SystemNORAD, 25544), "ISS", 25544, issEpoch, issLine1, issLine2, 0)
	if err != nil {
		t.Fatalf("NewTLERecord failed: %v", err)
	}

	if !r.ReferenceEpoch().Equal(issEpoch) || !r.ClockEpoch().Equal(issEpoch) {
		t.Errorf("epochs = %v / %v, want %v", r.ReferenceEpoch(), r.ClockEpoch(), issEpoch)
	}
	if got := r.EndValid().Sub(r.BeginValid()); got != 2*DefaultTLEFit {
		t.Errorf("fit interval = %v, want %v", got, 2*DefaultTLEFit)
	}

	target := time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)
	st, err := r.StateAt(target)
	if err != nil {
		t.Fatalf("StateAt failed: %v", err)
	}

	if !transform.Plausible(st.Position) {
		t.Errorf("ECEF position failed validation: %v", st.Position)
	}

	// ISS altitude ~420 km: radius ~6791 km.
	mag := transform.Norm(st.Position) / 1000.0
	if mag < 6500 || mag > 7000 {
		t.Errorf("radius = %.1f km, expected ~6791 km", mag)
	}
	if !r.IsHealthy() {
		t.Error("TLE records are always healthy")
	}
}

func TestTLERecordOutsideFit(t *testing.T) {
	r, err := NewTLERecord(gnss.NewSatID(gnss.SystemNORAD, 25544), "ISS", 25544, issEpoch, issLine1, issLine2, time.Hour)
	if err != nil {
		t.Fatalf("NewTLERecord failed: %v", err)
	}
	_, err = r.StateAt(issEpoch.Add(2 * time.Hour))
	if !errors.Is(err, ErrOutsideValidity) {
		t.Fatalf("expected ErrOutsideValidity, got %v", err)
	}
}

func TestTLERecordInvalidLines(t *testing.T) {
	_, err := NewTLERecord(gnss.NewSatID(gnss.SystemNORAD, 99999), "BAD", 99999, issEpoch, "invalid line 1", "invalid line 2", 0)
	if err == nil {
		t.Fatal("expected error for invalid TLE, got nil")
	}
}

func TestTLERecordClone(t *testing.T) {
	r, err := NewTLERecord(gnss.NewSatID(gnss.SystemNORAD, 25544), "ISS", 25544, issEpoch, issLine1, issLine2, 0)
	if err != nil {
		t.Fatalf("NewTLERecord failed: %v", err)
	}
	c := r.Clone().(*TLERecord)
	r.Name = "CHANGED"
	r.End = r.End.Add(time.Hour)

	if c.Name != "ISS" {
		t.Errorf("clone name = %q", c.Name)
	}
	if c.EndValid().Equal(r.EndValid()) {
		t.Error("clone EndValid followed the original")
	}
	if _, err := c.StateAt(issEpoch); err != nil {
		t.Errorf("clone StateAt: %v", err)
	}
}
