package passes

import (
	"context"
	"testing"
	"time"

	"github.com/star/gnsseph/internal/ephstore"
	"github.com/star/gnsseph/internal/gnss"
	"github.com/star/gnsseph/internal/orbit"
	"github.com/star/gnsseph/internal/transform"
)

var (
	testSat = gnss.NewSatID(gnss.SystemGPS, 5)
	testToe = time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)
)

// newTestStore holds one GPS record valid for an hour either side of testToe.
func newTestStore(t *testing.T) *ephstore.Store {
	t.Helper()
	rec, err := orbit.NewKeplerRecord(testSat, testToe, testToe, time.Time{}, orbit.KeplerElements{
		SqrtA:    5153.65,
		Ecc:      0.0065,
		I0:       0.9622,
		Omega0:   -2.1073,
		Omega:    0.6613,
		M0:       1.77,
		DeltaN:   4.6e-9,
		OmegaDot: -8.1e-9,
		IODE:     42,
		FitHours: 2,
	})
	if err != nil {
		t.Fatalf("NewKeplerRecord: %v", err)
	}
	s := ephstore.New(ephstore.Options{Policy: ephstore.PolicyStrict, OnlyHealthy: true, TimeSystem: gnss.TimeGPS})
	if _, err := s.Add(rec); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return s
}

// subSatellite places an observer directly under the satellite at t.
func subSatellite(t *testing.T, s *ephstore.Store, at time.Time) transform.Observer {
	t.Helper()
	st, err := s.StateAt(testSat, at)
	if err != nil {
		t.Fatalf("StateAt: %v", err)
	}
	g := transform.ToGeodetic(st.Position)
	return transform.NewObserver(g.LatDeg, g.LonDeg, 0)
}

func TestPredictOverhead(t *testing.T) {
	s := newTestStore(t)
	req := Request{
		Observer:     subSatellite(t, s, testToe),
		Sats:         []gnss.SatID{testSat},
		Start:        testToe.Add(-30 * time.Minute),
		End:          testToe.Add(30 * time.Minute),
		MinElevation: 10,
	}

	results := Predict(context.Background(), s, req)
	if len(results) != 1 || results[0].Error != "" {
		t.Fatalf("results = %+v", results)
	}
	ps := results[0].Passes
	if len(ps) != 1 {
		t.Fatalf("expected one pass, got %d", len(ps))
	}
	p := ps[0]
	if !p.StartTruncated || !p.EndTruncated {
		t.Errorf("pass should span the whole window: %+v", p)
	}
	if !p.StartTime.Equal(req.Start) || !p.EndTime.Equal(req.End) {
		t.Errorf("pass %v..%v, want %v..%v", p.StartTime, p.EndTime, req.Start, req.End)
	}
	if p.MaxElevation < 85 || p.MaxElevation > 90.001 {
		t.Errorf("max elevation %.3f, want near zenith", p.MaxElevation)
	}
	if d := p.MaxElevationTime.Sub(testToe); d < -time.Minute || d > time.Minute {
		t.Errorf("max elevation at %v, want near %v", p.MaxElevationTime, testToe)
	}
	if p.DurationSeconds != 3600 {
		t.Errorf("duration = %.0f, want 3600", p.DurationSeconds)
	}
}

func TestPredictEndsWithValidity(t *testing.T) {
	s := newTestStore(t)
	req := Request{
		Observer: subSatellite(t, s, testToe),
		Sats:     []gnss.SatID{testSat},
		Start:    testToe.Add(-30 * time.Minute),
		End:      testToe.Add(3 * time.Hour),
	}

	ps := Predict(context.Background(), s, req)[0].Passes
	if len(ps) != 1 {
		t.Fatalf("expected one pass, got %d", len(ps))
	}
	p := ps[0]
	if p.EndTruncated {
		t.Error("pass should close when the record expires, not at the window end")
	}
	if d := p.EndTime.Sub(testToe.Add(time.Hour)); d < 0 || d > 2*refineTol {
		t.Errorf("pass ends at %v, want just after %v", p.EndTime, testToe.Add(time.Hour))
	}
	if p.EndAzimuth < 0 || p.EndAzimuth >= 360 {
		t.Errorf("end azimuth %.2f out of range", p.EndAzimuth)
	}
}

func TestPredictBelowHorizon(t *testing.T) {
	s := newTestStore(t)
	under := subSatellite(t, s, testToe)
	g := under.Geodetic()
	lat := -g.LatDeg
	lon := g.LonDeg + 180
	if lon > 180 {
		lon -= 360
	}

	results := Predict(context.Background(), s, Request{
		Observer: transform.NewObserver(lat, lon, 0),
		Sats:     []gnss.SatID{testSat},
		Start:    testToe.Add(-30 * time.Minute),
		End:      testToe.Add(30 * time.Minute),
	})
	if results[0].Error != "" || len(results[0].Passes) != 0 {
		t.Errorf("antipodal observer: %+v", results[0])
	}
}

func TestPredictErrors(t *testing.T) {
	s := newTestStore(t)
	obs := subSatellite(t, s, testToe)
	unknown := gnss.NewSatID(gnss.SystemGalileo, 11)

	results := Predict(context.Background(), s, Request{
		Observer: obs,
		Sats:     []gnss.SatID{testSat, unknown},
		Start:    testToe,
		End:      testToe.Add(10 * time.Minute),
	})
	if results[0].Sat != testSat || results[0].Error != "" {
		t.Errorf("known satellite: %+v", results[0])
	}
	if results[1].Sat != unknown || results[1].Error == "" {
		t.Errorf("unknown satellite should report an error: %+v", results[1])
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results = Predict(ctx, s, Request{
		Observer: obs,
		Sats:     []gnss.SatID{testSat},
		Start:    testToe,
		End:      testToe.Add(10 * time.Minute),
	})
	if results[0].Error == "" {
		t.Error("cancelled context should report an error")
	}
}
