package ephstore

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/star/gnsseph/internal/gnss"
	"github.com/star/gnsseph/internal/orbit"
)

var (
	t0  = time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
	g05 = gnss.NewSatID(gnss.SystemGPS, 5)
	g07 = gnss.NewSatID(gnss.SystemGPS, 7)
	e11 = gnss.NewSatID(gnss.SystemGalileo, 11)
)

// at returns t0 plus the given number of seconds.
func at(sec float64) time.Time {
	return t0.Add(time.Duration(sec * float64(time.Second)))
}

// hr returns t0 plus the given number of hours.
func hr(h float64) time.Time {
	return at(h * 3600)
}

// fakeRecord is a minimal orbit.Record whose state encodes the time since Toe.
type fakeRecord struct {
	orbit.Header
	unhealthy bool
	label     string
}

func (f *fakeRecord) IsHealthy() bool { return !f.unhealthy }

func (f *fakeRecord) StateAt(t time.Time) (orbit.State, error) {
	if !f.IsValid(t) {
		return orbit.State{}, orbit.ErrOutsideValidity
	}
	return orbit.State{ClockBias: t.Sub(f.Toe).Seconds()}, nil
}

func (f *fakeRecord) Clone() orbit.Record {
	c := *f
	return &c
}

func (f *fakeRecord) Dump(w io.Writer) error {
	_, err := fmt.Fprintf(w, "fake record %s %s\n", f.Satellite, f.label)
	return err
}

func rec(sat gnss.SatID, toe, begin, end time.Time) *fakeRecord {
	return &fakeRecord{Header: orbit.Header{
		Satellite: sat,
		Toe:       toe,
		Toc:       toe,
		Begin:     begin,
		End:       end,
		Transmit:  begin,
	}}
}

func labeled(r *fakeRecord, label string) *fakeRecord {
	r.label = label
	return r
}

func mustAdd(t *testing.T, s *Store, r orbit.Record) Result {
	t.Helper()
	res, err := s.Add(r)
	if err != nil {
		t.Fatalf("Add(%s toe=%v): %v", r.Sat(), r.ReferenceEpoch(), err)
	}
	return res
}

func keys(t *testing.T, s *Store, sat gnss.SatID) []time.Time {
	t.Helper()
	recs, err := s.Records(sat)
	if err != nil {
		t.Fatalf("Records(%s): %v", sat, err)
	}
	out := make([]time.Time, len(recs))
	for i, r := range recs {
		out[i] = s.keyOf(r)
	}
	return out
}

func labelOf(r orbit.Record) string {
	if r == nil {
		return "<nil>"
	}
	return r.(*fakeRecord).label
}

func TestNewStoreEmpty(t *testing.T) {
	s := New(Options{})

	if s.Size() != 0 {
		t.Errorf("Size = %d, want 0", s.Size())
	}
	initial, final := s.Span()
	if !initial.Equal(gnss.EndOfTime) || !final.Equal(gnss.BeginningOfTime) {
		t.Errorf("Span = [%v, %v], want empty sentinels", initial, final)
	}
	if len(s.IndexSet()) != 0 {
		t.Errorf("IndexSet = %v, want empty", s.IndexSet())
	}

	_, err := s.FindUser(g05, t0)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("FindUser on empty store: got %v, want ErrNotFound", err)
	}
	if !errors.Is(err, ErrUnknownSatellite) {
		t.Errorf("FindUser on empty store: got %v, want ErrUnknownSatellite", err)
	}

	s.Clear()
	if s.Size() != 0 {
		t.Errorf("Size after Clear = %d", s.Size())
	}
}

func TestParseKeyPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    KeyPolicy
		wantErr bool
	}{
		{"strict", PolicyStrict, false},
		{"User", PolicyStrict, false},
		{"near", PolicyNear, false},
		{" past ", PolicyNear, false},
		{"closest", PolicyStrict, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKeyPolicy(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseKeyPolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseKeyPolicy(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSizeMatchingAndIndexSet(t *testing.T) {
	s := New(Options{})
	mustAdd(t, s, rec(g07, hr(2), hr(0), hr(4)))
	mustAdd(t, s, rec(g05, hr(2), hr(0), hr(4)))
	mustAdd(t, s, rec(g05, hr(4), hr(2), hr(6)))
	mustAdd(t, s, rec(e11, hr(3), hr(1), hr(5)))

	if got := s.Size(); got != 4 {
		t.Errorf("Size = %d, want 4", got)
	}
	tests := []struct {
		name   string
		filter SatFilter
		want   int
	}{
		{"nil", nil, 4},
		{"all", MatchAll, 4},
		{"gps", MatchSystem(gnss.SystemGPS), 3},
		{"galileo", MatchSystem(gnss.SystemGalileo), 1},
		{"glonass", MatchSystem(gnss.SystemGLONASS), 0},
		{"G05", MatchSat(g05), 2},
		{"absent", MatchSat(gnss.NewSatID(gnss.SystemGPS, 30)), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.SizeMatching(tt.filter); got != tt.want {
				t.Errorf("SizeMatching = %d, want %d", got, tt.want)
			}
		})
	}

	set := s.IndexSet()
	want := []gnss.SatID{e11, g05, g07}
	if len(set) != len(want) {
		t.Fatalf("IndexSet = %v, want %v", set, want)
	}
	for i := range want {
		if set[i] != want[i] {
			t.Errorf("IndexSet[%d] = %v, want %v", i, set[i], want[i])
		}
	}
	if !s.Has(e11) || s.Has(gnss.NewSatID(gnss.SystemGPS, 30)) {
		t.Error("Has reported the wrong membership")
	}
}

func TestAddToListClonesInOrder(t *testing.T) {
	s := New(Options{})
	mustAdd(t, s, labeled(rec(g07, hr(2), hr(0), hr(4)), "g07a"))
	mustAdd(t, s, labeled(rec(g05, hr(4), hr(2), hr(6)), "g05b"))
	mustAdd(t, s, labeled(rec(g05, hr(2), hr(0), hr(4)), "g05a"))
	mustAdd(t, s, labeled(rec(e11, hr(3), hr(1), hr(5)), "e11a"))

	existing := []orbit.Record{labeled(rec(g05, hr(9), hr(8), hr(10)), "caller")}
	list, n := s.AddToList(existing, MatchSystem(gnss.SystemGPS))
	if n != 3 {
		t.Fatalf("AddToList added %d, want 3", n)
	}
	wantOrder := []string{"caller", "g05a", "g05b", "g07a"}
	if len(list) != len(wantOrder) {
		t.Fatalf("list has %d records, want %d", len(list), len(wantOrder))
	}
	for i, w := range wantOrder {
		if got := labelOf(list[i]); got != w {
			t.Errorf("list[%d] = %s, want %s", i, got, w)
		}
	}

	// The list holds copies: changing one leaves the store alone.
	list[1].(*fakeRecord).label = "mutated"
	r, err := s.FindUser(g05, hr(2))
	if err != nil {
		t.Fatalf("FindUser: %v", err)
	}
	if labelOf(r) != "g05a" {
		t.Errorf("stored record label = %s, want g05a", labelOf(r))
	}

	_, n = s.AddToList(nil, nil)
	if n != 4 {
		t.Errorf("AddToList(all) added %d, want 4", n)
	}
}

func TestSatSpan(t *testing.T) {
	s := New(Options{})
	mustAdd(t, s, rec(g05, hr(2), hr(0), hr(4)))
	mustAdd(t, s, rec(g05, hr(6), hr(5), hr(8)))

	b, e, err := s.SatSpan(g05)
	if err != nil {
		t.Fatalf("SatSpan: %v", err)
	}
	if !b.Equal(hr(0)) || !e.Equal(hr(8)) {
		t.Errorf("SatSpan = [%v, %v], want [%v, %v]", b, e, hr(0), hr(8))
	}
	if _, _, err := s.SatSpan(g07); !errors.Is(err, ErrUnknownSatellite) {
		t.Errorf("SatSpan(unknown) = %v, want ErrUnknownSatellite", err)
	}

	sum := s.Summarize()
	if sum.Satellites != 1 || sum.Records != 2 || !sum.Initial.Equal(hr(0)) || !sum.Final.Equal(hr(8)) {
		t.Errorf("Summarize = %+v", sum)
	}
}
