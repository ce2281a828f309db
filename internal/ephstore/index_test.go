package ephstore

import (
	"testing"
	"time"
)

func newTestIndex(secs ...float64) *index {
	x := newIndex()
	for _, s := range secs {
		x.Put(at(s), rec(g05, at(s), at(s), at(s+10)))
	}
	return x
}

func TestIndexEmpty(t *testing.T) {
	x := newIndex()

	if _, ok := x.Get(t0); ok {
		t.Error("Get on empty index reported a hit")
	}
	if _, ok := x.LowerBound(t0); ok {
		t.Error("LowerBound on empty index reported a hit")
	}
	if _, ok := x.Prev(t0); ok {
		t.Error("Prev on empty index reported a hit")
	}
	if _, ok := x.First(); ok {
		t.Error("First on empty index reported a hit")
	}
	if _, ok := x.Last(); ok {
		t.Error("Last on empty index reported a hit")
	}
	if n := x.DeleteBefore(t0) + x.DeleteAfter(t0); n != 0 {
		t.Errorf("deleted %d from empty index", n)
	}
}

func TestIndexNeighbours(t *testing.T) {
	x := newTestIndex(30, 10, 20)

	tests := []struct {
		name    string
		query   float64
		lower   float64
		lowerOK bool
		prev    float64
		prevOK  bool
	}{
		{"before all", 5, 10, true, 0, false},
		{"on first", 10, 10, true, 0, false},
		{"between", 15, 20, true, 10, true},
		{"on middle", 20, 20, true, 10, true},
		{"on last", 30, 30, true, 20, true},
		{"after all", 35, 0, false, 30, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, ok := x.LowerBound(at(tt.query))
			if ok != tt.lowerOK || (ok && !lo.key.Equal(at(tt.lower))) {
				t.Errorf("LowerBound(%v) = %v,%v; want %v,%v", tt.query, lo.key, ok, at(tt.lower), tt.lowerOK)
			}
			pr, ok := x.Prev(at(tt.query))
			if ok != tt.prevOK || (ok && !pr.key.Equal(at(tt.prev))) {
				t.Errorf("Prev(%v) = %v,%v; want %v,%v", tt.query, pr.key, ok, at(tt.prev), tt.prevOK)
			}
		})
	}

	first, _ := x.First()
	last, _ := x.Last()
	if !first.key.Equal(at(10)) || !last.key.Equal(at(30)) {
		t.Errorf("First/Last = %v/%v", first.key, last.key)
	}

	var order []time.Time
	x.Ascend(func(e entry) bool {
		order = append(order, e.key)
		return true
	})
	if len(order) != 3 || !order[0].Equal(at(10)) || !order[2].Equal(at(30)) {
		t.Errorf("Ascend order = %v", order)
	}
}

func TestIndexRangeDelete(t *testing.T) {
	x := newTestIndex(10, 20, 30, 40)

	if n := x.DeleteBefore(at(20)); n != 1 {
		t.Errorf("DeleteBefore removed %d, want 1", n)
	}
	if n := x.DeleteAfter(at(30)); n != 1 {
		t.Errorf("DeleteAfter removed %d, want 1", n)
	}
	if x.Len() != 2 {
		t.Fatalf("Len = %d, want 2", x.Len())
	}
	for _, k := range []float64{20, 30} {
		if _, ok := x.Get(at(k)); !ok {
			t.Errorf("key %v should survive", k)
		}
	}
}

func TestIndexSpan(t *testing.T) {
	x := newIndex()
	b, e := x.span()
	if !b.After(e) {
		t.Errorf("empty span = [%v, %v], want inverted sentinels", b, e)
	}

	x.Put(at(10), rec(g05, at(15), at(10), at(100)))
	x.Put(at(20), rec(g05, at(25), at(20), at(50)))
	b, e = x.span()
	if !b.Equal(at(10)) || !e.Equal(at(100)) {
		t.Errorf("span = [%v, %v], want [%v, %v]", b, e, at(10), at(100))
	}
}
