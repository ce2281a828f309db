package tle

import (
	"bytes"
	"strings"
	"testing"
)

func TestMergeDedupesAndSorts(t *testing.T) {
	first, err := Parse(strings.NewReader(issTLE+gpsTLE), testLogger)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Parse(strings.NewReader(galileoTLE+gpsTLE), testLogger)
	if err != nil {
		t.Fatal(err)
	}

	merged := Merge(first, second)
	if len(merged) != 3 {
		t.Fatalf("got %d entries, want 3", len(merged))
	}
	want := []int{24876, 25544, 37846}
	for i, id := range want {
		if merged[i].NORADID != id {
			t.Errorf("entry %d NORAD = %d, want %d", i, merged[i].NORADID, id)
		}
	}
}

func TestWriteRoundTrip(t *testing.T) {
	entries, err := Parse(strings.NewReader(gpsTLE+galileoTLE), testLogger)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := Write(&buf, entries); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if buf.String() != gpsTLE+galileoTLE {
		t.Errorf("output differs:\n%s", buf.String())
	}
}
