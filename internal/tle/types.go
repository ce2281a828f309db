package tle

import "time"

// TLEEntry represents a single satellite's two-line element set.
type TLEEntry struct {
	NORADID int
	Name    string
	Epoch   time.Time
	Line1   string
	Line2   string
}

// EpochRange represents the minimum and maximum epoch times in a set of entries.
type EpochRange struct {
	Min time.Time
	Max time.Time
}

// Metadata describes the last element sets handed to the store.
type Metadata struct {
	Source     string
	FetchedAt  time.Time
	EpochRange EpochRange
	Entries    int
	Inserted   int
	Replaced   int
	Duplicates int
	Rejected   int
}

// Epochs returns the epoch range of entries. It is zero for an empty slice.
func Epochs(entries []TLEEntry) EpochRange {
	var r EpochRange
	for i, e := range entries {
		if i == 0 || e.Epoch.Before(r.Min) {
			r.Min = e.Epoch
		}
		if i == 0 || e.Epoch.After(r.Max) {
			r.Max = e.Epoch
		}
	}
	return r
}
