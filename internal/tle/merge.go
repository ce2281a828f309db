package tle

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"time"
)

type entryKey struct {
	noradID int
	epoch   time.Time
}

// Merge combines element sets, keeping the first occurrence of each
// (NORAD ID, epoch) pair. The result is ordered by NORAD ID, then epoch.
func Merge(sets ...[]TLEEntry) []TLEEntry {
	seen := make(map[entryKey]struct{})
	var out []TLEEntry
	for _, set := range sets {
		for _, e := range set {
			k := entryKey{noradID: e.NORADID, epoch: e.Epoch.UTC()}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].NORADID != out[j].NORADID {
			return out[i].NORADID < out[j].NORADID
		}
		return out[i].Epoch.Before(out[j].Epoch)
	})
	return out
}

// Write emits entries in 3-line format.
func Write(w io.Writer, entries []TLEEntry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		if _, err := fmt.Fprintf(bw, "%s\n%s\n%s\n", e.Name, e.Line1, e.Line2); err != nil {
			return err
		}
	}
	return bw.Flush()
}
