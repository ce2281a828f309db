package ephstore

import (
	"time"

	"github.com/google/btree"

	"github.com/star/gnsseph/internal/orbit"
)

// btreeDegree is the B-tree fan-out. Tables hold at most a few hundred
// records per satellite so the value barely matters.
const btreeDegree = 16

// entry is one slot of an index: a key time and the record it owns.
type entry struct {
	key time.Time
	rec orbit.Record
}

// index is the ordered time-key -> record map kept per satellite.
// Keys are unique and ascending. Removing an entry drops the only
// reference the store holds to its record.
type index struct {
	tree *btree.BTreeG[entry]
}

func newIndex() *index {
	return &index{
		tree: btree.NewG(btreeDegree, func(a, b entry) bool {
			return a.key.Before(b.key)
		}),
	}
}

func (x *index) Len() int {
	return x.tree.Len()
}

// Get returns the entry stored at exactly key.
func (x *index) Get(key time.Time) (entry, bool) {
	return x.tree.Get(entry{key: key})
}

// Put stores rec at key, replacing any entry already there.
func (x *index) Put(key time.Time, rec orbit.Record) {
	x.tree.ReplaceOrInsert(entry{key: key, rec: rec})
}

func (x *index) Delete(key time.Time) {
	x.tree.Delete(entry{key: key})
}

// LowerBound returns the first entry whose key is >= key.
func (x *index) LowerBound(key time.Time) (entry, bool) {
	var (
		found entry
		ok    bool
	)
	x.tree.AscendGreaterOrEqual(entry{key: key}, func(e entry) bool {
		found, ok = e, true
		return false
	})
	return found, ok
}

// Prev returns the last entry whose key is strictly less than key.
func (x *index) Prev(key time.Time) (entry, bool) {
	var (
		found entry
		ok    bool
	)
	x.tree.DescendLessOrEqual(entry{key: key}, func(e entry) bool {
		if e.key.Equal(key) {
			return true
		}
		found, ok = e, true
		return false
	})
	return found, ok
}

func (x *index) First() (entry, bool) {
	return x.tree.Min()
}

func (x *index) Last() (entry, bool) {
	return x.tree.Max()
}

// Ascend calls fn for every entry in key order until fn returns false.
func (x *index) Ascend(fn func(e entry) bool) {
	x.tree.Ascend(fn)
}

// DeleteBefore removes every entry with key < t and returns how many went.
func (x *index) DeleteBefore(t time.Time) int {
	var keys []time.Time
	x.tree.AscendLessThan(entry{key: t}, func(e entry) bool {
		keys = append(keys, e.key)
		return true
	})
	for _, k := range keys {
		x.Delete(k)
	}
	return len(keys)
}

// DeleteAfter removes every entry with key > t and returns how many went.
func (x *index) DeleteAfter(t time.Time) int {
	var keys []time.Time
	x.tree.Descend(func(e entry) bool {
		if !e.key.After(t) {
			return false
		}
		keys = append(keys, e.key)
		return true
	})
	for _, k := range keys {
		x.Delete(k)
	}
	return len(keys)
}

// span returns the earliest BeginValid and latest EndValid in the index.
// An empty index reports the empty-span sentinels.
func (x *index) span() (time.Time, time.Time) {
	begin, end := emptySpan()
	x.tree.Ascend(func(e entry) bool {
		if b := e.rec.BeginValid(); b.Before(begin) {
			begin = b
		}
		if f := e.rec.EndValid(); f.After(end) {
			end = f
		}
		return true
	})
	return begin, end
}
