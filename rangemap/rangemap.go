// Package rangemap implements an ordered, non-overlapping interval
// container keyed by [start,end] handle ranges, backed by a B-tree
// (github.com/google/btree) rather than the linear scan the GATT client cache
// would otherwise need for tracking discovered service ranges.
package rangemap

import "github.com/google/btree"

// Entry is one interval stored in a Map: [Start,End] inclusive,
// carrying an opaque Value. A nil Value denotes a verified gap (no
// service/characteristic exists in this range), distinct from the
// range simply never having been queried.
type Entry struct {
	Start, End uint16
	Value      interface{}
}

func (e *Entry) overlaps(start, end uint16) bool { return e.Start <= end && start <= e.End }

type item struct{ e *Entry }

func (a item) Less(b btree.Item) bool { return a.e.Start < b.(item).e.Start }

// Map is a non-overlapping, start-ordered collection of Entry. The
// zero value is not ready to use; call New.
type Map struct {
	tree *btree.BTree
}

// New returns an empty Map.
func New() *Map { return &Map{tree: btree.New(32)} }

// Put inserts e, removing whole any existing entries it overlaps
// (they are not split). Callers are expected to have already resolved overlaps
// logically (e.g. by calling RemoveOverlapping first) when that
// matters; Put itself only guarantees the tree stays well-formed.
func (m *Map) Put(e Entry) {
	m.RemoveOverlapping(e.Start, e.End)
	m.tree.ReplaceOrInsert(item{&e})
}

// RemoveOverlapping deletes every entry overlapping [start,end] and
// returns them, ascending by Start.
func (m *Map) RemoveOverlapping(start, end uint16) []Entry {
	var hit []*Entry
	m.tree.Ascend(func(bi btree.Item) bool {
		e := bi.(item).e
		if e.overlaps(start, end) {
			hit = append(hit, e)
		}
		return e.Start <= end
	})
	out := make([]Entry, len(hit))
	for i, e := range hit {
		m.tree.Delete(item{e})
		out[i] = *e
	}
	return out
}

// Lookup returns the entry containing handle, if any.
func (m *Map) Lookup(handle uint16) (Entry, bool) {
	var found *Entry
	m.tree.Ascend(func(bi btree.Item) bool {
		e := bi.(item).e
		if e.Start <= handle && handle <= e.End {
			found = e
			return false
		}
		return e.Start <= handle
	})
	if found == nil {
		return Entry{}, false
	}
	return *found, true
}

// Entries returns every stored entry, ascending by Start.
func (m *Map) Entries() []Entry {
	var out []Entry
	m.tree.Ascend(func(bi btree.Item) bool {
		out = append(out, *bi.(item).e)
		return true
	})
	return out
}

// Gaps returns the subranges of [start,end] not covered by any
// stored entry, ascending. Used by discovery to compute the ranges
// still needing a query.
func (m *Map) Gaps(start, end uint16) []Entry {
	var gaps []Entry
	cursor := start
	covered := false // an entry reaching 0xffff covers the rest
	m.tree.Ascend(func(bi btree.Item) bool {
		e := bi.(item).e
		if e.Start > end {
			return false
		}
		if e.End < start {
			return true
		}
		if e.Start > cursor {
			gaps = append(gaps, Entry{Start: cursor, End: e.Start - 1})
		}
		if e.End >= cursor {
			if e.End == 0xffff {
				covered = true
				return false
			}
			cursor = e.End + 1
		}
		return cursor <= end
	})
	if !covered && cursor <= end {
		gaps = append(gaps, Entry{Start: cursor, End: end})
	}
	return gaps
}

// FullyCovers reports whether every handle in [start,end] is backed
// by a stored entry, with no gaps.
func (m *Map) FullyCovers(start, end uint16) bool {
	return len(m.Gaps(start, end)) == 0
}

// Clear removes every entry.
func (m *Map) Clear() { m.tree = btree.New(32) }
