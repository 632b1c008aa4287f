package rangemap

import "testing"

func TestPutAndLookup(t *testing.T) {
	m := New()
	m.Put(Entry{Start: 1, End: 5, Value: "a"})
	m.Put(Entry{Start: 10, End: 20, Value: "b"})

	e, ok := m.Lookup(3)
	if !ok || e.Value != "a" {
		t.Fatalf("Lookup(3) = %v, %v", e, ok)
	}
	e, ok = m.Lookup(15)
	if !ok || e.Value != "b" {
		t.Fatalf("Lookup(15) = %v, %v", e, ok)
	}
	if _, ok := m.Lookup(7); ok {
		t.Fatalf("Lookup(7) should miss the gap between entries")
	}
}

func TestPutReplacesOverlap(t *testing.T) {
	m := New()
	m.Put(Entry{Start: 1, End: 10, Value: "old"})
	m.Put(Entry{Start: 5, End: 15, Value: "new"})

	entries := m.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected overlap to replace, got %d entries", len(entries))
	}
	if entries[0].Start != 5 || entries[0].End != 15 || entries[0].Value != "new" {
		t.Fatalf("unexpected surviving entry %+v", entries[0])
	}
}

func TestGapsOnEmptyMap(t *testing.T) {
	m := New()
	gaps := m.Gaps(1, 0xffff)
	if len(gaps) != 1 || gaps[0].Start != 1 || gaps[0].End != 0xffff {
		t.Fatalf("expected one full gap, got %+v", gaps)
	}
}

func TestGapsAroundEntries(t *testing.T) {
	m := New()
	m.Put(Entry{Start: 10, End: 20, Value: "svc"})
	gaps := m.Gaps(1, 30)
	if len(gaps) != 2 {
		t.Fatalf("expected two gaps flanking the entry, got %+v", gaps)
	}
	if gaps[0].Start != 1 || gaps[0].End != 9 {
		t.Fatalf("unexpected leading gap %+v", gaps[0])
	}
	if gaps[1].Start != 21 || gaps[1].End != 30 {
		t.Fatalf("unexpected trailing gap %+v", gaps[1])
	}
}

func TestFullyCovers(t *testing.T) {
	m := New()
	if m.FullyCovers(1, 0xffff) {
		t.Fatalf("empty map must not fully cover any range")
	}
	m.Put(Entry{Start: 1, End: 0xffff, Value: nil})
	if !m.FullyCovers(1, 0xffff) {
		t.Fatalf("a single spanning entry (even a verified-gap nil) should fully cover")
	}
}

func TestRemoveOverlappingReturnsEvicted(t *testing.T) {
	m := New()
	m.Put(Entry{Start: 1, End: 5, Value: "a"})
	m.Put(Entry{Start: 100, End: 105, Value: "b"})

	evicted := m.RemoveOverlapping(1, 5)
	if len(evicted) != 1 || evicted[0].Value != "a" {
		t.Fatalf("expected eviction of entry a, got %+v", evicted)
	}
	if _, ok := m.Lookup(3); ok {
		t.Fatalf("entry a should be gone")
	}
	if _, ok := m.Lookup(102); !ok {
		t.Fatalf("entry b should be untouched")
	}
}
