package dupcache

import "testing"

func TestAddReportsNewness(t *testing.T) {
	c := New(2, nil)
	if !c.Add("a", 1) {
		t.Fatalf("first insert of a fresh key should report true")
	}
	if c.Add("a", 2) {
		t.Fatalf("re-adding an existing key should report false")
	}
	v, ok := c.Get("a")
	if !ok || v.(int) != 2 {
		t.Fatalf("Get(a) = %v, %v; want 2, true", v, ok)
	}
}

func TestEvictionCallbackFiresOnlyOnCapacityOverflow(t *testing.T) {
	var evicted []interface{}
	c := New(2, func(key interface{}) { evicted = append(evicted, key) })

	c.Add("a", 1)
	c.Add("b", 2)
	if len(evicted) != 0 {
		t.Fatalf("no eviction expected while under capacity, got %v", evicted)
	}

	c.Add("c", 3)
	if len(evicted) != 1 || evicted[0] != "a" {
		t.Fatalf("expected oldest key a evicted, got %v", evicted)
	}
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}

	c.Remove("b")
	if len(evicted) != 1 {
		t.Fatalf("explicit Remove must not invoke the eviction callback")
	}
}

func TestIsDuplicate(t *testing.T) {
	c := New(4, nil)
	if c.IsDuplicate("x") {
		t.Fatalf("empty cache should report no duplicates")
	}
	c.Add("x", nil)
	if !c.IsDuplicate("x") {
		t.Fatalf("previously added key should be reported as a duplicate")
	}
}
