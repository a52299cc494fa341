package vclock

import "testing"

func TestTickMonotonicallyIncreases(t *testing.T) {
	c := New()
	var prev uint64
	for i := 0; i < 100; i++ {
		v := c.Tick("a")
		if v <= prev {
			t.Fatalf("Tick %d: got %d, want > %d", i, v, prev)
		}
		prev = v
	}
}

func TestTickStartsFromZero(t *testing.T) {
	c := New()
	if v := c.Value("a"); v != 0 {
		t.Fatalf("new clock: got %d, want 0", v)
	}
	if v := c.Tick("a"); v != 1 {
		t.Fatalf("first Tick: got %d, want 1", v)
	}
}

func TestTickIsPerNode(t *testing.T) {
	c := New()
	c.Tick("a")
	c.Tick("a")
	c.Tick("b")
	if v := c.Value("a"); v != 2 {
		t.Fatalf("a: got %d, want 2", v)
	}
	if v := c.Value("b"); v != 1 {
		t.Fatalf("b: got %d, want 1", v)
	}
}

func TestMergeTakesElementwiseMax(t *testing.T) {
	c := New()
	c.Tick("a") // a=1
	c.Merge(map[string]uint64{"a": 3, "b": 2})
	if v := c.Value("a"); v != 3 {
		t.Fatalf("a after merge: got %d, want 3", v)
	}
	if v := c.Value("b"); v != 2 {
		t.Fatalf("b after merge: got %d, want 2", v)
	}
}

func TestMergeNeverDecreases(t *testing.T) {
	c := New()
	c.Merge(map[string]uint64{"a": 5})
	c.Merge(map[string]uint64{"a": 2}) // stale snapshot
	if v := c.Value("a"); v != 5 {
		t.Fatalf("a after stale merge: got %d, want 5", v)
	}
}

func TestMergeIdempotent(t *testing.T) {
	c := New()
	snap := map[string]uint64{"a": 4, "b": 7}
	c.Merge(snap)
	c.Merge(snap)
	c.Merge(snap)
	if v := c.Value("a"); v != 4 {
		t.Fatalf("a: got %d, want 4", v)
	}
	if v := c.Value("b"); v != 7 {
		t.Fatalf("b: got %d, want 7", v)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	c := New()
	c.Tick("a")
	snap := c.Snapshot()
	c.Tick("a")
	if snap["a"] != 1 {
		t.Fatalf("snapshot mutated by later Tick: got %d, want 1", snap["a"])
	}
}

func TestCompareBeforeAfter(t *testing.T) {
	a := map[string]uint64{"n1": 1}
	b := map[string]uint64{"n1": 2}
	if got := Compare(a, b); got != Before {
		t.Fatalf("Compare(a,b): got %v, want before", got)
	}
	if got := Compare(b, a); got != After {
		t.Fatalf("Compare(b,a): got %v, want after", got)
	}
}

func TestCompareDominanceAcrossKeys(t *testing.T) {
	a := map[string]uint64{"n1": 1, "n2": 2}
	b := map[string]uint64{"n1": 1, "n2": 3}
	if got := Compare(a, b); got != Before {
		t.Fatalf("Compare: got %v, want before", got)
	}
}

func TestCompareConcurrent(t *testing.T) {
	a := map[string]uint64{"n1": 2, "n2": 1}
	b := map[string]uint64{"n1": 1, "n2": 2}
	if got := Compare(a, b); got != Concurrent {
		t.Fatalf("Compare: got %v, want concurrent", got)
	}
}

func TestCompareEqual(t *testing.T) {
	a := map[string]uint64{"n1": 3, "n2": 1}
	b := map[string]uint64{"n1": 3, "n2": 1}
	if got := Compare(a, b); got != Equal {
		t.Fatalf("Compare: got %v, want equal", got)
	}
}

func TestCompareMissingEntriesAreZero(t *testing.T) {
	a := map[string]uint64{"n1": 1}
	b := map[string]uint64{"n1": 1, "n2": 0}
	if got := Compare(a, b); got != Equal {
		t.Fatalf("explicit zero vs missing: got %v, want equal", got)
	}
	c := map[string]uint64{"n1": 1, "n2": 1}
	if got := Compare(a, c); got != Before {
		t.Fatalf("missing vs present: got %v, want before", got)
	}
}

func TestCompareEmptySnapshots(t *testing.T) {
	if got := Compare(nil, nil); got != Equal {
		t.Fatalf("Compare(nil,nil): got %v, want equal", got)
	}
	if got := Compare(nil, map[string]uint64{"a": 1}); got != Before {
		t.Fatalf("Compare(nil,{a:1}): got %v, want before", got)
	}
}
