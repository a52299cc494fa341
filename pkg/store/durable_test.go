package store

import (
	"errors"
	"path/filepath"
	"testing"

	"causalmesh/pkg/model"
)

func openTestLog(t *testing.T) *DurableLog {
	t.Helper()
	d, err := OpenDurable(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("OpenDurable: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestAppendAndLoadHistoryRoundTrip(t *testing.T) {
	d := openTestLog(t)

	e := model.NewEvent("n1", model.OpCreate, "doc1",
		model.Payload{
			model.F("content", model.String("Hello")),
			model.F("rev", model.Number(1)),
		},
		map[string]uint64{"n1": 1}, 1)
	if err := d.Append("n1", e); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := d.LoadHistory("n1")
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].ID != e.ID || got[0].Origin != "n1" || got[0].Op != model.OpCreate {
		t.Fatalf("event mismatch: got %+v", got[0])
	}
	if got[0].Clock["n1"] != 1 || got[0].LogicalTime != 1 {
		t.Fatalf("clock mismatch: got %v lt=%d", got[0].Clock, got[0].LogicalTime)
	}
	if v, _ := got[0].Payload.Get("content"); v != model.String("Hello") {
		t.Fatalf("payload content: got %v, want Hello", v)
	}
}

func TestAppendIsIdempotentPerNode(t *testing.T) {
	d := openTestLog(t)
	e := model.NewEvent("n1", model.OpCreate, "doc1", nil, map[string]uint64{"n1": 1}, 1)

	for i := 0; i < 3; i++ {
		if err := d.Append("n1", e); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if got := d.CountEvents("n1"); got != 1 {
		t.Fatalf("count after replayed appends: got %d, want 1", got)
	}

	// The same event held by a different node is a separate history row.
	if err := d.Append("n2", e); err != nil {
		t.Fatalf("Append to n2: %v", err)
	}
	if got := d.CountEvents("n2"); got != 1 {
		t.Fatalf("n2 count: got %d, want 1", got)
	}
}

func TestLoadHistoryPreservesAppendOrder(t *testing.T) {
	d := openTestLog(t)
	var ids []string
	for i := 1; i <= 5; i++ {
		e := model.NewEvent("n1", model.OpUpdate, "doc1", nil,
			map[string]uint64{"n1": uint64(i)}, uint64(i))
		ids = append(ids, e.ID)
		if err := d.Append("n1", e); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	got, err := d.LoadHistory("n1")
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	for i, e := range got {
		if e.ID != ids[i] {
			t.Fatalf("position %d: got %s, want %s", i, e.ID, ids[i])
		}
	}
}

func TestAppendRejectsInvalidEvent(t *testing.T) {
	d := openTestLog(t)
	e := model.NewEvent("n1", model.OpCreate, "doc1", nil, map[string]uint64{"n1": 1}, 1)
	e.TargetID = ""
	err := d.Append("n1", e)
	if !errors.Is(err, model.ErrInvalidEvent) {
		t.Fatalf("Append invalid: got %v, want ErrInvalidEvent", err)
	}
	if got := d.CountEvents("n1"); got != 0 {
		t.Fatalf("count after rejected append: got %d, want 0", got)
	}
}

func TestLoadHistoryEmptyNode(t *testing.T) {
	d := openTestLog(t)
	got, err := d.LoadHistory("ghost")
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d events, want 0", len(got))
	}
}

func TestListNodes(t *testing.T) {
	d := openTestLog(t)
	for _, n := range []string{"n2", "n1", "n2"} {
		e := model.NewEvent(n, model.OpCreate, "doc-"+n, nil, map[string]uint64{n: 1}, 1)
		if err := d.Append(n, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	nodes, err := d.ListNodes()
	if err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	if len(nodes) != 2 || nodes[0] != "n1" || nodes[1] != "n2" {
		t.Fatalf("ListNodes: got %v, want [n1 n2]", nodes)
	}
}
