package node

import (
	"testing"

	"causalmesh/pkg/model"
)

func stampedEvent(origin, target string, clock map[string]uint64, lt uint64) *model.Event {
	return model.NewEvent(origin, model.OpUpdate, target,
		model.Payload{model.F("v", model.String(origin))}, clock, lt)
}

func TestConflictsRequiresConcurrency(t *testing.T) {
	a := stampedEvent("a", "doc", map[string]uint64{"a": 1}, 1)
	b := stampedEvent("b", "doc", map[string]uint64{"b": 1}, 1)
	if !Conflicts(a, b) {
		t.Fatal("independent writes to the same target should conflict")
	}

	// b causally follows a: no conflict.
	after := stampedEvent("b", "doc", map[string]uint64{"a": 1, "b": 1}, 1)
	if Conflicts(a, after) {
		t.Fatal("causally ordered writes should not conflict")
	}
}

func TestConflictsIgnoresOtherTargets(t *testing.T) {
	a := stampedEvent("a", "doc-1", map[string]uint64{"a": 1}, 1)
	b := stampedEvent("b", "doc-2", map[string]uint64{"b": 1}, 1)
	if Conflicts(a, b) {
		t.Fatal("writes to different targets should not conflict")
	}
}

func TestConflictsNilIncumbent(t *testing.T) {
	b := stampedEvent("b", "doc", map[string]uint64{"b": 1}, 1)
	if Conflicts(nil, b) {
		t.Fatal("no incumbent means no conflict")
	}
}

func TestConflictsSameOrigin(t *testing.T) {
	a1 := stampedEvent("a", "doc", map[string]uint64{"a": 1}, 1)
	a2 := stampedEvent("a", "doc", map[string]uint64{"a": 2}, 2)
	if Conflicts(a1, a2) {
		t.Fatal("writes from the same origin are totally ordered")
	}
}

func TestResolveLaterLogicalTimeWins(t *testing.T) {
	older := stampedEvent("a", "doc", map[string]uint64{"a": 1}, 1)
	newer := stampedEvent("b", "doc", map[string]uint64{"b": 5}, 5)

	rec := Resolve(7, older, newer)
	if rec.WinnerID != newer.ID {
		t.Fatalf("winner = %s, want %s", rec.WinnerID, newer.ID)
	}
	if rec.Strategy != model.StrategyLWW {
		t.Fatalf("strategy = %s, want %s", rec.Strategy, model.StrategyLWW)
	}
	if rec.DetectedAt != 7 {
		t.Fatalf("detectedAt = %d, want 7", rec.DetectedAt)
	}

	// Argument order must not change the outcome.
	flipped := Resolve(7, newer, older)
	if flipped.WinnerID != rec.WinnerID {
		t.Fatal("resolution depends on argument order")
	}
}

func TestResolveTieBreaksOnOrigin(t *testing.T) {
	fromA := stampedEvent("node-a", "doc", map[string]uint64{"node-a": 3}, 3)
	fromB := stampedEvent("node-b", "doc", map[string]uint64{"node-b": 3}, 3)

	rec := Resolve(4, fromB, fromA)
	if rec.WinnerID != fromA.ID {
		t.Fatalf("tie should go to the smaller origin id, got winner from %s", rec.Challenger.Origin)
	}
}

func TestResolveClonesEvents(t *testing.T) {
	a := stampedEvent("a", "doc", map[string]uint64{"a": 1}, 1)
	b := stampedEvent("b", "doc", map[string]uint64{"b": 2}, 2)

	rec := Resolve(3, a, b)
	rec.Incumbent.Clock["a"] = 99
	if a.Clock["a"] != 1 {
		t.Fatal("record shares clock storage with the live event")
	}
}
