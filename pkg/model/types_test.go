package model

import (
	"errors"
	"testing"
)

func TestNewEventAssignsUniqueIDs(t *testing.T) {
	clock := map[string]uint64{"n1": 1}
	a := NewEvent("n1", OpCreate, "doc1", nil, clock, 1)
	b := NewEvent("n1", OpCreate, "doc1", nil, clock, 1)
	if a.ID == "" || b.ID == "" {
		t.Fatal("expected non-empty event ids")
	}
	if a.ID == b.ID {
		t.Fatalf("expected distinct ids, both %q", a.ID)
	}
}

func TestValidateAcceptsWellFormedEvent(t *testing.T) {
	e := NewEvent("n1", OpUpdate, "doc1", Payload{F("k", String("v"))}, map[string]uint64{"n1": 2}, 2)
	if err := e.Validate(); err != nil {
		t.Fatalf("Validate: got %v, want nil", err)
	}
}

func TestValidateRejectsMalformedEvents(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Event)
	}{
		{"missing id", func(e *Event) { e.ID = "" }},
		{"missing origin", func(e *Event) { e.Origin = "" }},
		{"missing target", func(e *Event) { e.TargetID = "" }},
		{"unknown op", func(e *Event) { e.Op = Operation("merge") }},
		{"empty op", func(e *Event) { e.Op = "" }},
	}
	for _, tc := range cases {
		e := NewEvent("n1", OpCreate, "doc1", nil, map[string]uint64{"n1": 1}, 1)
		tc.mut(e)
		err := e.Validate()
		if err == nil {
			t.Fatalf("%s: got nil, want error", tc.name)
		}
		if !errors.Is(err, ErrInvalidEvent) {
			t.Fatalf("%s: got %v, want ErrInvalidEvent", tc.name, err)
		}
	}
}

func TestValidateNilEvent(t *testing.T) {
	var e *Event
	if err := e.Validate(); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("nil event: got %v, want ErrInvalidEvent", err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	e := NewEvent("n1", OpCreate, "doc1",
		Payload{F("content", String("Hello"))},
		map[string]uint64{"n1": 1}, 1)
	cp := e.Clone()

	cp.Clock["n1"] = 99
	cp.Payload[0].Val = String("mutated")

	if e.Clock["n1"] != 1 {
		t.Fatalf("clone shares clock map: got %d, want 1", e.Clock["n1"])
	}
	if v, _ := e.Payload.Get("content"); v != String("Hello") {
		t.Fatalf("clone shares payload: got %v, want Hello", v)
	}
}

func TestCloneNil(t *testing.T) {
	var e *Event
	if cp := e.Clone(); cp != nil {
		t.Fatalf("Clone of nil: got %v, want nil", cp)
	}
}
