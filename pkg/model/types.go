// Package model defines the core domain types for causalmesh.
//
// Causalmesh synchronizes append-only event logs across nodes joined by
// an unreliable network. Two ideas carry the design:
//
//   - Vector clocks (Fidge/Mattern 1988): every event is stamped with a
//     snapshot of its origin's vector clock. Comparing snapshots recovers
//     the causal relation between events regardless of delivery order.
//
//   - Last-write-wins resolution: when two causally-concurrent events
//     touch the same target, the later logical timestamp wins, with ties
//     broken by origin id. Every participant reaches the same verdict
//     with no coordination.
package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Operation enumerates the kinds of local operations a node can perform.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// ErrInvalidEvent marks a malformed local operation request. It is
// returned synchronously before any state mutation; nothing is appended
// or broadcast for an invalid event.
var ErrInvalidEvent = errors.New("invalid event")

// Event is a single entry in a node's append-only history. Immutable
// once created: the clock snapshot is the origin's vector clock after
// the tick that produced the event, and Clock[Origin] == LogicalTime.
type Event struct {
	ID          string            `json:"id"`
	Origin      string            `json:"origin"`
	Op          Operation         `json:"op"`
	TargetID    string            `json:"target_id"`
	Payload     Payload           `json:"payload,omitempty"`
	Clock       map[string]uint64 `json:"clock"`
	LogicalTime uint64            `json:"logical_time"`
	CreatedAt   time.Time         `json:"created_at"`
}

// NewEvent assembles a stamped event with a fresh globally-unique id.
// clock must be the origin's snapshot taken after ticking for this event.
func NewEvent(origin string, op Operation, targetID string, payload Payload, clock map[string]uint64, logicalTime uint64) *Event {
	return &Event{
		ID:          uuid.NewString(),
		Origin:      origin,
		Op:          op,
		TargetID:    targetID,
		Payload:     payload,
		Clock:       clock,
		LogicalTime: logicalTime,
		CreatedAt:   time.Now().UTC(),
	}
}

// Validate rejects malformed events before they touch any state.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.Origin == "" {
		return fmt.Errorf("%w: missing origin", ErrInvalidEvent)
	}
	if !e.Op.Valid() {
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidEvent, e.Op)
	}
	if e.TargetID == "" {
		return fmt.Errorf("%w: missing target id", ErrInvalidEvent)
	}
	return nil
}

// Clone returns a deep copy. Handing out copies keeps stored events
// immutable even if a caller mutates the result.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Clock = make(map[string]uint64, len(e.Clock))
	for id, v := range e.Clock {
		cp.Clock[id] = v
	}
	cp.Payload = e.Payload.Clone()
	return &cp
}

// MessageKind distinguishes event carriers from delivery acknowledgements.
type MessageKind string

const (
	KindEvent MessageKind = "event"
	KindAck   MessageKind = "ack"
)

// Message is the unit of traffic between two nodes. Seq is
// strictly increasing per ordered (From, To) pair; a receiver drops any
// event message whose sequence number is at or below the last one seen
// from that sender.
type Message struct {
	ID      string      `json:"id"`
	From    string      `json:"from"`
	To      string      `json:"to"`
	Kind    MessageKind `json:"kind"`
	Event   *Event      `json:"event,omitempty"`
	Seq     uint64      `json:"seq"`
	SentAt  uint64      `json:"sent_at"` // sender's logical time at send
	Retries uint32      `json:"retries"`
}

// NewMessageID returns a fresh message id.
func NewMessageID() string { return uuid.NewString() }

// LinkState is the administrative state of a point-to-point link.
type LinkState string

const (
	LinkConnected    LinkState = "connected"
	LinkDisconnected LinkState = "disconnected"
)

// StrategyLWW names the only resolution strategy implemented.
const StrategyLWW = "last-write-wins"

// ConflictRecord is one entry in a node's append-only conflict log,
// written whenever a delivered event is causally concurrent with the
// incumbent event for the same target. Recorded win or lose; never
// mutated after creation.
type ConflictRecord struct {
	DetectedAt uint64 `json:"detected_at"` // receiver's logical time
	Incumbent  *Event `json:"incumbent"`
	Challenger *Event `json:"challenger"`
	WinnerID   string `json:"winner_id"`
	Strategy   string `json:"strategy"`
}
