// resolver.go detects and resolves conflicting concurrent writes.
//
// Two events conflict iff they touch the same target, come from
// different origins, and are causally concurrent — neither vector clock
// snapshot dominates the other. Resolution is last-write-wins with a
// deterministic tie-break, so every node that sees both events reaches
// the same verdict with no coordination. Resolution never errors and
// never blocks delivery; the record is an audit entry, win or lose.
package node

import (
	"causalmesh/pkg/model"
	"causalmesh/pkg/vclock"
)

// Conflicts reports whether the incumbent and challenger events are
// concurrent writes to the same target.
func Conflicts(incumbent, challenger *model.Event) bool {
	if incumbent == nil || challenger == nil {
		return false
	}
	if incumbent.TargetID != challenger.TargetID {
		return false
	}
	if incumbent.Origin == challenger.Origin {
		return false
	}
	return vclock.Compare(incumbent.Clock, challenger.Clock) == vclock.Concurrent
}

// Resolve picks the winner of a conflict: the event with the later
// logical timestamp, ties broken by lexicographically smaller origin.
// detectedAt is the receiver's logical time when the conflict surfaced.
func Resolve(detectedAt uint64, incumbent, challenger *model.Event) model.ConflictRecord {
	winner := challenger
	if lwwWins(incumbent, challenger) {
		winner = incumbent
	}
	return model.ConflictRecord{
		DetectedAt: detectedAt,
		Incumbent:  incumbent.Clone(),
		Challenger: challenger.Clone(),
		WinnerID:   winner.ID,
		Strategy:   model.StrategyLWW,
	}
}

// lwwWins reports whether a beats b under last-write-wins.
func lwwWins(a, b *model.Event) bool {
	if a.LogicalTime != b.LogicalTime {
		return a.LogicalTime > b.LogicalTime
	}
	return a.Origin < b.Origin
}
