// Package vclock implements a vector logical clock.
//
// From Fidge and Mattern (1988), each node keeps a counter per known
// node. Two rules govern the clock:
//
//	Local event: before creating an event, increment your own entry.
//	Message receipt: merge the sender's snapshot by taking the
//	     elementwise maximum, never decreasing any entry.
//
// Unlike a scalar Lamport clock, comparing two snapshots recovers the
// causal relation between the events that produced them: one snapshot
// dominates the other (happened-before), or neither does (concurrent).
//
// Note: Clock is not goroutine-safe. Each Clock is owned exclusively by
// one node and mutated only on that node's thread of control; cross-node
// interaction happens through snapshots carried on messages.
package vclock

// Ordering is the result of comparing two clock snapshots.
type Ordering int

const (
	// Before means the first snapshot happened-before the second.
	Before Ordering = iota
	// After means the second snapshot happened-before the first.
	After
	// Concurrent means neither snapshot dominates the other.
	Concurrent
	// Equal means the snapshots are identical.
	Equal
)

// String returns the ordering name for logs and test output.
func (o Ordering) String() string {
	switch o {
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	case Equal:
		return "equal"
	}
	return "unknown"
}

// Clock is a vector logical clock keyed by node id.
// Not goroutine-safe; see package doc.
type Clock struct {
	values map[string]uint64
}

// New returns an empty clock (all entries implicitly zero).
func New() *Clock {
	return &Clock{values: make(map[string]uint64)}
}

// Tick increments the entry for self and returns the new counter.
// Called once per locally-created event.
func (c *Clock) Tick(self string) uint64 {
	if c.values == nil {
		c.values = make(map[string]uint64)
	}
	c.values[self]++
	return c.values[self]
}

// Merge folds a remote snapshot into the clock by elementwise maximum.
// Idempotent and commutative; safe to call with duplicate or
// out-of-order snapshots. No entry ever decreases.
func (c *Clock) Merge(remote map[string]uint64) {
	if c.values == nil {
		c.values = make(map[string]uint64)
	}
	for id, v := range remote {
		if v > c.values[id] {
			c.values[id] = v
		}
	}
}

// Value returns the counter for id without advancing it (0 if unseen).
func (c *Clock) Value(id string) uint64 {
	return c.values[id]
}

// Snapshot returns a copy of the clock's current state, suitable for
// stamping onto an immutable event.
func (c *Clock) Snapshot() map[string]uint64 {
	snap := make(map[string]uint64, len(c.values))
	for id, v := range c.values {
		snap[id] = v
	}
	return snap
}

// Compare determines the causal relation between two snapshots.
// a is Before b iff a[k] <= b[k] for every k and a[k] < b[k] for some k;
// the symmetric case is After. If each side exceeds the other somewhere,
// the snapshots are Concurrent. Missing entries count as zero.
func Compare(a, b map[string]uint64) Ordering {
	aAhead := false
	bAhead := false
	for id, av := range a {
		bv := b[id]
		if av > bv {
			aAhead = true
		} else if av < bv {
			bAhead = true
		}
	}
	for id, bv := range b {
		if _, seen := a[id]; seen {
			continue
		}
		if bv > 0 {
			bAhead = true
		}
	}
	switch {
	case aAhead && bAhead:
		return Concurrent
	case aAhead:
		return After
	case bAhead:
		return Before
	}
	return Equal
}
