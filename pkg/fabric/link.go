// link.go holds the per-link state of the simulated network.
//
// A link joins an unordered node pair and applies the same fault
// parameters to traffic in either direction. Each link carries its own
// mutex: a send from A and a send from B touch the same loss and
// bandwidth state, so the packet-loss draw, the token-bucket window,
// and the pending-delivery set must stay consistent under concurrency.
package fabric

import (
	"sync"
	"time"

	"causalmesh/pkg/model"
)

// Faults are the fault-injection parameters of a link.
type Faults struct {
	// PacketLoss is the probability in [0,1] that a message is lost.
	PacketLoss float64
	// LatencyMs is the base one-way delivery delay.
	LatencyMs uint32
	// JitterMs bounds the uniform delay perturbation: the effective
	// delay is latency + uniform(-jitter, +jitter), clamped to >= 0.
	JitterMs uint32
	// BandwidthPerSec caps messages per sender in a trailing one-second
	// window. 0 means unlimited.
	BandwidthPerSec uint32
}

// FaultUpdate is a partial update of a link's fault parameters; nil
// fields keep their current value.
type FaultUpdate struct {
	PacketLoss      *float64
	LatencyMs       *uint32
	JitterMs        *uint32
	BandwidthPerSec *uint32
}

// pairKey identifies a link by its unordered endpoints.
type pairKey struct {
	a, b string
}

// keyFor normalizes an endpoint pair so (x,y) and (y,x) address the
// same link.
func keyFor(x, y string) pairKey {
	if x > y {
		x, y = y, x
	}
	return pairKey{a: x, b: y}
}

// pendingDelivery is a delivery (or throttle re-attempt) timer that has
// been armed but not yet fired. Disconnecting the link cancels every
// pending entry; a timer that fires after cancellation finds itself
// removed from the set and does nothing.
type pendingDelivery struct {
	timer *time.Timer
}

// link is one point-to-point channel. All fields are guarded by mu.
type link struct {
	mu      sync.Mutex
	state   model.LinkState
	faults  Faults
	sent    map[string][]time.Time // per-sender send times in the trailing window
	pending map[*pendingDelivery]struct{}
}

func newLink() *link {
	return &link{
		state:   model.LinkConnected,
		sent:    make(map[string][]time.Time),
		pending: make(map[*pendingDelivery]struct{}),
	}
}

// overCapLocked prunes sender's trailing window and reports whether a
// send right now would exceed the bandwidth cap. When over cap it also
// returns how long until the window clears.
func (l *link) overCapLocked(sender string, now time.Time) (bool, time.Duration) {
	cap := l.faults.BandwidthPerSec
	if cap == 0 {
		return false, 0
	}
	cutoff := now.Add(-time.Second)
	window := l.sent[sender]
	for len(window) > 0 && !window[0].After(cutoff) {
		window = window[1:]
	}
	l.sent[sender] = window
	if uint32(len(window)) < cap {
		return false, 0
	}
	return true, window[0].Add(time.Second).Sub(now)
}

// cancelPendingLocked stops and forgets every pending delivery.
// Deliveries whose timers already fired are past the pending set and
// complete normally.
func (l *link) cancelPendingLocked() {
	for pd := range l.pending {
		pd.timer.Stop()
		delete(l.pending, pd)
	}
}
