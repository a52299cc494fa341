// Package fabric simulates an unreliable network between nodes.
//
// The fabric owns a table of point-to-point links keyed by unordered
// node pair and routes messages subject to each link's fault model:
// administrative disconnection, probabilistic packet loss, latency with
// jitter, and a per-sender bandwidth cap enforced as a token bucket
// over a trailing one-second window.
//
// The model is deliberately best-effort with no implicit reliability: a
// disconnected link drops immediately and buffers nothing, a lost
// message is simply lost, and nothing here retries or reorders. All
// durability and ordering guarantees belong to the sync layer above.
// The only promise the fabric makes is that a message that passes the
// fault model is handed to the receiver's handler, asynchronously,
// after the configured delay.
package fabric

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"causalmesh/pkg/model"
)

// Handler receives messages on behalf of a node. Called on a timer
// goroutine; implementations do their own locking.
type Handler func(msg *model.Message)

// Outcome classifies the synchronous result of Send.
type Outcome int

const (
	// Scheduled means the message passed the fault model and its
	// delivery timer is armed.
	Scheduled Outcome = iota
	// DroppedPermanent means the link is absent or disconnected. The
	// caller is responsible for requeueing; the link buffers nothing.
	DroppedPermanent
	// DroppedTransient means the message lost the packet-loss draw.
	DroppedTransient
	// Throttled means the sender is over the link's bandwidth cap; the
	// fabric holds the message and re-attempts scheduling once the
	// trailing window clears.
	Throttled
)

// String returns the outcome name for logs and test output.
func (o Outcome) String() string {
	switch o {
	case Scheduled:
		return "scheduled"
	case DroppedPermanent:
		return "dropped-permanent"
	case DroppedTransient:
		return "dropped-transient"
	case Throttled:
		return "throttled"
	}
	return "unknown"
}

// Fabric routes messages between registered nodes over simulated links.
type Fabric struct {
	mu       sync.Mutex
	links    map[pairKey]*link
	handlers map[string]Handler
	rng      *rand.Rand
	logger   *zap.Logger
}

// New returns a fabric whose random draws (packet loss, jitter) come
// from a generator seeded with seed, making fault sequences
// reproducible. A nil logger disables logging.
func New(seed int64, logger *zap.Logger) *Fabric {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fabric{
		links:    make(map[pairKey]*link),
		handlers: make(map[string]Handler),
		rng:      rand.New(rand.NewSource(seed)),
		logger:   logger,
	}
}

// Register installs the delivery handler for a node.
func (f *Fabric) Register(nodeID string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[nodeID] = h
}

// AddLink creates the link between a and b if it does not exist yet.
// New links start Connected with no faults.
func (f *Fabric) AddLink(a, b string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := keyFor(a, b)
	if _, ok := f.links[k]; !ok {
		f.links[k] = newLink()
	}
}

// SetLinkState changes a link's administrative state. Disconnecting
// cancels all pending (not yet fired) deliveries on the link;
// deliveries whose timers already fired still complete.
func (f *Fabric) SetLinkState(a, b string, state model.LinkState) {
	l := f.lookup(a, b)
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = state
	if state == model.LinkDisconnected {
		l.cancelPendingLocked()
	}
	f.logger.Debug("link state changed",
		zap.String("a", a), zap.String("b", b), zap.String("state", string(state)))
}

// LinkState returns the link's state; absent links count as
// disconnected.
func (f *Fabric) LinkState(a, b string) model.LinkState {
	l := f.lookup(a, b)
	if l == nil {
		return model.LinkDisconnected
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// SetFaults applies a partial fault update to a link. Unset fields keep
// their current values.
func (f *Fabric) SetFaults(a, b string, u FaultUpdate) {
	l := f.lookup(a, b)
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if u.PacketLoss != nil {
		l.faults.PacketLoss = *u.PacketLoss
	}
	if u.LatencyMs != nil {
		l.faults.LatencyMs = *u.LatencyMs
	}
	if u.JitterMs != nil {
		l.faults.JitterMs = *u.JitterMs
	}
	if u.BandwidthPerSec != nil {
		l.faults.BandwidthPerSec = *u.BandwidthPerSec
	}
}

// Faults returns a link's current fault parameters.
func (f *Fabric) Faults(a, b string) Faults {
	l := f.lookup(a, b)
	if l == nil {
		return Faults{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.faults
}

// Send routes msg from one node to another through their link's fault
// model. The pipeline, in order: link state, packet-loss draw,
// bandwidth cap, delivery scheduling. The loss draw happens at most
// once per Send — a throttled message that later clears the window is
// not re-exposed to loss.
func (f *Fabric) Send(from, to string, msg *model.Message) Outcome {
	l := f.lookup(from, to)
	if l == nil {
		f.logger.Debug("send on missing link",
			zap.String("from", from), zap.String("to", to))
		return DroppedPermanent
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != model.LinkConnected {
		f.logger.Debug("send on disconnected link",
			zap.String("from", from), zap.String("to", to), zap.String("msg", msg.ID))
		return DroppedPermanent
	}

	if loss := l.faults.PacketLoss; loss > 0 && f.draw() < loss {
		f.logger.Debug("message lost",
			zap.String("from", from), zap.String("to", to),
			zap.String("msg", msg.ID), zap.Uint32("retries", msg.Retries))
		return DroppedTransient
	}

	return f.scheduleLocked(l, from, to, msg)
}

// scheduleLocked arms either the delivery timer or, when the sender is
// over the bandwidth cap, a re-attempt timer for when the window
// clears. Caller holds l.mu.
func (f *Fabric) scheduleLocked(l *link, from, to string, msg *model.Message) Outcome {
	now := time.Now()
	if over, wait := l.overCapLocked(from, now); over {
		pd := &pendingDelivery{}
		pd.timer = time.AfterFunc(wait, func() { f.resume(l, pd, from, to, msg) })
		l.pending[pd] = struct{}{}
		f.logger.Debug("message throttled",
			zap.String("from", from), zap.String("to", to),
			zap.String("msg", msg.ID), zap.Duration("wait", wait))
		return Throttled
	}

	l.sent[from] = append(l.sent[from], now)
	delay := f.deliveryDelay(l.faults)
	pd := &pendingDelivery{}
	pd.timer = time.AfterFunc(delay, func() { f.deliver(l, pd, to, msg) })
	l.pending[pd] = struct{}{}
	return Scheduled
}

// resume re-enters scheduling for a throttled message. If the link was
// disconnected in the meantime the message is silently gone, same as
// any other pending delivery cancelled by a disconnect.
func (f *Fabric) resume(l *link, pd *pendingDelivery, from, to string, msg *model.Message) {
	l.mu.Lock()
	if _, ok := l.pending[pd]; !ok {
		l.mu.Unlock()
		return
	}
	delete(l.pending, pd)
	if l.state != model.LinkConnected {
		l.mu.Unlock()
		return
	}
	f.scheduleLocked(l, from, to, msg)
	l.mu.Unlock()
}

// deliver hands the message to the receiver's handler, unless the
// delivery was cancelled by a disconnect.
func (f *Fabric) deliver(l *link, pd *pendingDelivery, to string, msg *model.Message) {
	l.mu.Lock()
	if _, ok := l.pending[pd]; !ok {
		l.mu.Unlock()
		return
	}
	delete(l.pending, pd)
	l.mu.Unlock()

	f.mu.Lock()
	h := f.handlers[to]
	f.mu.Unlock()
	if h == nil {
		f.logger.Debug("no handler for receiver", zap.String("to", to))
		return
	}
	h(msg)
}

// deliveryDelay computes latency + uniform(-jitter, +jitter), clamped
// to >= 0.
func (f *Fabric) deliveryDelay(fl Faults) time.Duration {
	delayMs := int64(fl.LatencyMs)
	if fl.JitterMs > 0 {
		f.mu.Lock()
		j := f.rng.Int63n(2*int64(fl.JitterMs)+1) - int64(fl.JitterMs)
		f.mu.Unlock()
		delayMs += j
	}
	if delayMs < 0 {
		delayMs = 0
	}
	return time.Duration(delayMs) * time.Millisecond
}

// draw returns a uniform value in [0,1) from the seeded generator.
func (f *Fabric) draw() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rng.Float64()
}

// lookup returns the link for an endpoint pair, or nil.
func (f *Fabric) lookup(a, b string) *link {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.links[keyFor(a, b)]
}
