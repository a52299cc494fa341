// Package node implements the per-node sync coordinator.
//
// Each node is an independent actor: one mutex guards its vector clock,
// history, projection, and queues, and cross-node interaction happens
// only through messages routed by the fabric — no node ever reads
// another node's in-memory state.
//
// The coordinator turns local operations into stamped events, broadcasts
// them to every known peer, queues outbound traffic while a peer link is
// down, deduplicates inbound traffic by sequence number and event id,
// and resolves concurrent writes on delivery. The fabric below is
// best-effort; every durability and ordering guarantee lives here.
package node

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"causalmesh/pkg/fabric"
	"causalmesh/pkg/model"
	"causalmesh/pkg/store"
	"causalmesh/pkg/vclock"
)

// SyncState is the coordinator's connection state. Syncing is the
// transient sub-state entered on reconnect and left once the reconnected
// peer's outbound queue has drained.
type SyncState string

const (
	StateConnected    SyncState = "connected"
	StateDisconnected SyncState = "disconnected"
	StateSyncing      SyncState = "syncing"
)

// Config tunes a coordinator. Zero values select the defaults.
type Config struct {
	// RetryMax bounds resend attempts after a transient drop.
	RetryMax int
	// RetryBase is the first backoff delay; attempt n waits
	// RetryBase * 2^n.
	RetryBase time.Duration
	// Durable, when set, receives every appended event and enables
	// RecoverFromLog.
	Durable store.HistoryLog
	// Logger defaults to a nop logger.
	Logger *zap.Logger
}

const (
	defaultRetryMax  = 3
	defaultRetryBase = 10 * time.Millisecond
)

// Coordinator drives synchronization for one node.
type Coordinator struct {
	id        string
	fab       *fabric.Fabric
	logger    *zap.Logger
	durable   store.HistoryLog
	retryMax  int
	retryBase time.Duration

	mu        sync.Mutex
	clock     *vclock.Clock
	history   *store.EventStore
	conflicts []model.ConflictRecord
	current   map[string]*model.Event // materialized winner per target
	peers     []string
	peerUp    map[string]bool
	outbound  map[string][]*model.Message
	nextSeq   map[string]uint64
	lastSeq   map[string]uint64
	acked     map[string]uint64
	syncing   bool
	subs      map[int]chan *model.Event
	nextSub   int
}

// New creates a coordinator with a zeroed clock and registers its
// delivery handler with the fabric. peers lists every other node this
// one syncs with; peer links start out assumed up.
func New(id string, peers []string, fab *fabric.Fabric, cfg Config) *Coordinator {
	if cfg.RetryMax == 0 {
		cfg.RetryMax = defaultRetryMax
	}
	if cfg.RetryBase == 0 {
		cfg.RetryBase = defaultRetryBase
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	c := &Coordinator{
		id:        id,
		fab:       fab,
		logger:    cfg.Logger.With(zap.String("node", id)),
		durable:   cfg.Durable,
		retryMax:  cfg.RetryMax,
		retryBase: cfg.RetryBase,
		clock:     vclock.New(),
		history:   store.NewEventStore(),
		current:   make(map[string]*model.Event),
		peers:     append([]string(nil), peers...),
		peerUp:    make(map[string]bool),
		outbound:  make(map[string][]*model.Message),
		nextSeq:   make(map[string]uint64),
		lastSeq:   make(map[string]uint64),
		acked:     make(map[string]uint64),
		subs:      make(map[int]chan *model.Event),
	}
	for _, p := range peers {
		c.peerUp[p] = true
	}
	fab.Register(id, c.OnMessage)
	return c
}

// ID returns the node id.
func (c *Coordinator) ID() string { return c.id }

// Execute performs a local operation: validate, tick the clock, stamp
// an event, append it locally, then broadcast to every peer — sending
// immediately where the peer link is up, queueing where it is down.
// The local append happens regardless of connectivity; a malformed
// request is rejected before any state mutation.
func (c *Coordinator) Execute(op model.Operation, targetID string, payload model.Payload) (*model.Event, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("%w: unknown operation %q", model.ErrInvalidEvent, op)
	}
	if targetID == "" {
		return nil, fmt.Errorf("%w: missing target id", model.ErrInvalidEvent)
	}

	c.mu.Lock()
	lt := c.clock.Tick(c.id)
	e := model.NewEvent(c.id, op, targetID, payload.Clone(), c.clock.Snapshot(), lt)
	c.appendLocked(e)
	// A local event causally follows everything applied so far, so it
	// is always the new current value for its target.
	c.current[e.TargetID] = e
	c.notifyLocked(e)

	for _, peer := range c.peers {
		msg := &model.Message{
			ID:     model.NewMessageID(),
			From:   c.id,
			To:     peer,
			Kind:   model.KindEvent,
			Event:  e.Clone(),
			SentAt: lt,
		}
		if c.peerUp[peer] {
			c.sendLocked(peer, msg)
		} else {
			c.outbound[peer] = append(c.outbound[peer], msg)
		}
	}
	c.mu.Unlock()

	return e.Clone(), nil
}

// sendLocked stamps the next per-peer sequence number and pushes the
// message into the fabric, arming a backoff retry on transient loss.
// Caller holds c.mu.
func (c *Coordinator) sendLocked(peer string, msg *model.Message) {
	c.nextSeq[peer]++
	msg.Seq = c.nextSeq[peer]

	switch outcome := c.fab.Send(c.id, peer, msg); outcome {
	case fabric.DroppedPermanent:
		// Link down at send time: the link buffers nothing, requeueing
		// is ours.
		c.outbound[peer] = append(c.outbound[peer], msg)
	case fabric.DroppedTransient:
		if msg.Retries < uint32(c.retryMax) {
			msg.Retries++
			delay := c.retryBase << (msg.Retries - 1)
			time.AfterFunc(delay, func() { c.resend(peer, msg) })
			c.logger.Debug("transient drop, retry armed",
				zap.String("peer", peer), zap.String("msg", msg.ID),
				zap.Uint32("attempt", msg.Retries), zap.Duration("delay", delay))
		} else {
			// Retries exhausted for this attempt: the message waits in
			// the outbound queue for a reconnect-triggered or manual
			// flush.
			c.outbound[peer] = append(c.outbound[peer], msg)
			c.logger.Debug("retries exhausted, queued",
				zap.String("peer", peer), zap.String("msg", msg.ID))
		}
	}
}

// resend is the retry timer callback. A retry whose peer link went down
// before it fired is not sent; the message moves to the outbound queue
// for the eventual flush.
func (c *Coordinator) resend(peer string, msg *model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.peerUp[peer] {
		c.outbound[peer] = append(c.outbound[peer], msg)
		return
	}
	c.sendLocked(peer, msg)
}

// OnMessage is the fabric delivery handler.
func (c *Coordinator) OnMessage(msg *model.Message) {
	if msg.Kind == model.KindAck {
		c.mu.Lock()
		c.acked[msg.From]++
		c.mu.Unlock()
		return
	}

	e := msg.Event
	if e == nil || e.Validate() != nil {
		c.logger.Warn("dropping malformed message", zap.String("msg", msg.ID))
		return
	}

	c.mu.Lock()
	if msg.Seq <= c.lastSeq[msg.From] {
		// Duplicate or stale re-delivery: idempotent no-op.
		c.mu.Unlock()
		c.logger.Debug("stale sequence dropped",
			zap.String("from", msg.From), zap.Uint64("seq", msg.Seq))
		return
	}
	c.lastSeq[msg.From] = msg.Seq
	c.clock.Merge(e.Clock)

	if !c.history.Contains(e.ID) {
		c.applyRemoteLocked(e)
	}
	c.mu.Unlock()

	// Acknowledge so the sender can account the delivery. Ack loss is
	// harmless: the event is already applied and replays deduplicate.
	c.fab.Send(c.id, msg.From, &model.Message{
		ID:   msg.ID,
		From: c.id,
		To:   msg.From,
		Kind: model.KindAck,
	})
}

// applyRemoteLocked runs conflict detection against the current
// projection, appends the event to history regardless of the outcome
// (history is an audit trail, not the materialized view), and updates
// the projection. Caller holds c.mu.
func (c *Coordinator) applyRemoteLocked(e *model.Event) {
	incumbent := c.current[e.TargetID]
	switch {
	case Conflicts(incumbent, e):
		rec := Resolve(c.clock.Value(c.id), incumbent, e)
		c.conflicts = append(c.conflicts, rec)
		if rec.WinnerID == e.ID {
			c.current[e.TargetID] = e
		}
		c.logger.Debug("conflict resolved",
			zap.String("target", e.TargetID),
			zap.String("incumbent", incumbent.ID),
			zap.String("challenger", e.ID),
			zap.String("winner", rec.WinnerID))
	case incumbent == nil,
		vclock.Compare(incumbent.Clock, e.Clock) == vclock.Before:
		c.current[e.TargetID] = e
	default:
		// Stale arrival: e happened-before the incumbent, or came from
		// the incumbent's origin with an older stamp. Keep the
		// incumbent.
	}

	c.appendLocked(e)
	c.notifyLocked(e)
}

// appendLocked writes to the in-memory history and, when attached, the
// durable log. Durable failure degrades to in-memory-only with a log
// line; local history is the availability guarantee.
func (c *Coordinator) appendLocked(e *model.Event) {
	c.history.Append(e)
	if c.durable != nil {
		if err := c.durable.Append(c.id, e); err != nil {
			c.logger.Error("durable append failed",
				zap.String("event", e.ID), zap.Error(err))
		}
	}
}

// OnDisconnect records that the link to peer is down. The outbound
// queue for peer is neither drained nor cleared.
func (c *Coordinator) OnDisconnect(peer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peerUp[peer] = false
}

// OnReconnect records that the link to peer is back, enters the Syncing
// sub-state, and flushes the peer's outbound queue in FIFO order.
// Syncing ends when the queue has drained.
func (c *Coordinator) OnReconnect(peer string) {
	c.mu.Lock()
	c.peerUp[peer] = true
	queued := c.outbound[peer]
	if len(queued) == 0 {
		c.mu.Unlock()
		return
	}
	c.outbound[peer] = nil
	c.syncing = true
	c.mu.Unlock()

	c.logger.Debug("flushing outbound queue",
		zap.String("peer", peer), zap.Int("queued", len(queued)))
	for _, msg := range queued {
		c.mu.Lock()
		if !c.peerUp[peer] {
			// Link dropped mid-flush: put the remainder back.
			c.outbound[peer] = append(c.outbound[peer], msg)
			c.mu.Unlock()
			continue
		}
		msg.Retries = 0
		c.sendLocked(peer, msg)
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.syncing = false
	c.mu.Unlock()
}

// Flush resends any queued messages for peer without a state change —
// the manual counterpart of the reconnect-triggered flush.
func (c *Coordinator) Flush(peer string) {
	c.mu.Lock()
	up := c.peerUp[peer]
	c.mu.Unlock()
	if up {
		c.OnReconnect(peer)
	}
}

// State derives the coordinator's connection state from its peer links.
func (c *Coordinator) State() SyncState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.syncing {
		return StateSyncing
	}
	for _, up := range c.peerUp {
		if up {
			return StateConnected
		}
	}
	if len(c.peers) == 0 {
		return StateConnected
	}
	return StateDisconnected
}

// Subscribe returns a channel that receives every event subsequently
// applied to this node (local and remote), plus a cancel func. A slow
// subscriber misses events rather than blocking the node; size the
// buffer accordingly. Catch-up is History.
func (c *Coordinator) Subscribe(buffer int) (<-chan *model.Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan *model.Event, buffer)
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// notifyLocked fans an applied event out to subscribers, dropping on
// full buffers. Caller holds c.mu.
func (c *Coordinator) notifyLocked(e *model.Event) {
	for _, ch := range c.subs {
		select {
		case ch <- e.Clone():
		default:
		}
	}
}

// Restore rebuilds state from a history snapshot: events are applied in
// order through the normal projection logic, clocks merged, nothing
// broadcast. Meant for a freshly-created node recovering from a
// checkpoint.
func (c *Coordinator) Restore(events []*model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range events {
		if e.Validate() != nil {
			continue
		}
		c.clock.Merge(e.Clock)
		if c.history.Contains(e.ID) {
			continue
		}
		c.applyRemoteLocked(e)
	}
}

// RecoverFromLog restores state from the attached durable log.
func (c *Coordinator) RecoverFromLog() error {
	if c.durable == nil {
		return fmt.Errorf("node %s: no durable log attached", c.id)
	}
	events, err := c.durable.LoadHistory(c.id)
	if err != nil {
		return fmt.Errorf("load history for %s: %w", c.id, err)
	}
	c.Restore(events)
	return nil
}

// --- Observation ---

// EventCount returns the history length.
func (c *Coordinator) EventCount() int { return c.history.Count() }

// EventIDs returns the set of event ids in history.
func (c *Coordinator) EventIDs() map[string]struct{} { return c.history.IDs() }

// History returns a copy of the full history in append order.
func (c *Coordinator) History() []*model.Event { return c.history.Events() }

// ConflictCount returns the number of recorded conflicts.
func (c *Coordinator) ConflictCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conflicts)
}

// Conflicts returns a copy of the conflict log.
func (c *Coordinator) Conflicts() []model.ConflictRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.ConflictRecord(nil), c.conflicts...)
}

// CurrentValue returns the materialized winner for a target, or nil.
// Losing events stay in history; this projection is the "current value"
// view.
func (c *Coordinator) CurrentValue(targetID string) *model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current[targetID].Clone()
}

// ClockValue returns this node's own logical counter.
func (c *Coordinator) ClockValue() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock.Value(c.id)
}

// ClockSnapshot returns a copy of the node's full vector clock.
func (c *Coordinator) ClockSnapshot() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock.Snapshot()
}

// QueueLen returns the number of messages queued for peer.
func (c *Coordinator) QueueLen(peer string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outbound[peer])
}

// AckedFrom returns how many deliveries peer has acknowledged.
func (c *Coordinator) AckedFrom(peer string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acked[peer]
}

// Peers returns the node's peer list.
func (c *Coordinator) Peers() []string {
	return append([]string(nil), c.peers...)
}
