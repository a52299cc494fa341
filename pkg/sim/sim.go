// Package sim assembles a full in-process mesh: one fabric, one
// coordinator per node, full pairwise links, and a control surface for
// driving scenarios and observing convergence.
package sim

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"causalmesh/pkg/fabric"
	"causalmesh/pkg/model"
	"causalmesh/pkg/node"
	"causalmesh/pkg/store"
)

// ErrNotConverged is returned by WaitForConvergence on timeout.
var ErrNotConverged = errors.New("mesh did not converge")

// Config tunes a simulation. The seed pins every probabilistic draw in
// the fabric, so two runs with the same seed and the same step sequence
// produce the same outcome trace.
type Config struct {
	Seed      int64
	RetryMax  int
	RetryBase time.Duration
	// DurablePath, when set, opens a SQLite log shared by every node
	// (keyed per node inside the file).
	DurablePath string
	Logger      *zap.Logger
}

// Simulator owns the fabric and the node set.
type Simulator struct {
	fab     *fabric.Fabric
	nodes   map[string]*node.Coordinator
	order   []string
	durable *store.DurableLog
	logger  *zap.Logger
}

// New builds a mesh of the given nodes with every pair linked and
// connected. Node ids must be unique and non-empty.
func New(cfg Config, nodeIDs ...string) (*Simulator, error) {
	if len(nodeIDs) == 0 {
		return nil, fmt.Errorf("simulation needs at least one node")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	seen := make(map[string]struct{}, len(nodeIDs))
	for _, id := range nodeIDs {
		if id == "" {
			return nil, fmt.Errorf("empty node id")
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate node id %q", id)
		}
		seen[id] = struct{}{}
	}

	s := &Simulator{
		fab:    fabric.New(cfg.Seed, cfg.Logger),
		nodes:  make(map[string]*node.Coordinator, len(nodeIDs)),
		order:  append([]string(nil), nodeIDs...),
		logger: cfg.Logger,
	}

	var durable store.HistoryLog
	if cfg.DurablePath != "" {
		dl, err := store.OpenDurable(cfg.DurablePath)
		if err != nil {
			return nil, fmt.Errorf("open durable log: %w", err)
		}
		s.durable = dl
		durable = dl
	}

	for _, id := range nodeIDs {
		var peers []string
		for _, other := range nodeIDs {
			if other != id {
				peers = append(peers, other)
			}
		}
		s.nodes[id] = node.New(id, peers, s.fab, node.Config{
			RetryMax:  cfg.RetryMax,
			RetryBase: cfg.RetryBase,
			Durable:   durable,
			Logger:    cfg.Logger,
		})
	}
	for i, a := range nodeIDs {
		for _, b := range nodeIDs[i+1:] {
			s.fab.AddLink(a, b)
		}
	}
	return s, nil
}

// Close releases the durable log, if any.
func (s *Simulator) Close() error {
	if s.durable != nil {
		return s.durable.Close()
	}
	return nil
}

// Node returns the coordinator for id, or nil.
func (s *Simulator) Node(id string) *node.Coordinator { return s.nodes[id] }

// Nodes returns the node ids in creation order.
func (s *Simulator) Nodes() []string { return append([]string(nil), s.order...) }

// Execute performs an operation on the named node.
func (s *Simulator) Execute(nodeID string, op model.Operation, targetID string, payload model.Payload) (*model.Event, error) {
	n := s.nodes[nodeID]
	if n == nil {
		return nil, fmt.Errorf("unknown node %q", nodeID)
	}
	return n.Execute(op, targetID, payload)
}

// SetLinkState changes a link and informs both endpoints, so their
// offline queues and reconnect flushes track the fabric.
func (s *Simulator) SetLinkState(a, b string, state model.LinkState) error {
	na, nb := s.nodes[a], s.nodes[b]
	if na == nil || nb == nil {
		return fmt.Errorf("unknown link endpoint %q/%q", a, b)
	}
	s.fab.SetLinkState(a, b, state)
	switch state {
	case model.LinkConnected:
		na.OnReconnect(b)
		nb.OnReconnect(a)
	case model.LinkDisconnected:
		na.OnDisconnect(b)
		nb.OnDisconnect(a)
	}
	return nil
}

// Disconnect severs the link between a and b.
func (s *Simulator) Disconnect(a, b string) error {
	return s.SetLinkState(a, b, model.LinkDisconnected)
}

// Reconnect restores the link between a and b and triggers both sides'
// queue flush.
func (s *Simulator) Reconnect(a, b string) error {
	return s.SetLinkState(a, b, model.LinkConnected)
}

// SetLinkFaults adjusts fault parameters on a link. Unset fields keep
// their current values.
func (s *Simulator) SetLinkFaults(a, b string, u fabric.FaultUpdate) error {
	if s.nodes[a] == nil || s.nodes[b] == nil {
		return fmt.Errorf("unknown link endpoint %q/%q", a, b)
	}
	s.fab.SetFaults(a, b, u)
	return nil
}

// EventCount returns the history length of a node, or -1 for an
// unknown node.
func (s *Simulator) EventCount(nodeID string) int {
	n := s.nodes[nodeID]
	if n == nil {
		return -1
	}
	return n.EventCount()
}

// ConflictCount returns the number of conflicts a node has resolved,
// or -1 for an unknown node.
func (s *Simulator) ConflictCount(nodeID string) int {
	n := s.nodes[nodeID]
	if n == nil {
		return -1
	}
	return n.ConflictCount()
}

// Checkpoint returns a copy of a node's full history, suitable for
// Restore on a fresh node.
func (s *Simulator) Checkpoint(nodeID string) ([]*model.Event, error) {
	n := s.nodes[nodeID]
	if n == nil {
		return nil, fmt.Errorf("unknown node %q", nodeID)
	}
	return n.History(), nil
}

// Restore replays a checkpoint into a node.
func (s *Simulator) Restore(nodeID string, events []*model.Event) error {
	n := s.nodes[nodeID]
	if n == nil {
		return fmt.Errorf("unknown node %q", nodeID)
	}
	n.Restore(events)
	return nil
}

// Reachable reports whether a path of connected links joins a and b.
func (s *Simulator) Reachable(a, b string) bool {
	if a == b {
		return s.nodes[a] != nil
	}
	for _, group := range s.components() {
		var hasA, hasB bool
		for _, id := range group {
			hasA = hasA || id == a
			hasB = hasB || id == b
		}
		if hasA {
			return hasB
		}
	}
	return false
}

// WaitForConvergence polls until every group of mutually reachable
// nodes holds an identical event set with empty outbound queues, or
// the timeout expires. Partitioned groups converge independently;
// cross-partition divergence does not block convergence.
func (s *Simulator) WaitForConvergence(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if s.converged() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w within %s", ErrNotConverged, timeout)
		}
		s.nudge()
		time.Sleep(5 * time.Millisecond)
	}
}

// nudge re-flushes queued messages over links that are up. A lossy
// link can exhaust a message's retries; the periodic flush keeps such
// messages moving until they land.
func (s *Simulator) nudge() {
	for _, id := range s.order {
		n := s.nodes[id]
		for _, peer := range s.order {
			if peer == id {
				continue
			}
			if n.QueueLen(peer) > 0 && s.fab.LinkState(id, peer) == model.LinkConnected {
				n.Flush(peer)
			}
		}
	}
}

func (s *Simulator) converged() bool {
	for _, group := range s.components() {
		ref := s.nodes[group[0]].EventIDs()
		for _, id := range group {
			n := s.nodes[id]
			ids := n.EventIDs()
			if len(ids) != len(ref) {
				return false
			}
			for eid := range ref {
				if _, ok := ids[eid]; !ok {
					return false
				}
			}
			for _, peer := range group {
				if peer != id && n.QueueLen(peer) > 0 {
					return false
				}
			}
		}
	}
	return true
}

// components groups nodes by connected-link reachability.
func (s *Simulator) components() [][]string {
	visited := make(map[string]bool, len(s.order))
	var groups [][]string
	for _, start := range s.order {
		if visited[start] {
			continue
		}
		group := []string{start}
		visited[start] = true
		for i := 0; i < len(group); i++ {
			for _, other := range s.order {
				if visited[other] {
					continue
				}
				if s.fab.LinkState(group[i], other) == model.LinkConnected {
					visited[other] = true
					group = append(group, other)
				}
			}
		}
		groups = append(groups, group)
	}
	return groups
}
