// iface.go defines the HistoryLog seam for durable persistence.
//
// A node's in-memory history is authoritative during a run; HistoryLog
// is the boundary to whatever durable backend sits behind it. The
// concrete *DurableLog (SQLite) satisfies this interface, and code that
// persists history (the sync coordinator, the CLI) accepts HistoryLog
// instead of *DurableLog, enabling mock injection in tests.
package store

import "causalmesh/pkg/model"

// HistoryLog persists per-node event history.
type HistoryLog interface {
	// Append durably records an event in nodeID's history. Appending
	// an event id already present for that node is a no-op.
	Append(nodeID string, e *model.Event) error

	// LoadHistory returns nodeID's full history in append order.
	LoadHistory(nodeID string) ([]*model.Event, error)

	// Close releases the backend.
	Close() error
}

// Compile-time check that *DurableLog implements HistoryLog.
var _ HistoryLog = (*DurableLog)(nil)
