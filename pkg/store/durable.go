// durable.go implements HistoryLog on SQLite.
//
// SQLite in WAL mode is the durable backend for event history: every
// event a node appends to its in-memory log can also be written here,
// and a restarted node rebuilds its state with LoadHistory. The schema
// stores the vector clock snapshot and payload as JSON text columns —
// history rows are write-once, so there is nothing to update in place.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"causalmesh/pkg/model"

	_ "modernc.org/sqlite"
)

// DurableLog manages SQLite persistence with WAL mode for concurrent
// access.
type DurableLog struct {
	db *sql.DB
}

// OpenDurable opens (or creates) the SQLite database and initializes
// the schema.
func OpenDurable(path string) (*DurableLog, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	d := &DurableLog{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close closes the database connection.
func (d *DurableLog) Close() error { return d.db.Close() }

func (d *DurableLog) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS history (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		node_id      TEXT NOT NULL,
		event_id     TEXT NOT NULL,
		origin       TEXT NOT NULL,
		op           TEXT NOT NULL,
		target_id    TEXT NOT NULL,
		payload      TEXT,
		clock        TEXT NOT NULL,
		logical_time INTEGER NOT NULL,
		created_at   TEXT NOT NULL,
		UNIQUE (node_id, event_id)
	);

	CREATE INDEX IF NOT EXISTS idx_history_node ON history(node_id, id);
	CREATE INDEX IF NOT EXISTS idx_history_target ON history(target_id);
	`
	_, err := d.db.Exec(schema)
	return err
}

// Append durably records an event in nodeID's history. Idempotent via
// the (node_id, event_id) unique constraint: replayed deliveries insert
// nothing.
func (d *DurableLog) Append(nodeID string, e *model.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	clockJSON, err := json.Marshal(e.Clock)
	if err != nil {
		return fmt.Errorf("marshal clock for event %s: %w", e.ID, err)
	}
	var payloadJSON []byte
	if e.Payload != nil {
		payloadJSON, err = json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload for event %s: %w", e.ID, err)
		}
	}
	return retryOnContention(func() error {
		_, err := d.db.Exec(
			`INSERT INTO history (node_id, event_id, origin, op, target_id, payload, clock, logical_time, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(node_id, event_id) DO NOTHING`,
			nodeID, e.ID, e.Origin, string(e.Op), e.TargetID,
			nullableText(payloadJSON), string(clockJSON), int64(e.LogicalTime),
			e.CreatedAt.Format(time.RFC3339Nano),
		)
		return err
	})
}

// LoadHistory returns nodeID's full history in append order.
func (d *DurableLog) LoadHistory(nodeID string) ([]*model.Event, error) {
	rows, err := d.db.Query(
		`SELECT event_id, origin, op, target_id, COALESCE(payload,''), clock, logical_time, created_at
		 FROM history WHERE node_id = ?
		 ORDER BY id ASC`,
		nodeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// CountEvents returns the number of history rows for nodeID.
func (d *DurableLog) CountEvents(nodeID string) int64 {
	var count int64
	if err := d.db.QueryRow(
		`SELECT COUNT(*) FROM history WHERE node_id = ?`, nodeID,
	).Scan(&count); err != nil {
		return 0
	}
	return count
}

// ListNodes returns the node ids with at least one history row.
func (d *DurableLog) ListNodes() ([]string, error) {
	rows, err := d.db.Query(`SELECT DISTINCT node_id FROM history ORDER BY node_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var nodes []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		nodes = append(nodes, id)
	}
	return nodes, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]*model.Event, error) {
	var events []*model.Event
	for rows.Next() {
		var e model.Event
		var opStr, payloadStr, clockStr, createdStr string
		var logical int64
		if err := rows.Scan(&e.ID, &e.Origin, &opStr, &e.TargetID,
			&payloadStr, &clockStr, &logical, &createdStr); err != nil {
			return nil, err
		}
		e.Op = model.Operation(opStr)
		e.LogicalTime = uint64(logical)
		if err := json.Unmarshal([]byte(clockStr), &e.Clock); err != nil {
			return nil, fmt.Errorf("parse clock for event %s: %w", e.ID, err)
		}
		if payloadStr != "" {
			if err := json.Unmarshal([]byte(payloadStr), &e.Payload); err != nil {
				return nil, fmt.Errorf("parse payload for event %s: %w", e.ID, err)
			}
		}
		var parseErr error
		e.CreatedAt, parseErr = time.Parse(time.RFC3339Nano, createdStr)
		if parseErr != nil {
			return nil, fmt.Errorf("parse created_at for event %s: %w", e.ID, parseErr)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// nullableText maps empty JSON to NULL so absent payloads stay absent.
func nullableText(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
