package observability

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp   REAL NOT NULL,
	datetime    TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	room_id     TEXT,
	adapter     TEXT,
	data        TEXT,
	tokens_used INTEGER DEFAULT 0,
	cost_usd    REAL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
CREATE INDEX IF NOT EXISTS idx_events_room ON events(room_id);
CREATE VIRTUAL TABLE IF NOT EXISTS events_fts USING fts5(data, content=events, content_rowid=id);
`

// Store is the queryable event sink backed by SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the SQLite event store.
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; the event logger serializes all inserts anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert writes one event and mirrors its data into the full-text index.
func (s *Store) Insert(event *Event) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO events (timestamp, datetime, event_type, room_id, adapter, data, tokens_used, cost_usd)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.Timestamp, event.Datetime, string(event.EventType),
		event.RoomID, event.Adapter, event.Data, event.TokensUsed, event.CostUSD,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO events_fts (rowid, data) VALUES (?, ?)`, id, event.Data); err != nil {
		return err
	}
	return tx.Commit()
}

// StoredEvent is an event with its store-assigned id.
type StoredEvent struct {
	ID int64 `json:"id"`
	Event
}

// Query returns the most recent events, optionally filtered by type and
// room, newest first.
func (s *Store) Query(eventType EventType, roomID string, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, timestamp, datetime, event_type, room_id, adapter, data, tokens_used, cost_usd FROM events WHERE 1=1`
	var args []any
	if eventType != "" {
		query += ` AND event_type = ?`
		args = append(args, string(eventType))
	}
	if roomID != "" {
		query += ` AND room_id = ?`
		args = append(args, roomID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Search runs a full-text query over the data column.
func (s *Store) Search(text string, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT e.id, e.timestamp, e.datetime, e.event_type, e.room_id, e.adapter, e.data, e.tokens_used, e.cost_usd
		 FROM events e JOIN events_fts f ON e.id = f.rowid
		 WHERE events_fts MATCH ? ORDER BY e.id DESC LIMIT ?`,
		text, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Count returns the number of stored events.
func (s *Store) Count() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

func scanEvents(rows *sql.Rows) ([]StoredEvent, error) {
	var out []StoredEvent
	for rows.Next() {
		var e StoredEvent
		var eventType string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Datetime, &eventType,
			&e.RoomID, &e.Adapter, &e.Data, &e.TokensUsed, &e.CostUSD); err != nil {
			return nil, err
		}
		e.EventType = EventType(eventType)
		out = append(out, e)
	}
	return out, rows.Err()
}

func marshalEvent(event *Event) ([]byte, error) {
	return json.Marshal(event)
}
