package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS memories (
	id         TEXT PRIMARY KEY,
	category   TEXT NOT NULL DEFAULT 'general',
	content    TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category);
CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(content, content=memories);
`

// SQLiteStore is the default memory backend.
type SQLiteStore struct {
	path   string
	logger *slog.Logger

	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteStore creates a store for the given database path. Call Connect
// before use.
func NewSQLiteStore(path string, logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{
		path:   path,
		logger: logger.With("component", "memory"),
	}
}

// Connect opens the database and applies the schema. Safe to call again
// after a connection loss.
func (s *SQLiteStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create memory dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("open memory db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return fmt.Errorf("apply memory schema: %w", err)
	}
	s.db = db
	s.logger.Info("memory store connected", "path", s.path)
	return nil
}

// Connected reports whether the store is usable.
func (s *SQLiteStore) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db != nil && s.db.Ping() == nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Save stores content under a category.
func (s *SQLiteStore) Save(ctx context.Context, category, content string) (string, error) {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	if db == nil {
		return "", fmt.Errorf("memory store not connected")
	}
	if category == "" {
		category = "general"
	}

	id := uuid.NewString()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memories (id, category, content, created_at) VALUES (?, ?, ?, ?)`,
		id, category, content, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return "", err
	}
	var rowid int64
	if err := tx.QueryRowContext(ctx, `SELECT rowid FROM memories WHERE id = ?`, id).Scan(&rowid); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO memories_fts (rowid, content) VALUES (?, ?)`, rowid, content); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// Search runs a full-text query, falling back to a LIKE scan when the
// query contains FTS syntax that fails to parse.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	if db == nil {
		return nil, fmt.Errorf("memory store not connected")
	}
	if limit <= 0 {
		limit = 3
	}

	rows, err := db.QueryContext(ctx,
		`SELECT m.id, m.category, m.content, m.created_at
		 FROM memories m JOIN memories_fts f ON m.rowid = f.rowid
		 WHERE memories_fts MATCH ? ORDER BY rank LIMIT ?`,
		ftsQuery(query), limit)
	if err != nil {
		rows, err = db.QueryContext(ctx,
			`SELECT id, category, content, created_at FROM memories
			 WHERE content LIKE ? ORDER BY created_at DESC LIMIT ?`,
			"%"+query+"%", limit)
		if err != nil {
			return nil, err
		}
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.ID, &e.Category, &e.Content, &created); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes an entry and its index row.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	if db == nil {
		return fmt.Errorf("memory store not connected")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var rowid int64
	err = tx.QueryRowContext(ctx, `SELECT rowid FROM memories WHERE id = ?`, id).Scan(&rowid)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memories_fts WHERE rowid = ?`, rowid); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// Stats reports the entry count and connectivity.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	if db == nil {
		return Stats{Connected: false}, nil
	}
	var n int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n); err != nil {
		return Stats{Connected: false}, err
	}
	return Stats{Entries: n, Connected: true}, nil
}

// ftsQuery quotes each term so user text cannot inject FTS operators.
func ftsQuery(query string) string {
	terms := strings.Fields(query)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, ``) + `"`
	}
	return strings.Join(terms, " OR ")
}
