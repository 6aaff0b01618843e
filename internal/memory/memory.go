// Package memory defines the agent's memory port and a SQLite-backed
// default store.
package memory

import (
	"context"
	"time"
)

// Entry is one stored memory.
type Entry struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats summarizes a backend's state for health checks.
type Stats struct {
	Entries   int64 `json:"entries"`
	Connected bool  `json:"connected"`
}

// Port is the interface the kernel uses to reach a memory backend.
type Port interface {
	// Save stores content under a category and returns the entry ID.
	Save(ctx context.Context, category, content string) (string, error)

	// Search returns up to limit entries matching the query, best first.
	Search(ctx context.Context, query string, limit int) ([]Entry, error)

	// Delete removes an entry by ID.
	Delete(ctx context.Context, id string) error

	// Stats reports backend health and size.
	Stats(ctx context.Context) (Stats, error)
}

// Reconnector is implemented by backends that can drop and re-establish
// their connection; the heartbeat monitor uses it to revive dead stores.
type Reconnector interface {
	Connect(ctx context.Context) error
	Connected() bool
}
