// Package checkpoint persists monologue state to disk so a crashed process
// can resume a recent conversation.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/itak-ai/itak/internal/progress"
	"github.com/itak-ai/itak/pkg/models"
)

const (
	// historyLimit caps how many trailing messages a snapshot keeps.
	historyLimit = 50
	// maxRestoreAge is the oldest checkpoint worth restoring at startup.
	maxRestoreAge = time.Hour
)

// Snapshot is the on-disk checkpoint layout.
type Snapshot struct {
	Timestamp    float64          `json:"timestamp"`
	Iteration    int              `json:"iteration"`
	RoomID       string           `json:"room_id"`
	Adapter      string           `json:"adapter"`
	History      []models.Message `json:"history"`
	LastResponse string           `json:"last_response"`
	Progress     progress.State   `json:"progress"`
}

// Manager writes and restores checkpoint files. Save is atomic: the
// snapshot is written to a temp file and renamed over the previous one, so
// a reader always sees either the old or the new valid JSON.
type Manager struct {
	path   string
	logger *slog.Logger
}

// NewManager creates a manager writing to dir/checkpoint.json
// (data/db by default).
func NewManager(dir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		dir = filepath.Join("data", "db")
	}
	return &Manager{
		path:   filepath.Join(dir, "checkpoint.json"),
		logger: logger.With("component", "checkpoint"),
	}
}

// Path returns the checkpoint file location.
func (m *Manager) Path() string {
	return m.path
}

// Save writes the snapshot atomically, trimming history to the most recent
// messages first. On failure the temp file is removed.
func (m *Manager) Save(snapshot *Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot is nil")
	}
	if snapshot.Timestamp == 0 {
		snapshot.Timestamp = float64(time.Now().UnixNano()) / float64(time.Second)
	}
	if len(snapshot.History) > historyLimit {
		snapshot.History = snapshot.History[len(snapshot.History)-historyLimit:]
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp := m.path[:len(m.path)-len(".json")] + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write checkpoint temp: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename checkpoint: %w", err)
	}

	m.logger.Debug("checkpoint saved", "iteration", snapshot.Iteration, "history", len(snapshot.History))
	return nil
}

// Load parses the checkpoint file.
func (m *Manager) Load() (*Snapshot, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	return &snapshot, nil
}

// HasCheckpoint reports whether a checkpoint file exists.
func (m *Manager) HasCheckpoint() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Age returns how old the checkpoint file is.
func (m *Manager) Age() (time.Duration, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return 0, err
	}
	return time.Since(info.ModTime()), nil
}

// Restorable reports whether a checkpoint exists and is fresh enough to
// restore at startup.
func (m *Manager) Restorable() bool {
	age, err := m.Age()
	return err == nil && age < maxRestoreAge
}

// Delete removes the checkpoint file. Called on graceful completion.
func (m *Manager) Delete() error {
	err := os.Remove(m.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
