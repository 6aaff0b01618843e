package checkpoint

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/itak-ai/itak/pkg/models"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	in := &Snapshot{
		Iteration: 7,
		RoomID:    "room-1",
		Adapter:   "discord",
		History: []models.Message{
			{Role: models.RoleUser, Content: "do the thing"},
			{Role: models.RoleAssistant, Content: "working on it"},
		},
		LastResponse: "working on it",
	}
	if err := m.Save(in); err != nil {
		t.Fatal(err)
	}

	out, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if out.Iteration != 7 || out.RoomID != "room-1" || out.Adapter != "discord" {
		t.Errorf("snapshot = %+v", out)
	}
	if len(out.History) != 2 || out.History[1].Content != "working on it" {
		t.Errorf("history = %+v", out.History)
	}
	if out.Timestamp == 0 {
		t.Error("timestamp not stamped on save")
	}
}

func TestSaveTrimsHistory(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	snapshot := &Snapshot{RoomID: "r"}
	for i := 0; i < historyLimit+20; i++ {
		snapshot.History = append(snapshot.History, models.Message{
			Role: models.RoleUser, Content: fmt.Sprintf("msg %d", i),
		})
	}
	if err := m.Save(snapshot); err != nil {
		t.Fatal(err)
	}
	out, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(out.History) != historyLimit {
		t.Fatalf("history = %d, want %d", len(out.History), historyLimit)
	}
	// The trailing messages survive, not the leading ones.
	if out.History[historyLimit-1].Content != fmt.Sprintf("msg %d", historyLimit+19) {
		t.Errorf("last message = %q", out.History[historyLimit-1].Content)
	}
}

func TestSaveNilSnapshot(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	if err := m.Save(nil); err == nil {
		t.Fatal("expected error for nil snapshot")
	}
}

func TestRestorableLifecycle(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	if m.HasCheckpoint() || m.Restorable() {
		t.Fatal("fresh manager claims a checkpoint")
	}

	if err := m.Save(&Snapshot{RoomID: "r"}); err != nil {
		t.Fatal(err)
	}
	if !m.HasCheckpoint() {
		t.Fatal("checkpoint file missing after save")
	}
	if !m.Restorable() {
		t.Fatal("fresh checkpoint not restorable")
	}

	if err := m.Delete(); err != nil {
		t.Fatal(err)
	}
	if m.HasCheckpoint() {
		t.Fatal("checkpoint survived delete")
	}
	// Deleting again is fine.
	if err := m.Delete(); err != nil {
		t.Fatal(err)
	}
}

func TestStaleCheckpointNotRestorable(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	if err := m.Save(&Snapshot{RoomID: "r"}); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(m.Path(), stale, stale); err != nil {
		t.Fatal(err)
	}
	if m.Restorable() {
		t.Fatal("stale checkpoint reported restorable")
	}
}

func TestLoadCorruptFile(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	if err := os.WriteFile(m.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Load(); err == nil {
		t.Fatal("expected parse error")
	}
}
