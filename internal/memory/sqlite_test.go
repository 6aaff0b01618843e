package memory

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"), nil)
	if err := store.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Save(ctx, "errors", "pip install requests fixed the import error")
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("empty id")
	}

	entries, err := store.Search(ctx, "import error", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].ID != id || entries[0].Category != "errors" {
		t.Errorf("entry = %+v", entries[0])
	}
	if entries[0].CreatedAt.IsZero() {
		t.Error("created_at not parsed")
	}
}

func TestSearchMatchesAnyTerm(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Save(ctx, "general", "the deployment uses kubernetes"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Save(ctx, "general", "the cat sat on the mat"); err != nil {
		t.Fatal(err)
	}

	entries, err := store.Search(ctx, "kubernetes cluster", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
}

func TestSearchHostileQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Save(ctx, "general", "plain note"); err != nil {
		t.Fatal(err)
	}
	// FTS operators in user text must not be interpreted.
	entries, err := store.Search(ctx, `"plain AND note") OR (x`, 5)
	if err != nil {
		t.Fatalf("hostile query errored: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}
}

func TestSearchLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if _, err := store.Save(ctx, "general", "repeated subject matter"); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := store.Search(ctx, "subject", 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 4 {
		t.Errorf("entries = %d, want 4", len(entries))
	}
	// A non-positive limit falls back to the default of 3.
	entries, err = store.Search(ctx, "subject", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Errorf("entries = %d, want 3", len(entries))
	}
}

func TestDeleteRemovesFromIndex(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Save(ctx, "general", "a note about volcanoes")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}
	entries, err := store.Search(ctx, "volcanoes", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("deleted entry still searchable: %+v", entries)
	}
	// Deleting a missing id is a no-op.
	if err := store.Delete(ctx, "nope"); err != nil {
		t.Fatal(err)
	}
}

func TestStatsAndConnectivity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if !store.Connected() {
		t.Fatal("connected store reports disconnected")
	}
	if _, err := store.Save(ctx, "general", "one"); err != nil {
		t.Fatal(err)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !stats.Connected || stats.Entries != 1 {
		t.Errorf("stats = %+v", stats)
	}

	store.Close()
	if store.Connected() {
		t.Error("closed store reports connected")
	}
	if _, err := store.Save(ctx, "general", "two"); err == nil {
		t.Error("save on closed store succeeded")
	}
}

func TestReconnectAfterClose(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Save(ctx, "general", "persisted fact"); err != nil {
		t.Fatal(err)
	}
	store.Close()

	if err := store.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	entries, err := store.Search(ctx, "persisted", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("entries after reconnect = %d", len(entries))
	}
}

func TestFTSQueryQuoting(t *testing.T) {
	if got := ftsQuery("hello world"); got != `"hello" OR "world"` {
		t.Errorf("ftsQuery = %q", got)
	}
	if got := ftsQuery(`say "hi"`); got != `"say" OR "hi"` {
		t.Errorf("ftsQuery = %q", got)
	}
}
