package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/AntoniyaJency/railopt/internal/common/logger"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "audit.db"), logger.Nop())
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteWriteAndCount(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	entries := []Entry{
		{ID: "e1", Train: "T1", Field: "status", OldValue: "scheduled", NewValue: "running", At: now.Add(-48 * time.Hour)},
		{ID: "e2", Train: "T1", Field: "delay_minutes", OldValue: "0", NewValue: "10", At: now.Add(-24 * time.Hour)},
		{ID: "e3", Train: "T2", Field: "status", OldValue: "scheduled", NewValue: "cancelled", At: now},
	}
	if err := store.WriteEntries(ctx, entries); err != nil {
		t.Fatalf("WriteEntries failed: %v", err)
	}

	n, err := store.CountEntries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("expected 3 entries, got %d", n)
	}

	// Empty batch is a no-op, not an error.
	if err := store.WriteEntries(ctx, nil); err != nil {
		t.Errorf("empty batch should succeed, got %v", err)
	}
}

func TestSQLitePruneBefore(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	entries := []Entry{
		{ID: "old1", Train: "T1", Field: "status", At: now.Add(-72 * time.Hour)},
		{ID: "old2", Train: "T1", Field: "status", At: now.Add(-48 * time.Hour)},
		{ID: "new1", Train: "T2", Field: "status", At: now},
	}
	if err := store.WriteEntries(ctx, entries); err != nil {
		t.Fatal(err)
	}

	removed, err := store.PruneBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneBefore failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 entries pruned, got %d", removed)
	}

	n, err := store.CountEntries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 entry left, got %d", n)
	}
}

func TestSQLiteSnapshotRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := Snapshot{ID: "s1", TakenAt: time.Now().UTC().Add(-time.Hour), Trains: 2, Data: []byte(`[{"id":"T1"},{"id":"T2"}]`)}
	second := Snapshot{ID: "s2", TakenAt: time.Now().UTC(), Trains: 3, Data: []byte(`[{"id":"T1"},{"id":"T2"},{"id":"T3"}]`)}
	if err := store.SaveSnapshot(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveSnapshot(ctx, second); err != nil {
		t.Fatal(err)
	}

	latest, err := store.LatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("LatestSnapshot failed: %v", err)
	}
	if latest.ID != "s2" {
		t.Errorf("expected latest snapshot s2, got %s", latest.ID)
	}
	if latest.Trains != 3 {
		t.Errorf("expected 3 trains in latest snapshot, got %d", latest.Trains)
	}
	if string(latest.Data) != string(second.Data) {
		t.Errorf("snapshot payload mangled: %s", latest.Data)
	}
}

func TestJanitorRequiresStore(t *testing.T) {
	j := NewJanitor(nil, time.Hour, time.Hour, logger.Nop())
	if err := j.Start(context.Background()); err == nil {
		t.Error("expected error starting janitor without a store")
	}
}

func TestJanitorStartStop(t *testing.T) {
	store := openTestStore(t)
	j := NewJanitor(store, time.Hour, time.Hour, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Start(ctx) }()

	// Give the loop a moment to take ownership, then refuse a second start.
	time.Sleep(20 * time.Millisecond)
	if err := j.Start(ctx); err == nil {
		t.Error("expected error on second Start")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Start returned error on cancel: %v", err)
	}

	j.Stop() // idempotent after the loop ended
}
