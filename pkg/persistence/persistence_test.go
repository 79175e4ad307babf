package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// createTestDB opens a fresh database for each test.
func createTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSchemaVersion(t *testing.T) {
	db := createTestDB(t)
	version, err := GetSchemaVersion(db.SQL())
	if err != nil {
		t.Fatalf("GetSchemaVersion failed: %v", err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("Expected schema version %d, got %d", CurrentSchemaVersion, version)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := db.Put(ctx, "patterns", []byte(`{"runs":[]}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()
	got, err := db.Get(ctx, "patterns")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != `{"runs":[]}` {
		t.Errorf("unexpected value %q", got)
	}
}

func TestMigrationFromVersion1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v1.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	raw := db.SQL()
	for _, stmt := range []string{
		`DROP TABLE iterations`,
		`DROP TABLE sessions`,
		`DELETE FROM schema_version`,
		`INSERT INTO schema_version (version) VALUES (1)`,
	} {
		if _, err := raw.Exec(stmt); err != nil {
			t.Fatalf("setup %q failed: %v", stmt, err)
		}
	}
	_ = db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("migrating open failed: %v", err)
	}
	defer db.Close()
	if _, err := db.ListSessions(context.Background(), 5); err != nil {
		t.Errorf("sessions table missing after migration: %v", err)
	}
}

func TestKV(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()

	if _, err := db.Get(ctx, "missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}

	if err := db.Put(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := db.Put(ctx, "k", []byte("v2")); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	got, err := db.Get(ctx, "k")
	if err != nil || string(got) != "v2" {
		t.Errorf("Expected v2, got %q (err %v)", got, err)
	}

	var count int
	if err := db.SQL().QueryRow(`SELECT COUNT(*) FROM kv`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("upsert should keep one row, got %d", count)
	}

	if err := db.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := db.Delete(ctx, "k"); err != nil {
		t.Errorf("deleting a missing key should succeed: %v", err)
	}
	if _, err := db.Get(ctx, "k"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestSessions(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first := &Session{
		SessionID: "s-1", Query: "Show me revenue by region over time", Status: "optimal",
		FinalScore: 8.75, BestIteration: 2, Iterations: 2, StartedAt: start, EndedAt: start.Add(time.Second),
	}
	iterations := []Iteration{
		{Index: 1, Prompt: "p1", ChartSpec: `{"mark":"line"}`, HeuristicScore: 8, ModelScore: 7, FinalScore: 7.5, Continue: true, Reason: "below threshold", RecordJSON: `{}`},
		{Index: 2, Prompt: "p2", HeuristicScore: 9, ModelScore: 8.5, FinalScore: 8.75, RecordJSON: `{}`},
	}
	if err := db.SaveSession(ctx, first, iterations); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	// Saving again replaces rather than duplicates.
	if err := db.SaveSession(ctx, first, iterations); err != nil {
		t.Fatalf("second SaveSession failed: %v", err)
	}

	second := &Session{SessionID: "s-2", Query: "chart", Status: "needs_clarification", StartedAt: start.Add(time.Hour), EndedAt: start.Add(time.Hour)}
	if err := db.SaveSession(ctx, second, nil); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	got, err := db.GetSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.FinalScore != 8.75 || got.BestIteration != 2 || !got.StartedAt.Equal(start) {
		t.Errorf("unexpected session: %+v", got)
	}

	its, err := db.GetIterations(ctx, "s-1")
	if err != nil {
		t.Fatalf("GetIterations failed: %v", err)
	}
	if len(its) != 2 {
		t.Fatalf("Expected 2 iterations, got %d", len(its))
	}
	if !its[0].Continue || its[1].Continue || its[0].ChartSpec == "" || its[1].ChartSpec != "" {
		t.Errorf("unexpected iterations: %+v", its)
	}

	list, err := db.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(list) != 2 || list[0].SessionID != "s-2" {
		t.Errorf("Expected newest first, got %+v", list)
	}

	if _, err := db.GetSession(ctx, "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}

	if err := db.DeleteSessions(ctx); err != nil {
		t.Fatalf("DeleteSessions failed: %v", err)
	}
	list, _ = db.ListSessions(ctx, 10)
	if len(list) != 0 {
		t.Errorf("Expected no sessions after delete, got %d", len(list))
	}
}
