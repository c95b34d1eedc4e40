package db

import (
	"database/sql"
	"path/filepath"
	"testing"
)

func TestNew_CreatesDatabase(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	tables := []string{"runs", "shots", "config", "_migrations"}
	for _, table := range tables {
		var name string
		err := database.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestNew_WALEnabled(t *testing.T) {
	database, err := New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	var journalMode string
	if err := database.Conn().QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("PRAGMA journal_mode error = %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}
}

func TestNew_MigrationsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db1, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("first New() error = %v", err)
	}
	db1.Close()

	db2, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer db2.Close()

	var count int
	if err := db2.Conn().QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations error = %v", err)
	}
	if count != 2 {
		t.Errorf("migration count = %d, want 2", count)
	}
}

func TestNew_ShotsCascadeWithRun(t *testing.T) {
	database, err := New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	conn := database.Conn()
	mustExec(t, conn, `
		INSERT INTO runs (id, source_kind, source, model, status, created_at, updated_at)
		VALUES ('r1', 'local', '/v.mp4', 'm', 'ready', datetime('now'), datetime('now'))`)
	mustExec(t, conn, `
		INSERT INTO shots (run_id, id, shot_number, updated_at) VALUES ('r1', 's1', 1, datetime('now'))`)
	mustExec(t, conn, `DELETE FROM runs WHERE id = 'r1'`)

	var n int
	if err := conn.QueryRow("SELECT COUNT(*) FROM shots").Scan(&n); err != nil {
		t.Fatalf("count shots error = %v", err)
	}
	if n != 0 {
		t.Errorf("shots left after run delete = %d, want 0", n)
	}
}

func TestMarkInterrupted(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db1, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	conn := db1.Conn()
	mustExec(t, conn, `
		INSERT INTO runs (id, source_kind, source, model, status, created_at, updated_at) VALUES
		('analyzing', 'remote', 'https://x', 'm', 'analyzing', datetime('now'), datetime('now')),
		('ready', 'local', '/v.mp4', 'm', 'ready', datetime('now'), datetime('now'))`)
	mustExec(t, conn, `
		INSERT INTO shots (run_id, id, shot_number, image_state, image_ref, video_state, updated_at) VALUES
		('ready', 's1', 1, 'ready', '{"asset":"a.png"}', 'generating', datetime('now')),
		('ready', 's2', 2, 'generating', NULL, 'empty', datetime('now'))`)
	db1.Close()

	db2, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer db2.Close()
	conn = db2.Conn()

	var status, errMsg string
	if err := conn.QueryRow("SELECT status, error FROM runs WHERE id = 'analyzing'").Scan(&status, &errMsg); err != nil {
		t.Fatalf("query run error = %v", err)
	}
	if status != "failed" || errMsg != "interrupted by restart" {
		t.Errorf("run = %s/%q, want failed/interrupted by restart", status, errMsg)
	}
	if err := conn.QueryRow("SELECT status FROM runs WHERE id = 'ready'").Scan(&status); err != nil || status != "ready" {
		t.Errorf("ready run status = %s (%v), want ready", status, err)
	}

	var imageState, videoState string
	if err := conn.QueryRow("SELECT image_state, video_state FROM shots WHERE id = 's1'").Scan(&imageState, &videoState); err != nil {
		t.Fatalf("query s1 error = %v", err)
	}
	if imageState != "ready" || videoState != "failed" {
		t.Errorf("s1 = %s/%s, want ready/failed", imageState, videoState)
	}
	if err := conn.QueryRow("SELECT image_state, video_state FROM shots WHERE id = 's2'").Scan(&imageState, &videoState); err != nil {
		t.Fatalf("query s2 error = %v", err)
	}
	if imageState != "failed" || videoState != "empty" {
		t.Errorf("s2 = %s/%s, want failed/empty", imageState, videoState)
	}
}

func mustExec(t *testing.T, conn *sql.DB, query string) {
	t.Helper()
	if _, err := conn.Exec(query); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}
