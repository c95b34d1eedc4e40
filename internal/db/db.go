// Package db opens the agent's SQLite database and applies its embedded
// migrations.
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB owns the single SQLite connection shared by the run repository.
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

// sqlitePragmas are applied to every new connection. WAL keeps dashboard
// reads from blocking on a long shot update.
var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
}

// New opens (creating if needed) the database at dbPath, migrates it, and
// fails any work a previous process left half done.
func New(dbPath string, logger *slog.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	conn, err := open(dbPath)
	if err != nil {
		return nil, err
	}

	d := &DB{conn: conn, logger: logger}
	if err := d.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if err := d.markInterrupted(); err != nil && logger != nil {
		logger.Warn("failed to mark interrupted work", "error", err)
	}
	return d, nil
}

func open(dbPath string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer; the repository serializes through this connection.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	for _, pragma := range sqlitePragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return conn, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) Conn() *sql.DB {
	return d.conn
}

// migrate applies embedded migrations in file-name order, each inside its
// own transaction together with its _migrations record.
func (d *DB) migrate(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}

	applied, err := d.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || applied[name] {
			continue
		}
		script, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if err := d.apply(ctx, name, string(script)); err != nil {
			return err
		}
		if d.logger != nil {
			d.logger.Info("applied migration", "name", name)
		}
	}
	return nil
}

func (d *DB) apply(ctx context.Context, name, script string) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("execute %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO _migrations (name) VALUES (?)", name); err != nil {
		return fmt.Errorf("record %s: %w", name, err)
	}
	return tx.Commit()
}

// appliedMigrations returns the recorded migration names. A fresh database
// has no _migrations table yet and reports none.
func (d *DB) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	var table string
	err := d.conn.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = '_migrations'").Scan(&table)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check migrations table: %w", err)
	}

	rows, err := d.conn.QueryContext(ctx, "SELECT name FROM _migrations")
	if err != nil {
		return nil, fmt.Errorf("load applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// markInterrupted fails runs and generations that were in progress when the
// agent last stopped. Their tasks did not survive the restart.
func (d *DB) markInterrupted() error {
	ctx := context.Background()
	const msg = "interrupted by restart"

	runs, err := d.conn.ExecContext(ctx,
		`UPDATE runs SET status = 'failed', error = ?, updated_at = ? WHERE status IN ('sampling', 'analyzing')`,
		msg, now())
	if err != nil {
		return fmt.Errorf("runs: %w", err)
	}
	images, err := d.conn.ExecContext(ctx,
		`UPDATE shots SET image_state = 'failed', image_ref = NULL, image_error = ?, updated_at = ? WHERE image_state = 'generating'`,
		msg, now())
	if err != nil {
		return fmt.Errorf("shot images: %w", err)
	}
	videos, err := d.conn.ExecContext(ctx,
		`UPDATE shots SET video_state = 'failed', video_ref = NULL, video_error = ?, updated_at = ? WHERE video_state = 'generating'`,
		msg, now())
	if err != nil {
		return fmt.Errorf("shot videos: %w", err)
	}

	if d.logger != nil {
		r, _ := runs.RowsAffected()
		i, _ := images.RowsAffected()
		v, _ := videos.RowsAffected()
		if r+i+v > 0 {
			d.logger.Warn("marked interrupted work as failed", "runs", r, "images", i, "videos", v)
		}
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
