// Package storage is the SQLite-backed durable store: canonical records
// keyed by id, and the saved alerts evaluated by the sweeper.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Fixed-width UTC timestamps so stored values sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DB wraps SQLite database operations.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	storage := &DB{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return storage, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

func (d *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		kind TEXT NOT NULL,
		source TEXT NOT NULL,
		published_at TEXT NOT NULL,
		url TEXT NOT NULL,
		excerpt TEXT NOT NULL DEFAULT '',
		issuer TEXT NOT NULL DEFAULT '',
		amount REAL NOT NULL DEFAULT 0,
		first_synced_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_source ON records(source);
	CREATE INDEX IF NOT EXISTS idx_records_published ON records(published_at);

	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		keywords TEXT NOT NULL,
		source_filter TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_owner ON alerts(owner_id);

	CREATE TABLE IF NOT EXISTS alert_seen (
		alert_id TEXT NOT NULL REFERENCES alerts(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		record_id TEXT NOT NULL,
		PRIMARY KEY (alert_id, position)
	);
	`

	_, err := d.db.Exec(schema)
	return err
}
