// Package auditlog is a supplemental, non-authoritative SQLite event log of
// registrations, disconnects, heartbeat timeouts, and attacks. It never
// gates gameplay: the gamestate package remains the single source of truth.
package auditlog

import (
	"database/sql"
	"fmt"
	"log"

	_ "modernc.org/sqlite"
)

// migrations holds the ordered list of DDL statements that bring the schema
// up to date. Index i corresponds to version i+1. To add a migration,
// append a new string — never edit or reorder existing entries.
var migrations = []string{
	// v1 — event log
	`CREATE TABLE IF NOT EXISTS events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		player_id  TEXT NOT NULL,
		event      TEXT NOT NULL,
		detail     TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v2 — index for recent-event queries
	`CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at)`,
	// v3 — enable WAL mode
	`PRAGMA journal_mode=WAL`,
}

// Log wraps a SQLite database recording gameplay events.
type Log struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies any
// pending migrations. Use ":memory:" for ephemeral in-process storage.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("auditlog: open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		log.Printf("[auditlog] busy_timeout: %v (non-fatal)", err)
	}

	l := &Log{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("auditlog: migrate: %w", err)
	}
	return l, nil
}

func (l *Log) migrate() error {
	_, err := l.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := l.db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := l.db.Exec(
			`INSERT INTO schema_migrations(version) VALUES(?)`, v,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		log.Printf("[auditlog] applied migration v%d", v)
	}
	return nil
}

// Close releases the database connection.
func (l *Log) Close() error {
	return l.db.Close()
}

// Record inserts one event row. Failures are logged, not returned, since the
// audit log must never block or fail gameplay (spec §4.11's persistence
// philosophy extended to this supplemental store).
func (l *Log) Record(playerID, event, detail string) {
	if _, err := l.db.Exec(
		`INSERT INTO events(player_id, event, detail) VALUES(?,?,?)`,
		playerID, event, detail,
	); err != nil {
		log.Printf("[auditlog] insert failed: %v", err)
	}
}

// Entry represents one row in the events table.
type Entry struct {
	ID        int64
	PlayerID  string
	Event     string
	Detail    string
	CreatedAt int64
}

// Recent returns the most recent entries, optionally filtered by event kind.
// Pass event="" to return all kinds.
func (l *Log) Recent(event string, limit int) ([]Entry, error) {
	var rows *sql.Rows
	var err error
	if event != "" {
		rows, err = l.db.Query(
			`SELECT id, player_id, event, detail, created_at FROM events WHERE event = ? ORDER BY id DESC LIMIT ?`,
			event, limit,
		)
	} else {
		rows, err = l.db.Query(
			`SELECT id, player_id, event, detail, created_at FROM events ORDER BY id DESC LIMIT ?`,
			limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.PlayerID, &e.Event, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
