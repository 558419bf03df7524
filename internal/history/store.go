// Package history persists finished transcripts to a local SQLite database
// so past dictations can be recalled after delivery. Only sessions that
// produced text are recorded; aborted and empty sessions leave no trace.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// schemaVersion is the newest database layout this build understands.
const schemaVersion = 1

// defaultRecentLimit caps Recent queries that pass a non-positive limit.
const defaultRecentLimit = 10

// Entry is one recorded transcript.
type Entry struct {
	ID        int64
	Timestamp time.Time
	Text      string
	Model     string
	Duration  time.Duration
	Language  string
	SessionID string
}

// Store provides read-write access to the transcript history database.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the default database path under the user's home
// directory.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tapscribe", "history.db")
}

// Open opens (creating if necessary) the history database at path and
// migrates it to the current schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Record inserts one transcript entry.
func (s *Store) Record(ctx context.Context, e Entry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO history (timestamp, text, model, duration_seconds, language, session_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, timeToUnix(ts), e.Text, e.Model, e.Duration.Seconds(), e.Language, e.SessionID)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. Non-positive limits fall
// back to a small default.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, text, model, duration_seconds, language, session_id
		FROM history
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			timestamp float64
			seconds   float64
		)
		if err := rows.Scan(&e.ID, &timestamp, &e.Text, &e.Model, &seconds, &e.Language, &e.SessionID); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		e.Timestamp = timeFromUnix(timestamp)
		e.Duration = time.Duration(seconds * float64(time.Second))
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// migrate creates the schema on first open and rejects databases written by
// a newer build.
func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp REAL NOT NULL,
			text TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			duration_seconds REAL NOT NULL DEFAULT 0,
			language TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_history_timestamp ON history(timestamp);
	`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var version int
	err = db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("write schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case version > schemaVersion:
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, schemaVersion)
	}
	return nil
}

func timeToUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
