// Package sqlite is the single-node storage backend. It implements the same
// persistence surface as the Postgres backend on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is how timestamps are stored: UTC, fixed-width, sortable.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Store persists madoguchi data in a SQLite database.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for an ephemeral database.
func New(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer at a time; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA foreign_keys=ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: configure: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS operators (
			id TEXT PRIMARY KEY,
			operator_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			role TEXT NOT NULL,
			api_key_hash TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS long_term_memory (
			user_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (user_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_log (
			id TEXT PRIMARY KEY,
			ticket_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT '',
			stage TEXT NOT NULL,
			entry_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			payload TEXT,
			content_hash TEXT NOT NULL,
			created_at TEXT NOT NULL,
			seq INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_log_ticket ON workflow_log(ticket_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS ticket_outcomes (
			ticket_id TEXT PRIMARY KEY,
			final_stage TEXT NOT NULL,
			outcome TEXT NOT NULL,
			completed_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			user_id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE COLLATE NOCASE,
			full_name TEXT NOT NULL DEFAULT '',
			tier TEXT NOT NULL DEFAULT 'standard',
			is_blocked INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			subscription_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES accounts(user_id),
			plan_type TEXT NOT NULL,
			status TEXT NOT NULL,
			monthly_quota INTEGER NOT NULL DEFAULT 4,
			start_date TEXT NOT NULL,
			end_date TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS reservations (
			reservation_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES accounts(user_id),
			status TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS refunds (
			refund_id TEXT PRIMARY KEY,
			reservation_id TEXT NOT NULL REFERENCES reservations(reservation_id),
			user_id TEXT NOT NULL,
			amount REAL NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			processed_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS support_operations (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			operation_id TEXT NOT NULL UNIQUE,
			operation TEXT NOT NULL,
			status TEXT NOT NULL,
			message TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: init schema: %w", err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}

func nowUTC() time.Time { return time.Now().UTC() }
