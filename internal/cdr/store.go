package cdr

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one call detail row.
type Record struct {
	SessionID string    `json:"session_id"`
	Contact   string    `json:"contact"`
	Direction string    `json:"direction"`
	Outcome   string    `json:"outcome"` // empty until the call resolves
	Detail    string    `json:"detail"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Store persists call detail records in a local SQLite database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS call_records (
	session_id TEXT PRIMARY KEY,
	contact    TEXT NOT NULL,
	direction  TEXT NOT NULL,
	outcome    TEXT NOT NULL DEFAULT '',
	detail     TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL,
	ended_at   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_call_records_started ON call_records(started_at DESC);
`

// Open opens or creates the store at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// RecordAttempt inserts a row for a call that just entered the application.
func (s *Store) RecordAttempt(ctx context.Context, sessionID, contact, direction string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO call_records(session_id, contact, direction, started_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(session_id) DO NOTHING`,
		sessionID, contact, direction, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// RecordOutcome resolves a call's row. The first resolution wins; later
// events for the same session leave the row untouched.
func (s *Store) RecordOutcome(ctx context.Context, sessionID, outcome, detail string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE call_records SET outcome = ?, detail = ?, ended_at = ?
WHERE session_id = ? AND outcome = ''`,
		outcome, detail, at.UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// ListRecent returns the most recent records, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, contact, direction, outcome, detail, started_at, COALESCE(ended_at, 0)
FROM call_records ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var started, ended int64
		if err := rows.Scan(&rec.SessionID, &rec.Contact, &rec.Direction, &rec.Outcome, &rec.Detail, &started, &ended); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.StartedAt = time.UnixMilli(started)
		if ended > 0 {
			rec.EndedAt = time.UnixMilli(ended)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
