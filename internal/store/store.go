// Package store manages the SQLite catalog (WAL mode) of recorded
// sessions and transfer outcomes. The catalog is advisory: transfer file
// resolution scans the session directory, since the catalog may lag a
// crash by up to one header flush.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// DB wraps *sql.DB with domain helpers.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the SQLite file at path with WAL journal mode.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000", path)
	raw, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := raw.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	// Limit writer concurrency to 1; SQLite WAL allows concurrent readers.
	raw.SetMaxOpenConns(1)
	return &DB{raw}, nil
}

// Migrate applies the embedded DDL schema to the database.
// It is idempotent (IF NOT EXISTS everywhere).
func Migrate(db *DB) error {
	ddl := []string{
		ddlSessions,
		ddlTransfers,
	}
	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// Session is one catalog row for a recorded session file.
type Session struct {
	ID           int64     `json:"id"`
	Path         string    `json:"path"`
	SampleRateHz uint32    `json:"sample_rate_hz"`
	SampleCount  int64     `json:"sample_count"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at,omitempty"`
	Finalized    bool      `json:"finalized"`
}

// Transfer is one catalog row for a finished transfer attempt.
type Transfer struct {
	ID          int64     `json:"id"`
	SessionPath string    `json:"session_path"`
	Status      string    `json:"status"`
	BytesSent   int64     `json:"bytes_sent"`
	Frames      int64     `json:"frames"`
	CompletedAt time.Time `json:"completed_at"`
}

// InsertSession registers a newly created session file.
func (db *DB) InsertSession(path string, sampleRateHz uint32, startedAt time.Time) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO sessions (path, sample_rate, started_at)
		VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE
		  SET sample_rate = excluded.sample_rate,
		      started_at  = excluded.started_at,
		      sample_count = 0,
		      ended_at     = 0,
		      finalized    = 0`,
		path, sampleRateHz, startedAt.UnixMicro(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert session: %w", err)
	}
	return res.LastInsertId()
}

// FinalizeSession records the true final count and end time for a session.
func (db *DB) FinalizeSession(path string, sampleCount int64, endedAt time.Time) error {
	_, err := db.Exec(`
		UPDATE sessions
		   SET sample_count = ?, ended_at = ?, finalized = 1
		 WHERE path = ?`,
		sampleCount, endedAt.UnixMicro(), path,
	)
	if err != nil {
		return fmt.Errorf("store: finalize session: %w", err)
	}
	return nil
}

// ListSessions returns the n most recently started sessions.
func (db *DB) ListSessions(n int) ([]*Session, error) {
	rows, err := db.Query(`
		SELECT id, path, sample_rate, sample_count, started_at, ended_at, finalized
		  FROM sessions
		 ORDER BY started_at DESC
		 LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var (
			s                Session
			startUS, endUS   int64
			finalized        int
		)
		if err := rows.Scan(&s.ID, &s.Path, &s.SampleRateHz, &s.SampleCount, &startUS, &endUS, &finalized); err != nil {
			return nil, err
		}
		s.StartedAt = time.UnixMicro(startUS).UTC()
		if endUS != 0 {
			s.EndedAt = time.UnixMicro(endUS).UTC()
		}
		s.Finalized = finalized != 0
		out = append(out, &s)
	}
	return out, rows.Err()
}

// RecordTransfer logs the terminal outcome of one transfer attempt.
func (db *DB) RecordTransfer(sessionPath, status string, bytesSent, frames int64) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO transfers (session_path, status, bytes_sent, frames, completed_at)
		VALUES (?, ?, ?, ?, ?)`,
		sessionPath, status, bytesSent, frames, time.Now().UTC().UnixMicro(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: record transfer: %w", err)
	}
	return res.LastInsertId()
}

// ListTransfers returns the n most recent transfer outcomes.
func (db *DB) ListTransfers(n int) ([]*Transfer, error) {
	rows, err := db.Query(`
		SELECT id, session_path, status, bytes_sent, frames, completed_at
		  FROM transfers
		 ORDER BY completed_at DESC, id DESC
		 LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("store: list transfers: %w", err)
	}
	defer rows.Close()

	var out []*Transfer
	for rows.Next() {
		var (
			t    Transfer
			usec int64
		)
		if err := rows.Scan(&t.ID, &t.SessionPath, &t.Status, &t.BytesSent, &t.Frames, &usec); err != nil {
			return nil, err
		}
		t.CompletedAt = time.UnixMicro(usec).UTC()
		out = append(out, &t)
	}
	return out, rows.Err()
}

// ── DDL statements ────────────────────────────────────────────────────────

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    path         TEXT    NOT NULL UNIQUE,
    sample_rate  INTEGER NOT NULL,
    sample_count INTEGER NOT NULL DEFAULT 0,
    started_at   INTEGER NOT NULL,          -- Unix microseconds
    ended_at     INTEGER NOT NULL DEFAULT 0,
    finalized    INTEGER NOT NULL DEFAULT 0 -- bool: 0 = recording, 1 = finalized
);
CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions (started_at DESC);
`

const ddlTransfers = `
CREATE TABLE IF NOT EXISTS transfers (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_path TEXT    NOT NULL,
    status       TEXT    NOT NULL,
    bytes_sent   INTEGER NOT NULL DEFAULT 0,
    frames       INTEGER NOT NULL DEFAULT 0,
    completed_at INTEGER NOT NULL           -- Unix microseconds
);
CREATE INDEX IF NOT EXISTS idx_transfers_completed_at ON transfers (completed_at DESC);
`
