// Package cdr stores call detail records of finished channels in SQLite.
package cdr

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// ErrDuplicate is returned when a channel already has a record.
var ErrDuplicate = errors.New("cdr: record already exists")

const schema = `
CREATE TABLE IF NOT EXISTS call_records (
	channel_id    TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	extension     TEXT NOT NULL,
	caller_number TEXT NOT NULL,
	caller_name   TEXT NOT NULL,
	inbound       INTEGER NOT NULL,
	disposition   TEXT NOT NULL,
	cause         INTEGER NOT NULL,
	cause_text    TEXT NOT NULL,
	recording     TEXT NOT NULL,
	started_at    INTEGER NOT NULL,
	ended_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS call_records_ended_at ON call_records (ended_at);
`

// CallRecord describes one destroyed channel.
type CallRecord struct {
	ChannelID    string
	Name         string
	Extension    string
	CallerNumber string
	CallerName   string
	Inbound      bool
	// Disposition is what the application did with the call, e.g.
	// "redirected" or "voicemail".
	Disposition string
	Cause       int
	CauseText   string
	Recording   string
	StartedAt   time.Time
	EndedAt     time.Time
}

// Duration is the time between entering the application and destruction.
func (r CallRecord) Duration() time.Duration {
	if r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Store persists call records in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the database at path and creates the schema when missing.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Insert stores rec. A second record for the same channel fails with
// ErrDuplicate.
func (s *Store) Insert(ctx context.Context, rec CallRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	channelID := strings.TrimSpace(rec.ChannelID)
	if channelID == "" {
		return fmt.Errorf("channel id is required")
	}
	inbound := 0
	if rec.Inbound {
		inbound = 1
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO call_records (
	channel_id, name, extension, caller_number, caller_name, inbound,
	disposition, cause, cause_text, recording, started_at, ended_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		channelID, rec.Name, rec.Extension, rec.CallerNumber, rec.CallerName, inbound,
		rec.Disposition, rec.Cause, rec.CauseText, rec.Recording,
		toMillis(rec.StartedAt), toMillis(rec.EndedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert call record: %w", err)
	}
	return nil
}

// List returns up to limit records, most recently ended first.
func (s *Store) List(ctx context.Context, limit int) ([]CallRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT channel_id, name, extension, caller_number, caller_name, inbound,
	disposition, cause, cause_text, recording, started_at, ended_at
FROM call_records
ORDER BY ended_at DESC, channel_id
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query call records: %w", err)
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		var (
			rec            CallRecord
			inbound        int
			started, ended int64
		)
		if err := rows.Scan(&rec.ChannelID, &rec.Name, &rec.Extension, &rec.CallerNumber,
			&rec.CallerName, &inbound, &rec.Disposition, &rec.Cause, &rec.CauseText,
			&rec.Recording, &started, &ended); err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		rec.Inbound = inbound != 0
		rec.StartedAt = fromMillis(started)
		rec.EndedAt = fromMillis(ended)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call records: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
