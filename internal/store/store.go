// Package store persists jobs, materialized items, and the model call audit
// log in an embedded SQLite database. All job state transitions are single
// UPDATE statements so readers never observe a torn update.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrRetryCeiling indicates a retry was refused because the job has
	// exhausted its retry budget.
	ErrRetryCeiling = errors.New("retry ceiling reached")
)

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and configures WAL
// mode. Call Migrate before first use.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configuring database (%s): %w", pragma, err)
		}
	}
	return &Store{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS jobs (
	id                 TEXT PRIMARY KEY,
	filename           TEXT NOT NULL,
	mime_type          TEXT NOT NULL,
	file_size          INTEGER NOT NULL,
	content_path       TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'queued',
	current_stage      TEXT NOT NULL DEFAULT 'classification',
	progress           TEXT,
	classification     TEXT,
	raw_extraction     TEXT,
	raw_review         TEXT,
	specialized        TEXT,
	specialized_review TEXT,
	population         TEXT,
	error              TEXT NOT NULL DEFAULT '',
	retry_count        INTEGER NOT NULL DEFAULT 0,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at       DATETIME
);

CREATE TABLE IF NOT EXISTS items (
	id               TEXT PRIMARY KEY,
	job_id           TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	type             TEXT NOT NULL,
	section          TEXT NOT NULL,
	content          TEXT NOT NULL,
	confidence       REAL NOT NULL,
	status           TEXT NOT NULL DEFAULT 'PENDING',
	source_quote     TEXT NOT NULL DEFAULT '',
	source_speaker   TEXT NOT NULL DEFAULT '',
	source_timestamp TEXT NOT NULL DEFAULT '',
	structured       TEXT,
	edited           INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS llm_calls (
	id                TEXT PRIMARY KEY,
	gateway           TEXT NOT NULL,
	model             TEXT NOT NULL,
	kind              TEXT NOT NULL,
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	duration_ms       INTEGER NOT NULL DEFAULT 0,
	attempts          INTEGER NOT NULL DEFAULT 0,
	error_kind        TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_items_job_id ON items(job_id);
CREATE INDEX IF NOT EXISTS idx_items_section ON items(section);
CREATE INDEX IF NOT EXISTS idx_llm_calls_created_at ON llm_calls(created_at);
`

// Migrate applies the schema. Safe to call on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, migration); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// dbtx abstracts *sql.DB and *sql.Tx so single-statement transitions can
// also run inside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// checkAffected converts a zero-row UPDATE/DELETE into ErrNotFound.
func checkAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
