package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store[S].
//
// It keeps the checkpoint log in a single-file database and is the default
// durable backend: threads survive process restarts and can be resumed from
// their last checkpoint.
//
// Schema:
//   - checkpoints: (thread_id, seq) primary key, time-ordered checkpoint_id,
//     node_id, JSON state and interrupted flag
//   - threads_meta: per-thread metadata (archived flag)
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type SQLiteStore[S any] struct {
	sqlLog[S]
	path string
}

// NewSQLiteStore opens (or creates) a SQLite database at path.
//
// Use ":memory:" for a throwaway database in tests. WAL mode and a busy
// timeout are enabled, and the pool is limited to one connection since
// SQLite supports one writer at a time.
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	s := &SQLiteStore[S]{
		sqlLog: sqlLog[S]{db: db, dialect: sqliteDialect},
		path:   path,
	}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore[S]) Path() string {
	return s.path
}

var sqliteDialect = dialect{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			checkpoint_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			state TEXT NOT NULL,
			interrupted INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (thread_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_id ON checkpoints(thread_id, checkpoint_id)`,
		`CREATE TABLE IF NOT EXISTS threads_meta (
			thread_id TEXT PRIMARY KEY,
			is_archived INTEGER NOT NULL DEFAULT 0
		)`,
	},
	setArchived: `INSERT INTO threads_meta (thread_id, is_archived) VALUES (?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET is_archived = excluded.is_archived`,
	isDuplicate: func(err error) bool {
		return strings.Contains(err.Error(), "UNIQUE constraint failed")
	},
}
