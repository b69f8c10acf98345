package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by SQL-backed stores after Close.
var ErrClosed = errors.New("store is closed")

// dialect holds the statements that differ between SQL backends.
type dialect struct {
	schema      []string
	setArchived string
	// isDuplicate reports a primary-key violation on insert, which means
	// another writer appended the same Seq first.
	isDuplicate func(error) bool
}

// sqlLog implements the Store contract over database/sql. SQLiteStore and
// MySQLStore embed it and only supply the connection and dialect.
type sqlLog[S any] struct {
	db      *sql.DB
	dialect dialect
	mu      sync.RWMutex
	closed  bool
}

func (s *sqlLog[S]) createTables(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

func (s *sqlLog[S]) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Append inserts cp inside a transaction after checking the thread's latest
// Seq. The (thread_id, seq) primary key backs up the check for writers in
// other processes.
func (s *sqlLog[S]) Append(ctx context.Context, cp Checkpoint[S]) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var latest int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM checkpoints WHERE thread_id = ?`,
		cp.ThreadID,
	).Scan(&latest)
	if err != nil {
		return fmt.Errorf("failed to read latest seq: %w", err)
	}
	if cp.Seq != latest+1 {
		return ErrConflict
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO checkpoints (thread_id, seq, checkpoint_id, node_id, state, interrupted)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		cp.ThreadID, cp.Seq, cp.ID, cp.NodeID, string(stateJSON), cp.Interrupted,
	)
	if err != nil {
		if s.dialect.isDuplicate != nil && s.dialect.isDuplicate(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

// Latest returns the checkpoint with the highest Seq.
func (s *sqlLog[S]) Latest(ctx context.Context, threadID string) (Checkpoint[S], error) {
	if err := s.checkOpen(); err != nil {
		return Checkpoint[S]{}, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT thread_id, seq, checkpoint_id, node_id, state, interrupted
		 FROM checkpoints WHERE thread_id = ? ORDER BY seq DESC LIMIT 1`,
		threadID,
	)
	cp, err := scanCheckpoint[S](row)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint[S]{}, ErrNotFound
	}
	return cp, err
}

// List returns every checkpoint for a thread in Seq order.
func (s *sqlLog[S]) List(ctx context.Context, threadID string) ([]Checkpoint[S], error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT thread_id, seq, checkpoint_id, node_id, state, interrupted
		 FROM checkpoints WHERE thread_id = ? ORDER BY seq ASC`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint[S]
	for rows.Next() {
		cp, err := scanCheckpoint[S](rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", err)
	}
	return out, nil
}

// Threads groups checkpoints by thread. max(checkpoint_id) orders the
// listing; min(checkpoint_id) supplies the creation time.
func (s *sqlLog[S]) Threads(ctx context.Context, limit int) ([]ThreadInfo, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `SELECT c.thread_id,
		       MIN(c.checkpoint_id) AS first_checkpoint_id,
		       MAX(c.checkpoint_id) AS latest_checkpoint_id,
		       COALESCE(MAX(tm.is_archived), 0) AS is_archived
		FROM checkpoints c
		LEFT JOIN threads_meta tm ON c.thread_id = tm.thread_id
		GROUP BY c.thread_id
		ORDER BY latest_checkpoint_id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query threads: %w", err)
	}
	defer rows.Close()

	var out []ThreadInfo
	for rows.Next() {
		var id, first, latest string
		var archived bool
		if err := rows.Scan(&id, &first, &latest, &archived); err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		out = append(out, newThreadInfo(id, first, latest, archived))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate threads: %w", err)
	}
	return out, nil
}

// Archived reads the metadata row for a thread.
func (s *sqlLog[S]) Archived(ctx context.Context, threadID string) (bool, bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, false, err
	}

	var archived bool
	err := s.db.QueryRowContext(ctx,
		`SELECT is_archived FROM threads_meta WHERE thread_id = ?`, threadID,
	).Scan(&archived)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to read thread metadata: %w", err)
	}
	return archived, true, nil
}

// SetArchived upserts the metadata row for a thread.
func (s *sqlLog[S]) SetArchived(ctx context.Context, threadID string, archived bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.setArchived, threadID, archived); err != nil {
		return fmt.Errorf("failed to update thread metadata: %w", err)
	}
	return nil
}

// DeleteThread removes checkpoints and metadata in one transaction.
func (s *sqlLog[S]) DeleteThread(ctx context.Context, threadID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM threads_meta WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("failed to delete thread metadata: %w", err)
	}
	return tx.Commit()
}

// Close closes the database connection. Subsequent calls return ErrClosed.
func (s *sqlLog[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint[S any](row rowScanner) (Checkpoint[S], error) {
	var cp Checkpoint[S]
	var stateJSON string
	if err := row.Scan(&cp.ThreadID, &cp.Seq, &cp.ID, &cp.NodeID, &stateJSON, &cp.Interrupted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cp, err
		}
		return cp, fmt.Errorf("failed to scan checkpoint: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
		return cp, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return cp, nil
}
