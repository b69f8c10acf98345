package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a thread has no checkpoints.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by Append when the thread advanced past the
	// sequence the caller expected. Exactly one of two racing writers wins.
	ErrConflict = errors.New("checkpoint conflict")
)

// Store is a durable, append-only checkpoint log keyed by thread.
//
// Checkpoints for a thread form a totally ordered sequence. Each one carries
// the full state snapshot, so the latest entry alone is enough to resume a
// thread after a process restart.
//
// Implementations must be safe for concurrent use by multiple threads. Writes
// for a single thread are expected to come from a single writer at a time;
// Append's sequence check turns a violation of that discipline into
// ErrConflict instead of a forked history.
//
// Type parameter S is the state type to persist (must be JSON-serializable
// for the durable backends).
type Store[S any] interface {
	// Append adds cp to its thread's log. cp.Seq must be exactly one greater
	// than the thread's current latest Seq (or 1 for a new thread), otherwise
	// ErrConflict is returned and nothing is written.
	Append(ctx context.Context, cp Checkpoint[S]) error

	// Latest returns the most recent checkpoint for a thread, or ErrNotFound.
	Latest(ctx context.Context, threadID string) (Checkpoint[S], error)

	// List returns every checkpoint for a thread in sequence order.
	List(ctx context.Context, threadID string) ([]Checkpoint[S], error)

	// Threads returns up to limit threads ordered by latest checkpoint,
	// newest first. A limit <= 0 means no limit.
	Threads(ctx context.Context, limit int) ([]ThreadInfo, error)

	// Archived reports the archived flag and whether a metadata row exists.
	Archived(ctx context.Context, threadID string) (archived bool, found bool, err error)

	// SetArchived records the archived flag for a thread.
	SetArchived(ctx context.Context, threadID string, archived bool) error

	// DeleteThread removes all checkpoints and metadata for a thread.
	DeleteThread(ctx context.Context, threadID string) error
}

// Checkpoint is an immutable snapshot of a thread's state taken after a step.
type Checkpoint[S any] struct {
	// ThreadID identifies the thread this checkpoint belongs to.
	ThreadID string `json:"thread_id"`

	// ID is a time-ordered identifier (UUID version 6). IDs increase with Seq.
	ID string `json:"checkpoint_id"`

	// Seq is the 1-based position in the thread's sequence.
	Seq int `json:"seq"`

	// NodeID names the step that produced this snapshot.
	NodeID string `json:"node_id"`

	// State is the full state after NodeID's update was applied.
	State S `json:"state"`

	// Interrupted marks a checkpoint taken at an interrupt point that has
	// not been resumed yet.
	Interrupted bool `json:"interrupted"`
}

// Time returns the wall-clock creation time encoded in the checkpoint ID.
func (c Checkpoint[S]) Time() time.Time {
	return CheckpointTime(c.ID)
}

// ThreadInfo summarizes a thread for listings.
type ThreadInfo struct {
	ID                 string    `json:"id"`
	FirstCheckpointID  string    `json:"first_checkpoint_id"`
	LatestCheckpointID string    `json:"latest_checkpoint_id"`
	CreatedAt          time.Time `json:"created_at"`
	Archived           bool      `json:"is_archived"`
}

// newThreadInfo derives CreatedAt from the first checkpoint ID so no separate
// timestamp column is needed.
func newThreadInfo(threadID, first, latest string, archived bool) ThreadInfo {
	return ThreadInfo{
		ID:                 threadID,
		FirstCheckpointID:  first,
		LatestCheckpointID: latest,
		CreatedAt:          CheckpointTime(first),
		Archived:           archived,
	}
}
