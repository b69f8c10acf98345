package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemStore is an in-memory implementation of Store[S].
//
// Designed for:
//   - Testing and development
//   - Short-lived processes where durability isn't required
//
// MemStore is thread-safe. Snapshots are deep-copied through JSON on the way
// in and out so callers can never alias stored state.
//
// Type parameter S is the state type to persist.
type MemStore[S any] struct {
	mu       sync.RWMutex
	threads  map[string][]Checkpoint[S] // threadID -> checkpoints ordered by Seq
	archived map[string]bool            // threadID -> archived flag
}

// NewMemStore creates a new in-memory store.
//
// Example:
//
//	st := store.NewMemStore[campaign.State]()
//	engine := graph.New(reducer, st, router)
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		threads:  make(map[string][]Checkpoint[S]),
		archived: make(map[string]bool),
	}
}

// Append adds a checkpoint if cp.Seq directly follows the thread's latest.
func (m *MemStore[S]) Append(_ context.Context, cp Checkpoint[S]) error {
	state, err := copyState(cp.State)
	if err != nil {
		return err
	}
	cp.State = state

	m.mu.Lock()
	defer m.mu.Unlock()

	if cp.Seq != len(m.threads[cp.ThreadID])+1 {
		return ErrConflict
	}
	m.threads[cp.ThreadID] = append(m.threads[cp.ThreadID], cp)
	return nil
}

// Latest returns the checkpoint with the highest Seq.
func (m *MemStore[S]) Latest(_ context.Context, threadID string) (Checkpoint[S], error) {
	m.mu.RLock()
	cps := m.threads[threadID]
	if len(cps) == 0 {
		m.mu.RUnlock()
		return Checkpoint[S]{}, ErrNotFound
	}
	cp := cps[len(cps)-1]
	m.mu.RUnlock()

	return copyCheckpoint(cp)
}

// List returns all checkpoints for a thread in Seq order.
func (m *MemStore[S]) List(_ context.Context, threadID string) ([]Checkpoint[S], error) {
	m.mu.RLock()
	cps := append([]Checkpoint[S](nil), m.threads[threadID]...)
	m.mu.RUnlock()

	out := make([]Checkpoint[S], 0, len(cps))
	for _, cp := range cps {
		c, err := copyCheckpoint(cp)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Threads lists threads newest-first by latest checkpoint ID.
func (m *MemStore[S]) Threads(_ context.Context, limit int) ([]ThreadInfo, error) {
	m.mu.RLock()
	infos := make([]ThreadInfo, 0, len(m.threads))
	for id, cps := range m.threads {
		if len(cps) == 0 {
			continue
		}
		infos = append(infos, newThreadInfo(id, cps[0].ID, cps[len(cps)-1].ID, m.archived[id]))
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LatestCheckpointID > infos[j].LatestCheckpointID
	})
	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}
	return infos, nil
}

// Archived reports the archived flag for a thread.
func (m *MemStore[S]) Archived(_ context.Context, threadID string) (bool, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	archived, ok := m.archived[threadID]
	return archived, ok, nil
}

// SetArchived records the archived flag for a thread.
func (m *MemStore[S]) SetArchived(_ context.Context, threadID string, archived bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archived[threadID] = archived
	return nil
}

// DeleteThread removes a thread's checkpoints and metadata.
func (m *MemStore[S]) DeleteThread(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, threadID)
	delete(m.archived, threadID)
	return nil
}

func copyCheckpoint[S any](cp Checkpoint[S]) (Checkpoint[S], error) {
	state, err := copyState(cp.State)
	if err != nil {
		return Checkpoint[S]{}, err
	}
	cp.State = state
	return cp, nil
}

// copyState deep-copies a state value through a JSON round-trip.
func copyState[S any](state S) (S, error) {
	var out S
	data, err := json.Marshal(state)
	if err != nil {
		return out, fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return out, nil
}
