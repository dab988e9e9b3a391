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
// Designed for tests, development, and short-lived workflows where
// persistence across process restarts is not required. Checkpoints are
// deep-copied on the way in and out (JSON round-trip) so callers can never
// alias stored state.
//
// MemStore is safe for concurrent use.
type MemStore[S any] struct {
	mu       sync.RWMutex
	lineages map[string][]Checkpoint[S] // threadID -> checkpoints, step ascending
}

// NewMemStore creates an empty in-memory store.
//
//	st := store.NewMemStore[graph.State]()
//	eng := graph.NewEngine(g, st, emitter)
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{lineages: make(map[string][]Checkpoint[S])}
}

// Append adds a checkpoint to the thread's lineage. Fails with
// ErrDuplicateStep when the step already exists.
func (m *MemStore[S]) Append(_ context.Context, cp Checkpoint[S]) error {
	copied, err := copyCheckpoint(cp)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	lineage := m.lineages[cp.ThreadID]
	for _, existing := range lineage {
		if existing.Step == cp.Step {
			return fmt.Errorf("thread %q step %d: %w", cp.ThreadID, cp.Step, ErrDuplicateStep)
		}
	}

	lineage = append(lineage, copied)
	sort.Slice(lineage, func(i, j int) bool { return lineage[i].Step < lineage[j].Step })
	m.lineages[cp.ThreadID] = lineage
	return nil
}

// Latest returns the highest-step checkpoint for a thread.
func (m *MemStore[S]) Latest(_ context.Context, threadID string) (Checkpoint[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lineage := m.lineages[threadID]
	if len(lineage) == 0 {
		var zero Checkpoint[S]
		return zero, ErrNotFound
	}
	return copyCheckpoint(lineage[len(lineage)-1])
}

// Load returns the checkpoint at a specific step.
func (m *MemStore[S]) Load(_ context.Context, threadID string, step int) (Checkpoint[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, cp := range m.lineages[threadID] {
		if cp.Step == step {
			return copyCheckpoint(cp)
		}
	}
	var zero Checkpoint[S]
	return zero, ErrNotFound
}

// History returns the full lineage, step ascending.
func (m *MemStore[S]) History(_ context.Context, threadID string) ([]Checkpoint[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lineage := m.lineages[threadID]
	if len(lineage) == 0 {
		return nil, ErrNotFound
	}

	result := make([]Checkpoint[S], 0, len(lineage))
	for _, cp := range lineage {
		copied, err := copyCheckpoint(cp)
		if err != nil {
			return nil, err
		}
		result = append(result, copied)
	}
	return result, nil
}

// copyCheckpoint deep-copies via JSON so stored checkpoints never share
// mutable structure with the caller.
func copyCheckpoint[S any](cp Checkpoint[S]) (Checkpoint[S], error) {
	data, err := json.Marshal(cp)
	if err != nil {
		var zero Checkpoint[S]
		return zero, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	var out Checkpoint[S]
	if err := json.Unmarshal(data, &out); err != nil {
		var zero Checkpoint[S]
		return zero, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return out, nil
}
