// Package store provides durable, append-only checkpoint persistence for
// workflow threads.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested thread or checkpoint step does
// not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateStep is returned when a checkpoint is appended for a
// (thread, step) pair that already exists. Lineages are append-only and
// steps are never rewritten.
var ErrDuplicateStep = errors.New("checkpoint step already exists")

// Status is the lifecycle state a checkpoint records for its thread.
type Status string

const (
	// StatusRunning means the thread has more work pending.
	StatusRunning Status = "running"

	// StatusSuspended means the thread stopped at a wave boundary on
	// request and can be resumed.
	StatusSuspended Status = "suspended"

	// StatusCompleted means the thread reached a terminal edge.
	StatusCompleted Status = "completed"

	// StatusFailed means the thread stopped on an unrecoverable error.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status admits no further execution.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Checkpoint is one durable record in a thread's lineage: the full session
// state after a step's merge, plus the set of nodes ready to run next.
// Resuming a thread needs nothing beyond its latest checkpoint.
//
// Type parameter S is the state type (must be JSON-serializable).
type Checkpoint[S any] struct {
	// ThreadID identifies the workflow thread.
	ThreadID string `json:"thread_id"`

	// Step is the 1-indexed execution step this checkpoint concludes.
	Step int `json:"step"`

	// State is the complete session state after the step's merge.
	State S `json:"state"`

	// Pending lists the nodes ready to execute next, in activation order.
	// Empty for terminal checkpoints.
	Pending []string `json:"pending"`

	// Status is the thread lifecycle state at this checkpoint.
	Status Status `json:"status"`

	// CreatedAt is when the checkpoint was written.
	CreatedAt time.Time `json:"created_at"`
}

// Store persists checkpoint lineages keyed by thread.
//
// Implementations must be safe for concurrent use across threads; within
// one thread the engine serializes writes. Lineages are append-only: an
// Append for an existing (thread, step) pair fails with ErrDuplicateStep
// rather than overwriting history.
//
// Type parameter S is the state type to persist.
type Store[S any] interface {
	// Append writes one checkpoint to the thread's lineage.
	Append(ctx context.Context, cp Checkpoint[S]) error

	// Latest returns the checkpoint with the highest step for a thread.
	// Returns ErrNotFound for unknown threads.
	Latest(ctx context.Context, threadID string) (Checkpoint[S], error)

	// Load returns the checkpoint at a specific step of a thread's
	// lineage. Returns ErrNotFound if the thread or step does not exist.
	Load(ctx context.Context, threadID string, step int) (Checkpoint[S], error)

	// History returns a thread's full lineage ordered by step ascending.
	// Returns ErrNotFound for unknown threads.
	History(ctx context.Context, threadID string) ([]Checkpoint[S], error)
}
