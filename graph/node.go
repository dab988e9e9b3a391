package graph

import "context"

// Node is a unit of work in the graph. A node receives a private snapshot
// of the session state and returns a delta containing only the fields it
// writes. Nodes never mutate the snapshot they receive and never see writes
// from nodes running in the same wave.
//
// Run must honor ctx cancellation: the engine wraps each execution in the
// configured per-node timeout and abandons work whose deadline has passed.
type Node interface {
	// Run executes the node against a read-only state snapshot and returns
	// the partial update to merge, or an error. A nil, nil return is valid
	// and means the node had nothing to write.
	Run(ctx context.Context, state State) (Delta, error)
}

// NodeFunc adapts an ordinary function to the Node interface.
type NodeFunc func(ctx context.Context, state State) (Delta, error)

// Run implements Node.
func (f NodeFunc) Run(ctx context.Context, state State) (Delta, error) {
	return f(ctx, state)
}
