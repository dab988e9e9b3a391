package graph

import (
	"context"
	"fmt"
	"time"
)

// runWithTimeout executes a node under the configured per-node timeout.
// With no timeout configured the node runs directly under the parent
// context.
//
// Timeouts are cooperative: the node receives a deadline context and is
// expected to return promptly once it expires. After the node returns, the
// deadline is checked so a node that ignored cancellation still reports a
// timeout failure rather than a partial result.
func runWithTimeout(ctx context.Context, node Node, name string, state State, timeout time.Duration) (Delta, error) {
	if timeout <= 0 {
		return node.Run(ctx, state)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	delta, err := node.Run(timeoutCtx, state)

	if timeoutCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("node %q exceeded timeout of %v: %w", name, timeout, context.DeadlineExceeded)
	}

	return delta, err
}
