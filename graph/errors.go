package graph

import (
	"errors"
	"fmt"
)

// ErrMaxSteps indicates that a run reached the configured step ceiling
// without hitting a terminal edge. This bounds runaway executions beyond
// the round-counter loop guard.
var ErrMaxSteps = errors.New("execution exceeded maximum steps limit")

// ErrLoopInvariant indicates that a loop-back edge was traversed without
// the round counter increasing during the wave that triggered it. Every
// declared loop must advance the counter or the run is aborted rather than
// allowed to spin.
var ErrLoopInvariant = errors.New("loop-back taken without round counter increase")

// ErrInvalidRetryPolicy indicates a retry policy whose fields violate the
// documented constraints.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy configuration")

// StructuralError reports a defect in the graph shape itself: an edge to an
// unknown node, an undeclared cycle, an unreachable node, a conditional
// route with a dangling target, or a runtime route label the graph does not
// declare. Structural errors found at compile time prevent the graph from
// ever running; one found at runtime fails the thread.
type StructuralError struct {
	// Subject names the node, edge, or label at fault.
	Subject string

	// Reason describes the defect.
	Reason string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("graph structure: %s: %s", e.Subject, e.Reason)
}

// ConfigurationError reports invalid engine or builder configuration, such
// as a missing store, an entry node that was never set, or a delta writing
// a field the node never declared.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "graph config: " + e.Reason
}

// NodeError wraps a failure from a node execution with the node's name and
// the step at which it ran. The engine returns a NodeError after retries
// are exhausted; Unwrap exposes the underlying cause for errors.Is checks.
type NodeError struct {
	Node     string
	Step     int
	Attempts int
	Err      error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q failed at step %d after %d attempt(s): %v", e.Node, e.Step, e.Attempts, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}
