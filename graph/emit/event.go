// Package emit provides the progress event stream for workflow execution.
//
// The engine emits ordered, append-only events per thread: wave dispatch,
// node completion, merge, checkpoint, suspension, resumption, terminal
// transitions. Emitters are best-effort observers; consuming events slowly
// or not at all never blocks or alters execution.
package emit

// Event is one observability record from a thread's execution.
type Event struct {
	// ThreadID identifies the workflow thread that emitted this event.
	ThreadID string

	// Step is the execution step the event belongs to (1-indexed). Zero for
	// thread-level events such as run start or terminal transitions.
	Step int

	// Nodes lists the node names involved, in wave declaration order.
	// Empty for thread-level events.
	Nodes []string

	// Msg names the event, e.g. "wave_start", "node_end", "merge",
	// "checkpoint", "suspended", "resumed", "completed", "failed".
	Msg string

	// Meta carries additional structured data. Common keys:
	//   - "duration_ms": wave or node duration in milliseconds
	//   - "error": failure details
	//   - "attempt": retry attempt number
	//   - "round": round counter after merge
	//   - "pending": next ready set recorded in the checkpoint
	Meta map[string]any
}
