package emit

// Emitter receives observability events from workflow execution.
//
// Implementations should be:
//   - Non-blocking: never slow down or stall the engine
//   - Thread-safe: may be called concurrently from multiple threads
//   - Resilient: handle backend failures internally, never panic
//
// Useful compositions include buffering (BufferedEmitter), discarding
// (NullEmitter), structured logging (LogEmitter), and tracing
// (OTelEmitter).
type Emitter interface {
	// Emit delivers one event. Emit must not panic; delivery errors are an
	// emitter-internal concern.
	Emit(event Event)
}
