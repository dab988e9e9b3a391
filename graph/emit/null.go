package emit

// NullEmitter discards all events. Use it to disable observability output
// without changing engine wiring.
type NullEmitter struct{}

// NewNullEmitter creates an emitter that drops everything. Zero overhead,
// safe for concurrent use.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(event Event) {}
