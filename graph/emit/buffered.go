package emit

import "sync"

// BufferedEmitter stores events in memory, organized by thread, and offers
// query access for post-run inspection.
//
// Everything stays in memory, so long-running deployments should prefer a
// persistent backend or call Clear between runs.
//
// Example:
//
//	emitter := emit.NewBufferedEmitter()
//	eng := graph.NewEngine(g, store, emitter)
//	eng.Run(ctx, "thread-1", initial)
//
//	history := emitter.History("thread-1")
//	merges := emitter.HistoryWithFilter("thread-1", emit.HistoryFilter{Msg: "merge"})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // threadID -> events in emission order
}

// HistoryFilter selects a subset of a thread's events. Set fields combine
// with AND logic; zero values mean no constraint.
type HistoryFilter struct {
	// Node matches events whose Nodes list contains this name.
	Node string

	// Msg matches the event message exactly.
	Msg string

	// MinStep and MaxStep bound the step range inclusively.
	MinStep *int
	MaxStep *int
}

// NewBufferedEmitter creates an empty in-memory event buffer. Safe for
// concurrent use.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit appends the event to its thread's history.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.ThreadID] = append(b.events[event.ThreadID], event)
}

// History returns all events for a thread in emission order. The returned
// slice is a copy; never nil.
func (b *BufferedEmitter) History(threadID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[threadID]
	result := make([]Event, len(events))
	copy(result, events)
	return result
}

// HistoryWithFilter returns the thread's events matching the filter, in
// emission order. Never nil.
func (b *BufferedEmitter) HistoryWithFilter(threadID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[threadID] {
		if matchesFilter(event, filter) {
			result = append(result, event)
		}
	}
	return result
}

// Clear removes stored events for one thread, or for all threads when
// threadID is empty.
func (b *BufferedEmitter) Clear(threadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if threadID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, threadID)
}

func matchesFilter(event Event, filter HistoryFilter) bool {
	if filter.Node != "" {
		found := false
		for _, n := range event.Nodes {
			if n == filter.Node {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Msg != "" && event.Msg != filter.Msg {
		return false
	}
	if filter.MinStep != nil && event.Step < *filter.MinStep {
		return false
	}
	if filter.MaxStep != nil && event.Step > *filter.MaxStep {
		return false
	}
	return true
}
