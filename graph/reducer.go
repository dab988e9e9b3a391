// Package graph provides a deterministic workflow engine that executes a
// fixed directed graph of nodes over shared, versioned session state.
package graph

import (
	"fmt"
	"sort"
)

// Reducer merges an incoming field value from a node delta into the current
// value of that field. Reducers run only inside the engine's merge phase;
// they must be pure functions of their inputs.
//
// current is the value already in the session state (nil if the field is
// unset), incoming is the value the node wrote. The returned value replaces
// the field.
type Reducer func(current, incoming any) (any, error)

// Reducers maps field names to the reducer that governs writes to that
// field. Fields with no entry fall back to Overwrite.
//
// The registry is fixed when the graph compiles; at runtime the engine
// rejects deltas that touch fields their node never declared.
type Reducers map[string]Reducer

// Overwrite replaces the current value with the incoming one. This is the
// default reducer and the right choice for set-once fields such as a final
// verdict.
func Overwrite(current, incoming any) (any, error) {
	return incoming, nil
}

// AppendSequence appends the incoming elements to the current ordered
// sequence. The incoming value may be a single element or a slice; a slice
// is flattened so that {a} then {b, c} yields [a b c].
//
// Appending preserves arrival order, which the engine has already fixed to
// fan-out declaration order, so concurrent writers of the same list field
// always produce the same final sequence.
func AppendSequence(current, incoming any) (any, error) {
	out, ok := asSequence(current)
	if !ok && current != nil {
		return nil, fmt.Errorf("append reducer: current value %T is not a sequence", current)
	}

	if add, ok := asSequence(incoming); ok {
		return append(out, add...), nil
	}
	return append(out, incoming), nil
}

// MaxScalar keeps the larger of the current and incoming numeric values.
// Used for monotonic counters such as the round number, where concurrent
// branches may each report a count and the merged state must never move
// backwards.
func MaxScalar(current, incoming any) (any, error) {
	in, ok := asNumber(incoming)
	if !ok {
		return nil, fmt.Errorf("max reducer: incoming value %T is not numeric", incoming)
	}

	cur, ok := asNumber(current)
	if !ok {
		// Field unset so far; take the incoming value.
		return in, nil
	}

	if in > cur {
		return in, nil
	}
	return cur, nil
}

// merge applies a sequence of node deltas to the state in order, routing
// every field write through its registered reducer. Deltas are applied in
// the order given (fan-out declaration order); within one delta, fields are
// applied in sorted name order so map iteration never affects the result.
//
// The state is mutated in place. Callers pass a private snapshot.
func merge(state State, reducers Reducers, deltas []Delta) error {
	for _, delta := range deltas {
		fields := make([]string, 0, len(delta))
		for f := range delta {
			fields = append(fields, f)
		}
		sort.Strings(fields)

		for _, f := range fields {
			reducer := reducers[f]
			if reducer == nil {
				reducer = Overwrite
			}

			merged, err := reducer(state[f], delta[f])
			if err != nil {
				return fmt.Errorf("merging field %q: %w", f, err)
			}
			state[f] = merged
		}
	}
	return nil
}
