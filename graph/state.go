package graph

import (
	"encoding/json"
	"fmt"
)

// Well-known session state fields managed by the engine itself.
//
// Every session carries a round counter and an ordered history log. Both are
// ordinary reducer-governed fields: the round counter merges with MaxScalar
// (monotonically non-decreasing) and the history log with AppendSequence.
const (
	// FieldRound is the monotonically non-decreasing round counter.
	FieldRound = "round"

	// FieldHistory is the append-only sequence of dialogue/events.
	FieldHistory = "history"
)

// State is the shared session state for one thread: a single record keyed by
// named fields. Nodes receive a read-only snapshot and return a Delta; all
// mutation happens inside the engine's merge phase.
//
// Values must survive a JSON round-trip losslessly, since checkpoints
// serialize the full state. Note that numbers decode back as float64; use
// the typed accessors (Round, Int, Float) rather than direct type asserts.
type State map[string]any

// Delta is a partial state update produced by a single node execution.
// It contains only the fields the node writes.
type Delta map[string]any

// Clone creates an independent deep copy of the state using a JSON
// round-trip. This works for any value the checkpoint store can persist,
// which is exactly the contract State demands.
func (s State) Clone() (State, error) {
	if s == nil {
		return State{}, nil
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}

	var copied State
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if copied == nil {
		copied = State{}
	}

	return copied, nil
}

// Round returns the current round counter, or 0 if unset.
func (s State) Round() int {
	n, ok := asNumber(s[FieldRound])
	if !ok {
		return 0
	}
	return int(n)
}

// History returns the ordered history log, or nil if unset.
func (s State) History() []any {
	seq, _ := asSequence(s[FieldHistory])
	return seq
}

// Int returns the named field coerced to int. Returns 0, false if the field
// is absent or not numeric.
func (s State) Int(field string) (int, bool) {
	n, ok := asNumber(s[field])
	if !ok {
		return 0, false
	}
	return int(n), true
}

// Float returns the named field coerced to float64.
func (s State) Float(field string) (float64, bool) {
	return asNumber(s[field])
}

// Text returns the named field as a string, or "" if absent or non-string.
func (s State) Text(field string) string {
	v, _ := s[field].(string)
	return v
}

// Seq returns the named field as an ordered sequence, or nil.
func (s State) Seq(field string) []any {
	seq, _ := asSequence(s[field])
	return seq
}

// asNumber coerces the numeric types that appear before and after a JSON
// round-trip into a float64.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// asSequence coerces slice values into []any. Typed slices are converted
// element by element so reducers see a uniform shape.
func asSequence(v any) ([]any, bool) {
	switch seq := v.(type) {
	case nil:
		return nil, false
	case []any:
		return seq, true
	case []string:
		out := make([]any, len(seq))
		for i, e := range seq {
			out[i] = e
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(seq))
		for i, e := range seq {
			out[i] = e
		}
		return out, true
	default:
		return nil, false
	}
}
