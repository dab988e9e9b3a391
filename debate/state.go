// Package debate implements a multi-round debate coaching workflow on top
// of the graph engine. Each round, the user's argument is screened for
// logical fallacies, then three analysts run in parallel: a devil's
// advocate building counter-arguments, a Socratic questioner probing weak
// premises, and a judge scoring the argument. After a bounded number of
// rounds a coach synthesizes everything into a final report.
package debate

import "github.com/mhollis/flowstate/graph"

// Session state fields. The round counter and dialogue history reuse the
// engine's well-known fields.
const (
	// FieldTopic is the debate topic. Set once at intake.
	FieldTopic = "topic"

	// FieldPosition is the user's stated position. Set once at intake.
	FieldPosition = "user_position"

	// FieldFallacies accumulates detected logical fallacies across rounds.
	FieldFallacies = "logical_fallacies_found"

	// FieldScores accumulates per-round argument scores.
	FieldScores = "argument_scores"

	// FieldCounterArgs accumulates the devil's advocate counter-arguments.
	FieldCounterArgs = "devil_advocate_args"

	// FieldQuestions accumulates Socratic questions, used both for the
	// final report and to avoid repeating questions between rounds.
	FieldQuestions = "socratic_questions"

	// FieldTips accumulates coaching tips extracted from the final report.
	FieldTips = "coaching_tips"

	// FieldVerdict is the final coaching report. Written exactly once.
	FieldVerdict = "verdict"
)

// DefaultMaxRounds bounds the debate loop.
const DefaultMaxRounds = 3

// Reducers returns the field merge rules for a debate session: append-only
// lists for everything collected across rounds, a monotonic round counter,
// and overwrite semantics for the set-once fields.
func Reducers() graph.Reducers {
	return graph.Reducers{
		graph.FieldRound:   graph.MaxScalar,
		graph.FieldHistory: graph.AppendSequence,
		FieldFallacies:     graph.AppendSequence,
		FieldScores:        graph.AppendSequence,
		FieldCounterArgs:   graph.AppendSequence,
		FieldQuestions:     graph.AppendSequence,
		FieldTips:          graph.AppendSequence,
		FieldTopic:         graph.Overwrite,
		FieldPosition:      graph.Overwrite,
		FieldVerdict:       graph.Overwrite,
	}
}

// NewState builds the initial session state for a debate.
func NewState(topic, position string) graph.State {
	return graph.State{
		FieldTopic:    topic,
		FieldPosition: position,
	}
}

// historyEntry is one turn in the dialogue history, stored as a plain map
// so it survives checkpoint serialization unchanged.
func historyEntry(role, content string) map[string]any {
	return map[string]any{"role": role, "content": content}
}

// latestArgument returns the most recent user turn from the dialogue
// history, falling back to the stated position when no turn exists yet.
func latestArgument(state graph.State) string {
	history := state.History()
	for i := len(history) - 1; i >= 0; i-- {
		entry, ok := history[i].(map[string]any)
		if !ok {
			continue
		}
		if role, _ := entry["role"].(string); role == "user" {
			if content, _ := entry["content"].(string); content != "" {
				return content
			}
		}
	}
	return state.Text(FieldPosition)
}
