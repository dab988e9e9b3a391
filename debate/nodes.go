package debate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/mhollis/flowstate/graph"
	"github.com/mhollis/flowstate/graph/model"
)

// Nodes holds the workflow's node implementations, all sharing one chat
// model. Create with NewNodes and wire into a graph with BuildGraph.
type Nodes struct {
	chat      model.ChatModel
	maxRounds int
}

// NewNodes creates the debate node set. maxRounds <= 0 selects
// DefaultMaxRounds.
func NewNodes(chat model.ChatModel, maxRounds int) *Nodes {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &Nodes{chat: chat, maxRounds: maxRounds}
}

// Intake opens round 1 by logging the user's position as the first
// dialogue turn.
func (n *Nodes) Intake(ctx context.Context, state graph.State) (graph.Delta, error) {
	return graph.Delta{
		graph.FieldRound:   1,
		graph.FieldHistory: []any{historyEntry("user", state.Text(FieldPosition))},
	}, nil
}

// FallacyDetector screens the latest user argument for logical fallacies.
// The model is asked for a JSON array; unparseable output degrades to an
// empty finding rather than failing the round.
func (n *Nodes) FallacyDetector(ctx context.Context, state graph.State) (graph.Delta, error) {
	argument := latestArgument(state)

	out, err := n.chat.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: fallacyDetectorSystem},
		{Role: model.RoleUser, Content: fallacyDetectorPrompt(state.Text(FieldTopic), argument)},
	})
	if err != nil {
		return nil, fmt.Errorf("fallacy detector: %w", err)
	}

	var fallacies []any
	if parsed, err := extractJSON(out.Text); err == nil {
		if list, ok := parsed.([]any); ok {
			fallacies = list
		}
	}

	analysis, _ := json.Marshal(fallacies)
	return graph.Delta{
		FieldFallacies:     fallacies,
		graph.FieldHistory: []any{historyEntry("assistant", "[Fallacy Analysis] "+string(analysis))},
	}, nil
}

// DevilAdvocate produces the strongest counter-arguments against the
// user's position for the current round.
func (n *Nodes) DevilAdvocate(ctx context.Context, state graph.State) (graph.Delta, error) {
	out, err := n.chat.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: devilAdvocateSystem},
		{Role: model.RoleUser, Content: devilAdvocatePrompt(state.Text(FieldTopic), state.Text(FieldPosition), state.Round())},
	})
	if err != nil {
		return nil, fmt.Errorf("devil's advocate: %w", err)
	}

	return graph.Delta{
		FieldCounterArgs:   []any{out.Text},
		graph.FieldHistory: []any{historyEntry("assistant", "[Counter-Arguments]\n"+out.Text)},
	}, nil
}

// SocraticQuestioner generates probing questions targeting the weakest
// premises of the latest argument, avoiding repeats from earlier rounds.
func (n *Nodes) SocraticQuestioner(ctx context.Context, state graph.State) (graph.Delta, error) {
	previous := make([]string, 0)
	for _, q := range state.Seq(FieldQuestions) {
		if s, ok := q.(string); ok {
			previous = append(previous, s)
		}
	}

	out, err := n.chat.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: socraticQuestionerSystem},
		{Role: model.RoleUser, Content: socraticQuestionerPrompt(state.Text(FieldTopic), latestArgument(state), previous)},
	})
	if err != nil {
		return nil, fmt.Errorf("socratic questioner: %w", err)
	}

	questions := parseListLines(out.Text)
	return graph.Delta{
		FieldQuestions:     questions,
		graph.FieldHistory: []any{historyEntry("assistant", "[Socratic Questions]\n"+out.Text)},
	}, nil
}

// ArgumentScorer scores the latest argument on five dimensions and records
// the result alongside the round number.
func (n *Nodes) ArgumentScorer(ctx context.Context, state graph.State) (graph.Delta, error) {
	round := state.Round()

	out, err := n.chat.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: argumentScorerSystem},
		{Role: model.RoleUser, Content: argumentScorerPrompt(round, latestArgument(state))},
	})
	if err != nil {
		return nil, fmt.Errorf("argument scorer: %w", err)
	}

	score := map[string]any{"total": 0, "summary": "Could not parse score."}
	if parsed, err := extractJSON(out.Text); err == nil {
		if obj, ok := parsed.(map[string]any); ok {
			score = obj
		}
	}
	score["round"] = round

	record, _ := json.Marshal(score)
	return graph.Delta{
		FieldScores:        []any{score},
		graph.FieldHistory: []any{historyEntry("assistant", fmt.Sprintf("[Score Round %d] %s", round, record))},
	}, nil
}

// IncrementRound advances the round counter and simulates the user
// refining their argument for the next round.
func (n *Nodes) IncrementRound(ctx context.Context, state graph.State) (graph.Delta, error) {
	newRound := state.Round() + 1
	refined := fmt.Sprintf(
		"[Round %d refined position] Building on my earlier argument about %s: %s Furthermore, the evidence suggests this is inevitable.",
		newRound, state.Text(FieldTopic), state.Text(FieldPosition),
	)

	return graph.Delta{
		graph.FieldRound:   newRound,
		graph.FieldHistory: []any{historyEntry("user", refined)},
	}, nil
}

// FinalCoach synthesizes the whole session into a coaching report, writes
// it as the verdict, and extracts actionable tips.
func (n *Nodes) FinalCoach(ctx context.Context, state graph.State) (graph.Delta, error) {
	fallacies := summarizeJSON(state.Seq(FieldFallacies), "None detected.")
	scores := summarizeJSON(state.Seq(FieldScores), "No scores recorded.")
	counterArgs := joinStrings(state.Seq(FieldCounterArgs), "\n---\n", "None.")
	questions := joinStrings(state.Seq(FieldQuestions), "\n", "None.")

	out, err := n.chat.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: finalCoachSystem},
		{Role: model.RoleUser, Content: finalCoachPrompt(
			state.Text(FieldTopic), state.Text(FieldPosition),
			fallacies, scores, counterArgs, questions,
		)},
	})
	if err != nil {
		return nil, fmt.Errorf("final coach: %w", err)
	}

	tips := extractTips(out.Text)
	return graph.Delta{
		FieldVerdict:       out.Text,
		FieldTips:          tips,
		graph.FieldHistory: []any{historyEntry("assistant", "[Final Coaching Report]\n"+out.Text)},
	}, nil
}

// extractJSON parses JSON from model output, tolerating markdown code
// fences around the payload.
func extractJSON(text string) (any, error) {
	text = strings.TrimSpace(text)
	if after, found := strings.CutPrefix(text, "```json"); found {
		text = after
	} else if after, found := strings.CutPrefix(text, "```"); found {
		text = after
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	text = strings.TrimSpace(text)

	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("extracting JSON: %w", err)
	}
	return parsed, nil
}

// parseListLines pulls numbered or bulleted lines out of model output.
func parseListLines(text string) []any {
	var items []any
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if unicode.IsDigit(rune(line[0])) || strings.HasPrefix(line, "-") {
			items = append(items, line)
		}
	}
	return items
}

// extractTips pulls advice lines from the coaching report.
func extractTips(text string) []any {
	var tips []any
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		for _, prefix := range []string{"•", "-", "Tip", "1.", "2.", "3."} {
			if strings.HasPrefix(line, prefix) {
				tips = append(tips, line)
				break
			}
		}
	}
	return tips
}

func summarizeJSON(items []any, empty string) string {
	if len(items) == 0 {
		return empty
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return empty
	}
	return string(data)
}

func joinStrings(items []any, sep, empty string) string {
	var parts []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return empty
	}
	return strings.Join(parts, sep)
}
