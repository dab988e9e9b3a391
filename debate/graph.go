package debate

import "github.com/mhollis/flowstate/graph"

// Node names in the debate workflow.
const (
	NodeIntake             = "intake"
	NodeFallacyDetector    = "fallacy_detector"
	NodeDevilAdvocate      = "devil_advocate"
	NodeSocraticQuestioner = "socratic_questioner"
	NodeArgumentScorer     = "argument_scorer"
	NodeIncrementRound     = "increment_round"
	NodeFinalCoach         = "final_coach"
)

// Route labels for the round decision.
const (
	RouteContinue = "continue"
	RouteFinalize = "finalize"
)

// BuildGraph wires the debate workflow:
//
//	intake -> fallacy_detector -> {devil_advocate, socratic_questioner, argument_scorer}
//	                                   |
//	                     continue: increment_round (loops back to fallacy_detector)
//	                     finalize: final_coach -> end
//
// The three analysts run as one concurrent wave. After the wave merges, the
// round decision either loops back for another round (the only cycle,
// guarded by the round counter) or hands off to the final coach.
func BuildGraph(nodes *Nodes) (*graph.Graph, error) {
	b := graph.NewBuilder(Reducers())

	b.AddNode(NodeIntake, graph.NodeFunc(nodes.Intake), graph.FieldRound, graph.FieldHistory)
	b.AddNode(NodeFallacyDetector, graph.NodeFunc(nodes.FallacyDetector), FieldFallacies, graph.FieldHistory)
	b.AddNode(NodeDevilAdvocate, graph.NodeFunc(nodes.DevilAdvocate), FieldCounterArgs, graph.FieldHistory)
	b.AddNode(NodeSocraticQuestioner, graph.NodeFunc(nodes.SocraticQuestioner), FieldQuestions, graph.FieldHistory)
	b.AddNode(NodeArgumentScorer, graph.NodeFunc(nodes.ArgumentScorer), FieldScores, graph.FieldHistory)
	b.AddNode(NodeIncrementRound, graph.NodeFunc(nodes.IncrementRound), graph.FieldRound, graph.FieldHistory)
	b.AddNode(NodeFinalCoach, graph.NodeFunc(nodes.FinalCoach), FieldVerdict, FieldTips, graph.FieldHistory)

	b.SetEntry(NodeIntake)
	b.AddEdge(NodeIntake, NodeFallacyDetector)

	// Fan out to the three analysts.
	b.AddEdge(NodeFallacyDetector, NodeDevilAdvocate)
	b.AddEdge(NodeFallacyDetector, NodeSocraticQuestioner)
	b.AddEdge(NodeFallacyDetector, NodeArgumentScorer)

	b.AddConditional(NodeArgumentScorer, nodes.shouldContinue, map[string]string{
		RouteContinue: NodeIncrementRound,
		RouteFinalize: NodeFinalCoach,
	})

	b.AddLoopEdge(NodeIncrementRound, NodeFallacyDetector)
	b.AddEdge(NodeFinalCoach, graph.End)

	return b.Compile()
}

// shouldContinue routes to another round until the round bound is reached.
func (n *Nodes) shouldContinue(state graph.State) string {
	if state.Round() >= n.maxRounds {
		return RouteFinalize
	}
	return RouteContinue
}
