package graph

import (
	"fmt"
	"sort"
)

// End is the reserved terminal target. An edge or conditional route that
// points at End finishes the thread.
const End = "__end__"

// RouteFunc selects a route label by inspecting the merged session state.
// The returned label is resolved through the routes table declared with
// AddConditional; a label absent from that table is a structural error at
// runtime.
type RouteFunc func(state State) string

// edge is a directed connection between two nodes. Loop-back edges are the
// only permitted cycles and carry the round-counter obligation.
type edge struct {
	from     string
	to       string
	loopBack bool
}

// conditional is a route function attached to a node, with the full label
// to target table declared up front so the compiler can validate every
// possible destination.
type conditional struct {
	from   string
	fn     RouteFunc
	routes map[string]string
	// labels in declaration order, for deterministic validation output.
	labels []string
}

// Builder accumulates nodes, edges, and reducers, and produces an immutable
// Graph via Compile. Builders are not safe for concurrent use; build the
// graph once, then share the compiled Graph freely.
type Builder struct {
	nodes        map[string]Node
	order        []string
	writes       map[string][]string
	edges        []edge
	conditionals map[string]*conditional
	reducers     Reducers
	entry        string
	errs         []error
}

// NewBuilder creates a Builder with the given reducer registry. The
// registry may be nil; fields then merge with Overwrite.
func NewBuilder(reducers Reducers) *Builder {
	if reducers == nil {
		reducers = Reducers{}
	}
	return &Builder{
		nodes:        make(map[string]Node),
		writes:       make(map[string][]string),
		conditionals: make(map[string]*conditional),
		reducers:     reducers,
	}
}

// AddNode registers a node under a unique name, declaring the state fields
// it is allowed to write. A delta touching an undeclared field fails the
// run, so the writes list is the node's full write contract.
func (b *Builder) AddNode(name string, node Node, writes ...string) *Builder {
	switch {
	case name == "" || name == End:
		b.errs = append(b.errs, &StructuralError{Subject: name, Reason: "invalid node name"})
	case node == nil:
		b.errs = append(b.errs, &ConfigurationError{Reason: fmt.Sprintf("node %q is nil", name)})
	default:
		if _, dup := b.nodes[name]; dup {
			b.errs = append(b.errs, &StructuralError{Subject: name, Reason: "duplicate node name"})
			return b
		}
		b.nodes[name] = node
		b.order = append(b.order, name)
		b.writes[name] = writes
	}
	return b
}

// AddEdge declares an unconditional edge. Edges fan out: a node with
// several outgoing edges activates all targets as one concurrent wave, in
// the order the edges were declared.
func (b *Builder) AddEdge(from, to string) *Builder {
	b.edges = append(b.edges, edge{from: from, to: to})
	return b
}

// AddLoopEdge declares an edge that intentionally points backwards. It is
// the only way to introduce a cycle: the compiler excludes loop-back edges
// from the acyclicity check, and the engine requires the round counter to
// have increased whenever one is traversed.
func (b *Builder) AddLoopEdge(from, to string) *Builder {
	b.edges = append(b.edges, edge{from: from, to: to, loopBack: true})
	return b
}

// AddConditional attaches a routing function to a node. After the wave
// containing the node merges, fn is evaluated once against the merged state
// and its label is resolved through routes. Every target a conditional can
// reach must be listed in routes so the graph stays fully validatable at
// compile time.
//
// At most one conditional per node.
func (b *Builder) AddConditional(from string, fn RouteFunc, routes map[string]string) *Builder {
	if fn == nil {
		b.errs = append(b.errs, &ConfigurationError{Reason: fmt.Sprintf("conditional on %q requires a route function", from)})
		return b
	}
	if len(routes) == 0 {
		b.errs = append(b.errs, &StructuralError{Subject: from, Reason: "conditional declares no routes"})
		return b
	}
	if _, dup := b.conditionals[from]; dup {
		b.errs = append(b.errs, &StructuralError{Subject: from, Reason: "duplicate conditional"})
		return b
	}

	labels := make([]string, 0, len(routes))
	for label := range routes {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	b.conditionals[from] = &conditional{from: from, fn: fn, routes: routes, labels: labels}
	return b
}

// SetEntry designates the node that starts every run.
func (b *Builder) SetEntry(name string) *Builder {
	b.entry = name
	return b
}

// Graph is a compiled, validated, immutable workflow definition. A Graph is
// safe for concurrent use by any number of engines and threads.
type Graph struct {
	nodes        map[string]Node
	writes       map[string][]string
	out          map[string][]edge
	conditionals map[string]*conditional
	reducers     Reducers
	entry        string
}

// Compile validates the accumulated definition and freezes it. Validation
// covers: entry node set and known, every edge endpoint known (End is a
// valid target, never a source), every conditional route target known,
// acyclicity once loop-back edges are removed, and reachability of every
// node from the entry.
func (b *Builder) Compile() (*Graph, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	if len(b.nodes) == 0 {
		return nil, &ConfigurationError{Reason: "graph has no nodes"}
	}
	if b.entry == "" {
		return nil, &ConfigurationError{Reason: "entry node not set"}
	}
	if _, ok := b.nodes[b.entry]; !ok {
		return nil, &StructuralError{Subject: b.entry, Reason: "entry node not registered"}
	}

	out := make(map[string][]edge, len(b.nodes))
	for _, e := range b.edges {
		if _, ok := b.nodes[e.from]; !ok {
			return nil, &StructuralError{Subject: e.from, Reason: "edge from unknown node"}
		}
		if e.to != End {
			if _, ok := b.nodes[e.to]; !ok {
				return nil, &StructuralError{Subject: e.to, Reason: "edge to unknown node"}
			}
		} else if e.loopBack {
			return nil, &StructuralError{Subject: e.from, Reason: "loop-back edge cannot target the terminal"}
		}
		out[e.from] = append(out[e.from], e)
	}

	for from, cond := range b.conditionals {
		if _, ok := b.nodes[from]; !ok {
			return nil, &StructuralError{Subject: from, Reason: "conditional on unknown node"}
		}
		for _, label := range cond.labels {
			target := cond.routes[label]
			if target == End {
				continue
			}
			if _, ok := b.nodes[target]; !ok {
				return nil, &StructuralError{Subject: target, Reason: fmt.Sprintf("conditional route %q to unknown node", label)}
			}
		}
	}

	g := &Graph{
		nodes:        b.nodes,
		writes:       b.writes,
		out:          out,
		conditionals: b.conditionals,
		reducers:     b.reducers,
		entry:        b.entry,
	}

	if cycle := g.findCycle(b.order); cycle != "" {
		return nil, &StructuralError{Subject: cycle, Reason: "undeclared cycle (use AddLoopEdge for intentional loops)"}
	}
	if orphan := g.findUnreachable(b.order); orphan != "" {
		return nil, &StructuralError{Subject: orphan, Reason: "node unreachable from entry"}
	}
	if err := g.checkSharedWrites(b.order); err != nil {
		return nil, err
	}

	return g, nil
}

// checkSharedWrites rejects fan-out groups in which two nodes declare the
// same write field while the reducer registry has no entry for it. Without
// a merge rule, concurrent writes would degrade to last-write-wins data
// loss, so the defect is reported before any execution instead.
//
// A fan-out group is the set of nodes one node can activate together: all
// of its plain and loop-back edge targets, plus one conditional route
// target at a time.
func (g *Graph) checkSharedWrites(order []string) error {
	for _, from := range order {
		var always []string
		for _, e := range g.out[from] {
			if e.to != End {
				always = append(always, e.to)
			}
		}

		groups := [][]string{always}
		if cond, ok := g.conditionals[from]; ok {
			groups = groups[:0]
			for _, label := range cond.labels {
				group := always
				if target := cond.routes[label]; target != End {
					group = append(append([]string{}, always...), target)
				}
				groups = append(groups, group)
			}
		}

		for _, group := range groups {
			if err := g.sharedWriteConflict(group); err != nil {
				return err
			}
		}
	}
	return nil
}

// sharedWriteConflict reports the first field two distinct members of the
// group both declare without a registered reducer.
func (g *Graph) sharedWriteConflict(group []string) error {
	owner := make(map[string]string)
	checked := make(map[string]bool)
	for _, member := range group {
		if checked[member] {
			continue
		}
		checked[member] = true

		for _, field := range g.writes[member] {
			first, ok := owner[field]
			if !ok {
				owner[field] = member
				continue
			}
			if first == member || g.reducers[field] != nil {
				continue
			}
			return &ConfigurationError{Reason: fmt.Sprintf(
				"nodes %q and %q may write field %q in the same wave with no reducer registered", first, member, field)}
		}
	}
	return nil
}

// Entry returns the name of the entry node.
func (g *Graph) Entry() string { return g.entry }

func (g *Graph) node(name string) (Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// allowedWrites reports whether field is in the node's declared write set.
func (g *Graph) allowedWrites(node, field string) bool {
	for _, w := range g.writes[node] {
		if w == field {
			return true
		}
	}
	return false
}

// successor is one resolved activation target for the next wave.
type successor struct {
	name     string
	loopBack bool
}

// successors resolves the next ready set after a wave over the given nodes
// has merged. Plain edges contribute their targets in declaration order;
// conditionals attached to wave members are each evaluated once against the
// merged state. Duplicate targets are collapsed, keeping first position.
//
// The returned terminal flag is set when the wave routes to End. Routing to
// End alongside other targets is a structural error because a thread cannot
// both finish and continue.
func (g *Graph) successors(wave []string, merged State) ([]successor, bool, error) {
	var next []successor
	terminal := false
	seen := make(map[string]bool)

	add := func(name string, loop bool) {
		if name == End {
			terminal = true
			return
		}
		if seen[name] {
			return
		}
		seen[name] = true
		next = append(next, successor{name: name, loopBack: loop})
	}

	for _, member := range wave {
		for _, e := range g.out[member] {
			add(e.to, e.loopBack)
		}

		cond, ok := g.conditionals[member]
		if !ok {
			continue
		}
		label := cond.fn(merged)
		target, ok := cond.routes[label]
		if !ok {
			return nil, false, &StructuralError{Subject: member, Reason: fmt.Sprintf("conditional returned undeclared route %q", label)}
		}
		add(target, false)
	}

	if terminal && len(next) > 0 {
		return nil, false, &StructuralError{Subject: wave[0], Reason: "wave routes to terminal and to further nodes"}
	}
	return next, terminal, nil
}

// findCycle runs a depth-first search over all edges and conditional
// targets, skipping loop-back edges, and returns the name of a node on a
// cycle, or "".
func (g *Graph) findCycle(order []string) string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	color := make(map[string]int, len(g.nodes))

	var visit func(name string) string
	visit = func(name string) string {
		color[name] = inStack
		for _, t := range g.staticTargets(name, false) {
			switch color[t] {
			case inStack:
				return t
			case unvisited:
				if c := visit(t); c != "" {
					return c
				}
			}
		}
		color[name] = done
		return ""
	}

	for _, name := range order {
		if color[name] == unvisited {
			if c := visit(name); c != "" {
				return c
			}
		}
	}
	return ""
}

// findUnreachable returns the first registered node not reachable from the
// entry when loop-back edges are included, or "".
func (g *Graph) findUnreachable(order []string) string {
	reached := map[string]bool{g.entry: true}
	queue := []string{g.entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, t := range g.staticTargets(cur, true) {
			if !reached[t] {
				reached[t] = true
				queue = append(queue, t)
			}
		}
	}
	for _, name := range order {
		if !reached[name] {
			return name
		}
	}
	return ""
}

// staticTargets lists every statically declared destination of a node,
// excluding End. Loop-back edges are included only when withLoops is set.
func (g *Graph) staticTargets(name string, withLoops bool) []string {
	var targets []string
	for _, e := range g.out[name] {
		if e.loopBack && !withLoops {
			continue
		}
		if e.to != End {
			targets = append(targets, e.to)
		}
	}
	if cond, ok := g.conditionals[name]; ok {
		for _, label := range cond.labels {
			if t := cond.routes[label]; t != End {
				targets = append(targets, t)
			}
		}
	}
	return targets
}
