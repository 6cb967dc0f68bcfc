package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// Graph is a mutable builder for execution graphs.
// Chain AddNode, Route, and SetEntry calls to define the flow, then call
// Compile() to validate it and obtain an immutable CompiledGraph.
//
// Graph is not safe for concurrent building; construct it from a single
// goroutine. The CompiledGraph it produces is safe to share across runs.
//
// Example:
//
//	g := workflow.NewGraph().
//	    AddNode(classify).
//	    AddNode(search).
//	    Route("classify", workflow.Always(workflow.Goto("search"))).
//	    Route("search", workflow.Always(workflow.Done())).
//	    SetEntry("classify")
//
//	compiled, err := g.Compile()
type Graph struct {
	nodes  map[string]Node
	routes map[string]*RuleSet
	entry  string
}

// NewGraph creates a new graph builder.
func NewGraph() *Graph {
	return &Graph{
		nodes:  make(map[string]Node),
		routes: make(map[string]*RuleSet),
	}
}

// AddNode adds a node to the graph, keyed by its name.
// Returns the graph for method chaining.
//
// Panics if the node is nil, the name is empty or contains whitespace,
// or the name is already registered. Builder misuse is a programming
// error, not a runtime condition.
func (g *Graph) AddNode(n Node) *Graph {
	if n == nil {
		panic("workflow: node cannot be nil")
	}
	name := n.Name()
	if name == "" {
		panic("workflow: node name cannot be empty")
	}
	if strings.ContainsAny(name, " \t\n\r") {
		panic("workflow: node name cannot contain whitespace")
	}
	if _, exists := g.nodes[name]; exists {
		panic(fmt.Sprintf("workflow: duplicate node name: %s", name))
	}
	g.nodes[name] = n
	return g
}

// Node is a convenience for AddNode(NewNode(name, fn)).
func (g *Graph) Node(name string, fn NodeFunc) *Graph {
	return g.AddNode(NewNode(name, fn))
}

// Route sets the routing rules evaluated after the named node advances.
// Returns the graph for method chaining.
//
// Rule validation (targets exist, rule set is total) happens at Compile().
func (g *Graph) Route(from string, rs *RuleSet) *Graph {
	if rs == nil {
		panic("workflow: rule set cannot be nil")
	}
	g.routes[from] = rs
	return g
}

// SetEntry designates the entry point node.
// Returns the graph for method chaining.
func (g *Graph) SetEntry(name string) *Graph {
	g.entry = name
	return g
}

// Compile validates the graph and creates an executable CompiledGraph.
// Returns an error if validation fails; multiple errors are joined.
//
// Validation checks:
//  1. Entry point is set and references an existing node
//  2. Every node has a routing rule set
//  3. Every rule set is total (has an Otherwise decision)
//  4. Every rule target references an existing node
//  5. A done decision is reachable from the entry point
func (g *Graph) Compile() (*CompiledGraph, error) {
	var errs []error

	if g.entry == "" {
		errs = append(errs, ErrNoEntryPoint)
	} else if _, exists := g.nodes[g.entry]; !exists {
		errs = append(errs, fmt.Errorf("%w: %s", ErrEntryNotFound, g.entry))
	}

	for name := range g.nodes {
		rs, routed := g.routes[name]
		if !routed {
			errs = append(errs, fmt.Errorf("%w: %s", ErrNodeNotRouted, name))
			continue
		}
		if !rs.total {
			errs = append(errs, fmt.Errorf("%w: %s", ErrRouteNotTotal, name))
		}
		for _, target := range rs.targets() {
			if _, exists := g.nodes[target]; !exists {
				errs = append(errs, fmt.Errorf("%w: route from %s targets %q", ErrNodeNotFound, name, target))
			}
		}
	}

	for from := range g.routes {
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: route source %q", ErrNodeNotFound, from))
		}
	}

	if len(errs) == 0 && !g.canReachDone() {
		errs = append(errs, ErrNoPathToDone)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return g.build(), nil
}

// canReachDone checks a done/fail-free path exists from the entry.
// BFS over declared rule targets; a node whose rule set can finish the run
// terminates the search.
func (g *Graph) canReachDone() bool {
	visited := map[string]bool{g.entry: true}
	queue := []string{g.entry}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		rs, ok := g.routes[current]
		if !ok {
			continue
		}
		if rs.canFinish() {
			return true
		}
		for _, target := range rs.targets() {
			if !visited[target] {
				visited[target] = true
				queue = append(queue, target)
			}
		}
	}
	return false
}

// build creates the immutable CompiledGraph from the builder state.
func (g *Graph) build() *CompiledGraph {
	nodes := make(map[string]Node, len(g.nodes))
	for name, n := range g.nodes {
		nodes[name] = n
	}
	routes := make(map[string]*RuleSet, len(g.routes))
	for from, rs := range g.routes {
		routes[from] = rs
	}
	return &CompiledGraph{nodes: nodes, routes: routes, entry: g.entry}
}

// CompiledGraph is an immutable, executable graph produced by Compile().
// It is safe for concurrent use: multiple runs may execute against the
// same compiled graph without coordination, since each run owns its state.
type CompiledGraph struct {
	nodes  map[string]Node
	routes map[string]*RuleSet
	entry  string
}

// Entry returns the entry node name.
func (cg *CompiledGraph) Entry() string { return cg.entry }

// NodeNames returns all node names in the graph, unordered.
func (cg *CompiledGraph) NodeNames() []string {
	names := make([]string, 0, len(cg.nodes))
	for name := range cg.nodes {
		names = append(names, name)
	}
	return names
}

// HasNode reports whether a node exists in the graph.
func (cg *CompiledGraph) HasNode(name string) bool {
	_, exists := cg.nodes[name]
	return exists
}

// getNode returns the node for a name. Used by the executor.
func (cg *CompiledGraph) getNode(name string) (Node, bool) {
	n, exists := cg.nodes[name]
	return n, exists
}

// route evaluates the routing rules for a node against a state.
func (cg *CompiledGraph) route(from string, s State) Decision {
	return cg.routes[from].next(s)
}
