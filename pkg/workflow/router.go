package workflow

// Decision is the router's verdict after a node: advance to a named node,
// finish the run, or fail it.
type Decision struct {
	kind decisionKind
	next string
	err  error
}

type decisionKind int

const (
	decisionGoto decisionKind = iota
	decisionDone
	decisionFail
)

// Goto advances to the named node.
func Goto(node string) Decision {
	if node == "" {
		panic("workflow: goto target cannot be empty")
	}
	return Decision{kind: decisionGoto, next: node}
}

// Done finishes the run as succeeded with the current state.
func Done() Decision {
	return Decision{kind: decisionDone}
}

// Fail terminates the run as failed with the given error.
func Fail(err error) Decision {
	if err == nil {
		panic("workflow: fail decision requires an error")
	}
	return Decision{kind: decisionFail, err: err}
}

// IsDone reports whether the decision finishes the run.
func (d Decision) IsDone() bool { return d.kind == decisionDone }

// Target returns the next node for a goto decision, or "".
func (d Decision) Target() string { return d.next }

// Err returns the error for a fail decision, or nil.
func (d Decision) Err() error { return d.err }

// Predicate is a pure function over state used to select a routing rule.
// Predicates must not perform I/O or use randomness: routing must be a
// deterministic function of the state so it is independently testable.
type Predicate func(State) bool

// rule pairs a predicate with a decision.
type rule struct {
	when Predicate
	then Decision
}

// RuleSet is the routing table for a single node: an ordered list of
// guarded decisions plus a mandatory catch-all. The first matching rule
// wins. Compile() rejects rule sets without an Otherwise decision, so
// every reachable state combination maps to exactly one decision; an
// unmatched combination is a design error surfaced at compile time, not a
// runtime fatal.
type RuleSet struct {
	rules     []rule
	otherwise Decision
	total     bool
}

// Rules starts an empty rule set.
func Rules() *RuleSet {
	return &RuleSet{}
}

// When appends a guarded decision. Rules are evaluated in order.
func (rs *RuleSet) When(p Predicate, d Decision) *RuleSet {
	if p == nil {
		panic("workflow: rule predicate cannot be nil")
	}
	rs.rules = append(rs.rules, rule{when: p, then: d})
	return rs
}

// Otherwise sets the catch-all decision, making the rule set total.
func (rs *RuleSet) Otherwise(d Decision) *RuleSet {
	rs.otherwise = d
	rs.total = true
	return rs
}

// Always is shorthand for a rule set with only a catch-all.
func Always(d Decision) *RuleSet {
	return Rules().Otherwise(d)
}

// next evaluates the rule set against a state.
func (rs *RuleSet) next(s State) Decision {
	for _, r := range rs.rules {
		if r.when(s) {
			return r.then
		}
	}
	return rs.otherwise
}

// targets returns every node a rule set can route to. Used by Compile()
// to validate rule targets and reachability of a done decision.
func (rs *RuleSet) targets() []string {
	var out []string
	for _, r := range rs.rules {
		if r.then.kind == decisionGoto {
			out = append(out, r.then.next)
		}
	}
	if rs.otherwise.kind == decisionGoto {
		out = append(out, rs.otherwise.next)
	}
	return out
}

// canFinish reports whether any decision in the rule set is done or fail.
func (rs *RuleSet) canFinish() bool {
	for _, r := range rs.rules {
		if r.then.kind != decisionGoto {
			return true
		}
	}
	return rs.otherwise.kind != decisionGoto
}
