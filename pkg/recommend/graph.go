package recommend

import (
	"fmt"

	"github.com/jarijaba/jarijaba/pkg/workflow"
	"github.com/jarijaba/jarijaba/pkg/workflow/capability"
)

// Capabilities are the external services the flow runs against.
// Search and Complete are required; Polls is optional and, when absent,
// the vote step is skipped.
type Capabilities struct {
	Search   capability.Searcher
	Complete capability.Completer
	Polls    capability.Polls
}

// options tune the flow's bounds and defaults.
type options struct {
	clarifyBound  int
	defaultRegion string
	maxCandidates int
	maxRanked     int
}

// Option customizes the flow at build time.
type Option func(*options)

// WithClarifyBound caps preference clarification rounds before the flow
// proceeds on defaults.
func WithClarifyBound(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.clarifyBound = n
		}
	}
}

// WithDefaultRegion sets the region used when the request names none.
func WithDefaultRegion(region string) Option {
	return func(o *options) {
		if region != "" {
			o.defaultRegion = region
		}
	}
}

// WithMaxCandidates caps how many search hits feed the ranking step.
func WithMaxCandidates(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxCandidates = n
		}
	}
}

// WithMaxRanked caps the recommended short list length.
func WithMaxRanked(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxRanked = n
		}
	}
}

// flow binds the node implementations to their capabilities and bounds.
type flow struct {
	caps Capabilities
	cfg  options
}

// Build assembles and compiles the recommendation graph:
//
//	classify ─→ extract ─→ search ─→ rank ─→ poll ─→ format ─→ done
//	    │           ↺         ↺                        ↑
//	    └──────────────────────────────────────────────┘ (decline / empty)
//
// The extract and search self-loops are counter-bounded clarification and
// query relaxation cycles.
func Build(caps Capabilities, opts ...Option) (*workflow.CompiledGraph, error) {
	if caps.Search == nil {
		return nil, fmt.Errorf("recommend: Search capability is required")
	}
	if caps.Complete == nil {
		return nil, fmt.Errorf("recommend: Complete capability is required")
	}

	cfg := options{
		clarifyBound:  2,
		defaultRegion: "서울",
		maxCandidates: 10,
		maxRanked:     5,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	f := &flow{caps: caps, cfg: cfg}

	g := workflow.NewGraph()
	g.Node(NodeClassify, f.classify)
	g.Node(NodeExtract, f.extract)
	g.Node(NodeSearch, f.search)
	g.Node(NodeRank, f.rank)
	g.Node(NodePoll, f.poll)
	g.Node(NodeFormat, f.format)
	g.SetEntry(NodeClassify)

	g.Route(NodeClassify, workflow.Rules().
		When(func(s workflow.State) bool {
			return s.String(FieldIntent) == IntentReject
		}, workflow.Goto(NodeFormat)).
		Otherwise(workflow.Goto(NodeExtract)))

	g.Route(NodeExtract, workflow.Rules().
		When(f.needsClarification, workflow.Goto(NodeExtract)).
		Otherwise(workflow.Goto(NodeSearch)))

	g.Route(NodeSearch, workflow.Rules().
		When(func(s workflow.State) bool {
			// Relaxation round: search advanced without candidates.
			return !s.Has(FieldCandidates)
		}, workflow.Goto(NodeSearch)).
		When(func(s workflow.State) bool {
			return len(candidatesOf(s)) == 0
		}, workflow.Goto(NodeFormat)).
		Otherwise(workflow.Goto(NodeRank)))

	afterRank := NodePoll
	if caps.Polls == nil {
		afterRank = NodeFormat
	}
	g.Route(NodeRank, workflow.Always(workflow.Goto(afterRank)))
	g.Route(NodePoll, workflow.Always(workflow.Goto(NodeFormat)))
	g.Route(NodeFormat, workflow.Always(workflow.Done()))

	return g.Compile()
}

// needsClarification reports whether another extraction round should run:
// essential fields were defaulted and the round bound is not yet spent.
func (f *flow) needsClarification(s workflow.State) bool {
	if s.Int(FieldClarifyRounds) >= f.cfg.clarifyBound {
		return false
	}
	prefs := preferencesOf(s)
	for _, m := range prefs.Missing {
		if m == "region" {
			return true
		}
	}
	return false
}
