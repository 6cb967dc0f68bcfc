package schedule

import (
	"fmt"
	"time"

	"github.com/jarijaba/jarijaba/pkg/workflow"
	"github.com/jarijaba/jarijaba/pkg/workflow/capability"
)

// Capabilities are the external services the flow runs against.
type Capabilities struct {
	Calendar capability.Calendar
	Complete capability.Completer
}

// options tune the flow's defaults.
type options struct {
	intervalMinutes int
	defaultDuration time.Duration
}

// Option customizes the flow at build time.
type Option func(*options)

// WithInterval sets the free/busy interval granularity in minutes.
func WithInterval(minutes int) Option {
	return func(o *options) {
		if minutes > 0 {
			o.intervalMinutes = minutes
		}
	}
}

// WithDefaultDuration sets the meeting length used when the request names
// none.
func WithDefaultDuration(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.defaultDuration = d
		}
	}
}

// flow binds the node implementations to their capabilities and defaults.
type flow struct {
	caps Capabilities
	cfg  options
}

// Build assembles and compiles the schedule graph. The parse node fans out
// to one operation node per intent; every operation funnels into format.
func Build(caps Capabilities, opts ...Option) (*workflow.CompiledGraph, error) {
	if caps.Calendar == nil {
		return nil, fmt.Errorf("schedule: Calendar capability is required")
	}
	if caps.Complete == nil {
		return nil, fmt.Errorf("schedule: Complete capability is required")
	}

	cfg := options{
		intervalMinutes: 30,
		defaultDuration: time.Hour,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	f := &flow{caps: caps, cfg: cfg}

	g := workflow.NewGraph()
	g.Node(NodeParse, f.parse)
	g.Node(NodeQuery, f.query)
	g.Node(NodeCreate, f.create)
	g.Node(NodeUpdate, f.update)
	g.Node(NodeAuto, f.auto)
	g.Node(NodeFormat, f.format)
	g.SetEntry(NodeParse)

	g.Route(NodeParse, workflow.Rules().
		When(intentIs(IntentQuery), workflow.Goto(NodeQuery)).
		When(intentIs(IntentCreate), workflow.Goto(NodeCreate)).
		When(intentIs(IntentUpdate), workflow.Goto(NodeUpdate)).
		When(intentIs(IntentAuto), workflow.Goto(NodeAuto)).
		Otherwise(workflow.Fail(workflow.Errorf(workflow.KindValidation,
			"no scheduling intent in state"))))

	g.Route(NodeQuery, workflow.Always(workflow.Goto(NodeFormat)))
	g.Route(NodeCreate, workflow.Always(workflow.Goto(NodeFormat)))
	g.Route(NodeUpdate, workflow.Always(workflow.Goto(NodeFormat)))
	g.Route(NodeAuto, workflow.Always(workflow.Goto(NodeFormat)))
	g.Route(NodeFormat, workflow.Always(workflow.Done()))

	return g.Compile()
}

// intentIs builds a predicate matching the parsed intent.
func intentIs(intent string) workflow.Predicate {
	return func(s workflow.State) bool {
		return s.String(FieldIntent) == intent
	}
}
