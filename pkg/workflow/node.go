package workflow

// Node is a single step in the graph. Given the current state it produces a
// delta and a status; it may call at most one external capability and must
// respect the deadline carried by the execution context.
//
// Nodes must not retain references to the state beyond the call, and must
// not mutate it; all writes go through the returned delta.
type Node interface {
	// Name returns the node identifier used for routing and history.
	Name() string

	// Run executes the node against a read-only view of the state.
	Run(ctx Context, state State) NodeResult
}

// NodeFunc adapts a function to the Node interface.
type NodeFunc func(ctx Context, state State) NodeResult

// NewNode wraps a function as a named Node.
func NewNode(name string, fn NodeFunc) Node {
	if name == "" {
		panic("workflow: node name cannot be empty")
	}
	if fn == nil {
		panic("workflow: node function cannot be nil")
	}
	return funcNode{name: name, fn: fn}
}

type funcNode struct {
	name string
	fn   NodeFunc
}

func (n funcNode) Name() string { return n.name }

func (n funcNode) Run(ctx Context, state State) NodeResult { return n.fn(ctx, state) }

// ResultStatus is the outcome class of one node execution.
type ResultStatus int

const (
	// StatusAdvance merges the delta and asks the router for the next node.
	StatusAdvance ResultStatus = iota

	// StatusRetry re-invokes the node after backoff, up to the configured
	// attempt budget. Exhausting the budget escalates to fatal.
	StatusRetry

	// StatusFatal terminates the run as failed with the carried error.
	StatusFatal
)

// String returns the status name as recorded in run history.
func (s ResultStatus) String() string {
	switch s {
	case StatusAdvance:
		return "advance"
	case StatusRetry:
		return "retry"
	case StatusFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// NodeResult is the outcome of one node execution.
type NodeResult struct {
	// Status classifies the outcome.
	Status ResultStatus

	// Delta holds the fields to merge on advance.
	Delta Delta

	// Next optionally names the next node, bypassing the router.
	// The target is validated against the compiled graph at runtime.
	Next string

	// Err carries the structured error for retry and fatal outcomes.
	Err error
}

// Advance returns a successful result carrying a delta.
func Advance(d Delta) NodeResult {
	return NodeResult{Status: StatusAdvance, Delta: d}
}

// AdvanceTo returns a successful result with an explicit next-node hint.
func AdvanceTo(d Delta, next string) NodeResult {
	return NodeResult{Status: StatusAdvance, Delta: d, Next: next}
}

// Retry returns a retryable result. The executor re-invokes the node with
// exponential backoff until the attempt budget is exhausted.
func Retry(err error) NodeResult {
	return NodeResult{Status: StatusRetry, Err: err}
}

// Fatal returns an unrecoverable result terminating the run.
func Fatal(err error) NodeResult {
	return NodeResult{Status: StatusFatal, Err: err}
}
