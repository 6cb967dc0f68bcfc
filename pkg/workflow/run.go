package workflow

import "time"

// Request is the inbound trigger for a run: free text plus the
// conversation/session it belongs to. The transport layer constructs it;
// the engine treats the payload as opaque beyond seeding the initial state.
type Request struct {
	// Text is the user's free-text request.
	Text string

	// ConversationID identifies the conversation/session.
	ConversationID string
}

// RunStatus is the lifecycle state of a run.
// Exactly one terminal status holds once the run leaves StatusRunning.
type RunStatus int

const (
	// StatusRunning is the only non-terminal status.
	StatusRunning RunStatus = iota

	// StatusSucceeded means the router reached a done decision.
	StatusSucceeded

	// StatusFailed means a node failed fatally, retries or routing bounds
	// were exhausted, or a deadline fired.
	StatusFailed

	// StatusCancelled means the caller's context was cancelled.
	StatusCancelled
)

// String returns the status name.
func (s RunStatus) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is terminal.
func (s RunStatus) Terminal() bool { return s != StatusRunning }

// Step is one entry in a run's history: which node ran, the hash of its
// input snapshot, how it came out, and how long it took.
//
// History is append-only and never reordered. Replaying a run against
// identical capability responses yields an identical (Node, StateHash,
// Outcome, Attempts) sequence; Duration is wall-clock and excluded from
// the determinism contract.
type Step struct {
	Node      string
	StateHash string
	Outcome   string
	Attempts  int
	Duration  time.Duration
}

// Run is one execution of the graph for one user request. It is owned by
// a single caller; the engine holds no reference to it across runs.
type Run struct {
	// ID is the unique run identifier.
	ID string

	// Request is the inbound request that started the run.
	Request Request

	// State is the current (or terminal) state snapshot.
	State State

	// History is the ordered record of node executions.
	History []Step

	// Status is the lifecycle state.
	Status RunStatus

	// Err is the terminal error for failed or cancelled runs.
	Err error

	// StartedAt and FinishedAt bound the run's wall-clock time.
	StartedAt  time.Time
	FinishedAt time.Time
}

// Trace returns the deterministic portion of the history: one
// "node:hash:outcome" entry per step. Useful for replay comparison.
func (r *Run) Trace() []string {
	trace := make([]string, len(r.History))
	for i, s := range r.History {
		trace[i] = s.Node + ":" + s.StateHash + ":" + s.Outcome
	}
	return trace
}

// succeed transitions the run to succeeded. No transitions out of a
// terminal status are possible.
func (r *Run) succeed(s State) {
	r.State = s
	r.Status = StatusSucceeded
	r.FinishedAt = time.Now()
}

// fail transitions the run to failed with the original error preserved.
func (r *Run) fail(err error) {
	r.Err = err
	r.Status = StatusFailed
	r.FinishedAt = time.Now()
}

// cancel transitions the run to cancelled.
func (r *Run) cancel(err error) {
	r.Err = err
	r.Status = StatusCancelled
	r.FinishedAt = time.Now()
}
