package workflow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/jarijaba/jarijaba/pkg/workflow/observability"
	"github.com/jarijaba/jarijaba/pkg/workflow/runlog"
)

// Run executes the graph for one inbound request and returns the terminal
// Run record. The returned error equals Run.Err: nil for succeeded runs,
// the classified terminal error otherwise.
//
// Execution flow:
//  1. Seed the initial state from the request
//  2. Execute the current node (with per-node timeout and retry budget)
//  3. Merge its delta and append a history step
//  4. Ask the routing rules for the next decision
//  5. Repeat until a done decision, a fatal error, or a deadline
//
// Each run is fully independent: state is never shared between runs and
// node execution within a run is strictly sequential, so the engine needs
// no internal locking.
func (cg *CompiledGraph) Run(ctx context.Context, req Request, opts ...RunOption) (run *Run, runErr error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.runID == "" {
		cfg.runID = uuid.New().String()
	}

	initial := NewState().Merge(NewDelta().
		Set(FieldQuery, req.Text).
		Set(FieldConversation, req.ConversationID))

	run = &Run{
		ID:        cfg.runID,
		Request:   req,
		State:     initial,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}

	observability.LogRunStart(cfg.logger, run.ID)

	runCtx, cancel := context.WithTimeout(ctx, cfg.runTimeout)
	defer cancel()

	var runSpan trace.Span
	tracingCtx := runCtx
	if cfg.tracing {
		tracingCtx, runSpan = cfg.spans.StartRunSpan(runCtx, "workflow", run.ID)
		defer func() {
			cfg.spans.EndSpanWithError(runSpan, runErr)
		}()
	}

	ec := &executionContext{
		Context: runCtx,
		logger:  cfg.logger,
		runID:   run.ID,
	}

	cg.loop(runCtx, tracingCtx, ec, &cfg, run)

	duration := time.Since(run.StartedAt)
	cfg.metrics.RecordRun(ctx, run.Status.String(), duration)

	switch run.Status {
	case StatusSucceeded:
		observability.LogRunComplete(cfg.logger, run.ID, float64(duration.Milliseconds()), len(run.History))
	default:
		lastNode := ""
		if n := len(run.History); n > 0 {
			lastNode = run.History[n-1].Node
		}
		observability.LogRunError(cfg.logger, run.ID, run.Err, float64(duration.Milliseconds()), lastNode)
	}

	cg.archive(ctx, &cfg, run)
	return run, run.Err
}

// loop drives the node/router cycle until a terminal status.
func (cg *CompiledGraph) loop(runCtx context.Context, tracingCtx context.Context, ec *executionContext, cfg *runConfig, run *Run) {
	current := cg.entry
	steps := 0

	for {
		steps++
		if steps > cfg.maxSteps {
			run.fail(withNode(current, Errorf(KindRoutingExhausted, "%w (%d)", ErrMaxSteps, cfg.maxSteps)))
			return
		}

		// Cancellation check before each node.
		if err := runCtx.Err(); err != nil {
			cg.finishInterrupted(run, current, err)
			return
		}

		inputHash := run.State.Hash()
		observability.LogNodeStart(cfg.logger, current)

		nodeTracingCtx := tracingCtx
		var nodeSpan trace.Span
		if cfg.tracing {
			nodeTracingCtx, nodeSpan = cfg.spans.StartNodeSpan(tracingCtx, current)
		}

		res, attempts, elapsed := cg.executeNode(runCtx, ec, cfg, current, run.State)

		cfg.metrics.RecordNodeExecution(nodeTracingCtx, current, elapsed, res.Err)
		if cfg.tracing {
			cfg.spans.EndSpanWithError(nodeSpan, res.Err)
		}

		outcome := res.Status.String()
		if res.Status == StatusFatal && errors.Is(res.Err, context.Canceled) {
			outcome = "cancelled"
		}
		run.History = append(run.History, Step{
			Node:      current,
			StateHash: inputHash,
			Outcome:   outcome,
			Attempts:  attempts,
			Duration:  elapsed,
		})

		if res.Status == StatusFatal {
			observability.LogNodeError(cfg.logger, current, res.Err)
			cg.finishFatal(run, current, res.Err)
			return
		}

		observability.LogNodeComplete(cfg.logger, current, float64(elapsed.Milliseconds()))
		run.State = run.State.Merge(res.Delta)

		next, decided, err := cg.decide(current, res, run)
		if err != nil {
			cg.finishFatal(run, current, err)
			return
		}
		if decided {
			return
		}
		current = next
	}
}

// decide resolves the next node after an advance: an explicit node hint
// wins, otherwise the routing rules are consulted. Returns decided=true
// when the run reached a terminal status.
func (cg *CompiledGraph) decide(current string, res NodeResult, run *Run) (next string, decided bool, err error) {
	if res.Next != "" {
		if !cg.HasNode(res.Next) {
			return "", false, Errorf(KindFatalNode, "%w: %q hinted by %s", ErrUnknownNext, res.Next, current)
		}
		return res.Next, false, nil
	}

	decision := cg.route(current, run.State)
	switch {
	case decision.IsDone():
		run.succeed(run.State)
		return "", true, nil
	case decision.Err() != nil:
		return "", false, withNode(current, decision.Err())
	default:
		return decision.Target(), false, nil
	}
}

// executeNode runs one node with its retry budget and per-attempt timeout.
// Returns the final result (retry escalated to fatal on exhaustion), the
// number of attempts made, and the elapsed time.
func (cg *CompiledGraph) executeNode(runCtx context.Context, ec *executionContext, cfg *runConfig, name string, state State) (NodeResult, int, time.Duration) {
	node, exists := cg.getNode(name)
	start := time.Now()
	if !exists {
		// Unreachable after a successful Compile().
		return Fatal(Errorf(KindFatalNode, "%w: %s", ErrNodeNotFound, name)), 0, time.Since(start)
	}

	var last NodeResult
	for attempt := 1; attempt <= cfg.maxAttempts; attempt++ {
		res := cg.runAttempt(runCtx, ec, cfg, node, name, attempt, state)
		if res.Status != StatusRetry {
			return res, attempt, time.Since(start)
		}
		last = res
		observability.LogNodeRetry(cfg.logger, name, attempt, res.Err)

		if attempt == cfg.maxAttempts {
			break
		}
		if err := cg.backoff(runCtx, cfg, attempt); err != nil {
			return Fatal(err), attempt, time.Since(start)
		}
	}

	// Retry budget exhausted: escalate to fatal, original kind preserved.
	cause := last.Err
	if cause == nil {
		cause = errors.New("node requested retry without error")
	}
	kind := KindOf(cause)
	if kind == KindUnknown {
		kind = KindCapability
	}
	err := &Error{
		Kind: kind,
		Node: name,
		Err:  fmt.Errorf("retries exhausted after %d attempts: %w", cfg.maxAttempts, cause),
	}
	return Fatal(err), cfg.maxAttempts, time.Since(start)
}

// runAttempt executes a single node attempt under the per-node deadline.
// The node runs on its own goroutine so a non-cooperative node cannot
// stall the run past its deadline; a node abandoned this way must not
// have lasting effects, which the capability contracts guarantee via
// context cancellation and idempotency keys.
func (cg *CompiledGraph) runAttempt(runCtx context.Context, ec *executionContext, cfg *runConfig, node Node, name string, attempt int, state State) NodeResult {
	attemptCtx, cancel := context.WithTimeout(runCtx, cfg.nodeTimeout)
	defer cancel()

	nodeCtx := ec.forNode(attemptCtx, name, attempt)

	done := make(chan NodeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Fatal(withNode(name, &PanicError{
					Node:  name,
					Value: r,
					Stack: string(debug.Stack()),
				}))
			}
		}()
		done <- node.Run(nodeCtx, state)
	}()

	select {
	case res := <-done:
		return res
	case <-attemptCtx.Done():
		return Fatal(cg.deadlineError(runCtx, name))
	}
}

// deadlineError classifies an expired attempt: caller cancellation and the
// run-level deadline take precedence over the per-node timeout.
func (cg *CompiledGraph) deadlineError(runCtx context.Context, name string) error {
	switch runCtx.Err() {
	case context.Canceled:
		return context.Canceled
	case context.DeadlineExceeded:
		return &Error{Kind: KindRunTimeout, Node: name, Err: context.DeadlineExceeded}
	default:
		return &Error{Kind: KindCapabilityTimeout, Node: name, Err: context.DeadlineExceeded}
	}
}

// backoff sleeps for base × 2^(attempt-1), capped, honoring cancellation.
func (cg *CompiledGraph) backoff(runCtx context.Context, cfg *runConfig, attempt int) error {
	delay := cfg.baseBackoff << (attempt - 1)
	if delay > cfg.maxBackoff {
		delay = cfg.maxBackoff
	}
	if delay <= 0 {
		if err := runCtx.Err(); err != nil {
			return cg.deadlineError(runCtx, "")
		}
		return nil
	}
	select {
	case <-runCtx.Done():
		return cg.deadlineError(runCtx, "")
	case <-time.After(delay):
		return nil
	}
}

// finishFatal records the terminal failure, distinguishing cancellation.
func (cg *CompiledGraph) finishFatal(run *Run, node string, err error) {
	if errors.Is(err, context.Canceled) {
		run.cancel(err)
		return
	}
	run.fail(withNode(node, err))
}

// finishInterrupted handles the pre-node cancellation check.
func (cg *CompiledGraph) finishInterrupted(run *Run, node string, err error) {
	if errors.Is(err, context.Canceled) {
		run.cancel(err)
		return
	}
	run.fail(&Error{Kind: KindRunTimeout, Node: node, Err: err})
}

// archive persists the terminal run record when a store is configured.
// Failures are logged, never fatal: the caller already has the result.
func (cg *CompiledGraph) archive(ctx context.Context, cfg *runConfig, run *Run) {
	if cfg.archive == nil {
		return
	}
	rec := runlog.Record{
		RunID:          run.ID,
		ConversationID: run.Request.ConversationID,
		Query:          run.Request.Text,
		Status:         run.Status.String(),
		Steps:          len(run.History),
		StartedAt:      run.StartedAt,
		FinishedAt:     run.FinishedAt,
	}
	if run.Err != nil {
		rec.Error = run.Err.Error()
	}
	if data, err := run.State.MarshalJSON(); err == nil {
		rec.Result = data
	}
	if err := cfg.archive.Save(ctx, rec); err != nil {
		observability.LogArchiveError(cfg.logger, run.ID, err)
		return
	}
	cfg.metrics.RecordArchive(ctx, run.Status.String())
}
