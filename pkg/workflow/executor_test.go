package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jarijaba/jarijaba/pkg/workflow/runlog"
)

// fastOpts disables backoff sleeps so retry tests run instantly.
var fastOpts = []RunOption{WithBackoff(0, time.Millisecond)}

func linearGraph(t *testing.T) *CompiledGraph {
	t.Helper()
	cg, err := NewGraph().
		Node("first", func(_ Context, _ State) NodeResult {
			return Advance(NewDelta().Set("first_done", true))
		}).
		Node("second", func(_ Context, s State) NodeResult {
			return Advance(NewDelta().Set("second_done", s.Has("first_done")))
		}).
		Route("first", Always(Goto("second"))).
		Route("second", Always(Done())).
		SetEntry("first").
		Compile()
	require.NoError(t, err)
	return cg
}

func TestRunLinearFlow(t *testing.T) {
	cg := linearGraph(t)

	run, err := cg.Run(context.Background(), Request{Text: "hello", ConversationID: "c1"})
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, run.Status)
	assert.True(t, run.Status.Terminal())
	assert.NoError(t, run.Err)

	// The request seeds the initial state.
	assert.Equal(t, "hello", run.State.String(FieldQuery))
	assert.Equal(t, "c1", run.State.String(FieldConversation))

	v, ok := run.State.Get("second_done")
	require.True(t, ok)
	assert.Equal(t, true, v)

	require.Len(t, run.History, 2)
	assert.Equal(t, "first", run.History[0].Node)
	assert.Equal(t, "second", run.History[1].Node)
	for _, step := range run.History {
		assert.Equal(t, "advance", step.Outcome)
		assert.Equal(t, 1, step.Attempts)
		assert.NotEmpty(t, step.StateHash)
	}
	assert.False(t, run.FinishedAt.IsZero())
}

func TestRunNilContext(t *testing.T) {
	cg := linearGraph(t)

	_, err := cg.Run(nil, Request{Text: "x"}) //nolint:staticcheck
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestRunWithRunID(t *testing.T) {
	cg := linearGraph(t)

	run, err := cg.Run(context.Background(), Request{Text: "x"}, WithRunID("run-42"))
	require.NoError(t, err)
	assert.Equal(t, "run-42", run.ID)
}

func TestRunNextHint(t *testing.T) {
	cg, err := NewGraph().
		Node("entry", func(_ Context, _ State) NodeResult {
			// Skip the router and jump straight to the exit.
			return AdvanceTo(NewDelta(), "exit")
		}).
		Node("detour", passNode).
		Node("exit", passNode).
		Route("entry", Always(Goto("detour"))).
		Route("detour", Always(Goto("exit"))).
		Route("exit", Always(Done())).
		SetEntry("entry").
		Compile()
	require.NoError(t, err)

	run, err := cg.Run(context.Background(), Request{Text: "x"})
	require.NoError(t, err)

	require.Len(t, run.History, 2)
	assert.Equal(t, "entry", run.History[0].Node)
	assert.Equal(t, "exit", run.History[1].Node)
}

func TestRunUnknownNextHint(t *testing.T) {
	cg, err := NewGraph().
		Node("entry", func(_ Context, _ State) NodeResult {
			return AdvanceTo(NewDelta(), "ghost")
		}).
		Route("entry", Always(Done())).
		SetEntry("entry").
		Compile()
	require.NoError(t, err)

	run, err := cg.Run(context.Background(), Request{Text: "x"})
	require.Error(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.ErrorIs(t, err, ErrUnknownNext)
	assert.Equal(t, KindFatalNode, KindOf(err))
}

func TestRunRetryThenSuccess(t *testing.T) {
	calls := 0
	cg, err := NewGraph().
		Node("flaky", func(_ Context, _ State) NodeResult {
			calls++
			if calls < 3 {
				return Retry(NewError(KindCapability, errors.New("transient")))
			}
			return Advance(NewDelta().Set("ok", true))
		}).
		Route("flaky", Always(Done())).
		SetEntry("flaky").
		Compile()
	require.NoError(t, err)

	run, err := cg.Run(context.Background(), Request{Text: "x"}, fastOpts...)
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, run.Status)
	assert.Equal(t, 3, calls)
	require.Len(t, run.History, 1)
	assert.Equal(t, 3, run.History[0].Attempts)
	assert.Equal(t, "advance", run.History[0].Outcome)
}

func TestRunRetryExhaustionPreservesKind(t *testing.T) {
	cg, err := NewGraph().
		Node("broken", func(_ Context, _ State) NodeResult {
			return Retry(NewError(KindStructuredDecode, errors.New("bad output")))
		}).
		Route("broken", Always(Done())).
		SetEntry("broken").
		Compile()
	require.NoError(t, err)

	run, err := cg.Run(context.Background(), Request{Text: "x"},
		append(fastOpts, WithMaxAttempts(2))...)
	require.Error(t, err)

	assert.Equal(t, StatusFailed, run.Status)
	// The original classification survives escalation and wrapping.
	assert.Equal(t, KindStructuredDecode, KindOf(err))
	assert.Contains(t, err.Error(), "retries exhausted after 2 attempts")

	require.Len(t, run.History, 1)
	assert.Equal(t, 2, run.History[0].Attempts)
	assert.Equal(t, "fatal", run.History[0].Outcome)
}

func TestRunRetryWithoutKindDefaultsToCapability(t *testing.T) {
	cg, err := NewGraph().
		Node("broken", func(_ Context, _ State) NodeResult {
			return Retry(errors.New("unclassified"))
		}).
		Route("broken", Always(Done())).
		SetEntry("broken").
		Compile()
	require.NoError(t, err)

	_, err = cg.Run(context.Background(), Request{Text: "x"},
		append(fastOpts, WithMaxAttempts(2))...)
	require.Error(t, err)
	assert.Equal(t, KindCapability, KindOf(err))
}

func TestRunFatalNode(t *testing.T) {
	cg, err := NewGraph().
		Node("doomed", func(_ Context, _ State) NodeResult {
			return Fatal(Errorf(KindValidation, "bad input"))
		}).
		Route("doomed", Always(Done())).
		SetEntry("doomed").
		Compile()
	require.NoError(t, err)

	run, err := cg.Run(context.Background(), Request{Text: "x"})
	require.Error(t, err)

	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, KindValidation, KindOf(err))

	var werr *Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "doomed", werr.Node)
}

func TestRunRouterFailDecision(t *testing.T) {
	cg, err := NewGraph().
		Node("entry", passNode).
		Route("entry", Rules().
			When(func(s State) bool { return !s.Has("never") },
				Fail(Errorf(KindValidation, "unsupported request"))).
			Otherwise(Done())).
		SetEntry("entry").
		Compile()
	require.NoError(t, err)

	run, err := cg.Run(context.Background(), Request{Text: "x"})
	require.Error(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestRunNodeTimeout(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	cg, err := NewGraph().
		Node("stuck", func(_ Context, _ State) NodeResult {
			// Ignores its context entirely.
			<-block
			return Advance(NewDelta())
		}).
		Route("stuck", Always(Done())).
		SetEntry("stuck").
		Compile()
	require.NoError(t, err)

	start := time.Now()
	run, err := cg.Run(context.Background(), Request{Text: "x"},
		WithNodeTimeout(30*time.Millisecond))
	require.Error(t, err)

	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, KindCapabilityTimeout, KindOf(err))
	// The run terminates at the deadline even though the node never returns.
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRunTimeout(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	cg, err := NewGraph().
		Node("stuck", func(_ Context, _ State) NodeResult {
			<-block
			return Advance(NewDelta())
		}).
		Route("stuck", Always(Done())).
		SetEntry("stuck").
		Compile()
	require.NoError(t, err)

	run, err := cg.Run(context.Background(), Request{Text: "x"},
		WithRunTimeout(30*time.Millisecond),
		WithNodeTimeout(10*time.Second))
	require.Error(t, err)

	assert.Equal(t, StatusFailed, run.Status)
	// The run-level deadline takes precedence over the per-node timeout.
	assert.Equal(t, KindRunTimeout, KindOf(err))
}

func TestRunCancellation(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	cg, err := NewGraph().
		Node("stuck", func(_ Context, _ State) NodeResult {
			<-block
			return Advance(NewDelta())
		}).
		Route("stuck", Always(Done())).
		SetEntry("stuck").
		Compile()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	run, err := cg.Run(ctx, Request{Text: "x"})
	require.Error(t, err)

	assert.Equal(t, StatusCancelled, run.Status)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, run.History, 1)
	assert.Equal(t, "cancelled", run.History[0].Outcome)
}

func TestRunCancelledBeforeStart(t *testing.T) {
	cg := linearGraph(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := cg.Run(ctx, Request{Text: "x"})
	require.Error(t, err)
	assert.Equal(t, StatusCancelled, run.Status)
	assert.Empty(t, run.History)
}

func TestRunMaxSteps(t *testing.T) {
	cg, err := NewGraph().
		Node("spin", func(_ Context, s State) NodeResult {
			return Advance(NewDelta().Overwrite("n", s.Int("n")+1))
		}).
		Node("exit", passNode).
		Route("spin", Rules().
			When(func(s State) bool { return s.Int("n") < 1000 }, Goto("spin")).
			Otherwise(Goto("exit"))).
		Route("exit", Always(Done())).
		SetEntry("spin").
		Compile()
	require.NoError(t, err)

	run, err := cg.Run(context.Background(), Request{Text: "x"}, WithMaxSteps(5))
	require.Error(t, err)

	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, KindRoutingExhausted, KindOf(err))
	assert.ErrorIs(t, err, ErrMaxSteps)
	assert.Len(t, run.History, 5)
}

func TestRunPanicRecovery(t *testing.T) {
	cg, err := NewGraph().
		Node("bomb", func(_ Context, _ State) NodeResult {
			panic("boom")
		}).
		Route("bomb", Always(Done())).
		SetEntry("bomb").
		Compile()
	require.NoError(t, err)

	run, err := cg.Run(context.Background(), Request{Text: "x"})
	require.Error(t, err)

	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, KindFatalNode, KindOf(err))

	var perr *PanicError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "bomb", perr.Node)
	assert.Contains(t, perr.Error(), "boom")
	assert.NotEmpty(t, perr.Stack)
}

func TestRunDeterministicTrace(t *testing.T) {
	build := func() *CompiledGraph {
		cg, err := NewGraph().
			Node("a", func(_ Context, _ State) NodeResult {
				return Advance(NewDelta().Set("step", "a"))
			}).
			Node("b", func(_ Context, _ State) NodeResult {
				return Advance(NewDelta().Set("done", true))
			}).
			Route("a", Always(Goto("b"))).
			Route("b", Always(Done())).
			SetEntry("a").
			Compile()
		require.NoError(t, err)
		return cg
	}

	req := Request{Text: "같은 요청", ConversationID: "c1"}
	run1, err := build().Run(context.Background(), req)
	require.NoError(t, err)
	run2, err := build().Run(context.Background(), req)
	require.NoError(t, err)

	// Identical inputs and node behavior replay to an identical trace.
	assert.Equal(t, run1.Trace(), run2.Trace())
	for _, entry := range run1.Trace() {
		assert.Regexp(t, `^[^:]+:[0-9a-f]{16}:advance$`, entry)
	}
}

func TestRunArchives(t *testing.T) {
	store := runlog.NewMemoryStore()
	cg := linearGraph(t)

	run, err := cg.Run(context.Background(), Request{Text: "질문", ConversationID: "conv-7"},
		WithRunID("run-7"), WithArchive(store))
	require.NoError(t, err)

	rec, err := store.Get(context.Background(), "run-7")
	require.NoError(t, err)
	assert.Equal(t, "conv-7", rec.ConversationID)
	assert.Equal(t, "질문", rec.Query)
	assert.Equal(t, "succeeded", rec.Status)
	assert.Empty(t, rec.Error)
	assert.Equal(t, len(run.History), rec.Steps)
	assert.NotEmpty(t, rec.Result)
}

func TestRunArchivesFailure(t *testing.T) {
	store := runlog.NewMemoryStore()
	cg, err := NewGraph().
		Node("doomed", func(_ Context, _ State) NodeResult {
			return Fatal(Errorf(KindValidation, "bad input"))
		}).
		Route("doomed", Always(Done())).
		SetEntry("doomed").
		Compile()
	require.NoError(t, err)

	_, runErr := cg.Run(context.Background(), Request{Text: "x"},
		WithRunID("run-8"), WithArchive(store))
	require.Error(t, runErr)

	rec, err := store.Get(context.Background(), "run-8")
	require.NoError(t, err)
	assert.Equal(t, "failed", rec.Status)
	assert.Contains(t, rec.Error, "bad input")
}

func TestRunNodeContextMetadata(t *testing.T) {
	var runID, nodeID string
	var attempt int

	cg, err := NewGraph().
		Node("probe", func(ctx Context, _ State) NodeResult {
			runID = ctx.RunID()
			nodeID = ctx.NodeID()
			attempt = ctx.Attempt()
			require.NotNil(t, ctx.Logger())
			return Advance(NewDelta())
		}).
		Route("probe", Always(Done())).
		SetEntry("probe").
		Compile()
	require.NoError(t, err)

	_, err = cg.Run(context.Background(), Request{Text: "x"}, WithRunID("run-probe"))
	require.NoError(t, err)

	assert.Equal(t, "run-probe", runID)
	assert.Equal(t, "probe", nodeID)
	assert.Equal(t, 1, attempt)
}

func TestRunWriteOnceAcrossNodes(t *testing.T) {
	cg, err := NewGraph().
		Node("producer", func(_ Context, _ State) NodeResult {
			return Advance(NewDelta().Set("preferences", "original"))
		}).
		Node("clobberer", func(_ Context, _ State) NodeResult {
			// A plain Set cannot destroy upstream data.
			return Advance(NewDelta().Set("preferences", "clobbered"))
		}).
		Route("producer", Always(Goto("clobberer"))).
		Route("clobberer", Always(Done())).
		SetEntry("producer").
		Compile()
	require.NoError(t, err)

	run, err := cg.Run(context.Background(), Request{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "original", run.State.String("preferences"))
}

func TestBackoffSchedule(t *testing.T) {
	cg := &CompiledGraph{}
	cfg := runConfig{baseBackoff: 100 * time.Millisecond, maxBackoff: 300 * time.Millisecond}

	delays := []time.Duration{}
	for attempt := 1; attempt <= 4; attempt++ {
		delay := cfg.baseBackoff << (attempt - 1)
		if delay > cfg.maxBackoff {
			delay = cfg.maxBackoff
		}
		delays = append(delays, delay)
	}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		300 * time.Millisecond,
	}, delays)

	// A cancelled run context aborts the wait immediately.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := cg.backoff(ctx, &runConfig{baseBackoff: time.Hour, maxBackoff: time.Hour}, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunStatusString(t *testing.T) {
	assert.Equal(t, "running", StatusRunning.String())
	assert.Equal(t, "succeeded", StatusSucceeded.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "cancelled", StatusCancelled.String())
	assert.False(t, StatusRunning.Terminal())
}

func TestResultStatusString(t *testing.T) {
	assert.Equal(t, "advance", StatusAdvance.String())
	assert.Equal(t, "retry", StatusRetry.String())
	assert.Equal(t, "fatal", StatusFatal.String())
	assert.Equal(t, "unknown", ResultStatus(99).String())
}

func TestRunErrEqualsReturnedError(t *testing.T) {
	cg, err := NewGraph().
		Node("doomed", func(_ Context, _ State) NodeResult {
			return Fatal(Errorf(KindCapability, "remote down"))
		}).
		Route("doomed", Always(Done())).
		SetEntry("doomed").
		Compile()
	require.NoError(t, err)

	run, runErr := cg.Run(context.Background(), Request{Text: "x"})
	assert.Equal(t, run.Err, runErr)
	assert.Equal(t, fmt.Sprintf("%v", run.Err), fmt.Sprintf("%v", runErr))
}
