package workflow

import (
	"log/slog"
	"time"

	"github.com/jarijaba/jarijaba/pkg/workflow/observability"
	"github.com/jarijaba/jarijaba/pkg/workflow/runlog"
)

// runConfig holds configuration for one run.
type runConfig struct {
	maxSteps    int
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	nodeTimeout time.Duration
	runTimeout  time.Duration

	runID   string
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
	tracing bool
	archive runlog.Store
}

// defaultRunConfig returns the default execution configuration.
func defaultRunConfig() runConfig {
	return runConfig{
		maxSteps:    100,
		maxAttempts: 3,
		baseBackoff: 500 * time.Millisecond,
		maxBackoff:  10 * time.Second,
		nodeTimeout: 30 * time.Second,
		runTimeout:  2 * time.Minute,
		logger:      slog.Default(),
		metrics:     observability.NoopMetrics{},
		spans:       observability.NoopSpanManager{},
	}
}

// RunOption configures execution behavior for one run.
type RunOption func(*runConfig)

// WithRunID sets the run identifier. A UUID is generated if not set.
func WithRunID(id string) RunOption {
	return func(c *runConfig) {
		c.runID = id
	}
}

// WithMaxSteps sets the engine's last-resort bound on node executions.
// The router counters are the primary loop bound. Default: 100.
func WithMaxSteps(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.maxSteps = n
		}
	}
}

// WithMaxAttempts sets the per-node attempt budget (including the first
// attempt). A node returning a retry result is re-invoked up to this many
// times; exhausting the budget escalates to fatal. Default: 3.
func WithMaxAttempts(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff sets the retry backoff schedule: base × 2^attempt, capped at
// max. A zero base disables the delay, which tests use to avoid sleeping.
func WithBackoff(base, max time.Duration) RunOption {
	return func(c *runConfig) {
		if base >= 0 {
			c.baseBackoff = base
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// WithNodeTimeout bounds a single node execution attempt, including its
// capability call. Default: 30s.
func WithNodeTimeout(d time.Duration) RunOption {
	return func(c *runConfig) {
		if d > 0 {
			c.nodeTimeout = d
		}
	}
}

// WithRunTimeout bounds total wall-clock time across all nodes, regardless
// of per-node budgets remaining. Default: 2m.
func WithRunTimeout(d time.Duration) RunOption {
	return func(c *runConfig) {
		if d > 0 {
			c.runTimeout = d
		}
	}
}

// WithRunLogger sets the logger for the run.
func WithRunLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder for the run.
func WithMetrics(m observability.MetricsRecorder) RunOption {
	return func(c *runConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing enables span creation using the given span manager.
func WithTracing(m observability.SpanManager) RunOption {
	return func(c *runConfig) {
		if m != nil {
			c.spans = m
			c.tracing = true
		}
	}
}

// WithArchive persists the terminal run record to the given store.
// Archive failures are logged, never fatal to the run.
func WithArchive(store runlog.Store) RunOption {
	return func(c *runConfig) {
		c.archive = store
	}
}
