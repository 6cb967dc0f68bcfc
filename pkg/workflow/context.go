package workflow

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Context provides execution context to nodes.
// It extends context.Context with run metadata and a structured logger.
// The deadline carried by the embedded context bounds any capability call
// the node makes; nodes must propagate it.
//
// Context is immutable after creation. The executor derives a context per
// node execution with the node name, attempt number, and enriched logger.
type Context interface {
	context.Context

	// Logger returns the configured logger, enriched with run and node
	// context. Never nil; defaults to slog.Default().
	Logger() *slog.Logger

	// RunID returns the unique identifier for this run.
	RunID() string

	// NodeID returns the node currently executing, or "" before execution.
	NodeID() string

	// Attempt returns the retry attempt number (1 = first attempt).
	Attempt() int
}

// executionContext is the internal implementation of Context.
type executionContext struct {
	context.Context

	logger  *slog.Logger
	runID   string
	nodeID  string
	attempt int
}

// Logger returns the configured logger.
func (c *executionContext) Logger() *slog.Logger { return c.logger }

// RunID returns the run identifier.
func (c *executionContext) RunID() string { return c.runID }

// NodeID returns the current node identifier.
func (c *executionContext) NodeID() string { return c.nodeID }

// Attempt returns the retry attempt number.
func (c *executionContext) Attempt() int { return c.attempt }

// ContextOption configures a Context.
type ContextOption func(*executionContext)

// WithContextLogger sets the logger for the context.
func WithContextLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithContextRunID sets the run identifier for the context.
// A UUID is auto-generated if not set.
func WithContextRunID(id string) ContextOption {
	return func(c *executionContext) {
		c.runID = id
	}
}

// NewContext creates an execution context from a standard context.
// Used by the executor, and by tests that invoke nodes directly.
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context: ctx,
		logger:  slog.Default(),
		runID:   uuid.New().String(),
		attempt: 1,
	}
	for _, opt := range opts {
		opt(ec)
	}
	return ec
}

// forNode derives a context for one node execution attempt.
func (c *executionContext) forNode(ctx context.Context, nodeID string, attempt int) *executionContext {
	return &executionContext{
		Context: ctx,
		logger:  c.logger.With("run_id", c.runID, "node_id", nodeID, "attempt", attempt),
		runID:   c.runID,
		nodeID:  nodeID,
		attempt: attempt,
	}
}
