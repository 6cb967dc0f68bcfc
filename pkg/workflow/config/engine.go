package config

import (
	"time"

	"github.com/jarijaba/jarijaba/pkg/workflow"
)

// EngineConfig holds the execution bounds for the workflow engine.
type EngineConfig struct {
	// MaxAttempts is the per-node attempt budget.
	MaxAttempts int

	// BaseBackoff and MaxBackoff shape the retry schedule.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// NodeTimeout bounds one node execution attempt.
	NodeTimeout time.Duration

	// RunTimeout bounds the total run wall-clock time.
	RunTimeout time.Duration

	// MaxSteps is the last-resort bound on node executions per run.
	MaxSteps int
}

// DefaultEngine returns the built-in execution bounds.
func DefaultEngine() EngineConfig {
	return EngineConfig{
		MaxAttempts: 3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  10 * time.Second,
		NodeTimeout: 30 * time.Second,
		RunTimeout:  2 * time.Minute,
		MaxSteps:    100,
	}
}

// Engine reads the "engine" section of a Config, falling back to defaults
// for missing keys.
//
// YAML shape:
//
//	engine:
//	  max_attempts: 3
//	  base_backoff: 500ms
//	  max_backoff: 10s
//	  node_timeout: 30s
//	  run_timeout: 2m
//	  max_steps: 100
func Engine(c Config) EngineConfig {
	def := DefaultEngine()
	sec := c.Section("engine")
	return EngineConfig{
		MaxAttempts: sec.Int("max_attempts", def.MaxAttempts),
		BaseBackoff: sec.Duration("base_backoff", def.BaseBackoff),
		MaxBackoff:  sec.Duration("max_backoff", def.MaxBackoff),
		NodeTimeout: sec.Duration("node_timeout", def.NodeTimeout),
		RunTimeout:  sec.Duration("run_timeout", def.RunTimeout),
		MaxSteps:    sec.Int("max_steps", def.MaxSteps),
	}
}

// Options converts the engine bounds into run options.
func (ec EngineConfig) Options() []workflow.RunOption {
	return []workflow.RunOption{
		workflow.WithMaxAttempts(ec.MaxAttempts),
		workflow.WithBackoff(ec.BaseBackoff, ec.MaxBackoff),
		workflow.WithNodeTimeout(ec.NodeTimeout),
		workflow.WithRunTimeout(ec.RunTimeout),
		workflow.WithMaxSteps(ec.MaxSteps),
	}
}
