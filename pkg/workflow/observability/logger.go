// Package observability provides structured logging, metrics, and tracing
// for the workflow engine.
//
// Logging uses slog from the standard library; metrics and tracing use
// OpenTelemetry. All features are opt-in and have no-op implementations
// when disabled.
package observability

import "log/slog"

// EnrichLogger adds run context to a logger.
// Returns a new logger with run_id, node_id, and attempt fields.
func EnrichLogger(logger *slog.Logger, runID, nodeID string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.String("node_id", nodeID),
		slog.Int("attempt", attempt),
	)
}

// LogRunStart logs the start of a run.
func LogRunStart(logger *slog.Logger, runID string) {
	if logger == nil {
		return
	}
	logger.Info("run starting",
		slog.String("run_id", runID),
	)
}

// LogRunComplete logs successful run completion.
func LogRunComplete(logger *slog.Logger, runID string, durationMs float64, steps int) {
	if logger == nil {
		return
	}
	logger.Info("run completed",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("steps", steps),
	)
}

// LogRunError logs run failure or cancellation.
func LogRunError(logger *slog.Logger, runID string, err error, durationMs float64, lastNode string) {
	if logger == nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	logger.Error("run failed",
		slog.String("run_id", runID),
		slog.String("error", msg),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_node", lastNode),
	)
}

// LogNodeStart logs node execution start.
func LogNodeStart(logger *slog.Logger, nodeID string) {
	if logger == nil {
		return
	}
	logger.Debug("node starting",
		slog.String("node_id", nodeID),
	)
}

// LogNodeComplete logs successful node completion.
func LogNodeComplete(logger *slog.Logger, nodeID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("node completed",
		slog.String("node_id", nodeID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogNodeRetry logs a retryable node failure before backoff.
func LogNodeRetry(logger *slog.Logger, nodeID string, attempt int, err error) {
	if logger == nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	logger.Warn("node retrying",
		slog.String("node_id", nodeID),
		slog.Int("attempt", attempt),
		slog.String("error", msg),
	)
}

// LogNodeError logs a fatal node failure.
func LogNodeError(logger *slog.Logger, nodeID string, err error) {
	if logger == nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	logger.Error("node failed",
		slog.String("node_id", nodeID),
		slog.String("error", msg),
	)
}

// LogArchiveError logs a run archive failure (non-fatal).
func LogArchiveError(logger *slog.Logger, runID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("run archive failed",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
	)
}
