// Package runlog persists terminal run records for audit and debugging.
//
// The engine holds no state across runs; the archive is write-once per
// run and read by operators or the transport layer (e.g. to show a
// conversation's recent requests).
package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Record is the archived snapshot of one terminal run.
type Record struct {
	RunID          string          `json:"run_id"`
	ConversationID string          `json:"conversation_id"`
	Query          string          `json:"query"`
	Status         string          `json:"status"`
	Error          string          `json:"error,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Steps          int             `json:"steps"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
}

// Store persists run records.
// Implementations must be safe for concurrent use: independent runs
// archive without coordination.
type Store interface {
	// Save stores a record, overwriting any record with the same run ID.
	Save(ctx context.Context, rec Record) error

	// Get retrieves a record by run ID.
	// Returns ErrNotFound if no record exists.
	Get(ctx context.Context, runID string) (Record, error)

	// ListByConversation returns all records for a conversation, ordered
	// by start time. Returns an empty slice if none exist.
	ListByConversation(ctx context.Context, conversationID string) ([]Record, error)

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for archive operations.
var (
	// ErrNotFound indicates a record doesn't exist.
	ErrNotFound = errors.New("run record not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("run archive closed")
)
