// Package capability defines the contracts for the external services the
// workflow engine calls: web search, structured LLM completion, calendar
// operations, and poll creation.
//
// The engine consumes these interfaces, it never implements them. The
// transport/SDK layer owns the implementations and injects them into flow
// nodes at construction. All implementations must be safe for concurrent
// use: independent runs share nothing but the adapter handles.
//
// Every call takes a context; implementations must honor its deadline and
// cancellation. A cancelled call must not leave a partial remote effect
// visible to later nodes, which for side-effecting calendar writes is
// guaranteed by caller-supplied idempotency keys.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Source  string `json:"source"`
	URL     string `json:"url"`
}

// SearchFilters narrows a search query.
type SearchFilters struct {
	// Region restricts results to a geographic area.
	Region string

	// Cuisine restricts results to a cuisine type.
	Cuisine string

	// Keyword is an additional free-text term.
	Keyword string
}

// Searcher performs web searches.
//
// An empty result list with a nil error means "no results"; a non-nil
// error always means the service itself failed. Callers rely on the
// distinction: empty search results are a normal outcome, never an error.
type Searcher interface {
	Search(ctx context.Context, query string, filters SearchFilters) ([]SearchResult, error)
}

// Schema describes the structured output requested from a completion.
type Schema struct {
	// Name identifies the schema for logging and prompt assembly.
	Name string

	// Definition is the JSON schema the output must satisfy.
	Definition json.RawMessage
}

// Completer asks a language model for a structured completion.
//
// The returned value must match the requested schema; output that cannot
// be decoded into it is reported as a *DecodeError. Implementations must
// enforce the context deadline.
type Completer interface {
	Complete(ctx context.Context, prompt string, schema Schema) (json.RawMessage, error)
}

// DecodeError indicates model output did not match the requested schema.
type DecodeError struct {
	// Schema is the name of the schema that was requested.
	Schema string

	// Raw is the model output that failed to decode.
	Raw string

	// Err is the underlying decode failure.
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("output did not match schema %s: %v", e.Schema, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error { return e.Err }

// Availability view characters returned by free/busy lookups, one per
// interval slot per user.
const (
	SlotFree             = '0'
	SlotTentative        = '1'
	SlotBusy             = '2'
	SlotOutOfOffice      = '3'
	SlotWorkingElsewhere = '4'
	SlotUnknown          = '5'
)

// Event is a calendar event to create.
type Event struct {
	Subject   string
	Start     time.Time
	End       time.Time
	Timezone  string
	Attendees []string
	Body      string
	Location  string
}

// EventPatch is a partial update to an existing event.
type EventPatch struct {
	// Location replaces the event location when non-empty.
	Location string

	// BodyAppend is appended to the event body when non-empty.
	BodyAppend string
}

// Calendar reads and writes calendar state.
type Calendar interface {
	// FreeBusy returns one availability view string per user for the
	// window [start, end), one character per interval slot.
	FreeBusy(ctx context.Context, users []string, start, end time.Time, intervalMinutes int) (map[string]string, error)

	// CreateEvent creates an event and returns its identifier.
	//
	// The idempotency key makes the write safe to retry: a second call
	// with the same key must return the already-created event's id
	// instead of creating a duplicate. Callers must supply a key before
	// retrying a create whose first attempt may have completed remotely.
	CreateEvent(ctx context.Context, event Event, idempotencyKey string) (string, error)

	// UpdateEvent applies a patch to an existing event.
	UpdateEvent(ctx context.Context, eventID string, patch EventPatch) error
}

// Polls creates group votes.
type Polls interface {
	// CreatePoll creates a poll with the given options and returns its
	// identifier.
	CreatePoll(ctx context.Context, title string, options []string) (string, error)
}
