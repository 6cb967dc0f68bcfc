// Package schedule implements the calendar flow: parse the request into a
// scheduling intent, then query availability, create or update an event,
// or auto-schedule a meeting in the first slot everyone is free.
package schedule

import (
	"encoding/json"
	"time"

	"github.com/jarijaba/jarijaba/pkg/workflow"
	"github.com/jarijaba/jarijaba/pkg/workflow/capability"
)

// State fields written by the schedule flow.
const (
	// FieldIntent is the parsed scheduling intent.
	FieldIntent workflow.Field = "intent"

	// FieldParams holds the parsed Params.
	FieldParams workflow.Field = "params"

	// FieldEventID holds the created or updated event identifier.
	FieldEventID workflow.Field = "event_id"

	// FieldAvailability holds the per-user availability views.
	FieldAvailability workflow.Field = "availability"

	// FieldSlot holds the chosen auto-schedule slot start time (RFC3339).
	FieldSlot workflow.Field = "slot"

	// FieldResponse holds the terminal Response payload.
	FieldResponse workflow.Field = "response"
)

// Intent values produced by the parser.
const (
	// IntentQuery asks for attendee availability.
	IntentQuery = "schedule"

	// IntentCreate creates an event at an explicit time.
	IntentCreate = "create"

	// IntentUpdate patches an existing event.
	IntentUpdate = "update"

	// IntentAuto finds the first common free slot and books it.
	IntentAuto = "autoschedule"
)

// Node names in the schedule graph.
const (
	NodeParse  = "parse"
	NodeQuery  = "query"
	NodeCreate = "create"
	NodeUpdate = "update"
	NodeAuto   = "auto"
	NodeFormat = "format"
)

// Params are the structured scheduling parameters parsed from the request.
type Params struct {
	// Subject is the event title.
	Subject string `json:"subject"`

	// Attendees are the participant identifiers (addresses).
	Attendees []string `json:"attendees"`

	// Start and End bound the event, or the search window for queries and
	// auto-scheduling. RFC3339 in the model output.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// DurationMinutes is the requested meeting length for auto-scheduling.
	DurationMinutes int `json:"duration_minutes"`

	// Location is the meeting place, if named.
	Location string `json:"location"`

	// EventID targets an existing event for updates.
	EventID string `json:"event_id"`

	// Note is extra text appended to the event body on updates.
	Note string `json:"note"`
}

// paramsOf reads the parsed parameters, zero if unset.
func paramsOf(s workflow.State) Params {
	if v, ok := s.Get(FieldParams); ok {
		if p, ok := v.(Params); ok {
			return p
		}
	}
	return Params{}
}

// Response is the outbound payload of a finished schedule run.
type Response struct {
	// Message is the user-facing text, ready for the chat transport.
	Message string `json:"message"`

	// EventID identifies the created or updated event, if any.
	EventID string `json:"event_id,omitempty"`

	// SlotStart is the auto-scheduled meeting start, if one was booked.
	SlotStart time.Time `json:"slot_start,omitzero"`
}

// ResponseFrom extracts the terminal Response from a run state.
func ResponseFrom(s workflow.State) (Response, bool) {
	v, ok := s.Get(FieldResponse)
	if !ok {
		return Response{}, false
	}
	resp, ok := v.(Response)
	return resp, ok
}

// parseSchema is the structured completion the parser requests.
var parseSchema = capability.Schema{
	Name: "parse_schedule_request",
	Definition: json.RawMessage(`{
		"type": "object",
		"properties": {
			"intent": {"type": "string", "enum": ["schedule", "create", "update", "autoschedule"]},
			"subject": {"type": "string"},
			"attendees": {"type": "array", "items": {"type": "string"}},
			"start": {"type": "string", "format": "date-time"},
			"end": {"type": "string", "format": "date-time"},
			"duration_minutes": {"type": "integer"},
			"location": {"type": "string"},
			"event_id": {"type": "string"},
			"note": {"type": "string"}
		},
		"required": ["intent"]
	}`),
}
