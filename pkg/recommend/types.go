// Package recommend implements the dinner-venue recommendation flow:
// classify the request, extract preferences, search for venues, rank them
// with a language model, optionally open a group vote, and format the
// outbound payload.
package recommend

import (
	"encoding/json"

	"github.com/jarijaba/jarijaba/pkg/workflow"
	"github.com/jarijaba/jarijaba/pkg/workflow/capability"
)

// State fields written by the recommendation flow.
const (
	// FieldIntent is the classified request intent.
	FieldIntent workflow.Field = "intent"

	// FieldPreferences holds the extracted Preferences.
	FieldPreferences workflow.Field = "preferences"

	// FieldCandidates holds the []Venue search candidates.
	FieldCandidates workflow.Field = "candidates"

	// FieldRanked holds the []RankedVenue short list.
	FieldRanked workflow.Field = "ranked"

	// FieldPollID holds the group-vote identifier, when a poll was created.
	FieldPollID workflow.Field = "poll_id"

	// FieldResponse holds the terminal Response payload.
	FieldResponse workflow.Field = "response"

	// FieldClarifyRounds counts preference clarification rounds. The
	// router forces progression to search once the bound is reached.
	FieldClarifyRounds workflow.Field = "clarify_rounds"

	// FieldRelaxRounds counts search relaxation rounds. The router stops
	// re-entering search once the bound is reached.
	FieldRelaxRounds workflow.Field = "relax_rounds"
)

// Intent values produced by the classifier.
const (
	// IntentRecommend marks an in-scope venue recommendation request.
	IntentRecommend = "recommend"

	// IntentReject marks an out-of-scope request, answered with a polite
	// decline.
	IntentReject = "reject"
)

// Node names in the recommendation graph.
const (
	NodeClassify = "classify"
	NodeExtract  = "extract"
	NodeSearch   = "search"
	NodeRank     = "rank"
	NodePoll     = "poll"
	NodeFormat   = "format"
)

// Preferences are the structured fields extracted from the request.
// Zero values mean the user did not specify the field.
type Preferences struct {
	// Region is the area to search in (e.g. "강남").
	Region string `json:"region"`

	// Cuisine is the food type (e.g. "한식").
	Cuisine string `json:"cuisine"`

	// Budget is the price tier, 1 (cheap) to 4 (expensive), 0 unset.
	Budget int `json:"budget"`

	// PartySize is the number of attendees, 0 unset.
	PartySize int `json:"party_size"`

	// Occasion is the gathering purpose (e.g. "회식").
	Occasion string `json:"occasion"`

	// Missing lists the field names that were defaulted rather than
	// extracted.
	Missing []string `json:"missing,omitempty"`
}

// Venue is one search candidate.
type Venue struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty"`
	URL         string `json:"url,omitempty"`
}

// venueFromResult maps a search hit to a candidate venue.
func venueFromResult(r capability.SearchResult) Venue {
	return Venue{
		Name:        r.Title,
		Description: r.Snippet,
		Source:      r.Source,
		URL:         r.URL,
	}
}

// RankedVenue is one entry of the recommended short list.
type RankedVenue struct {
	Venue

	// Reason is the model's justification for recommending the venue.
	Reason string `json:"reason"`
}

// Response is the outbound payload of a finished run.
// Callers distinguish an empty result (Empty=true, run succeeded) from a
// failed run, whose message comes from workflow.UserMessage instead.
type Response struct {
	// Message is the user-facing text, ready for the chat transport.
	Message string `json:"message"`

	// Items is the ranked short list; empty for declines and empty results.
	Items []RankedVenue `json:"items,omitempty"`

	// PollID identifies the group vote opened on the items, if any.
	PollID string `json:"poll_id,omitempty"`

	// Empty marks a successful run that found no matching venues.
	Empty bool `json:"empty,omitempty"`

	// Declined marks an out-of-scope request.
	Declined bool `json:"declined,omitempty"`
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

// Schemas for the structured completions the flow requests.
var (
	classifySchema = capability.Schema{
		Name: "classify_query",
		Definition: json.RawMessage(`{
			"type": "object",
			"properties": {
				"intent": {"type": "string", "enum": ["recommend", "reject"]}
			},
			"required": ["intent"]
		}`),
	}

	preferencesSchema = capability.Schema{
		Name: "extract_preferences",
		Definition: json.RawMessage(`{
			"type": "object",
			"properties": {
				"region": {"type": "string"},
				"cuisine": {"type": "string"},
				"budget": {"type": "integer", "minimum": 1, "maximum": 4},
				"party_size": {"type": "integer"},
				"occasion": {"type": "string"}
			}
		}`),
	}

	rankingSchema = capability.Schema{
		Name: "rank_venues",
		Definition: json.RawMessage(`{
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"reason": {"type": "string"}
				},
				"required": ["name", "reason"]
			}
		}`),
	}
)
