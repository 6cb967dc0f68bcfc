package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Field names a slot in the run state. The engine reserves FieldQuery and
// FieldConversation for the inbound request; flows define their own fields
// (intent, preferences, candidates, ...).
type Field string

// Fields seeded by the executor from the inbound request.
const (
	// FieldQuery holds the original free-text request.
	FieldQuery Field = "query"

	// FieldConversation holds the conversation/session identifier.
	FieldConversation Field = "conversation"
)

// State is a snapshot of all data produced so far in a run.
//
// State is a value type: Merge returns a new State and never mutates the
// receiver. A field written by one node is never overwritten by a later
// merge unless the delta explicitly declares the field as an overwrite
// field. This keeps extracted information (preferences, candidates) from
// being silently lost by downstream nodes.
//
// Values must be JSON-serializable; Hash and Equal are defined over the
// canonical JSON encoding.
type State struct {
	values map[Field]any
}

// NewState creates an empty state.
func NewState() State {
	return State{values: map[Field]any{}}
}

// Get returns the value for a field and whether it is set.
func (s State) Get(f Field) (any, bool) {
	v, ok := s.values[f]
	return v, ok
}

// Has reports whether a field is set.
func (s State) Has(f Field) bool {
	_, ok := s.values[f]
	return ok
}

// String returns the string value for a field, or "" if unset or not a string.
func (s State) String(f Field) string {
	if v, ok := s.values[f].(string); ok {
		return v
	}
	return ""
}

// Int returns the int value for a field, or 0 if unset or not an int.
// Counters held in state (clarification rounds, search relaxation) use this.
func (s State) Int(f Field) int {
	switch v := s.values[f].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Fields returns the set field names in sorted order.
func (s State) Fields() []Field {
	fields := make([]Field, 0, len(s.values))
	for f := range s.values {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}

// Merge applies a delta and returns the resulting state.
//
// Fields already set in the receiver are kept unless the delta marks them
// as overwrite fields. The receiver is never modified.
func (s State) Merge(d Delta) State {
	merged := make(map[Field]any, len(s.values)+len(d.values))
	for f, v := range s.values {
		merged[f] = v
	}
	for f, v := range d.values {
		if _, set := merged[f]; set && !d.overwrite[f] {
			continue
		}
		merged[f] = v
	}
	return State{values: merged}
}

// Equal reports structural equality of two states.
func (s State) Equal(other State) bool {
	return s.Hash() == other.Hash()
}

// Hash returns a stable digest of the state contents.
// Identical states always produce identical hashes; the executor records
// the hash of each node's input snapshot in the run history.
func (s State) Hash() string {
	// json.Marshal sorts map keys, giving a canonical encoding.
	data, err := json.Marshal(s.values)
	if err != nil {
		// Non-serializable values are a contract violation by the flow;
		// fall back to a degenerate but stable digest of the field names.
		data = []byte(fmt.Sprint(s.Fields()))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// MarshalJSON encodes the state as a JSON object of its fields.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.values)
}

// Delta is the set of fields a node proposes to merge into the run state.
type Delta struct {
	values    map[Field]any
	overwrite map[Field]bool
}

// NewDelta creates an empty delta.
func NewDelta() Delta {
	return Delta{values: map[Field]any{}, overwrite: map[Field]bool{}}
}

// Set records a write-once field. If the field is already set in the state
// being merged into, the existing value wins.
func (d Delta) Set(f Field, v any) Delta {
	d.values[f] = v
	return d
}

// Overwrite records a field this delta is allowed to replace.
// Counters and response fields are the usual overwrite fields.
func (d Delta) Overwrite(f Field, v any) Delta {
	d.values[f] = v
	d.overwrite[f] = true
	return d
}

// Empty reports whether the delta carries no fields.
func (d Delta) Empty() bool {
	return len(d.values) == 0
}
