// Package captest provides scripted capability stubs for tests.
//
// Each stub replays a fixed sequence of responses, so composing them with
// a compiled graph gives fully deterministic runs: the same script always
// produces the same history and terminal result.
package captest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jarijaba/jarijaba/pkg/workflow/capability"
)

// SearchCall records one Search invocation.
type SearchCall struct {
	Query   string
	Filters capability.SearchFilters
}

// Searcher replays a scripted sequence of search responses.
// The last script entry repeats once the script is exhausted.
type Searcher struct {
	mu     sync.Mutex
	script []SearchReply
	calls  []SearchCall
}

// SearchReply is one scripted search response.
type SearchReply struct {
	Results []capability.SearchResult
	Err     error
}

// NewSearcher creates a scripted searcher.
func NewSearcher(script ...SearchReply) *Searcher {
	return &Searcher{script: script}
}

// Search implements capability.Searcher.
func (s *Searcher) Search(_ context.Context, query string, filters capability.SearchFilters) ([]capability.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, SearchCall{Query: query, Filters: filters})
	reply := s.replyFor(len(s.calls) - 1)
	return reply.Results, reply.Err
}

// Calls returns the recorded invocations.
func (s *Searcher) Calls() []SearchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SearchCall, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Searcher) replyFor(i int) SearchReply {
	if len(s.script) == 0 {
		return SearchReply{}
	}
	if i >= len(s.script) {
		return s.script[len(s.script)-1]
	}
	return s.script[i]
}

// Reply is one scripted completion response.
type Reply struct {
	Value json.RawMessage
	Err   error
}

// Completer replays a scripted sequence of completion responses.
// The last script entry repeats once the script is exhausted.
type Completer struct {
	mu      sync.Mutex
	script  []Reply
	prompts []string
}

// NewCompleter creates a scripted completer.
func NewCompleter(script ...Reply) *Completer {
	return &Completer{script: script}
}

// JSON is a convenience for a successful reply carrying raw JSON.
func JSON(raw string) Reply {
	return Reply{Value: json.RawMessage(raw)}
}

// DecodeFailure is a convenience for a structured-decode failure reply.
func DecodeFailure(schema, raw string) Reply {
	return Reply{Err: &capability.DecodeError{
		Schema: schema,
		Raw:    raw,
		Err:    fmt.Errorf("scripted decode failure"),
	}}
}

// Complete implements capability.Completer.
func (c *Completer) Complete(_ context.Context, prompt string, _ capability.Schema) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prompts = append(c.prompts, prompt)
	i := len(c.prompts) - 1
	if len(c.script) == 0 {
		return nil, fmt.Errorf("captest: no scripted replies")
	}
	if i >= len(c.script) {
		i = len(c.script) - 1
	}
	return c.script[i].Value, c.script[i].Err
}

// Prompts returns the prompts received so far.
func (c *Completer) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.prompts))
	copy(out, c.prompts)
	return out
}

// HangingCompleter blocks until the context is cancelled, simulating a
// capability that never returns. Used for deadline enforcement tests.
type HangingCompleter struct{}

// Complete implements capability.Completer.
func (HangingCompleter) Complete(ctx context.Context, _ string, _ capability.Schema) (json.RawMessage, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// Calendar is a fake calendar tracking created events and idempotency keys.
type Calendar struct {
	mu sync.Mutex

	// Views is the availability view returned by FreeBusy, per user.
	Views map[string]string

	// FreeBusyErr, CreateErr, UpdateErr force the corresponding call to fail.
	FreeBusyErr error
	CreateErr   error
	UpdateErr   error

	// HangOnCreate makes CreateEvent block until the context is
	// cancelled. The event is still recorded first, simulating a remote
	// write that completed but whose response was lost to a timeout.
	HangOnCreate bool

	events  map[string]capability.Event
	byKey   map[string]string
	updates map[string][]capability.EventPatch
	nextID  int
}

// NewCalendar creates an empty fake calendar.
func NewCalendar() *Calendar {
	return &Calendar{
		Views:   map[string]string{},
		events:  map[string]capability.Event{},
		byKey:   map[string]string{},
		updates: map[string][]capability.EventPatch{},
	}
}

// FreeBusy implements capability.Calendar.
func (c *Calendar) FreeBusy(_ context.Context, users []string, _, _ time.Time, _ int) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FreeBusyErr != nil {
		return nil, c.FreeBusyErr
	}
	out := make(map[string]string, len(users))
	for _, u := range users {
		if view, ok := c.Views[u]; ok {
			out[u] = view
		}
	}
	return out, nil
}

// CreateEvent implements capability.Calendar. A repeated idempotency key
// returns the originally created event id without creating a duplicate.
func (c *Calendar) CreateEvent(ctx context.Context, event capability.Event, idempotencyKey string) (string, error) {
	c.mu.Lock()

	if c.CreateErr != nil {
		c.mu.Unlock()
		return "", c.CreateErr
	}

	if id, seen := c.byKey[idempotencyKey]; seen && idempotencyKey != "" {
		c.mu.Unlock()
		return id, nil
	}

	c.nextID++
	id := fmt.Sprintf("event-%d", c.nextID)
	c.events[id] = event
	if idempotencyKey != "" {
		c.byKey[idempotencyKey] = id
	}
	hang := c.HangOnCreate
	c.mu.Unlock()

	if hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return id, nil
}

// UpdateEvent implements capability.Calendar.
func (c *Calendar) UpdateEvent(_ context.Context, eventID string, patch capability.EventPatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.UpdateErr != nil {
		return c.UpdateErr
	}
	if _, ok := c.events[eventID]; !ok {
		return fmt.Errorf("captest: unknown event %s", eventID)
	}
	c.updates[eventID] = append(c.updates[eventID], patch)
	return nil
}

// Seed registers an existing event so UpdateEvent can target it.
func (c *Calendar) Seed(eventID string, event capability.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[eventID] = event
}

// EventCount returns the number of created events.
func (c *Calendar) EventCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// Event returns a created event by id.
func (c *Calendar) Event(id string) (capability.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.events[id]
	return ev, ok
}

// Updates returns the patches applied to an event.
func (c *Calendar) Updates(id string) []capability.EventPatch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]capability.EventPatch(nil), c.updates[id]...)
}

// Polls is a fake poll service recording created polls.
type Polls struct {
	mu sync.Mutex

	// CreateErr forces CreatePoll to fail.
	CreateErr error

	created []CreatedPoll
}

// CreatedPoll records one CreatePoll invocation.
type CreatedPoll struct {
	ID      string
	Title   string
	Options []string
}

// NewPolls creates an empty fake poll service.
func NewPolls() *Polls {
	return &Polls{}
}

// CreatePoll implements capability.Polls.
func (p *Polls) CreatePoll(_ context.Context, title string, options []string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.CreateErr != nil {
		return "", p.CreateErr
	}
	id := fmt.Sprintf("poll-%d", len(p.created)+1)
	p.created = append(p.created, CreatedPoll{
		ID:      id,
		Title:   title,
		Options: append([]string(nil), options...),
	})
	return id, nil
}

// Created returns the polls created so far.
func (p *Polls) Created() []CreatedPoll {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CreatedPoll(nil), p.created...)
}

// Interface checks.
var (
	_ capability.Searcher  = (*Searcher)(nil)
	_ capability.Completer = (*Completer)(nil)
	_ capability.Completer = HangingCompleter{}
	_ capability.Calendar  = (*Calendar)(nil)
	_ capability.Polls     = (*Polls)(nil)
)
