package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jarijaba/jarijaba/pkg/workflow"
	"github.com/jarijaba/jarijaba/pkg/workflow/capability"
)

// parse turns the free-text request into a scheduling intent and its
// parameters. Unknown intents are rejected before any calendar call.
func (f *flow) parse(ctx workflow.Context, s workflow.State) workflow.NodeResult {
	query := s.String(workflow.FieldQuery)
	if query == "" {
		return workflow.Fatal(workflow.Errorf(workflow.KindValidation, "empty request text"))
	}

	prompt := fmt.Sprintf(
		"일정 요청을 분석하세요. intent는 %q(가능 시간 조회), %q(일정 생성), %q(일정 수정), %q(자동 일정 잡기) 중 하나입니다. 시간은 RFC3339 형식으로 반환하세요.\n\n요청: %s",
		IntentQuery, IntentCreate, IntentUpdate, IntentAuto, query)

	raw, err := f.caps.Complete.Complete(ctx, prompt, parseSchema)
	if err != nil {
		return workflow.Retry(completionError(err))
	}

	var out struct {
		Intent string `json:"intent"`
		Params
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return workflow.Retry(workflow.NewError(workflow.KindStructuredDecode, err))
	}

	switch out.Intent {
	case IntentQuery, IntentCreate, IntentUpdate, IntentAuto:
	default:
		return workflow.Fatal(workflow.Errorf(workflow.KindValidation,
			"unrecognized scheduling intent %q", out.Intent))
	}

	return workflow.Advance(workflow.NewDelta().
		Set(FieldIntent, out.Intent).
		Set(FieldParams, out.Params))
}

// query looks up attendee availability over the requested window.
func (f *flow) query(ctx workflow.Context, s workflow.State) workflow.NodeResult {
	p := paramsOf(s)
	if err := validWindow(p); err != nil {
		return workflow.Fatal(err)
	}
	if len(p.Attendees) == 0 {
		return workflow.Fatal(workflow.Errorf(workflow.KindValidation, "no attendees to query"))
	}

	views, err := f.caps.Calendar.FreeBusy(ctx, p.Attendees, p.Start, p.End, f.cfg.intervalMinutes)
	if err != nil {
		return calendarFailure(err)
	}
	return workflow.Advance(workflow.NewDelta().Set(FieldAvailability, views))
}

// create books an event at the explicitly requested time. The idempotency
// key is derived from the run id, so a retried create after a service
// failure can never book a duplicate.
func (f *flow) create(ctx workflow.Context, s workflow.State) workflow.NodeResult {
	p := paramsOf(s)
	if p.Subject == "" {
		return workflow.Fatal(workflow.Errorf(workflow.KindValidation, "event subject is required"))
	}
	if err := validWindow(p); err != nil {
		return workflow.Fatal(err)
	}

	id, err := f.caps.Calendar.CreateEvent(ctx, capability.Event{
		Subject:   p.Subject,
		Start:     p.Start,
		End:       p.End,
		Attendees: p.Attendees,
		Location:  p.Location,
		Body:      p.Note,
	}, createKey(ctx.RunID(), p))
	if err != nil {
		return calendarFailure(err)
	}
	return workflow.Advance(workflow.NewDelta().Set(FieldEventID, id))
}

// update patches an existing event.
func (f *flow) update(ctx workflow.Context, s workflow.State) workflow.NodeResult {
	p := paramsOf(s)
	if p.EventID == "" {
		return workflow.Fatal(workflow.Errorf(workflow.KindValidation, "event id is required for updates"))
	}
	if p.Location == "" && p.Note == "" {
		return workflow.Fatal(workflow.Errorf(workflow.KindValidation, "nothing to update"))
	}

	err := f.caps.Calendar.UpdateEvent(ctx, p.EventID, capability.EventPatch{
		Location:   p.Location,
		BodyAppend: p.Note,
	})
	if err != nil {
		return calendarFailure(err)
	}
	return workflow.Advance(workflow.NewDelta().Set(FieldEventID, p.EventID))
}

// auto finds the first slot every attendee is free and books the meeting
// there. Finding no common slot is a normal outcome, not a failure.
func (f *flow) auto(ctx workflow.Context, s workflow.State) workflow.NodeResult {
	p := paramsOf(s)
	if err := validWindow(p); err != nil {
		return workflow.Fatal(err)
	}
	if len(p.Attendees) == 0 {
		return workflow.Fatal(workflow.Errorf(workflow.KindValidation, "no attendees to schedule"))
	}

	duration := time.Duration(p.DurationMinutes) * time.Minute
	if duration <= 0 {
		duration = f.cfg.defaultDuration
	}

	views, err := f.caps.Calendar.FreeBusy(ctx, p.Attendees, p.Start, p.End, f.cfg.intervalMinutes)
	if err != nil {
		return calendarFailure(err)
	}

	slot, ok := firstCommonFreeSlot(views, slotsFor(duration, f.cfg.intervalMinutes))
	if !ok {
		return workflow.Advance(workflow.NewDelta())
	}

	start := slotTime(p.Start, slot, f.cfg.intervalMinutes)
	subject := p.Subject
	if subject == "" {
		subject = "회의"
	}
	id, err := f.caps.Calendar.CreateEvent(ctx, capability.Event{
		Subject:   subject,
		Start:     start,
		End:       start.Add(duration),
		Attendees: p.Attendees,
		Location:  p.Location,
	}, createKey(ctx.RunID(), p))
	if err != nil {
		return calendarFailure(err)
	}

	return workflow.Advance(workflow.NewDelta().
		Set(FieldSlot, start.Format(time.RFC3339)).
		Set(FieldEventID, id))
}

// format is the pure terminal transformation of state into the outbound
// payload, one message shape per intent.
func (f *flow) format(_ workflow.Context, s workflow.State) workflow.NodeResult {
	p := paramsOf(s)
	var resp Response

	switch s.String(FieldIntent) {
	case IntentQuery:
		resp.Message = f.availabilityMessage(s, p)

	case IntentCreate:
		resp.EventID = s.String(FieldEventID)
		resp.Message = fmt.Sprintf("📅 일정이 생성되었습니다: %s (%s ~ %s)",
			p.Subject,
			p.Start.Format("01/02 15:04"),
			p.End.Format("15:04"))

	case IntentUpdate:
		resp.EventID = s.String(FieldEventID)
		resp.Message = "📅 일정이 수정되었습니다."

	case IntentAuto:
		slotStr := s.String(FieldSlot)
		if slotStr == "" {
			resp.Message = "모든 참석자가 가능한 시간을 찾지 못했습니다. 조회 기간을 넓혀 다시 시도해 주세요."
			break
		}
		start, err := time.Parse(time.RFC3339, slotStr)
		if err != nil {
			return workflow.Fatal(workflow.Errorf(workflow.KindFatalNode,
				"malformed slot time %q: %v", slotStr, err))
		}
		resp.EventID = s.String(FieldEventID)
		resp.SlotStart = start
		resp.Message = fmt.Sprintf("📅 모두 가능한 시간으로 일정을 잡았습니다: %s",
			start.Format("01/02 15:04"))

	default:
		return workflow.Fatal(workflow.Errorf(workflow.KindFatalNode,
			"format invoked without a scheduling intent"))
	}

	return workflow.Advance(workflow.NewDelta().Set(FieldResponse, resp))
}

// availabilityMessage lists the first few times every attendee is free.
func (f *flow) availabilityMessage(s workflow.State, p Params) string {
	views, _ := s.Get(FieldAvailability)
	byUser, ok := views.(map[string]string)
	if !ok || len(byUser) == 0 {
		return "참석자의 일정 정보를 찾을 수 없습니다."
	}

	var starts []string
	offset := 0
	for len(starts) < 5 {
		remaining := trimViews(byUser, offset)
		if remaining == nil {
			break
		}
		slot, found := firstCommonFreeSlot(remaining, 1)
		if !found {
			break
		}
		starts = append(starts, slotTime(p.Start, offset+slot, f.cfg.intervalMinutes).Format("01/02 15:04"))
		offset += slot + 1
	}

	if len(starts) == 0 {
		return "조회 기간 내에 모두 가능한 시간이 없습니다."
	}

	var b strings.Builder
	b.WriteString("🕐 모두 가능한 시간:\n")
	for _, t := range starts {
		fmt.Fprintf(&b, "- %s\n", t)
	}
	return b.String()
}

// trimViews drops the first offset slots of each view, nil when exhausted.
func trimViews(views map[string]string, offset int) map[string]string {
	out := make(map[string]string, len(views))
	for u, v := range views {
		if offset >= len(v) {
			return nil
		}
		out[u] = v[offset:]
	}
	return out
}

// validWindow checks the request carries a usable time window.
func validWindow(p Params) error {
	if p.Start.IsZero() || p.End.IsZero() {
		return workflow.Errorf(workflow.KindValidation, "start and end times are required")
	}
	if !p.End.After(p.Start) {
		return workflow.Errorf(workflow.KindValidation, "end time must be after start time")
	}
	return nil
}

// createKey derives the idempotency key for an event create. It is stable
// across attempts within a run, so a retried create after a lost response
// resolves to the already-created event.
func createKey(runID string, p Params) string {
	return fmt.Sprintf("%s:create:%s:%d", runID, p.Subject, p.Start.Unix())
}

// calendarFailure classifies a calendar call error. Timeouts are fatal:
// the engine never blindly retries a side-effecting call that may have
// completed remotely. Service failures are retried, which the idempotency
// key makes safe for creates.
func calendarFailure(err error) workflow.NodeResult {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return workflow.Fatal(workflow.NewError(workflow.KindCapabilityTimeout, err))
	}
	return workflow.Retry(workflow.NewError(workflow.KindCapability, err))
}

// completionError classifies a Completer failure.
func completionError(err error) error {
	var decodeErr *capability.DecodeError
	switch {
	case errors.As(err, &decodeErr):
		return workflow.NewError(workflow.KindStructuredDecode, err)
	case errors.Is(err, context.DeadlineExceeded):
		return workflow.NewError(workflow.KindCapabilityTimeout, err)
	default:
		return workflow.NewError(workflow.KindCapability, err)
	}
}
