package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jarijaba/jarijaba/pkg/workflow"
	"github.com/jarijaba/jarijaba/pkg/workflow/capability"
	"github.com/jarijaba/jarijaba/pkg/workflow/capability/captest"
)

var fastOpts = []workflow.RunOption{workflow.WithBackoff(0, time.Millisecond)}

func TestFlowCreateEvent(t *testing.T) {
	cal := captest.NewCalendar()
	completer := captest.NewCompleter(captest.JSON(`{
		"intent": "create",
		"subject": "팀 회식",
		"attendees": ["kim@corp.example", "lee@corp.example"],
		"start": "2026-09-01T18:00:00+09:00",
		"end": "2026-09-01T20:00:00+09:00",
		"location": "강남"
	}`))

	cg, err := Build(Capabilities{Calendar: cal, Complete: completer})
	require.NoError(t, err)

	run, err := cg.Run(context.Background(),
		workflow.Request{Text: "9월 1일 저녁 6시에 팀 회식 일정 잡아줘"})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusSucceeded, run.Status)

	resp, ok := ResponseFrom(run.State)
	require.True(t, ok)
	assert.Equal(t, "event-1", resp.EventID)
	assert.Contains(t, resp.Message, "팀 회식")
	assert.Contains(t, resp.Message, "생성")

	ev, found := cal.Event("event-1")
	require.True(t, found)
	assert.Equal(t, "팀 회식", ev.Subject)
	assert.Equal(t, []string{"kim@corp.example", "lee@corp.example"}, ev.Attendees)
	assert.Equal(t, "강남", ev.Location)
}

func TestFlowCreateTimeoutIsFatalNotDuplicated(t *testing.T) {
	// The remote write completes but the response is lost to the timeout.
	cal := captest.NewCalendar()
	cal.HangOnCreate = true

	script := captest.JSON(`{
		"intent": "create",
		"subject": "팀 회식",
		"start": "2026-09-01T18:00:00+09:00",
		"end": "2026-09-01T20:00:00+09:00"
	}`)

	cg, err := Build(Capabilities{Calendar: cal, Complete: captest.NewCompleter(script)})
	require.NoError(t, err)

	run, err := cg.Run(context.Background(),
		workflow.Request{Text: "일정 잡아줘"},
		workflow.WithRunID("run-d"),
		workflow.WithNodeTimeout(30*time.Millisecond))
	require.Error(t, err)

	// A timed-out side-effecting call fails the run instead of being
	// blindly retried: the engine cannot know whether the write landed.
	assert.Equal(t, workflow.StatusFailed, run.Status)
	assert.Equal(t, workflow.KindCapabilityTimeout, workflow.KindOf(err))
	assert.Equal(t, 1, cal.EventCount())

	// A later run resuming with the same run id resolves to the same
	// event through the idempotency key: still exactly one event.
	cal.HangOnCreate = false
	retryCg, err := Build(Capabilities{Calendar: cal, Complete: captest.NewCompleter(script)})
	require.NoError(t, err)

	retry, err := retryCg.Run(context.Background(),
		workflow.Request{Text: "일정 잡아줘"},
		workflow.WithRunID("run-d"))
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusSucceeded, retry.Status)
	assert.Equal(t, 1, cal.EventCount())

	resp, ok := ResponseFrom(retry.State)
	require.True(t, ok)
	assert.Equal(t, "event-1", resp.EventID)
}

func TestFlowCreateServiceFailureRetries(t *testing.T) {
	cal := captest.NewCalendar()
	cal.CreateErr = errors.New("graph api 503")

	cg, err := Build(Capabilities{Calendar: cal, Complete: captest.NewCompleter(
		captest.JSON(`{
			"intent": "create",
			"subject": "회의",
			"start": "2026-09-01T10:00:00Z",
			"end": "2026-09-01T11:00:00Z"
		}`),
	)})
	require.NoError(t, err)

	run, err := cg.Run(context.Background(),
		workflow.Request{Text: "회의 잡아줘"},
		append(fastOpts, workflow.WithMaxAttempts(2))...)
	require.Error(t, err)

	assert.Equal(t, workflow.StatusFailed, run.Status)
	assert.Equal(t, workflow.KindCapability, workflow.KindOf(err))

	last := run.History[len(run.History)-1]
	assert.Equal(t, NodeCreate, last.Node)
	assert.Equal(t, 2, last.Attempts)
}

func TestFlowUpdateEvent(t *testing.T) {
	cal := captest.NewCalendar()
	cal.Seed("event-77", capability.Event{Subject: "주간 회의"})

	cg, err := Build(Capabilities{Calendar: cal, Complete: captest.NewCompleter(
		captest.JSON(`{
			"intent": "update",
			"event_id": "event-77",
			"location": "회의실 B",
			"note": "안건: 분기 목표"
		}`),
	)})
	require.NoError(t, err)

	run, err := cg.Run(context.Background(),
		workflow.Request{Text: "주간 회의 장소를 회의실 B로 바꿔줘"})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusSucceeded, run.Status)

	patches := cal.Updates("event-77")
	require.Len(t, patches, 1)
	assert.Equal(t, "회의실 B", patches[0].Location)
	assert.Equal(t, "안건: 분기 목표", patches[0].BodyAppend)

	resp, ok := ResponseFrom(run.State)
	require.True(t, ok)
	assert.Equal(t, "event-77", resp.EventID)
	assert.Contains(t, resp.Message, "수정")
}

func TestFlowQueryAvailability(t *testing.T) {
	cal := captest.NewCalendar()
	// 30-minute slots from 09:00; both free at 10:00 and 10:30.
	cal.Views = map[string]string{
		"kim@corp.example": "220022",
		"lee@corp.example": "220002",
	}

	cg, err := Build(Capabilities{Calendar: cal, Complete: captest.NewCompleter(
		captest.JSON(`{
			"intent": "schedule",
			"attendees": ["kim@corp.example", "lee@corp.example"],
			"start": "2026-09-01T09:00:00Z",
			"end": "2026-09-01T12:00:00Z"
		}`),
	)})
	require.NoError(t, err)

	run, err := cg.Run(context.Background(),
		workflow.Request{Text: "내일 오전에 둘 다 되는 시간 알려줘"})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusSucceeded, run.Status)

	resp, ok := ResponseFrom(run.State)
	require.True(t, ok)
	assert.Contains(t, resp.Message, "10:00")
	assert.Contains(t, resp.Message, "10:30")
	assert.NotContains(t, resp.Message, "09:00")
}

func TestFlowAutoSchedule(t *testing.T) {
	cal := captest.NewCalendar()
	// First common hour-long free block starts at slot 2 (10:00).
	cal.Views = map[string]string{
		"kim@corp.example": "20000222",
		"lee@corp.example": "22000022",
	}

	cg, err := Build(Capabilities{Calendar: cal, Complete: captest.NewCompleter(
		captest.JSON(`{
			"intent": "autoschedule",
			"subject": "기획 회의",
			"attendees": ["kim@corp.example", "lee@corp.example"],
			"start": "2026-09-01T09:00:00Z",
			"end": "2026-09-01T13:00:00Z",
			"duration_minutes": 60
		}`),
	)})
	require.NoError(t, err)

	run, err := cg.Run(context.Background(),
		workflow.Request{Text: "다음 주에 다 같이 되는 시간으로 기획 회의 잡아줘"})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusSucceeded, run.Status)

	resp, ok := ResponseFrom(run.State)
	require.True(t, ok)
	assert.Equal(t, "event-1", resp.EventID)
	expected := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	assert.True(t, expected.Equal(resp.SlotStart))

	ev, found := cal.Event("event-1")
	require.True(t, found)
	assert.Equal(t, "기획 회의", ev.Subject)
	assert.True(t, expected.Equal(ev.Start))
	assert.True(t, expected.Add(time.Hour).Equal(ev.End))
}

func TestFlowAutoScheduleNoCommonSlot(t *testing.T) {
	cal := captest.NewCalendar()
	// Free slots never line up across users.
	cal.Views = map[string]string{
		"kim@corp.example": "0202",
		"lee@corp.example": "2020",
	}

	cg, err := Build(Capabilities{Calendar: cal, Complete: captest.NewCompleter(
		captest.JSON(`{
			"intent": "autoschedule",
			"attendees": ["kim@corp.example", "lee@corp.example"],
			"start": "2026-09-01T09:00:00Z",
			"end": "2026-09-01T11:00:00Z",
			"duration_minutes": 30
		}`),
	)})
	require.NoError(t, err)

	run, err := cg.Run(context.Background(),
		workflow.Request{Text: "다 같이 되는 시간으로 잡아줘"})
	require.NoError(t, err)

	// No common slot is a successful run with an explanatory message.
	assert.Equal(t, workflow.StatusSucceeded, run.Status)
	assert.Equal(t, 0, cal.EventCount())

	resp, ok := ResponseFrom(run.State)
	require.True(t, ok)
	assert.Empty(t, resp.EventID)
	assert.Contains(t, resp.Message, "찾지 못했습니다")
}

func TestFlowUnknownIntentFails(t *testing.T) {
	cg, err := Build(Capabilities{
		Calendar: captest.NewCalendar(),
		Complete: captest.NewCompleter(captest.JSON(`{"intent":"weather"}`)),
	})
	require.NoError(t, err)

	run, err := cg.Run(context.Background(), workflow.Request{Text: "날씨 알려줘"})
	require.Error(t, err)
	assert.Equal(t, workflow.StatusFailed, run.Status)
	assert.Equal(t, workflow.KindValidation, workflow.KindOf(err))
}

func TestFlowValidation(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{
			name:  "create without subject",
			reply: `{"intent":"create","start":"2026-09-01T10:00:00Z","end":"2026-09-01T11:00:00Z"}`,
		},
		{
			name:  "create without window",
			reply: `{"intent":"create","subject":"회의"}`,
		},
		{
			name:  "create with inverted window",
			reply: `{"intent":"create","subject":"회의","start":"2026-09-01T11:00:00Z","end":"2026-09-01T10:00:00Z"}`,
		},
		{
			name:  "update without event id",
			reply: `{"intent":"update","location":"회의실 B"}`,
		},
		{
			name:  "update with nothing to change",
			reply: `{"intent":"update","event_id":"event-1"}`,
		},
		{
			name:  "query without attendees",
			reply: `{"intent":"schedule","start":"2026-09-01T09:00:00Z","end":"2026-09-01T12:00:00Z"}`,
		},
		{
			name:  "autoschedule without attendees",
			reply: `{"intent":"autoschedule","start":"2026-09-01T09:00:00Z","end":"2026-09-01T12:00:00Z"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cg, err := Build(Capabilities{
				Calendar: captest.NewCalendar(),
				Complete: captest.NewCompleter(captest.JSON(tt.reply)),
			})
			require.NoError(t, err)

			run, err := cg.Run(context.Background(), workflow.Request{Text: "요청"})
			require.Error(t, err)
			assert.Equal(t, workflow.StatusFailed, run.Status)
			assert.Equal(t, workflow.KindValidation, workflow.KindOf(err))
		})
	}
}

func TestFlowParseDecodeFailure(t *testing.T) {
	cg, err := Build(Capabilities{
		Calendar: captest.NewCalendar(),
		Complete: captest.NewCompleter(
			captest.DecodeFailure("parse_schedule_request", "not json"),
		),
	})
	require.NoError(t, err)

	run, err := cg.Run(context.Background(),
		workflow.Request{Text: "일정 잡아줘"},
		append(fastOpts, workflow.WithMaxAttempts(2))...)
	require.Error(t, err)

	assert.Equal(t, workflow.StatusFailed, run.Status)
	assert.Equal(t, workflow.KindStructuredDecode, workflow.KindOf(err))
}

func TestBuildRequiresCapabilities(t *testing.T) {
	_, err := Build(Capabilities{Complete: captest.NewCompleter()})
	assert.Error(t, err)

	_, err = Build(Capabilities{Calendar: captest.NewCalendar()})
	assert.Error(t, err)
}
