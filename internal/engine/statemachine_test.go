package engine

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/technosupport/ts-radio/internal/calls"
)

func evAt(kind EventKind, callID string, observed time.Time) *NormalizedEvent {
	return &NormalizedEvent{
		MessageID:  uuid.New(),
		CallID:     callID,
		Kind:       kind,
		Topic:      "radio/feeds/test",
		ObservedAt: observed,
	}
}

func TestTransition_AbsentCallStartCreates(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ev := evAt(KindCallStart, "A1", start.Add(time.Second))
	ev.StartTime = start

	res := Transition(nil, ev)

	assert.False(t, res.Rejected())
	assert.True(t, res.Created)
	assert.Equal(t, calls.StateStarting, res.Next)
	assert.Equal(t, calls.TagApplied, res.Tag)
	assert.Equal(t, start, *res.Updates.SetStartTime)
}

func TestTransition_AbsentStartFallsBackToObserved(t *testing.T) {
	observed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	res := Transition(nil, evAt(KindCallStart, "A1", observed))

	assert.True(t, res.Created)
	assert.Equal(t, observed, *res.Updates.SetStartTime)
}

func TestTransition_AbsentNonStartRejected(t *testing.T) {
	for _, kind := range []EventKind{KindCallUpdate, KindCallEnd, KindErrorSignal} {
		res := Transition(nil, evAt(kind, "B1", time.Now()))
		assert.True(t, res.Rejected(), "kind %s", kind)
		assert.Equal(t, RejectNoSuchCall, res.Reject)
		assert.Equal(t, calls.TagRejectedNoSuchCall, res.Tag)
	}
}

func TestTransition_DuplicateStart(t *testing.T) {
	cur := &calls.CallRecord{CallID: "A1", State: calls.StateStarting, StartTime: time.Now()}
	res := Transition(cur, evAt(KindCallStart, "A1", time.Now()))

	assert.Equal(t, RejectDuplicate, res.Reject)
	assert.Equal(t, calls.TagRejectedDuplicate, res.Tag)
}

func TestTransition_UpdateMovesToRecording(t *testing.T) {
	cur := &calls.CallRecord{CallID: "A1", State: calls.StateStarting, StartTime: time.Now()}
	ev := evAt(KindCallUpdate, "A1", time.Now())
	ev.AudioFile = "x.wav"
	ev.AudioType = "wav"

	res := Transition(cur, ev)

	assert.False(t, res.Rejected())
	assert.Equal(t, calls.StateRecording, res.Next)
	assert.Equal(t, "x.wav", res.Updates.AudioFile)
}

func TestTransition_UpdateWhileRecordingStaysRecording(t *testing.T) {
	cur := &calls.CallRecord{CallID: "A1", State: calls.StateRecording, StartTime: time.Now()}
	res := Transition(cur, evAt(KindCallUpdate, "A1", time.Now()))

	assert.False(t, res.Rejected())
	assert.Equal(t, calls.StateRecording, res.Next)
}

func TestTransition_EndCompletesWithLength(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(20 * time.Second)

	for _, state := range []calls.State{calls.StateStarting, calls.StateRecording} {
		cur := &calls.CallRecord{CallID: "A1", State: state, StartTime: start}
		ev := evAt(KindCallEnd, "A1", end)
		ev.StopTime = end

		res := Transition(cur, ev)

		assert.False(t, res.Rejected(), "state %s", state)
		assert.Equal(t, calls.StateCompleted, res.Next)
		assert.Equal(t, end, *res.Updates.SetEndTime)
		assert.Equal(t, 20.0, *res.Updates.SetCallLength)
	}
}

func TestTransition_EndBeforeStartRejected(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	cur := &calls.CallRecord{CallID: "A1", State: calls.StateRecording, StartTime: start}
	ev := evAt(KindCallEnd, "A1", start)
	ev.StopTime = start.Add(-5 * time.Second)

	res := Transition(cur, ev)

	assert.Equal(t, RejectEndBeforeStart, res.Reject)
	assert.Equal(t, calls.TagRejectedEndBeforeStart, res.Tag)
}

func TestTransition_EndExactlyAtStartAllowed(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	cur := &calls.CallRecord{CallID: "A1", State: calls.StateStarting, StartTime: start}
	ev := evAt(KindCallEnd, "A1", start)
	ev.StopTime = start

	res := Transition(cur, ev)

	assert.False(t, res.Rejected())
	assert.Equal(t, 0.0, *res.Updates.SetCallLength)
}

func TestTransition_ErrorSignal(t *testing.T) {
	cur := &calls.CallRecord{CallID: "A1", State: calls.StateStarting, StartTime: time.Now()}
	ev := evAt(KindErrorSignal, "A1", time.Now())
	ev.Cause = "timeout"

	res := Transition(cur, ev)

	assert.Equal(t, calls.StateError, res.Next)
	assert.Equal(t, "timeout", res.Updates.Cause)
}

func TestTransition_TerminalStatesAbsorbNothing(t *testing.T) {
	for _, state := range []calls.State{calls.StateCompleted, calls.StateError} {
		cur := &calls.CallRecord{CallID: "A1", State: state, StartTime: time.Now()}
		for _, kind := range []EventKind{KindCallStart, KindCallUpdate, KindCallEnd, KindErrorSignal} {
			res := Transition(cur, evAt(kind, "A1", time.Now()))
			assert.Equal(t, RejectTerminalState, res.Reject, "state %s kind %s", state, kind)
		}
	}
}

func TestApply_NeverMutatesInput(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	cur := &calls.CallRecord{
		CallID:    "A1",
		State:     calls.StateStarting,
		StartTime: start,
		Payload:   map[string]any{"freq": 851.0},
	}
	ev := evAt(KindCallUpdate, "A1", start.Add(time.Second))
	ev.Payload = map[string]any{"emergency": true}

	res := Transition(cur, ev)
	next := apply(cur, ev, res)

	assert.Equal(t, calls.StateStarting, cur.State)
	assert.NotContains(t, cur.Payload, "emergency")
	assert.Equal(t, calls.StateRecording, next.State)
	assert.Equal(t, true, next.Payload["emergency"])
	assert.Equal(t, 851.0, next.Payload["freq"])
}
