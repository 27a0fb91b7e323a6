package engine

import (
	"time"

	"github.com/technosupport/ts-radio/internal/calls"
)

// RejectReason explains why an event did not change call state.
// Rejections are expected outcomes, not failures.
type RejectReason string

const (
	RejectNoSuchCall     RejectReason = "NO_SUCH_CALL"
	RejectDuplicate      RejectReason = "DUPLICATE"
	RejectTerminalState  RejectReason = "TERMINAL_STATE"
	RejectEndBeforeStart RejectReason = "END_BEFORE_START"
)

// Updates are the field changes an applied transition carries.
type Updates struct {
	SetStartTime  *time.Time
	SetEndTime    *time.Time
	SetCallLength *float64 // seconds
	AudioFile     string   // non-empty = last-writer-wins set
	AudioType     string
	Cause         string
	Payload       map[string]any // merged into the record's payload
}

// TransitionResult is the full output of one state-machine step.
type TransitionResult struct {
	// Applied path
	Next    calls.State
	Created bool // record must be created (first CALL_START)
	Updates Updates

	// Rejected path; empty means applied.
	Reject RejectReason

	// Tag for the provenance entry, set on both paths.
	Tag calls.ProvenanceTag
}

func (t TransitionResult) Rejected() bool { return t.Reject != "" }

func rejected(reason RejectReason) TransitionResult {
	tag := calls.ProvenanceTag("")
	switch reason {
	case RejectNoSuchCall:
		tag = calls.TagRejectedNoSuchCall
	case RejectDuplicate:
		tag = calls.TagRejectedDuplicate
	case RejectTerminalState:
		tag = calls.TagRejectedTerminalState
	case RejectEndBeforeStart:
		tag = calls.TagRejectedEndBeforeStart
	}
	return TransitionResult{Reject: reason, Tag: tag}
}

// Transition is the pure per-call step function: (current record or nil,
// next event) → result. It never mutates cur and performs no I/O; the
// router owns applying the result.
//
//	absent    + CALL_START → STARTING (creates record)
//	absent    + anything else → rejected NO_SUCH_CALL
//	STARTING  + CALL_START → rejected DUPLICATE
//	non-term  + CALL_UPDATE → RECORDING
//	non-term  + CALL_END → COMPLETED (rejected if end < start)
//	non-term  + ERROR_SIGNAL → ERROR
//	terminal  + anything → rejected TERMINAL_STATE
func Transition(cur *calls.CallRecord, ev *NormalizedEvent) TransitionResult {
	if cur == nil {
		if ev.Kind != KindCallStart {
			return rejected(RejectNoSuchCall)
		}
		start := ev.StartTime
		if start.IsZero() {
			start = ev.ObservedAt
		}
		return TransitionResult{
			Next:    calls.StateStarting,
			Created: true,
			Tag:     calls.TagApplied,
			Updates: Updates{
				SetStartTime: &start,
				AudioFile:    ev.AudioFile,
				AudioType:    ev.AudioType,
				Payload:      ev.Payload,
			},
		}
	}

	if cur.State.Terminal() {
		return rejected(RejectTerminalState)
	}

	switch ev.Kind {
	case KindCallStart:
		return rejected(RejectDuplicate)

	case KindCallUpdate:
		return TransitionResult{
			Next: calls.StateRecording,
			Tag:  calls.TagApplied,
			Updates: Updates{
				AudioFile: ev.AudioFile,
				AudioType: ev.AudioType,
				Payload:   ev.Payload,
			},
		}

	case KindCallEnd:
		end := ev.StopTime
		if end.IsZero() {
			end = ev.ObservedAt
		}
		if end.Before(cur.StartTime) {
			return rejected(RejectEndBeforeStart)
		}
		length := end.Sub(cur.StartTime).Seconds()
		return TransitionResult{
			Next: calls.StateCompleted,
			Tag:  calls.TagApplied,
			Updates: Updates{
				SetEndTime:    &end,
				SetCallLength: &length,
				AudioFile:     ev.AudioFile,
				AudioType:     ev.AudioType,
				Payload:       ev.Payload,
			},
		}

	case KindErrorSignal:
		return TransitionResult{
			Next: calls.StateError,
			Tag:  calls.TagApplied,
			Updates: Updates{
				Cause:   ev.Cause,
				Payload: ev.Payload,
			},
		}
	}

	// Unreachable for normalized events; treat like an unknown update.
	return rejected(RejectNoSuchCall)
}

// apply materializes a TransitionResult onto a copy of cur (or a fresh
// record when Created). The input record is never touched.
func apply(cur *calls.CallRecord, ev *NormalizedEvent, res TransitionResult) *calls.CallRecord {
	var next *calls.CallRecord
	if res.Created {
		next = &calls.CallRecord{
			CallID:    ev.CallID,
			SystemID:  ev.SystemID,
			Talkgroup: ev.Talkgroup,
			Unit:      ev.Unit,
		}
	} else {
		next = cur.Clone()
	}

	next.State = res.Next
	u := res.Updates

	if u.SetStartTime != nil {
		next.StartTime = *u.SetStartTime
	}
	if u.SetEndTime != nil {
		t := *u.SetEndTime
		next.EndTime = &t
	}
	if u.SetCallLength != nil {
		l := *u.SetCallLength
		next.CallLength = &l
	}
	if u.AudioFile != "" {
		next.AudioFile = u.AudioFile
	}
	if u.AudioType != "" {
		next.AudioType = u.AudioType
	}
	if u.Cause != "" {
		next.ErrorCause = u.Cause
	}
	if len(u.Payload) > 0 {
		if next.Payload == nil {
			next.Payload = make(map[string]any, len(u.Payload))
		}
		for k, v := range u.Payload {
			next.Payload[k] = v
		}
	}

	next.LastActivityAt = ev.ObservedAt
	next.UpdatedAt = ev.ObservedAt
	return next
}
