package calls

import (
	"time"
)

// State is the lifecycle state of a call record.
type State string

const (
	StateStarting  State = "STARTING"
	StateRecording State = "RECORDING"
	StateCompleted State = "COMPLETED"
	StateError     State = "ERROR"
)

// Terminal reports whether no further transitions are permitted.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError
}

// Valid reports whether s is one of the four known states.
func (s State) Valid() bool {
	switch s {
	case StateStarting, StateRecording, StateCompleted, StateError:
		return true
	}
	return false
}

// ProvenanceTag classifies a ledger entry: either the event was applied,
// or it was rejected for one of the known reasons.
type ProvenanceTag string

const (
	TagApplied                ProvenanceTag = "applied"
	TagRejectedNoSuchCall     ProvenanceTag = "rejected_no_such_call"
	TagRejectedDuplicate      ProvenanceTag = "rejected_duplicate"
	TagRejectedTerminalState  ProvenanceTag = "rejected_terminal_state"
	TagRejectedEndBeforeStart ProvenanceTag = "rejected_end_before_start"
)

// ProvenanceEntry is one audit-trail record: a normalized event that caused
// or attempted a transition on a call. Entries are append-only and ordered
// by receipt sequence, never wall clock.
type ProvenanceEntry struct {
	Seq        int64         `json:"seq"`
	Topic      string        `json:"topic"`
	MessageID  string        `json:"message_id"`
	ObservedAt time.Time     `json:"observed_at"`
	Tag        ProvenanceTag `json:"tag"`
	Note       string        `json:"note,omitempty"` // rejection detail or error cause
}

// CallRecord is the durable aggregate for one radio transmission.
// At most one record per call_id ever exists.
type CallRecord struct {
	CallID    string `json:"call_id"`
	SystemID  string `json:"system_id,omitempty"`
	Talkgroup int    `json:"talkgroup,omitempty"`
	Unit      int    `json:"unit,omitempty"`

	State State `json:"state"`

	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	CallLength *float64   `json:"call_length,omitempty"` // seconds, >= 0

	AudioFile string `json:"audio_file,omitempty"`
	AudioType string `json:"audio_type,omitempty"`

	ErrorCause string `json:"error_cause,omitempty"`

	// Payload carries extra fields from the bus verbatim (frequency,
	// emergency/encryption flags, talkgroup enrichment, ...).
	Payload map[string]any `json:"payload,omitempty"`

	// RawMessages is derived from the ledger on read. It is never written
	// directly; the ledger is the source of truth.
	RawMessages []ProvenanceEntry `json:"raw_messages,omitempty"`

	LastActivityAt time.Time `json:"last_activity_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Clone returns a deep copy. Transitions are computed on a copy so a failed
// commit never leaves a half-applied record visible.
func (r *CallRecord) Clone() *CallRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.EndTime != nil {
		t := *r.EndTime
		cp.EndTime = &t
	}
	if r.CallLength != nil {
		l := *r.CallLength
		cp.CallLength = &l
	}
	if r.Payload != nil {
		cp.Payload = make(map[string]any, len(r.Payload))
		for k, v := range r.Payload {
			cp.Payload[k] = v
		}
	}
	if r.RawMessages != nil {
		cp.RawMessages = append([]ProvenanceEntry(nil), r.RawMessages...)
	}
	return &cp
}
