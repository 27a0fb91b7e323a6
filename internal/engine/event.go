package engine

import (
	"time"

	"github.com/google/uuid"
)

// EventKind classifies a normalized bus message.
type EventKind string

const (
	KindCallStart   EventKind = "CALL_START"
	KindCallUpdate  EventKind = "CALL_UPDATE"
	KindCallEnd     EventKind = "CALL_END"
	KindErrorSignal EventKind = "ERROR_SIGNAL"
)

// NormalizedEvent is the canonical form of one inbound bus message.
// Ephemeral: it exists only between normalization and commit; what
// survives is the call record plus a provenance entry.
type NormalizedEvent struct {
	MessageID uuid.UUID
	CallID    string
	SystemID  string
	Talkgroup int
	Unit      int

	Kind  EventKind
	Topic string

	// ObservedAt is receipt time at the normalizer, distinct from any
	// timestamp embedded in the payload.
	ObservedAt time.Time

	// Seq is the receipt sequence number, assigned by the router under
	// the per-call lock. Ledger ordering authority (not wall clock).
	Seq int64

	// Payload-embedded timestamps; zero when the message carried none.
	StartTime time.Time
	StopTime  time.Time

	AudioFile string
	AudioType string

	// Cause is set for ERROR_SIGNAL events ("timeout", "signal", ...).
	Cause string

	// Payload carries remaining fields through to the record verbatim.
	Payload map[string]any
}
