package calls

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("call record not found")
)

// Filter selects call records for secondary lookup. Zero values mean
// "any". Used by the query API, the reaper, and the audio watcher; the
// routing hot path only ever goes through Get.
type Filter struct {
	SystemID  string
	Talkgroup int
	State     State
	From      time.Time // start_time >= From
	To        time.Time // start_time <= To

	// NonTerminal restricts to STARTING/RECORDING; StaleBefore further
	// restricts to records whose last activity precedes the deadline.
	// Both are reaper concerns.
	NonTerminal bool
	StaleBefore time.Time

	Limit int
}

// Store is the durable call record boundary. Upserts happen only through
// the router's Committer; everything else reads.
type Store interface {
	// Get returns the record with RawMessages materialized from the
	// ledger, or ErrNotFound.
	Get(ctx context.Context, callID string) (*CallRecord, error)
	Query(ctx context.Context, f Filter) ([]*CallRecord, error)
}

// LedgerReader exposes the append-only provenance log for one call.
type LedgerReader interface {
	ListLedger(ctx context.Context, callID string) ([]ProvenanceEntry, error)
}
