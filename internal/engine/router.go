package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-radio/internal/calls"
	"github.com/technosupport/ts-radio/internal/metrics"
)

// Committer atomically persists one transition: the updated record (nil
// when only provenance changed) plus the ledger entry (nil when the soft
// cap dropped it). Both writes succeed or neither is visible.
type Committer interface {
	Commit(ctx context.Context, callID string, rec *calls.CallRecord, entry *calls.ProvenanceEntry) error
}

// TerminalCache remembers recently finished calls so events arriving
// after COMPLETED/ERROR can be rejected without a store read. Purely an
// optimization: the state machine rejects terminal transitions anyway.
type TerminalCache interface {
	MarkClosed(ctx context.Context, callID string, s calls.State)
	Lookup(ctx context.Context, callID string) (calls.State, bool)
}

// TransitionEvent is the domain notification emitted on each committed
// transition. Consumers de-duplicate by (call_id, new_state).
type TransitionEvent struct {
	EventID   uuid.UUID   `json:"event_id"`
	CallID    string      `json:"call_id"`
	OldState  calls.State `json:"old_state,omitempty"` // empty on creation
	NewState  calls.State `json:"new_state"`
	At        time.Time   `json:"at"`
	SystemID  string      `json:"system_id,omitempty"`
	Talkgroup int         `json:"talkgroup,omitempty"`
}

// Sink receives committed transitions. Called synchronously after commit;
// implementations must not block the routing path.
type Sink interface {
	TransitionCommitted(ev TransitionEvent)
}

type RouterOptions struct {
	Store     calls.Store
	Committer Committer
	// Ledger seeds the provenance soft cap on paths that never load the
	// record (terminal fast path, events for absent calls). Defaults to
	// Store when the store also reads the ledger.
	Ledger  calls.LedgerReader
	Closed  TerminalCache // optional
	Metrics *metrics.Collector

	// MaxLedgerEntries is the per-call provenance soft cap; 0 = unlimited.
	// Appends past the cap are dropped and counted, never an error.
	MaxLedgerEntries int

	Log *log.Logger
}

// Router owns the call_id → processing-context mapping. Events for the
// same call_id apply in strict lock-acquisition order; distinct call_ids
// never contend.
type Router struct {
	store     calls.Store
	committer Committer
	ledger    calls.LedgerReader
	closed    TerminalCache
	metrics   *metrics.Collector
	maxLedger int
	log       *log.Logger

	mu    sync.Mutex
	locks map[string]*callLock

	seq atomic.Int64

	sinkMu sync.RWMutex
	sinks  []Sink
}

// callLock serializes one call's transitions. Refcounted so idle entries
// are reclaimed; entries tracks the ledger length for the soft cap.
type callLock struct {
	mu      sync.Mutex
	refs    int
	entries int
	seeded  bool
}

func NewRouter(opts RouterOptions) *Router {
	logger := opts.Log
	if logger == nil {
		logger = log.Default()
	}
	ledger := opts.Ledger
	if ledger == nil {
		ledger, _ = opts.Store.(calls.LedgerReader)
	}
	return &Router{
		store:     opts.Store,
		committer: opts.Committer,
		ledger:    ledger,
		closed:    opts.Closed,
		metrics:   opts.Metrics,
		maxLedger: opts.MaxLedgerEntries,
		log:       logger,
		locks:     make(map[string]*callLock),
	}
}

// AddSink registers a committed-transition consumer.
func (r *Router) AddSink(s Sink) {
	r.sinkMu.Lock()
	r.sinks = append(r.sinks, s)
	r.sinkMu.Unlock()
}

func (r *Router) acquire(callID string) *callLock {
	r.mu.Lock()
	cl := r.locks[callID]
	if cl == nil {
		cl = &callLock{}
		r.locks[callID] = cl
	}
	cl.refs++
	r.mu.Unlock()

	cl.mu.Lock()
	return cl
}

func (r *Router) release(callID string, cl *callLock) {
	cl.mu.Unlock()

	r.mu.Lock()
	cl.refs--
	if cl.refs == 0 {
		delete(r.locks, callID)
	}
	r.mu.Unlock()
}

// Route processes one normalized event. Receipt order for a call_id is
// the order events win the call's lock; the sequence number is assigned
// under that lock so ledger order and processing order agree.
func (r *Router) Route(ctx context.Context, ev *NormalizedEvent) Outcome {
	if ev == nil || ev.CallID == "" {
		return failedOutcome(errors.New("route: event without call id"))
	}

	cl := r.acquire(ev.CallID)
	defer r.release(ev.CallID, cl)

	ev.Seq = r.seq.Add(1)

	// Fast path: call already known terminal, skip the store read.
	if r.closed != nil {
		if _, ok := r.closed.Lookup(ctx, ev.CallID); ok {
			r.seedCap(ctx, cl, nil, ev.CallID)
			return r.reject(ctx, cl, ev, rejected(RejectTerminalState))
		}
	}

	cur, err := r.store.Get(ctx, ev.CallID)
	if err != nil && !errors.Is(err, calls.ErrNotFound) {
		return r.fail(ev, fmt.Errorf("load call: %w", err))
	}
	r.seedCap(ctx, cl, cur, ev.CallID)

	res := Transition(cur, ev)
	if res.Rejected() {
		return r.reject(ctx, cl, ev, res)
	}

	next := apply(cur, ev, res)
	entry := r.nextEntry(cl, ev, res.Tag, "")

	// A cancelled caller must not see a partial apply: bail before the
	// commit, never between its writes.
	if err := ctx.Err(); err != nil {
		return r.fail(ev, err)
	}
	if err := r.committer.Commit(ctx, ev.CallID, next, entry); err != nil {
		return r.fail(ev, fmt.Errorf("commit: %w", err))
	}

	if next.State.Terminal() {
		if r.closed != nil {
			r.closed.MarkClosed(ctx, ev.CallID, next.State)
		}
		r.metrics.ActiveCallsAdd(-1)
	}
	if res.Created {
		r.metrics.ActiveCallsAdd(1)
	}
	r.metrics.RouteOutcome(string(ResultApplied), "")

	var old calls.State
	if cur != nil {
		old = cur.State
	}
	r.fanout(TransitionEvent{
		EventID:   ev.MessageID,
		CallID:    ev.CallID,
		OldState:  old,
		NewState:  next.State,
		At:        ev.ObservedAt,
		SystemID:  next.SystemID,
		Talkgroup: next.Talkgroup,
	})

	return appliedOutcome(next.State)
}

// ForceError drives a call to ERROR through the normal transition path,
// so provenance and serialization rules hold. Used by the reaper.
func (r *Router) ForceError(ctx context.Context, callID, cause string) Outcome {
	return r.Route(ctx, &NormalizedEvent{
		MessageID:  uuid.New(),
		CallID:     callID,
		Kind:       KindErrorSignal,
		Topic:      "internal/reaper",
		ObservedAt: time.Now().UTC(),
		Cause:      cause,
	})
}

// reject appends the provenance entry for a rejected attempt (the audit
// trail records every attempt) and reports the rejection. The record
// itself is never touched.
func (r *Router) reject(ctx context.Context, cl *callLock, ev *NormalizedEvent, res TransitionResult) Outcome {
	entry := r.nextEntry(cl, ev, res.Tag, string(res.Reject))
	if err := r.committer.Commit(ctx, ev.CallID, nil, entry); err != nil {
		return r.fail(ev, fmt.Errorf("commit rejection: %w", err))
	}
	r.metrics.RouteOutcome(string(ResultRejected), string(res.Reject))
	return rejectedOutcome(res.Reject)
}

// seedCap initializes the per-call ledger count the soft cap checks
// against. The loaded record carries the materialized ledger; paths
// that skip the load (terminal fast path, absent call) count the
// ledger directly, otherwise every late event would restart from zero.
func (r *Router) seedCap(ctx context.Context, cl *callLock, cur *calls.CallRecord, callID string) {
	if cl.seeded || r.maxLedger <= 0 {
		return
	}
	if cur != nil {
		cl.entries = len(cur.RawMessages)
	} else if r.ledger != nil {
		entries, err := r.ledger.ListLedger(ctx, callID)
		if err != nil {
			r.log.Printf("count ledger for %s: %v", callID, err)
		}
		cl.entries = len(entries)
	}
	cl.seeded = true
}

// nextEntry builds the ledger entry, honoring the soft cap. Returns nil
// when the cap dropped it.
func (r *Router) nextEntry(cl *callLock, ev *NormalizedEvent, tag calls.ProvenanceTag, note string) *calls.ProvenanceEntry {
	if r.maxLedger > 0 && cl.entries >= r.maxLedger {
		r.metrics.LedgerDropped()
		return nil
	}
	cl.entries++
	if note == "" && ev.Cause != "" {
		note = ev.Cause
	}
	return &calls.ProvenanceEntry{
		Seq:        ev.Seq,
		Topic:      ev.Topic,
		MessageID:  ev.MessageID.String(),
		ObservedAt: ev.ObservedAt,
		Tag:        tag,
		Note:       note,
	}
}

func (r *Router) fail(ev *NormalizedEvent, err error) Outcome {
	r.metrics.RouteOutcome(string(ResultFailed), "")
	r.log.Printf("route failed call_id=%s topic=%s: %v", ev.CallID, ev.Topic, err)
	return failedOutcome(err)
}

func (r *Router) fanout(t TransitionEvent) {
	r.sinkMu.RLock()
	sinks := r.sinks
	r.sinkMu.RUnlock()
	for _, s := range sinks {
		s.TransitionCommitted(t)
	}
}
