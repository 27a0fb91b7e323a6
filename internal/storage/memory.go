package storage

import (
	"context"
	"sync"

	"github.com/technosupport/ts-radio/internal/calls"
)

// Memory is an in-process store + ledger for tests and standalone runs.
// Commit is atomic under a single lock.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*calls.CallRecord
	ledger  map[string][]calls.ProvenanceEntry
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*calls.CallRecord),
		ledger:  make(map[string][]calls.ProvenanceEntry),
	}
}

func (m *Memory) Commit(ctx context.Context, callID string, rec *calls.CallRecord, entry *calls.ProvenanceEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec != nil {
		cp := rec.Clone()
		// RawMessages is derived from the ledger on read; storing the
		// caller's snapshot would leak stale provenance through Query.
		cp.RawMessages = nil
		m.records[callID] = cp
	}
	if entry != nil {
		m.ledger[callID] = append(m.ledger[callID], *entry)
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, callID string) (*calls.CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[callID]
	if !ok {
		return nil, calls.ErrNotFound
	}
	cp := rec.Clone()
	cp.RawMessages = append([]calls.ProvenanceEntry(nil), m.ledger[callID]...)
	return cp, nil
}

func (m *Memory) ListLedger(ctx context.Context, callID string) ([]calls.ProvenanceEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]calls.ProvenanceEntry(nil), m.ledger[callID]...), nil
}

func (m *Memory) Query(ctx context.Context, f calls.Filter) ([]*calls.CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*calls.CallRecord
	for _, rec := range m.records {
		if !matches(rec, f) {
			continue
		}
		out = append(out, rec.Clone())
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func matches(rec *calls.CallRecord, f calls.Filter) bool {
	if f.SystemID != "" && rec.SystemID != f.SystemID {
		return false
	}
	if f.Talkgroup != 0 && rec.Talkgroup != f.Talkgroup {
		return false
	}
	if f.State != "" && rec.State != f.State {
		return false
	}
	if f.NonTerminal && rec.State.Terminal() {
		return false
	}
	if !f.StaleBefore.IsZero() && !rec.LastActivityAt.Before(f.StaleBefore) {
		return false
	}
	if !f.From.IsZero() && rec.StartTime.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && rec.StartTime.After(f.To) {
		return false
	}
	return true
}
