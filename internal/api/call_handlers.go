package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/ts-radio/internal/calls"
)

const defaultListLimit = 100

// CallHandler is the read-only query surface over call records. The
// engine never reads through this layer; it exists for downstream
// consumers.
type CallHandler struct {
	Store  calls.Store
	Ledger calls.LedgerReader
}

func NewCallHandler(store calls.Store, ledger calls.LedgerReader) *CallHandler {
	return &CallHandler{Store: store, Ledger: ledger}
}

// ListCalls handles GET /api/v1/calls with system/talkgroup/state/time
// filters.
func (h *CallHandler) ListCalls(w http.ResponseWriter, r *http.Request) {
	f := calls.Filter{Limit: defaultListLimit}
	q := r.URL.Query()

	f.SystemID = q.Get("system")
	if tg := q.Get("talkgroup"); tg != "" {
		v, err := strconv.Atoi(tg)
		if err != nil {
			http.Error(w, "invalid talkgroup", http.StatusBadRequest)
			return
		}
		f.Talkgroup = v
	}
	if s := q.Get("state"); s != "" {
		st := calls.State(s)
		if !st.Valid() {
			http.Error(w, "invalid state", http.StatusBadRequest)
			return
		}
		f.State = st
	}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			http.Error(w, "invalid from timestamp", http.StatusBadRequest)
			return
		}
		f.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			http.Error(w, "invalid to timestamp", http.StatusBadRequest)
			return
		}
		f.To = t
	}
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			f.Limit = v
		}
	}

	recs, err := h.Store.Query(r.Context(), f)
	if err != nil {
		http.Error(w, "failed to list calls", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []*calls.CallRecord{}
	}

	writeJSON(w, recs)
}

// GetCall handles GET /api/v1/calls/{id}.
func (h *CallHandler) GetCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.Store.Get(r.Context(), id)
	if errors.Is(err, calls.ErrNotFound) {
		http.Error(w, "call not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to get call", http.StatusInternalServerError)
		return
	}
	writeJSON(w, rec)
}

// GetLedger handles GET /api/v1/calls/{id}/ledger. The trail includes
// rejected attempts.
func (h *CallHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entries, err := h.Ledger.ListLedger(r.Context(), id)
	if err != nil {
		http.Error(w, "failed to list ledger", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []calls.ProvenanceEntry{}
	}
	writeJSON(w, entries)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
