package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-radio/internal/calls"
	"github.com/technosupport/ts-radio/internal/storage"
)

func seedStore(t *testing.T) *storage.Memory {
	t.Helper()
	mem := storage.NewMemory()
	now := time.Now().UTC()

	recs := []*calls.CallRecord{
		{CallID: "A1", SystemID: "s1", Talkgroup: 100, State: calls.StateCompleted, StartTime: now.Add(-10 * time.Minute), LastActivityAt: now},
		{CallID: "A2", SystemID: "s1", Talkgroup: 200, State: calls.StateRecording, StartTime: now.Add(-1 * time.Minute), LastActivityAt: now},
		{CallID: "A3", SystemID: "s2", Talkgroup: 100, State: calls.StateStarting, StartTime: now, LastActivityAt: now},
	}
	for _, rec := range recs {
		require.NoError(t, mem.Commit(context.Background(), rec.CallID, rec, &calls.ProvenanceEntry{
			Seq: 1, Topic: "radio/feeds/call_start", MessageID: rec.CallID + "-m1",
			ObservedAt: rec.StartTime, Tag: calls.TagApplied,
		}))
	}
	return mem
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mem := seedStore(t)
	srv := httptest.NewServer(NewRouter(NewCallHandler(mem, mem), nil, nil))
	t.Cleanup(srv.Close)
	return srv
}

func TestListCalls_FilterBySystem(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/calls?system=s1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var recs []calls.CallRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&recs))
	assert.Len(t, recs, 2)
}

func TestListCalls_FilterByState(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/calls?state=RECORDING")
	require.NoError(t, err)
	defer resp.Body.Close()

	var recs []calls.CallRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "A2", recs[0].CallID)
}

func TestListCalls_InvalidParams(t *testing.T) {
	srv := newTestServer(t)

	for _, q := range []string{"state=BOGUS", "talkgroup=abc", "from=notatime"} {
		resp, err := http.Get(srv.URL + "/api/v1/calls?" + q)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestGetCall(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/calls/A1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rec calls.CallRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	assert.Equal(t, "A1", rec.CallID)
	assert.Equal(t, calls.StateCompleted, rec.State)
	assert.Len(t, rec.RawMessages, 1)
}

func TestGetCall_NotFound(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/calls/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetLedger(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/calls/A2/ledger")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []calls.ProvenanceEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, calls.TagApplied, entries[0].Tag)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
