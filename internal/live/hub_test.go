package live

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-radio/internal/calls"
	"github.com/technosupport/ts-radio/internal/engine"
)

func transition(callID string, next calls.State) engine.TransitionEvent {
	return engine.TransitionEvent{
		EventID:  uuid.New(),
		CallID:   callID,
		NewState: next,
		At:       time.Now().UTC(),
	}
}

func TestHub_FanoutToSubscribers(t *testing.T) {
	h := NewHub(nil)
	_, ch1 := h.subscribe()
	_, ch2 := h.subscribe()
	assert.Equal(t, 2, h.ClientCount())

	ev := transition("C1", calls.StateRecording)
	h.TransitionCommitted(ev)

	for _, ch := range []chan engine.TransitionEvent{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, ev.CallID, got.CallID)
			assert.Equal(t, ev.NewState, got.NewState)
		default:
			t.Fatal("subscriber did not receive transition")
		}
	}
}

func TestHub_SlowClientSkipped(t *testing.T) {
	h := NewHub(nil)
	_, ch := h.subscribe()

	// Fill the backlog and one more; the overflow must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i <= clientBacklog; i++ {
			h.TransitionCommitted(transition("C1", calls.StateRecording))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fanout blocked on a full client buffer")
	}
	assert.Len(t, ch, clientBacklog)
}

func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub(nil)
	id, ch := h.subscribe()
	h.unsubscribe(id)
	assert.Equal(t, 0, h.ClientCount())

	h.TransitionCommitted(transition("C1", calls.StateCompleted))
	assert.Empty(t, ch)
}

func TestServeWS_StreamsTransitions(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	want := transition("C9", calls.StateCompleted)
	h.TransitionCommitted(want)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got engine.TransitionEvent
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "C9", got.CallID)
	assert.Equal(t, calls.StateCompleted, got.NewState)
}
