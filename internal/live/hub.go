// Package live streams committed call transitions to WebSocket clients
// (dashboards). Slow clients are dropped rather than allowed to stall
// the routing path.
package live

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/technosupport/ts-radio/internal/engine"
)

const (
	writeTimeout  = 5 * time.Second
	clientBacklog = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboard origins are a deployment concern; same-host by default.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Hub struct {
	mu      sync.Mutex
	clients map[uint64]chan engine.TransitionEvent
	nextID  uint64
	log     *log.Logger
}

func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		clients: make(map[uint64]chan engine.TransitionEvent),
		log:     logger,
	}
}

// TransitionCommitted implements engine.Sink. Non-blocking: a full
// client buffer means the event is skipped for that client.
func (h *Hub) TransitionCommitted(ev engine.TransitionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *Hub) subscribe() (uint64, chan engine.TransitionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan engine.TransitionEvent, clientBacklog)
	h.clients[id] = ch
	return id, ch
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
}

// ClientCount reports connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the connection and streams transitions until the
// client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Printf("live: upgrade failed: %v", err)
		return
	}

	id, ch := h.subscribe()
	defer func() {
		h.unsubscribe(id)
		conn.Close()
	}()

	// Reader goroutine only to detect close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
