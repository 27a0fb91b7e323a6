package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter assembles the HTTP surface: query API, live WebSocket feed,
// health, metrics.
func NewRouter(h *CallHandler, wsHandler http.HandlerFunc, metricsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/calls", h.ListCalls)
		r.Get("/calls/{id}", h.GetCall)
		r.Get("/calls/{id}/ledger", h.GetLedger)
	})

	if wsHandler != nil {
		r.Get("/ws/transitions", wsHandler)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	return r
}
