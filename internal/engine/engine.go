// Package engine is the call event correlation and lifecycle core: it
// turns an unordered, possibly duplicated stream of bus messages keyed
// by call id into exactly-once call records with forward-only state
// transitions and a complete provenance trail.
package engine

import (
	"context"
	"errors"
	"log"

	"github.com/technosupport/ts-radio/internal/metrics"
)

// Engine is the sole ingestion entry point: Handle(topic, payload).
// Transport delivery style (callback, channel, polling) is the caller's
// concern; Handle is always a synchronous-result operation.
type Engine struct {
	norm    *Normalizer
	router  *Router
	metrics *metrics.Collector
	log     *log.Logger
}

func New(norm *Normalizer, router *Router, m *metrics.Collector, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{norm: norm, router: router, metrics: m, log: logger}
}

func (e *Engine) Router() *Router { return e.router }

// Handle normalizes and routes one raw bus message.
//
// A returned error is a NormalizationError: the message is permanently
// unparseable and must be dropped, never retried. Otherwise the Outcome
// governs consumption: Applied and Rejected consume the message; Failed
// means retry with backoff (at-least-once from the transport).
func (e *Engine) Handle(ctx context.Context, topic string, payload []byte) (Outcome, error) {
	ev, err := e.norm.Normalize(ctx, topic, payload)
	if err != nil {
		reason := "unknown_event_kind"
		if errors.Is(err, ErrMissingCallID) {
			reason = "missing_call_id"
		}
		e.metrics.NormalizeFailure(reason)
		e.log.Printf("dropping unparseable message topic=%s: %v", topic, err)
		return Outcome{}, err
	}

	e.metrics.MessageConsumed(string(ev.Kind))
	return e.router.Route(ctx, ev), nil
}
