package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the engine's prometheus registry. All record methods
// are safe on a nil receiver so components can run without metrics in
// tests.
type Collector struct {
	registry *prometheus.Registry

	messagesConsumed   *prometheus.CounterVec
	normalizeFailures  *prometheus.CounterVec
	routeOutcomes      *prometheus.CounterVec
	activeCalls        prometheus.Gauge
	reapedCalls        prometheus.Counter
	ledgerDropped      prometheus.Counter
	transitionsEmitted prometheus.Counter
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		messagesConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "radio_messages_consumed_total",
			Help: "Bus messages normalized successfully, by event kind.",
		}, []string{"kind"}),
		normalizeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "radio_normalize_failures_total",
			Help: "Messages dropped as unparseable, by reason.",
		}, []string{"reason"}),
		routeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "radio_route_outcomes_total",
			Help: "Routing outcomes, by result and rejection reason.",
		}, []string{"result", "reason"}),
		activeCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "radio_active_calls",
			Help: "Calls currently in a non-terminal state.",
		}),
		reapedCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "radio_reaped_calls_total",
			Help: "Stale calls forced to ERROR by the reaper.",
		}),
		ledgerDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "radio_ledger_entries_dropped_total",
			Help: "Provenance entries dropped by the per-call soft cap.",
		}),
		transitionsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "radio_transitions_emitted_total",
			Help: "Committed transition notifications published.",
		}),
	}

	reg.MustRegister(
		c.messagesConsumed,
		c.normalizeFailures,
		c.routeOutcomes,
		c.activeCalls,
		c.reapedCalls,
		c.ledgerDropped,
		c.transitionsEmitted,
	)
	return c
}

// Handler serves the registry for scraping.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) MessageConsumed(kind string) {
	if c == nil {
		return
	}
	c.messagesConsumed.WithLabelValues(kind).Inc()
}

func (c *Collector) NormalizeFailure(reason string) {
	if c == nil {
		return
	}
	c.normalizeFailures.WithLabelValues(reason).Inc()
}

func (c *Collector) RouteOutcome(result, reason string) {
	if c == nil {
		return
	}
	c.routeOutcomes.WithLabelValues(result, reason).Inc()
}

func (c *Collector) ActiveCallsAdd(delta int) {
	if c == nil {
		return
	}
	c.activeCalls.Add(float64(delta))
}

func (c *Collector) Reaped() {
	if c == nil {
		return
	}
	c.reapedCalls.Inc()
}

func (c *Collector) LedgerDropped() {
	if c == nil {
		return
	}
	c.ledgerDropped.Inc()
}

func (c *Collector) TransitionEmitted() {
	if c == nil {
		return
	}
	c.transitionsEmitted.Inc()
}
