package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/technosupport/ts-radio/internal/calls"
	"github.com/technosupport/ts-radio/internal/metrics"
)

const CauseTimeout = "timeout"

// ReaperConfig defines sweep parameters. Both are deployment
// configuration, not engine constants.
type ReaperConfig struct {
	Interval time.Duration // sweep period
	Deadline time.Duration // max idle time for a non-terminal call
}

// Reaper sweeps calls stuck in a non-terminal state past the deadline
// and forces them to ERROR through the router, so the transition and
// provenance rules are never bypassed.
type Reaper struct {
	config  ReaperConfig
	store   calls.Store
	router  *Router
	metrics *metrics.Collector
	log     *log.Logger

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewReaper(cfg ReaperConfig, store calls.Store, router *Router, m *metrics.Collector, logger *log.Logger) *Reaper {
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Deadline == 0 {
		cfg.Deadline = 5 * time.Minute
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Reaper{
		config:  cfg,
		store:   store,
		router:  router,
		metrics: m,
		log:     logger,
		quit:    make(chan struct{}),
	}
}

func (r *Reaper) Start() {
	r.wg.Add(1)
	go r.run()
}

func (r *Reaper) Stop() {
	close(r.quit)
	r.wg.Wait()
}

func (r *Reaper) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep(context.Background())
		case <-r.quit:
			return
		}
	}
}

// Sweep runs one pass. Exported so operators (and tests) can trigger it
// out of cycle.
func (r *Reaper) Sweep(ctx context.Context) {
	stale, err := r.store.Query(ctx, calls.Filter{
		NonTerminal: true,
		StaleBefore: time.Now().UTC().Add(-r.config.Deadline),
	})
	if err != nil {
		r.log.Printf("reaper: list stale calls: %v", err)
		return
	}

	for _, rec := range stale {
		out := r.router.ForceError(ctx, rec.CallID, CauseTimeout)
		switch out.Result {
		case ResultApplied:
			r.metrics.Reaped()
			r.log.Printf("reaper: call %s timed out in %s", rec.CallID, rec.State)
		case ResultRejected:
			// Lost the race with an in-flight CALL_END; nothing to do.
		case ResultFailed:
			r.log.Printf("reaper: force error for %s: %v", rec.CallID, out.Err)
		}
	}
}
