package bus

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/technosupport/ts-radio/internal/engine"
	"github.com/technosupport/ts-radio/internal/metrics"
)

const TransitionsSubject = "radio.calls.transitions"

// notifierBacklog bounds the queue between the routing path and the
// publish worker. A full backlog drops the notification rather than
// stalling a commit.
const notifierBacklog = 256

// Publisher is the outbound bus surface; *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Notifier publishes committed transitions for downstream consumers
// (dashboards, alerting). At-least-once: consumers de-duplicate by
// (call_id, new_state). Publishing happens on a background worker so
// the sink callback never blocks routing.
type Notifier struct {
	pub        Publisher
	subject    string
	maxRetries int
	metrics    *metrics.Collector
	log        *log.Logger

	ch   chan engine.TransitionEvent
	quit chan struct{}
	wg   sync.WaitGroup
}

func NewNotifier(pub Publisher, subject string, maxRetries int, m *metrics.Collector, logger *log.Logger) *Notifier {
	if subject == "" {
		subject = TransitionsSubject
	}
	if maxRetries == 0 {
		maxRetries = 3
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Notifier{
		pub:        pub,
		subject:    subject,
		maxRetries: maxRetries,
		metrics:    m,
		log:        logger,
		ch:         make(chan engine.TransitionEvent, notifierBacklog),
		quit:       make(chan struct{}),
	}
}

func (n *Notifier) Start() {
	n.wg.Add(1)
	go n.run()
}

func (n *Notifier) Stop() {
	close(n.quit)
	n.wg.Wait()
}

// TransitionCommitted implements engine.Sink. Non-blocking: transitions
// land in the worker queue, a full queue drops the notification.
func (n *Notifier) TransitionCommitted(ev engine.TransitionEvent) {
	select {
	case n.ch <- ev:
	default:
		n.log.Printf("notifier: backlog full, dropping transition for %s", ev.CallID)
	}
}

func (n *Notifier) run() {
	defer n.wg.Done()
	for {
		select {
		case ev := <-n.ch:
			n.publish(ev)
		case <-n.quit:
			// Drain what routing already handed over.
			for {
				select {
				case ev := <-n.ch:
					n.publish(ev)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) publish(ev engine.TransitionEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		n.log.Printf("notifier: marshal transition %s: %v", ev.CallID, err)
		return
	}

	for i := 0; i <= n.maxRetries; i++ {
		if err = n.pub.Publish(n.subject, data); err == nil {
			n.metrics.TransitionEmitted()
			return
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
	n.log.Printf("notifier: publish failed after %d retries: %v", n.maxRetries, err)
}
