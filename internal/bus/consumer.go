package bus

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/technosupport/ts-radio/internal/engine"
)

// Consumer feeds bus messages into the engine. Subjects mirror the feed
// topic grammar with dots ("radio.feeds.call_start"); the consumer
// rewrites them to the slash form the normalizer expects.
type Consumer struct {
	conn       *nats.Conn
	engine     *engine.Engine
	queue      string
	maxRetries int
	log        *log.Logger

	subs []*nats.Subscription
}

type ConsumerOptions struct {
	Conn   *nats.Conn
	Engine *engine.Engine
	// Queue is the NATS queue group; instances in a cluster share it so
	// each message is delivered to exactly one of them.
	Queue      string
	MaxRetries int // retries for Failed (store-unavailable) outcomes
	Log        *log.Logger
}

func NewConsumer(opts ConsumerOptions) *Consumer {
	if opts.Queue == "" {
		opts.Queue = "ts-radio"
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 5
	}
	if opts.Log == nil {
		opts.Log = log.Default()
	}
	return &Consumer{
		conn:       opts.Conn,
		engine:     opts.Engine,
		queue:      opts.Queue,
		maxRetries: opts.MaxRetries,
		log:        opts.Log,
	}
}

// Start subscribes to the call feed subjects.
func (c *Consumer) Start() error {
	sub, err := c.conn.QueueSubscribe("radio.feeds.>", c.queue, c.onMessage)
	if err != nil {
		return err
	}
	c.subs = append(c.subs, sub)
	c.log.Printf("bus: subscribed to radio.feeds.> (queue %s)", c.queue)
	return nil
}

func (c *Consumer) Stop() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
}

func (c *Consumer) onMessage(msg *nats.Msg) {
	topic := strings.ReplaceAll(msg.Subject, ".", "/")
	ctx := context.Background()

	// Failed outcomes are transient (store/ledger down); retry with
	// backoff before giving the message up. Applied and Rejected both
	// consume the message; normalization errors drop it.
	for attempt := 0; ; attempt++ {
		out, err := c.engine.Handle(ctx, topic, msg.Data)
		if err != nil {
			return // unparseable, already logged and counted
		}
		if out.Result != engine.ResultFailed {
			return
		}
		if attempt >= c.maxRetries {
			c.log.Printf("bus: giving up on %s after %d attempts: %v", msg.Subject, attempt+1, out.Err)
			return
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
}
