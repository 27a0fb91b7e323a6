// Package closed tracks recently finished calls so late-arriving events
// can be rejected without a store round trip. In a clustered deployment
// the shared Redis layer lets one instance see calls another closed.
package closed

import (
	"context"
	"fmt"
	"log"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-radio/internal/calls"
)

const DefaultTTL = 15 * time.Minute

type Cache struct {
	local *lru.Cache[string, calls.State]
	rdb   *redis.Client // nil = in-process only
	ttl   time.Duration
	log   *log.Logger
}

// New builds a cache with an in-process LRU front and an optional Redis
// backing. rdb may be nil.
func New(size int, rdb *redis.Client, ttl time.Duration, logger *log.Logger) *Cache {
	if size <= 0 {
		size = 8192
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.Default()
	}
	c, _ := lru.New[string, calls.State](size)
	return &Cache{local: c, rdb: rdb, ttl: ttl, log: logger}
}

func key(callID string) string {
	return fmt.Sprintf("closed_call:%s", callID)
}

// MarkClosed records a terminal state. Redis failures are logged and
// swallowed: the cache is an optimization, the state machine is the
// authority.
func (c *Cache) MarkClosed(ctx context.Context, callID string, s calls.State) {
	c.local.Add(callID, s)
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, key(callID), string(s), c.ttl).Err(); err != nil {
		c.log.Printf("closed cache: redis set %s: %v", callID, err)
	}
}

func (c *Cache) Lookup(ctx context.Context, callID string) (calls.State, bool) {
	if s, ok := c.local.Get(callID); ok {
		return s, true
	}
	if c.rdb == nil {
		return "", false
	}
	val, err := c.rdb.Get(ctx, key(callID)).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Printf("closed cache: redis get %s: %v", callID, err)
		}
		return "", false
	}
	s := calls.State(val)
	c.local.Add(callID, s) // backfill
	return s, true
}
