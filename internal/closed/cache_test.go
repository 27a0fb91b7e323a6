package closed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-radio/internal/calls"
)

func TestCache_InProcessOnly(t *testing.T) {
	c := New(4, nil, time.Minute, nil)
	ctx := context.Background()

	_, ok := c.Lookup(ctx, "A1")
	assert.False(t, ok)

	c.MarkClosed(ctx, "A1", calls.StateCompleted)
	state, ok := c.Lookup(ctx, "A1")
	require.True(t, ok)
	assert.Equal(t, calls.StateCompleted, state)
}

func TestCache_RedisBacked(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	writer := New(4, rdb, time.Minute, nil)
	writer.MarkClosed(ctx, "A1", calls.StateError)

	// A second instance with a cold local cache sees it through Redis.
	reader := New(4, rdb, time.Minute, nil)
	state, ok := reader.Lookup(ctx, "A1")
	require.True(t, ok)
	assert.Equal(t, calls.StateError, state)

	// Redis entries expire with the TTL.
	mr.FastForward(2 * time.Minute)
	cold := New(4, rdb, time.Minute, nil)
	_, ok = cold.Lookup(ctx, "A1")
	assert.False(t, ok)
}

func TestCache_RedisDownDegradesToLocal(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	c := New(4, rdb, time.Minute, nil)
	mr.Close()

	// Writes and reads must not error out; local LRU still works.
	c.MarkClosed(ctx, "B1", calls.StateCompleted)
	state, ok := c.Lookup(ctx, "B1")
	require.True(t, ok)
	assert.Equal(t, calls.StateCompleted, state)
}
