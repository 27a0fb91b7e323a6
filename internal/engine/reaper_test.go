package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-radio/internal/calls"
	"github.com/technosupport/ts-radio/internal/engine"
)

func TestReaper_SweepsStaleCalls(t *testing.T) {
	r, mem := newTestRouter(t)
	ctx := context.Background()

	// A1 went quiet ten minutes ago; B2 is fresh.
	old := time.Now().UTC().Add(-10 * time.Minute)
	evA := event(engine.KindCallStart, "A1", old)
	evA.StartTime = old
	require.Equal(t, engine.ResultApplied, r.Route(ctx, evA).Result)

	now := time.Now().UTC()
	evB := event(engine.KindCallStart, "B2", now)
	evB.StartTime = now
	require.Equal(t, engine.ResultApplied, r.Route(ctx, evB).Result)

	reaper := engine.NewReaper(engine.ReaperConfig{
		Interval: time.Hour, // sweep manually
		Deadline: 5 * time.Minute,
	}, mem, r, nil, nil)

	reaper.Sweep(ctx)

	recA, err := mem.Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, calls.StateError, recA.State)
	assert.Equal(t, engine.CauseTimeout, recA.ErrorCause)

	// Forced through the normal path: the timeout is on the ledger.
	require.Len(t, recA.RawMessages, 2)
	assert.Equal(t, calls.TagApplied, recA.RawMessages[1].Tag)
	assert.Equal(t, engine.CauseTimeout, recA.RawMessages[1].Note)

	recB, err := mem.Get(ctx, "B2")
	require.NoError(t, err)
	assert.Equal(t, calls.StateStarting, recB.State)
}

func TestReaper_IgnoresTerminalCalls(t *testing.T) {
	r, mem := newTestRouter(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-time.Hour)
	ev := event(engine.KindCallStart, "C1", old)
	ev.StartTime = old
	r.Route(ctx, ev)
	end := event(engine.KindCallEnd, "C1", old.Add(time.Second))
	end.StopTime = old.Add(time.Second)
	require.Equal(t, engine.ResultApplied, r.Route(ctx, end).Result)

	reaper := engine.NewReaper(engine.ReaperConfig{
		Interval: time.Hour,
		Deadline: 5 * time.Minute,
	}, mem, r, nil, nil)
	reaper.Sweep(ctx)

	rec, err := mem.Get(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, calls.StateCompleted, rec.State)
	assert.Len(t, rec.RawMessages, 2) // no reaper entry added
}

func TestReaper_StartStop(t *testing.T) {
	r, mem := newTestRouter(t)

	reaper := engine.NewReaper(engine.ReaperConfig{
		Interval: 10 * time.Millisecond,
		Deadline: time.Minute,
	}, mem, r, nil, nil)

	reaper.Start()
	time.Sleep(50 * time.Millisecond)
	reaper.Stop() // must not hang or panic
}
