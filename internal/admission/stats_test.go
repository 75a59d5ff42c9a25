package admission

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecorder() (*Recorder, *memStore, *testClock) {
	clk := newTestClock()
	store := newMemStore(clk.Now)
	return NewRecorder(store, clk.Now, zerolog.Nop()), store, clk
}

func TestRecorderAggregatesWindow(t *testing.T) {
	rec, _, _ := newTestRecorder()
	ctx := context.Background()

	rec.IncrTotal(ctx)
	rec.IncrTotal(ctx)
	rec.IncrBlocked(ctx)
	rec.IncrThrottled(ctx)
	rec.IncrRuleHit(ctx, "r1")
	rec.IncrRuleHit(ctx, "r1")

	stats, err := rec.Statistics(ctx, 60, []string{"r1", "r2"})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Blocked)
	assert.Equal(t, 1, stats.Throttled)
	assert.Equal(t, 0, stats.Degraded)
	assert.Equal(t, 2, stats.RuleHits["r1"])
	assert.Equal(t, 0, stats.RuleHits["r2"])
}

func TestRecorderSpansMinutes(t *testing.T) {
	rec, _, clk := newTestRecorder()
	ctx := context.Background()

	rec.IncrTotal(ctx)
	clk.Advance(time.Minute)
	rec.IncrTotal(ctx)

	stats, err := rec.Statistics(ctx, 60, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)

	stats, err = rec.Statistics(ctx, 120, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
}

func TestRecorderCountersExpire(t *testing.T) {
	rec, _, clk := newTestRecorder()
	ctx := context.Background()

	rec.IncrTotal(ctx)
	clk.Advance(3 * time.Minute)

	stats, err := rec.Statistics(ctx, 300, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}

func TestResetKeyScopedToSubject(t *testing.T) {
	rec, store, _ := newTestRecorder()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, counterKey("alice", "r1"), "x", 0))
	require.NoError(t, store.Set(ctx, counterKey("alice", "r2"), "x", 0))
	require.NoError(t, store.Set(ctx, counterKey("alice2", "r1"), "x", 0))

	require.NoError(t, rec.ResetKey(ctx, "alice"))

	_, ok, err := store.Get(ctx, counterKey("alice", "r1"))
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = store.Get(ctx, counterKey("alice", "r2"))
	require.NoError(t, err)
	assert.False(t, ok)

	// A prefix reset must not bleed into other subjects.
	_, ok, err = store.Get(ctx, counterKey("alice2", "r1"))
	require.NoError(t, err)
	assert.True(t, ok)
}
