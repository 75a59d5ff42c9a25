package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestBurst(cfg BurstConfig) (*BurstBucket, *testClock) {
	clk := newTestClock()
	return NewBurstBucket(cfg, clk.Now), clk
}

func TestBurstNewKeyStartsFull(t *testing.T) {
	b, _ := newTestBurst(BurstConfig{Enabled: true})

	for i := 2; i >= 0; i-- {
		ok, remaining := b.TryConsume("k", 3)
		assert.True(t, ok)
		assert.Equal(t, i, remaining)
	}

	ok, _ := b.TryConsume("k", 3)
	assert.False(t, ok)
}

func TestBurstDisabled(t *testing.T) {
	b, _ := newTestBurst(BurstConfig{})

	ok, _ := b.TryConsume("k", 3)
	assert.False(t, ok)
}

func TestBurstRefillsOverTime(t *testing.T) {
	b, clk := newTestBurst(BurstConfig{
		Enabled:      true,
		RefillRate:   2,
		RefillWindow: 10 * time.Second,
	})

	for i := 0; i < 5; i++ {
		b.TryConsume("k", 5)
	}
	ok, _ := b.TryConsume("k", 5)
	assert.False(t, ok)

	// Under half a refill window earns nothing.
	clk.Advance(4 * time.Second)
	ok, _ = b.TryConsume("k", 5)
	assert.False(t, ok)

	clk.Advance(6 * time.Second)
	ok, remaining := b.TryConsume("k", 5)
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)
}

func TestBurstRefillCapsAtCapacity(t *testing.T) {
	b, clk := newTestBurst(BurstConfig{
		Enabled:      true,
		RefillRate:   100,
		RefillWindow: time.Second,
	})

	b.TryConsume("k", 3)
	clk.Advance(time.Hour)

	assert.Equal(t, 3, b.Tokens("k", 3))
}

func TestBurstSweepEvictsIdleState(t *testing.T) {
	b, clk := newTestBurst(BurstConfig{
		Enabled:      true,
		IdleEviction: time.Minute,
	})

	b.TryConsume("stale", 3)
	clk.Advance(2 * time.Minute)
	b.TryConsume("fresh", 3)

	b.sweep()

	b.mu.Lock()
	_, staleKept := b.states["stale"]
	_, freshKept := b.states["fresh"]
	b.mu.Unlock()

	assert.False(t, staleKept)
	assert.True(t, freshKept)
}
