package admission

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queueRule(t *testing.T, policy BackoffPolicy) *Rule {
	t.Helper()
	rule := &Rule{
		ID:          "r1",
		Name:        "r1",
		Window:      time.Minute,
		MaxRequests: 1,
		Enabled:     true,
		Backoff:     policy,
	}
	require.NoError(t, rule.compile(time.Second))
	return rule
}

func newTestQueue(cfg ThrottleConfig) (*Queue, *testClock) {
	clk := newTestClock()
	return NewQueue(cfg, clk.Now, zerolog.Nop()), clk
}

func receive(t *testing.T, ch <-chan queueOutcome) queueOutcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(time.Second):
		t.Fatal("no outcome delivered")
		return queueOutcome{}
	}
}

func assertPending(t *testing.T, ch <-chan queueOutcome) {
	t.Helper()
	select {
	case out := <-ch:
		t.Fatalf("unexpected outcome %+v", out)
	default:
	}
}

func TestEnqueueRespectsCapacity(t *testing.T) {
	q, _ := newTestQueue(ThrottleConfig{Enabled: true})

	rule := queueRule(t, BackoffConstant)
	rule.QueueCapacity = 1

	_, ok := q.Enqueue(rule, "k")
	require.True(t, ok)
	assert.Equal(t, 1, q.Depth())

	_, ok = q.Enqueue(rule, "k")
	assert.False(t, ok)

	// A different key gets its own queue.
	_, ok = q.Enqueue(rule, "other")
	assert.True(t, ok)
	assert.Equal(t, 2, q.Depth())
}

func TestTickTimesOutOldEntries(t *testing.T) {
	q, clk := newTestQueue(ThrottleConfig{Enabled: true, MaxWait: 3 * time.Second})
	q.SetProbe(func(*Rule, string) bool { return false })

	ch, ok := q.Enqueue(queueRule(t, BackoffConstant), "k")
	require.True(t, ok)

	clk.Advance(2 * time.Second)
	q.tick()
	assertPending(t, ch)

	clk.Advance(2 * time.Second)
	q.tick()

	out := receive(t, ch)
	assert.False(t, out.allowed)
	assert.Equal(t, ReasonTimeout, out.reason)
	assert.Equal(t, 0, q.Depth())
}

func TestTickReadmitsWhenProbePasses(t *testing.T) {
	q, clk := newTestQueue(ThrottleConfig{Enabled: true, MaxWait: time.Minute, BackoffBase: time.Second})

	admit := false
	q.SetProbe(func(rule *Rule, key string) bool {
		assert.Equal(t, "r1", rule.ID)
		assert.Equal(t, "k", key)
		return admit
	})

	ch, ok := q.Enqueue(queueRule(t, BackoffConstant), "k")
	require.True(t, ok)

	// Not yet due: the first attempt waits out the backoff delay.
	q.tick()
	assertPending(t, ch)

	clk.Advance(time.Second)
	q.tick()
	assertPending(t, ch)

	admit = true
	clk.Advance(time.Second)
	q.tick()

	out := receive(t, ch)
	assert.True(t, out.allowed)
}

func TestTickHonoursBackoffBetweenAttempts(t *testing.T) {
	q, clk := newTestQueue(ThrottleConfig{Enabled: true, MaxWait: time.Hour, BackoffBase: time.Second})

	probes := 0
	q.SetProbe(func(*Rule, string) bool {
		probes++
		return false
	})

	// Linear backoff: attempts are due 1s, then 2s, then 3s apart.
	_, ok := q.Enqueue(queueRule(t, BackoffLinear), "k")
	require.True(t, ok)

	clk.Advance(time.Second)
	q.tick()
	assert.Equal(t, 1, probes)

	clk.Advance(time.Second)
	q.tick()
	assert.Equal(t, 1, probes)

	clk.Advance(time.Second)
	q.tick()
	assert.Equal(t, 2, probes)
}

func TestStopResolvesAllPending(t *testing.T) {
	q, _ := newTestQueue(ThrottleConfig{Enabled: true})
	q.SetProbe(func(*Rule, string) bool { return false })
	q.Start()

	rule := queueRule(t, BackoffConstant)
	first, ok := q.Enqueue(rule, "a")
	require.True(t, ok)
	second, ok := q.Enqueue(rule, "b")
	require.True(t, ok)

	q.Stop()

	for _, ch := range []<-chan queueOutcome{first, second} {
		out := receive(t, ch)
		assert.False(t, out.allowed)
		assert.Equal(t, ReasonShutdown, out.reason)
	}
	assert.Equal(t, 0, q.Depth())
}
