package admission

import (
	"sync"
	"time"
)

// BurstConfig tunes the token buckets that smooth short spikes above a
// rule's sustained ceiling.
type BurstConfig struct {
	Enabled      bool
	RefillRate   int           // tokens added per refill window
	RefillWindow time.Duration // window the rate is expressed over
	IdleEviction time.Duration // drop state untouched for this long
}

func (c BurstConfig) withDefaults() BurstConfig {
	if c.RefillRate <= 0 {
		c.RefillRate = 1
	}
	if c.RefillWindow <= 0 {
		c.RefillWindow = 10 * time.Second
	}
	if c.IdleEviction <= 0 {
		c.IdleEviction = 10 * time.Minute
	}
	return c
}

type burstState struct {
	tokens     int
	capacity   int
	lastRefill time.Time
	lastSeen   time.Time
}

// BurstBucket holds one token bucket per composite key. State is
// process-local: counters are shared through the CounterStore, burst
// tokens are not. Multiple instances therefore each grant their own
// burst headroom; see DESIGN.md for the trade-off.
type BurstBucket struct {
	mu     sync.Mutex
	states map[string]*burstState
	cfg    BurstConfig
	now    func() time.Time

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewBurstBucket(cfg BurstConfig, now func() time.Time) *BurstBucket {
	if now == nil {
		now = time.Now
	}
	return &BurstBucket{
		states: make(map[string]*burstState),
		cfg:    cfg.withDefaults(),
		now:    now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// TryConsume refills the key's bucket for the elapsed time, then takes
// one token if available. A new key starts with a full bucket.
func (b *BurstBucket) TryConsume(key string, capacity int) (bool, int) {
	if !b.cfg.Enabled || capacity <= 0 {
		return false, 0
	}

	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.states[key]
	if !ok {
		state = &burstState{tokens: capacity, capacity: capacity, lastRefill: now}
		b.states[key] = state
	}
	state.capacity = capacity
	b.refill(state, capacity, now)
	state.lastSeen = now

	if state.tokens < 1 {
		return false, 0
	}
	state.tokens--
	return true, state.tokens
}

// Tokens reports the current token count for a key without consuming.
func (b *BurstBucket) Tokens(key string, capacity int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.states[key]
	if !ok {
		return capacity
	}
	b.refill(state, capacity, b.now())
	return state.tokens
}

func (b *BurstBucket) refill(state *burstState, capacity int, now time.Time) {
	elapsed := now.Sub(state.lastRefill)
	if elapsed <= 0 {
		return
	}
	add := int(float64(elapsed.Milliseconds()) / float64(b.cfg.RefillWindow.Milliseconds()) * float64(b.cfg.RefillRate))
	if add <= 0 {
		return
	}
	state.tokens += add
	if state.tokens > capacity {
		state.tokens = capacity
	}
	state.lastRefill = now
}

// Start launches the background refill ticker. It tops up every live
// bucket and evicts state that has sat idle, so the map does not grow
// with every key ever seen.
func (b *BurstBucket) Start(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	b.mu.Lock()
	b.started = true
	b.mu.Unlock()
	go func() {
		defer close(b.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.sweep()
			case <-b.stop:
				return
			}
		}
	}()
}

func (b *BurstBucket) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
		b.mu.Lock()
		started := b.started
		b.mu.Unlock()
		if started {
			<-b.done
		}
	})
}

func (b *BurstBucket) sweep() {
	now := b.now()
	cutoff := now.Add(-b.cfg.IdleEviction)

	b.mu.Lock()
	defer b.mu.Unlock()
	for key, state := range b.states {
		if state.lastSeen.Before(cutoff) {
			delete(b.states, key)
			continue
		}
		b.refill(state, state.capacity, now)
	}
}
