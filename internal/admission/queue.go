package admission

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ThrottleConfig controls deferred admission for priority callers.
type ThrottleConfig struct {
	Enabled       bool
	QueueCapacity int           // per-queue bound when a rule sets none
	MaxWait       time.Duration // entries older than this time out
	PriorityTiers []string      // tiers eligible for queueing
	BackoffBase   time.Duration
	TickInterval  time.Duration
}

func (c ThrottleConfig) withDefaults() ThrottleConfig {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 100
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 30 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	return c
}

// tierEligible reports whether a tier may wait in the queue instead of
// being rejected outright.
func (c ThrottleConfig) tierEligible(tier string) bool {
	for _, eligible := range c.PriorityTiers {
		if strings.EqualFold(eligible, tier) {
			return true
		}
	}
	return false
}

type queueOutcome struct {
	allowed bool
	reason  string
}

type queueEntry struct {
	enqueuedAt    time.Time
	attempts      int
	nextAttemptAt time.Time
	result        chan queueOutcome
}

type keyQueue struct {
	rule *Rule
	key  string

	entries []*queueEntry
}

// AdmitProbe reports whether a parked request can be admitted now. A
// nil probe admits unconditionally.
type AdmitProbe func(rule *Rule, key string) bool

// Queue parks denied requests from priority callers instead of
// rejecting them. A fixed-interval ticker walks the head of each queue:
// entries past MaxWait time out, entries whose backoff delay has
// elapsed are probed against current quota and re-admitted when it
// passes. Callers block on the entry's result channel.
type Queue struct {
	mu     sync.Mutex
	queues map[string]*keyQueue

	cfg   ThrottleConfig
	now   func() time.Time
	log   zerolog.Logger
	probe AdmitProbe

	onDepth func(int)

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewQueue(cfg ThrottleConfig, now func() time.Time, log zerolog.Logger) *Queue {
	if now == nil {
		now = time.Now
	}
	return &Queue{
		queues: make(map[string]*keyQueue),
		cfg:    cfg.withDefaults(),
		now:    now,
		log:    log.With().Str("component", "admission_queue").Logger(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// SetDepthCallback registers an observer for total queued entries.
func (q *Queue) SetDepthCallback(fn func(int)) {
	q.onDepth = fn
}

// SetProbe installs the quota re-check used on each due attempt.
func (q *Queue) SetProbe(fn AdmitProbe) {
	q.probe = fn
}

// Enqueue appends an entry to the rule+key queue and returns the
// channel its outcome will arrive on. Returns false when the queue is
// at capacity.
func (q *Queue) Enqueue(rule *Rule, key string) (<-chan queueOutcome, bool) {
	capacity := rule.QueueCapacity
	if capacity <= 0 {
		capacity = q.cfg.QueueCapacity
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	id := rule.ID + "|" + key
	kq, ok := q.queues[id]
	if !ok {
		kq = &keyQueue{rule: rule, key: key}
		q.queues[id] = kq
	}

	if len(kq.entries) >= capacity {
		return nil, false
	}

	now := q.now()
	entry := &queueEntry{
		enqueuedAt:    now,
		attempts:      1,
		nextAttemptAt: now.Add(rule.backoff.Delay(0, 1)),
		result:        make(chan queueOutcome, 1),
	}
	kq.entries = append(kq.entries, entry)
	q.notifyDepth()
	return entry.result, true
}

// Depth reports the total number of parked entries.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depthLocked()
}

func (q *Queue) depthLocked() int {
	total := 0
	for _, kq := range q.queues {
		total += len(kq.entries)
	}
	return total
}

func (q *Queue) notifyDepth() {
	if q.onDepth != nil {
		q.onDepth(q.depthLocked())
	}
}

// Start launches the ticker that drains queue heads.
func (q *Queue) Start() {
	q.mu.Lock()
	q.started = true
	q.mu.Unlock()
	go func() {
		defer close(q.done)
		ticker := time.NewTicker(q.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				q.tick()
			case <-q.stop:
				return
			}
		}
	}()
}

// Stop halts the ticker and resolves every pending entry as denied so
// no caller is left suspended across shutdown.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stop)
		q.mu.Lock()
		started := q.started
		q.mu.Unlock()
		if started {
			<-q.done
		}

		q.mu.Lock()
		defer q.mu.Unlock()
		for id, kq := range q.queues {
			for _, entry := range kq.entries {
				entry.result <- queueOutcome{allowed: false, reason: ReasonShutdown}
			}
			delete(q.queues, id)
		}
		q.notifyDepth()
	})
}

// tick examines the head of every non-empty queue: entries past MaxWait
// resolve as timed out; entries whose backoff delay has elapsed are
// probed and either re-admitted or rescheduled for the next attempt.
func (q *Queue) tick() {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	for id, kq := range q.queues {
		if len(kq.entries) == 0 {
			delete(q.queues, id)
			continue
		}

		head := kq.entries[0]
		age := now.Sub(head.enqueuedAt)

		if age > q.cfg.MaxWait {
			head.result <- queueOutcome{allowed: false, reason: ReasonTimeout}
			kq.entries = kq.entries[1:]
			q.log.Debug().Str("queue", id).Dur("age", age).Msg("queued request timed out")
			continue
		}

		if now.Before(head.nextAttemptAt) {
			continue
		}

		if q.probe == nil || q.probe(kq.rule, kq.key) {
			head.result <- queueOutcome{allowed: true}
			kq.entries = kq.entries[1:]
			q.log.Debug().Str("queue", id).Dur("age", age).Int("attempts", head.attempts).Msg("queued request re-admitted")
			continue
		}

		head.attempts++
		head.nextAttemptAt = now.Add(kq.rule.backoff.Delay(age, head.attempts))
	}
	q.notifyDepth()
}
