package admission

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/markethub/admission-gateway/internal/obs"
)

// Config is the engine's tuning surface.
type Config struct {
	Throttle ThrottleConfig
	Burst    BurstConfig
	Adaptive AdaptiveConfig

	// FallbackLimit is the generous per-window allowance reported when
	// the engine fails open on a store outage.
	FallbackLimit int

	// LoadSampler overrides host load sampling; nil uses gopsutil.
	LoadSampler LoadSampler
}

func (c Config) withDefaults() Config {
	if c.FallbackLimit <= 0 {
		c.FallbackLimit = 1000
	}
	return c
}

// Controller orchestrates reputation checks, rule matching, quota
// evaluation, burst allowances, adaptive scaling and the admission
// queue behind a single CheckRequest operation.
//
// Counter updates are read-then-write against a shared cache, so two
// concurrent checks on the same key can both observe the same count.
// Rate limiting here is approximate by design, not exact.
type Controller struct {
	cfg        Config
	store      CounterStore
	registry   *Registry
	reputation *ReputationList
	matcher    *Matcher
	burst      *BurstBucket
	scaler     *Scaler
	queue      *Queue
	stats      *Recorder

	now     func() time.Time
	log     zerolog.Logger
	metrics *obs.Metrics
}

// NewController wires the engine with the production clock.
func NewController(store CounterStore, cfg Config, log zerolog.Logger, metrics *obs.Metrics) *Controller {
	return newController(store, cfg, log, metrics, time.Now)
}

func newController(store CounterStore, cfg Config, log zerolog.Logger, metrics *obs.Metrics, now func() time.Time) *Controller {
	cfg = cfg.withDefaults()
	cfg.Throttle = cfg.Throttle.withDefaults()

	c := &Controller{
		cfg:        cfg,
		store:      store,
		registry:   NewRegistry(store, cfg.Throttle.BackoffBase, log),
		reputation: NewReputationList(store, log),
		matcher:    NewMatcher(),
		burst:      NewBurstBucket(cfg.Burst, now),
		scaler:     NewScaler(cfg.Adaptive, cfg.LoadSampler, log),
		queue:      NewQueue(cfg.Throttle, now, log),
		stats:      NewRecorder(store, now, log),
		now:        now,
		log:        log.With().Str("component", "admission").Logger(),
		metrics:    metrics,
	}
	c.queue.SetDepthCallback(func(depth int) {
		metrics.QueueDepth.Set(float64(depth))
	})
	c.queue.SetProbe(c.tryAdmitQueued)
	return c
}

// tryAdmitQueued is the queue's re-admission probe: it retries the
// window counter for a parked request, without burst credit. Store
// failures admit, consistent with failing open everywhere else.
func (c *Controller) tryAdmitQueued(rule *Rule, key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	storeKey := counterKey(key, rule.ID)
	now := c.now()

	record, err := c.readCounter(ctx, storeKey)
	if err != nil {
		return true
	}
	if record == nil || !now.Before(record.WindowResetAt) {
		record = &CounterRecord{Count: 0, WindowResetAt: now.Add(rule.Window)}
	}

	if record.Count >= c.scaler.EffectiveLimit(rule.MaxRequests) {
		return false
	}

	record.Count++
	if err := c.writeCounter(ctx, storeKey, record, now); err != nil {
		return true
	}
	return true
}

// Start launches the queue and burst-refill tickers.
func (c *Controller) Start() {
	c.queue.Start()
	c.burst.Start(c.cfg.Burst.RefillWindow)
}

// Stop halts the tickers and resolves every queued request. Safe to
// call once during shutdown.
func (c *Controller) Stop() {
	c.queue.Stop()
	c.burst.Stop()
}

// CheckRequest runs one admission check: whitelist, blacklist, rule
// matching, quota evaluation and, for eligible callers, queueing.
// Infrastructure failures fail open so an outage of the counter store
// never blocks legitimate traffic.
func (c *Controller) CheckRequest(ctx context.Context, rc *RequestContext) Decision {
	started := c.now()
	decision := c.check(ctx, rc)
	c.metrics.CheckDuration.Observe(c.now().Sub(started).Seconds())
	c.record(ctx, rc, decision)
	return decision
}

func (c *Controller) check(ctx context.Context, rc *RequestContext) Decision {
	allowed, err := c.reputation.IsAllowed(ctx, rc.SourceIP)
	if err != nil {
		return c.failOpen(err, "whitelist lookup")
	}
	if allowed {
		return Decision{Allowed: true, Reason: "whitelisted"}
	}

	denied, reason, err := c.reputation.IsDenied(ctx, rc.SourceIP)
	if err != nil {
		return c.failOpen(err, "blacklist lookup")
	}
	if denied {
		return Decision{Allowed: false, Blocked: true, Reason: reason}
	}

	rules := c.matcher.FindApplicable(c.registry.snapshot(), rc)
	if len(rules) == 0 {
		return Decision{Allowed: true}
	}

	var passed []*Rule
	results := make(map[string]evalResult, len(rules))

	for _, rule := range rules {
		res, err := c.evaluateRule(ctx, rule, rc)
		if err != nil {
			return c.failOpen(err, "quota evaluation")
		}
		if !res.allowed {
			return c.deny(ctx, rule, rc, res)
		}
		passed = append(passed, rule)
		results[rule.ID] = res
	}

	reported := mostRestrictive(passed)
	res := results[reported.ID]
	return Decision{
		Allowed:     true,
		Limit:       res.limit,
		Remaining:   res.remaining,
		ResetAt:     res.resetAt,
		MatchedRule: reported.ID,
	}
}

// deny converts a failed rule evaluation into the final decision,
// parking the request in the admission queue when the caller's tier
// qualifies.
func (c *Controller) deny(ctx context.Context, rule *Rule, rc *RequestContext, res evalResult) Decision {
	if c.cfg.Throttle.Enabled && c.cfg.Throttle.tierEligible(rc.SubjectTier) {
		return c.throttle(ctx, rule, rc, res)
	}

	return Decision{
		Allowed:     false,
		Limit:       res.limit,
		Remaining:   0,
		ResetAt:     res.resetAt,
		RetryAfter:  res.retryAfter,
		MatchedRule: rule.ID,
		Reason:      ReasonRateLimited,
	}
}

func (c *Controller) throttle(ctx context.Context, rule *Rule, rc *RequestContext, res evalResult) Decision {
	key := rc.subjectKey(rule)

	outcome, ok := c.queue.Enqueue(rule, key)
	if !ok {
		return Decision{
			Allowed:     false,
			Limit:       res.limit,
			ResetAt:     res.resetAt,
			RetryAfter:  res.retryAfter,
			MatchedRule: rule.ID,
			Throttled:   true,
			Reason:      ReasonQueueFull,
		}
	}

	select {
	case out := <-outcome:
		if out.allowed {
			return Decision{
				Allowed:     true,
				Limit:       res.limit,
				Remaining:   0,
				ResetAt:     res.resetAt,
				MatchedRule: rule.ID,
				Throttled:   true,
			}
		}
		return Decision{
			Allowed:     false,
			Limit:       res.limit,
			ResetAt:     res.resetAt,
			MatchedRule: rule.ID,
			Throttled:   true,
			Reason:      out.reason,
		}
	case <-ctx.Done():
		return Decision{
			Allowed:     false,
			Limit:       res.limit,
			ResetAt:     res.resetAt,
			MatchedRule: rule.ID,
			Throttled:   true,
			Reason:      ReasonTimeout,
		}
	}
}

type evalResult struct {
	allowed    bool
	limit      int
	remaining  int
	resetAt    time.Time
	retryAfter time.Duration
}

// evaluateRule applies the fixed-window counter for one rule: fresh
// window on a missing or expired record, burst consumption before the
// hard ceiling, TTL equal to the remaining window time.
func (c *Controller) evaluateRule(ctx context.Context, rule *Rule, rc *RequestContext) (evalResult, error) {
	key := rc.subjectKey(rule)
	storeKey := counterKey(key, rule.ID)
	now := c.now()

	record, err := c.readCounter(ctx, storeKey)
	if err != nil {
		return evalResult{}, err
	}
	if record == nil || !now.Before(record.WindowResetAt) {
		record = &CounterRecord{Count: 0, WindowResetAt: now.Add(rule.Window)}
	}

	limit := c.scaler.EffectiveLimit(rule.MaxRequests)

	if record.Count >= limit {
		// A burst token admits the request past the ceiling. It still
		// counts toward the window for accounting.
		if rule.BurstAllowance > 0 {
			burstKey := rule.ID + "|" + key
			if ok, _ := c.burst.TryConsume(burstKey, rule.BurstAllowance); ok {
				record.Count++
				if err := c.writeCounter(ctx, storeKey, record, now); err != nil {
					return evalResult{}, err
				}
				return evalResult{
					allowed:   true,
					limit:     limit,
					remaining: 0,
					resetAt:   record.WindowResetAt,
				}, nil
			}
		}

		return evalResult{
			allowed:    false,
			limit:      limit,
			resetAt:    record.WindowResetAt,
			retryAfter: ceilSeconds(record.WindowResetAt.Sub(now)),
		}, nil
	}

	record.Count++
	if err := c.writeCounter(ctx, storeKey, record, now); err != nil {
		return evalResult{}, err
	}

	return evalResult{
		allowed:   true,
		limit:     limit,
		remaining: clampRemaining(limit, record.Count),
		resetAt:   record.WindowResetAt,
	}, nil
}

func (c *Controller) readCounter(ctx context.Context, key string) (*CounterRecord, error) {
	value, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var record CounterRecord
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		// A corrupt record is treated as absent; the window restarts.
		return nil, nil
	}
	return &record, nil
}

func (c *Controller) writeCounter(ctx context.Context, key string, record *CounterRecord, now time.Time) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	ttl := record.WindowResetAt.Sub(now)
	if ttl < time.Second {
		ttl = time.Second
	}
	return c.store.Set(ctx, key, string(payload), ttl)
}

// failOpen is the degraded-mode path: the store is unreachable, so the
// request is allowed under a generous fallback limit rather than
// blocking traffic on an infrastructure outage.
func (c *Controller) failOpen(err error, op string) Decision {
	c.log.Warn().Err(err).Str("op", op).Msg("counter store unavailable, failing open")
	c.metrics.DegradedTotal.Inc()
	return Decision{
		Allowed:   true,
		Limit:     c.cfg.FallbackLimit,
		Remaining: c.cfg.FallbackLimit,
		Degraded:  true,
		Reason:    "counter store unavailable",
	}
}

// record updates the statistics counters and Prometheus instruments
// for a finished check. Best-effort: recording never changes the
// decision.
func (c *Controller) record(ctx context.Context, rc *RequestContext, d Decision) {
	c.stats.IncrTotal(ctx)

	switch {
	case d.Degraded:
		c.stats.IncrDegraded(ctx)
		c.metrics.DecisionsTotal.WithLabelValues(obs.OutcomeDegraded).Inc()
	case d.Throttled:
		c.stats.IncrThrottled(ctx)
		if !d.Allowed {
			c.stats.IncrBlocked(ctx)
		}
		c.metrics.DecisionsTotal.WithLabelValues(obs.OutcomeThrottled).Inc()
	case d.Blocked:
		c.stats.IncrBlocked(ctx)
		c.metrics.DecisionsTotal.WithLabelValues(obs.OutcomeBlocked).Inc()
	case !d.Allowed:
		c.stats.IncrBlocked(ctx)
		c.metrics.DecisionsTotal.WithLabelValues(obs.OutcomeDenied).Inc()
	default:
		c.metrics.DecisionsTotal.WithLabelValues(obs.OutcomeAllowed).Inc()
	}

	if d.MatchedRule != "" {
		c.stats.IncrRuleHit(ctx, d.MatchedRule)
	}
}

// Administrative surface, consumed by the management API.

func (c *Controller) AddRule(ctx context.Context, rule *Rule) (*Rule, error) {
	return c.registry.AddRule(ctx, rule)
}

func (c *Controller) UpdateRule(ctx context.Context, id string, patch *RulePatch) (*Rule, error) {
	return c.registry.UpdateRule(ctx, id, patch)
}

func (c *Controller) DeleteRule(ctx context.Context, id string) bool {
	return c.registry.DeleteRule(ctx, id)
}

func (c *Controller) GetRule(id string) (*Rule, error) {
	return c.registry.GetRule(id)
}

func (c *Controller) ListRules() []*Rule {
	return c.registry.ListRules()
}

func (c *Controller) AllowIP(ctx context.Context, ip string, ttl time.Duration) error {
	return c.reputation.AllowIP(ctx, ip, ttl)
}

func (c *Controller) DenyIP(ctx context.Context, ip, reason string, ttl time.Duration) error {
	return c.reputation.DenyIP(ctx, ip, reason, ttl)
}

func (c *Controller) IsAllowed(ctx context.Context, ip string) (bool, error) {
	return c.reputation.IsAllowed(ctx, ip)
}

func (c *Controller) IsDenied(ctx context.Context, ip string) (bool, string, error) {
	return c.reputation.IsDenied(ctx, ip)
}

// RemainingQuota reports how much of a rule's effective limit a
// composite key has left in the current window.
func (c *Controller) RemainingQuota(ctx context.Context, key, ruleID string) (int, error) {
	rule, err := c.registry.GetRule(ruleID)
	if err != nil {
		return 0, err
	}

	limit := c.scaler.EffectiveLimit(rule.MaxRequests)
	record, err := c.readCounter(ctx, counterKey(key, rule.ID))
	if err != nil {
		return 0, err
	}
	if record == nil || !c.now().Before(record.WindowResetAt) {
		return limit, nil
	}
	return clampRemaining(limit, record.Count), nil
}

func (c *Controller) ResetKey(ctx context.Context, key string) error {
	return c.stats.ResetKey(ctx, key)
}

func (c *Controller) Statistics(ctx context.Context, windowSeconds int) (*Statistics, error) {
	rules := c.registry.ListRules()
	ids := make([]string, 0, len(rules))
	for _, rule := range rules {
		ids = append(ids, rule.ID)
	}
	return c.stats.Statistics(ctx, windowSeconds, ids)
}

func (c *Controller) SystemLoad() (SystemLoad, error) {
	return c.scaler.SystemLoad()
}

func clampRemaining(limit, count int) int {
	remaining := limit - count
	if remaining < 0 {
		return 0
	}
	return remaining
}

func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	secs := (d + time.Second - 1) / time.Second
	return secs * time.Second
}
