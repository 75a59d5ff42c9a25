package admission

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Statistics aggregates recent admission outcomes.
type Statistics struct {
	WindowSeconds int              `json:"window_seconds"`
	Total         int              `json:"total"`
	Blocked       int              `json:"blocked"`
	Throttled     int              `json:"throttled"`
	Degraded      int              `json:"degraded"`
	RuleHits      map[string]int   `json:"rule_hits"`
}

const (
	metricTotal     = "total"
	metricBlocked   = "blocked"
	metricThrottled = "throttled"
	metricDegraded  = "degraded"
)

// Recorder keeps per-minute outcome counters in the CounterStore with a
// short TTL, so statistics cover recent activity without unbounded
// growth. Increments are read-modify-write and best-effort; losing one
// under contention is acceptable for operator-facing counters.
type Recorder struct {
	store CounterStore
	now   func() time.Time
	ttl   time.Duration
	log   zerolog.Logger
}

func NewRecorder(store CounterStore, now func() time.Time, log zerolog.Logger) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{
		store: store,
		now:   now,
		ttl:   2 * time.Minute,
		log:   log.With().Str("component", "stats_recorder").Logger(),
	}
}

func (r *Recorder) IncrTotal(ctx context.Context)     { r.incr(ctx, metricTotal) }
func (r *Recorder) IncrBlocked(ctx context.Context)   { r.incr(ctx, metricBlocked) }
func (r *Recorder) IncrThrottled(ctx context.Context) { r.incr(ctx, metricThrottled) }
func (r *Recorder) IncrDegraded(ctx context.Context)  { r.incr(ctx, metricDegraded) }

func (r *Recorder) IncrRuleHit(ctx context.Context, ruleID string) {
	r.incr(ctx, "rule:"+ruleID)
}

func (r *Recorder) incr(ctx context.Context, metric string) {
	minute := r.now().Unix() / 60
	key := statsKey(metric, minute)

	count := 0
	if value, ok, err := r.store.Get(ctx, key); err == nil && ok {
		count, _ = strconv.Atoi(value)
	}
	if err := r.store.Set(ctx, key, strconv.Itoa(count+1), r.ttl); err != nil {
		r.log.Debug().Err(err).Str("metric", metric).Msg("failed to record statistic")
	}
}

// Statistics sums the minute counters covering the requested window.
// ruleIDs names the rules whose hit counts should be included.
func (r *Recorder) Statistics(ctx context.Context, windowSeconds int, ruleIDs []string) (*Statistics, error) {
	if windowSeconds <= 0 {
		windowSeconds = 60
	}
	minutes := (windowSeconds + 59) / 60
	current := r.now().Unix() / 60

	stats := &Statistics{
		WindowSeconds: windowSeconds,
		RuleHits:      make(map[string]int),
	}

	for i := 0; i < minutes; i++ {
		minute := current - int64(i)

		total, err := r.read(ctx, metricTotal, minute)
		if err != nil {
			return nil, err
		}
		stats.Total += total

		blocked, err := r.read(ctx, metricBlocked, minute)
		if err != nil {
			return nil, err
		}
		stats.Blocked += blocked

		throttled, err := r.read(ctx, metricThrottled, minute)
		if err != nil {
			return nil, err
		}
		stats.Throttled += throttled

		degraded, err := r.read(ctx, metricDegraded, minute)
		if err != nil {
			return nil, err
		}
		stats.Degraded += degraded

		for _, id := range ruleIDs {
			hits, err := r.read(ctx, "rule:"+id, minute)
			if err != nil {
				return nil, err
			}
			stats.RuleHits[id] += hits
		}
	}

	return stats, nil
}

func (r *Recorder) read(ctx context.Context, metric string, minute int64) (int, error) {
	value, ok, err := r.store.Get(ctx, statsKey(metric, minute))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	count, _ := strconv.Atoi(value)
	return count, nil
}

// ResetKey deletes the window counters for one composite key across all
// rules. An operator escape hatch, independent of rule TTLs.
func (r *Recorder) ResetKey(ctx context.Context, key string) error {
	return r.store.DeletePattern(ctx, counterKeyPrefix+key+":")
}
