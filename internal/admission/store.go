package admission

import (
	"context"
	"fmt"
	"time"
)

// CounterStore is the cache the engine keeps its shared state in: window
// counters, mirrored rules, reputation entries and minute statistics.
// All operations are fallible; callers decide what a failure means
// (the controller fails open, the registry logs and keeps going).
type CounterStore interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key with a TTL. A zero TTL means no expiry.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Delete removes a single key.
	Delete(ctx context.Context, key string) error

	// DeletePattern removes every key starting with prefix.
	DeletePattern(ctx context.Context, prefix string) error
}

const (
	ruleKeyPrefix    = "rate_limit_rule:"
	counterKeyPrefix = "rate_limit:"
	whitelistPrefix  = "ip_whitelist:"
	blacklistPrefix  = "ip_blacklist:"
	statsKeyPrefix   = "rate_limit_stats:"
)

func ruleKey(id string) string {
	return ruleKeyPrefix + id
}

// counterKey puts the subject before the rule so that an operator reset
// of one subject can clear its counters across all rules with a single
// prefix delete.
func counterKey(subjectKey, ruleID string) string {
	return fmt.Sprintf("%s%s:%s", counterKeyPrefix, subjectKey, ruleID)
}

func statsKey(metric string, minute int64) string {
	return fmt.Sprintf("%s%s:%d", statsKeyPrefix, metric, minute)
}
