package admission

import (
	"encoding/json"
	"time"
)

// RequestContext carries everything the engine needs to know about an
// inbound request. Built per request, never persisted.
type RequestContext struct {
	SubjectID   string    `json:"subject_id,omitempty"`
	SubjectRole string    `json:"subject_role,omitempty"`
	SubjectTier string    `json:"subject_tier,omitempty"`
	SourceIP    string    `json:"source_ip"`
	Endpoint    string    `json:"endpoint"`
	Method      string    `json:"method"`
	UserAgent   string    `json:"user_agent,omitempty"`
	APIKey      string    `json:"api_key,omitempty"`
	TenantID    string    `json:"tenant_id,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
}

// subjectKey identifies who the counters are kept for: the
// authenticated subject when known, the source address otherwise,
// further qualified by endpoint when the rule targets one.
func (rc *RequestContext) subjectKey(rule *Rule) string {
	key := rc.SubjectID
	if key == "" {
		key = rc.SourceIP
	}
	if rule != nil && rule.EndpointPattern != "" {
		key += ":" + rc.Endpoint
	}
	return key
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed     bool          `json:"allowed"`
	Limit       int           `json:"limit"`
	Remaining   int           `json:"remaining"`
	ResetAt     time.Time     `json:"reset_at"`
	RetryAfter  time.Duration `json:"retry_after,omitempty"`
	MatchedRule string        `json:"matched_rule,omitempty"`
	Throttled   bool          `json:"throttled"`
	Blocked     bool          `json:"blocked"`
	Degraded    bool          `json:"degraded"`
	Reason      string        `json:"reason,omitempty"`
}

// MarshalJSON emits retry_after in whole seconds, matching the
// Retry-After header, instead of the Duration's nanosecond count.
func (d Decision) MarshalJSON() ([]byte, error) {
	type alias Decision
	seconds := int64((d.RetryAfter + time.Second - 1) / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	return json.Marshal(struct {
		alias
		RetryAfter int64 `json:"retry_after,omitempty"`
	}{alias: alias(d), RetryAfter: seconds})
}

// Denial reasons used in Decision.Reason.
const (
	ReasonRateLimited = "rate limit exceeded"
	ReasonBlacklisted = "source blacklisted"
	ReasonQueueFull   = "queue full"
	ReasonTimeout     = "timeout"
	ReasonShutdown    = "shutdown"
)

// CounterRecord is the fixed-window counter persisted per
// (subject, rule) pair. The window resets entirely at WindowResetAt;
// consumers must reproduce that approximation, not a sliding log.
type CounterRecord struct {
	Count         int       `json:"count"`
	WindowResetAt time.Time `json:"window_reset_at"`
}
