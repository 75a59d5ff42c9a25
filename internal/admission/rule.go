package admission

import (
	"errors"
	"fmt"
	"time"
)

// BackoffPolicy names how long a queued request waits between
// re-admission attempts.
type BackoffPolicy string

const (
	BackoffConstant    BackoffPolicy = "constant"
	BackoffLinear      BackoffPolicy = "linear"
	BackoffExponential BackoffPolicy = "exponential"
)

// ErrRuleNotFound is returned by registry lookups for unknown rule ids.
// Callers treat it as a normal outcome, not a failure.
var ErrRuleNotFound = errors.New("rule not found")

// InvalidRuleError reports a rejected rule mutation. It is surfaced
// synchronously at the admin boundary and never coerced into a default.
type InvalidRuleError struct {
	Field  string
	Reason string
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid rule: %s %s", e.Field, e.Reason)
}

// Rule is an admission policy. Selector fields (Tier, EndpointPattern,
// Method, UserRole, IP lists) are wildcards when empty: a rule applies
// only if every populated selector matches the request.
type Rule struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Window          time.Duration     `json:"window"`
	MaxRequests     int               `json:"max_requests"`
	Priority        int               `json:"priority"`
	Enabled         bool              `json:"enabled"`
	Tier            string            `json:"tier,omitempty"`
	EndpointPattern string            `json:"endpoint_pattern,omitempty"`
	Method          string            `json:"method,omitempty"`
	UserRole        string            `json:"user_role,omitempty"`
	IPAllowList     []string          `json:"ip_allow_list,omitempty"`
	IPDenyList      []string          `json:"ip_deny_list,omitempty"`
	CustomKey       string            `json:"custom_key,omitempty"`
	BurstAllowance  int               `json:"burst_allowance,omitempty"`
	QueueCapacity   int               `json:"queue_capacity,omitempty"`
	Backoff         BackoffPolicy     `json:"backoff,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`

	// Compiled once at load time so the hot path never parses pattern
	// text or switches on the backoff name.
	pathMatcher PathMatcher
	backoff     BackoffStrategy
}

// RulePatch is a partial update. Nil fields are left untouched.
type RulePatch struct {
	Name            *string            `json:"name,omitempty"`
	Window          *time.Duration     `json:"window,omitempty"`
	MaxRequests     *int               `json:"max_requests,omitempty"`
	Priority        *int               `json:"priority,omitempty"`
	Enabled         *bool              `json:"enabled,omitempty"`
	Tier            *string            `json:"tier,omitempty"`
	EndpointPattern *string            `json:"endpoint_pattern,omitempty"`
	Method          *string            `json:"method,omitempty"`
	UserRole        *string            `json:"user_role,omitempty"`
	IPAllowList     *[]string          `json:"ip_allow_list,omitempty"`
	IPDenyList      *[]string          `json:"ip_deny_list,omitempty"`
	CustomKey       *string            `json:"custom_key,omitempty"`
	BurstAllowance  *int               `json:"burst_allowance,omitempty"`
	QueueCapacity   *int               `json:"queue_capacity,omitempty"`
	Backoff         *BackoffPolicy     `json:"backoff,omitempty"`
	Metadata        *map[string]string `json:"metadata,omitempty"`
}

func (r *Rule) validate() error {
	if r.Name == "" {
		return &InvalidRuleError{Field: "name", Reason: "must not be empty"}
	}
	if r.MaxRequests < 1 {
		return &InvalidRuleError{Field: "max_requests", Reason: "must be at least 1"}
	}
	if r.Window < time.Millisecond {
		return &InvalidRuleError{Field: "window", Reason: "must be at least 1ms"}
	}
	if r.BurstAllowance < 0 {
		return &InvalidRuleError{Field: "burst_allowance", Reason: "must not be negative"}
	}
	if r.QueueCapacity < 0 {
		return &InvalidRuleError{Field: "queue_capacity", Reason: "must not be negative"}
	}
	switch r.Backoff {
	case "", BackoffConstant, BackoffLinear, BackoffExponential:
	default:
		return &InvalidRuleError{Field: "backoff", Reason: "must be constant, linear or exponential"}
	}
	return nil
}

// compile resolves pattern text and the backoff name into their runtime
// forms. Called on every registry mutation so the hot path stays cheap.
func (r *Rule) compile(defaultBackoffBase time.Duration) error {
	if r.EndpointPattern != "" {
		m, err := CompileGlob(r.EndpointPattern)
		if err != nil {
			return &InvalidRuleError{Field: "endpoint_pattern", Reason: err.Error()}
		}
		r.pathMatcher = m
	} else {
		r.pathMatcher = nil
	}

	r.backoff = NewBackoffStrategy(r.Backoff, defaultBackoffBase)
	return nil
}

// restrictiveness is the sustained rate the rule permits, in requests
// per second. Lower means stricter; used to pick the rule whose figures
// the caller sees when several rules allow.
func (r *Rule) restrictiveness() float64 {
	if r.Window <= 0 {
		return float64(r.MaxRequests)
	}
	return float64(r.MaxRequests) / r.Window.Seconds()
}

func (r *Rule) apply(p *RulePatch) {
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Window != nil {
		r.Window = *p.Window
	}
	if p.MaxRequests != nil {
		r.MaxRequests = *p.MaxRequests
	}
	if p.Priority != nil {
		r.Priority = *p.Priority
	}
	if p.Enabled != nil {
		r.Enabled = *p.Enabled
	}
	if p.Tier != nil {
		r.Tier = *p.Tier
	}
	if p.EndpointPattern != nil {
		r.EndpointPattern = *p.EndpointPattern
	}
	if p.Method != nil {
		r.Method = *p.Method
	}
	if p.UserRole != nil {
		r.UserRole = *p.UserRole
	}
	if p.IPAllowList != nil {
		r.IPAllowList = *p.IPAllowList
	}
	if p.IPDenyList != nil {
		r.IPDenyList = *p.IPDenyList
	}
	if p.CustomKey != nil {
		r.CustomKey = *p.CustomKey
	}
	if p.BurstAllowance != nil {
		r.BurstAllowance = *p.BurstAllowance
	}
	if p.QueueCapacity != nil {
		r.QueueCapacity = *p.QueueCapacity
	}
	if p.Backoff != nil {
		r.Backoff = *p.Backoff
	}
	if p.Metadata != nil {
		r.Metadata = *p.Metadata
	}
}

// clone returns a copy safe to hand outside the registry. Compiled
// fields are shared; they are immutable after compile.
func (r *Rule) clone() *Rule {
	out := *r
	if r.IPAllowList != nil {
		out.IPAllowList = append([]string(nil), r.IPAllowList...)
	}
	if r.IPDenyList != nil {
		out.IPDenyList = append([]string(nil), r.IPDenyList...)
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
