package admission

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Registry is the in-memory source of truth for admission rules. Every
// mutation is mirrored to the CounterStore so rules survive a restart
// of the cache's other consumers; a store failure is logged and the
// in-memory copy stays authoritative.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]*Rule

	store       CounterStore
	backoffBase time.Duration
	log         zerolog.Logger
}

func NewRegistry(store CounterStore, backoffBase time.Duration, log zerolog.Logger) *Registry {
	r := &Registry{
		rules:       make(map[string]*Rule),
		store:       store,
		backoffBase: backoffBase,
		log:         log.With().Str("component", "rule_registry").Logger(),
	}
	r.installDefaults()
	return r
}

// installDefaults seeds the registry with defense-in-depth ceilings so
// the engine protects the platform before any operator policy exists.
func (r *Registry) installDefaults() {
	defaults := []*Rule{
		{
			Name:        "global-ceiling",
			Window:      time.Minute,
			MaxRequests: 1000,
			Priority:    1,
			Enabled:     true,
		},
		{
			Name:            "api-general",
			Window:          time.Minute,
			MaxRequests:     300,
			Priority:        5,
			Enabled:         true,
			EndpointPattern: "/api/*",
		},
		{
			Name:            "auth-strict",
			Window:          time.Minute,
			MaxRequests:     10,
			Priority:        10,
			Enabled:         true,
			EndpointPattern: "/api/auth/*",
		},
	}

	for _, rule := range defaults {
		if _, err := r.AddRule(context.Background(), rule); err != nil {
			r.log.Error().Err(err).Str("rule", rule.Name).Msg("failed to install default rule")
		}
	}
}

// AddRule validates, assigns an id and stores the rule. The returned
// rule is a copy; callers cannot mutate registry state through it.
func (r *Registry) AddRule(ctx context.Context, rule *Rule) (*Rule, error) {
	if err := rule.validate(); err != nil {
		return nil, err
	}

	stored := rule.clone()
	stored.ID = uuid.NewString()
	if err := stored.compile(r.backoffBase); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.rules[stored.ID] = stored
	r.mu.Unlock()

	r.persist(ctx, stored)
	r.log.Info().Str("rule_id", stored.ID).Str("name", stored.Name).Msg("rule added")

	return stored.clone(), nil
}

// UpdateRule merges the patch into an existing rule. Returns
// ErrRuleNotFound when the id is unknown.
func (r *Registry) UpdateRule(ctx context.Context, id string, patch *RulePatch) (*Rule, error) {
	r.mu.Lock()
	existing, ok := r.rules[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrRuleNotFound
	}

	updated := existing.clone()
	updated.apply(patch)
	if err := updated.validate(); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if err := updated.compile(r.backoffBase); err != nil {
		r.mu.Unlock()
		return nil, err
	}

	r.rules[id] = updated
	r.mu.Unlock()

	r.persist(ctx, updated)
	r.log.Info().Str("rule_id", id).Msg("rule updated")

	return updated.clone(), nil
}

// DeleteRule removes a rule and reports whether it existed.
func (r *Registry) DeleteRule(ctx context.Context, id string) bool {
	r.mu.Lock()
	_, ok := r.rules[id]
	delete(r.rules, id)
	r.mu.Unlock()

	if ok {
		if err := r.store.Delete(ctx, ruleKey(id)); err != nil {
			r.log.Warn().Err(err).Str("rule_id", id).Msg("failed to delete mirrored rule")
		}
		r.log.Info().Str("rule_id", id).Msg("rule deleted")
	}
	return ok
}

func (r *Registry) GetRule(id string) (*Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return rule.clone(), nil
}

// ListRules returns a snapshot of every rule.
func (r *Registry) ListRules() []*Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule.clone())
	}
	return out
}

// snapshot returns the live rule set for matching. The matcher never
// mutates rules, so sharing the pointers avoids a copy per request.
func (r *Registry) snapshot() []*Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule)
	}
	return out
}

func (r *Registry) persist(ctx context.Context, rule *Rule) {
	payload, err := json.Marshal(rule)
	if err != nil {
		r.log.Error().Err(err).Str("rule_id", rule.ID).Msg("failed to marshal rule")
		return
	}
	if err := r.store.Set(ctx, ruleKey(rule.ID), string(payload), 0); err != nil {
		r.log.Warn().Err(err).Str("rule_id", rule.ID).Msg("failed to mirror rule to store")
	}
}
