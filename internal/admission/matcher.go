package admission

import (
	"sort"
	"strings"

	"github.com/vasayxtx/go-glob"
)

// PathMatcher decides whether a rule's endpoint pattern covers a
// request path. Keeping this behind an interface leaves the matcher
// free of any particular pattern syntax.
type PathMatcher interface {
	Matches(path string) bool
}

type globMatcher struct {
	match func(s string) bool
}

func (m globMatcher) Matches(path string) bool {
	return m.match(path)
}

// CompileGlob builds a PathMatcher from a glob pattern such as
// "/api/auth/*".
func CompileGlob(pattern string) (PathMatcher, error) {
	return globMatcher{match: glob.Compile(pattern)}, nil
}

// Matcher selects the rules that apply to a request and fixes their
// evaluation order.
type Matcher struct{}

func NewMatcher() *Matcher {
	return &Matcher{}
}

// FindApplicable returns every enabled rule whose populated selectors
// all match the request, ordered by descending priority. Ties are
// broken by restrictiveness so evaluation order is deterministic.
func (m *Matcher) FindApplicable(rules []*Rule, rc *RequestContext) []*Rule {
	matched := make([]*Rule, 0, len(rules))
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if m.matches(rule, rc) {
			matched = append(matched, rule)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].restrictiveness() < matched[j].restrictiveness()
	})

	return matched
}

func (m *Matcher) matches(rule *Rule, rc *RequestContext) bool {
	if rule.Tier != "" && !strings.EqualFold(rule.Tier, rc.SubjectTier) {
		return false
	}
	if rule.Method != "" && !strings.EqualFold(rule.Method, rc.Method) {
		return false
	}
	if rule.UserRole != "" && !strings.EqualFold(rule.UserRole, rc.SubjectRole) {
		return false
	}
	if rule.pathMatcher != nil && !rule.pathMatcher.Matches(rc.Endpoint) {
		return false
	}
	if len(rule.IPAllowList) > 0 && !containsIP(rule.IPAllowList, rc.SourceIP) {
		return false
	}
	if len(rule.IPDenyList) > 0 && !containsIP(rule.IPDenyList, rc.SourceIP) {
		return false
	}
	return true
}

// mostRestrictive returns the rule with the lowest permitted sustained
// rate. Operators expect the tightest applicable policy to be the one
// whose limit and remaining figures a caller sees.
func mostRestrictive(rules []*Rule) *Rule {
	if len(rules) == 0 {
		return nil
	}
	strictest := rules[0]
	for _, rule := range rules[1:] {
		if rule.restrictiveness() < strictest.restrictiveness() {
			strictest = rule
		}
	}
	return strictest
}

func containsIP(list []string, ip string) bool {
	for _, entry := range list {
		if entry == ip {
			return true
		}
	}
	return false
}
