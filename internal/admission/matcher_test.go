package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compiledRule(t *testing.T, rule *Rule) *Rule {
	t.Helper()
	require.NoError(t, rule.compile(time.Second))
	return rule
}

func TestFindApplicableOrdersByPriority(t *testing.T) {
	m := NewMatcher()

	low := compiledRule(t, &Rule{ID: "low", Name: "low", Window: time.Minute, MaxRequests: 100, Priority: 1, Enabled: true})
	high := compiledRule(t, &Rule{ID: "high", Name: "high", Window: time.Minute, MaxRequests: 10, Priority: 10, Enabled: true})
	disabled := compiledRule(t, &Rule{ID: "off", Name: "off", Window: time.Minute, MaxRequests: 1, Priority: 99, Enabled: false})

	rc := &RequestContext{SourceIP: "1.2.3.4", Endpoint: "/v1/items", Method: "GET"}
	matched := m.FindApplicable([]*Rule{low, disabled, high}, rc)

	require.Len(t, matched, 2)
	assert.Equal(t, "high", matched[0].ID)
	assert.Equal(t, "low", matched[1].ID)
}

func TestFindApplicableBreaksTiesByRestrictiveness(t *testing.T) {
	m := NewMatcher()

	loose := compiledRule(t, &Rule{ID: "loose", Name: "loose", Window: time.Minute, MaxRequests: 500, Priority: 5, Enabled: true})
	tight := compiledRule(t, &Rule{ID: "tight", Name: "tight", Window: time.Minute, MaxRequests: 5, Priority: 5, Enabled: true})

	rc := &RequestContext{SourceIP: "1.2.3.4", Endpoint: "/v1/items", Method: "GET"}
	matched := m.FindApplicable([]*Rule{loose, tight}, rc)

	require.Len(t, matched, 2)
	assert.Equal(t, "tight", matched[0].ID)
}

func TestMatchesSelectors(t *testing.T) {
	m := NewMatcher()
	rc := &RequestContext{
		SubjectTier: "premium",
		SubjectRole: "seller",
		SourceIP:    "198.51.100.9",
		Endpoint:    "/api/listings/7",
		Method:      "POST",
	}

	tests := []struct {
		name string
		rule *Rule
		want bool
	}{
		{"empty selectors match everything", &Rule{}, true},
		{"tier match", &Rule{Tier: "Premium"}, true},
		{"tier mismatch", &Rule{Tier: "basic"}, false},
		{"method match", &Rule{Method: "post"}, true},
		{"method mismatch", &Rule{Method: "GET"}, false},
		{"role match", &Rule{UserRole: "seller"}, true},
		{"role mismatch", &Rule{UserRole: "buyer"}, false},
		{"pattern match", &Rule{EndpointPattern: "/api/listings/*"}, true},
		{"pattern mismatch", &Rule{EndpointPattern: "/api/auth/*"}, false},
		{"ip in allow list", &Rule{IPAllowList: []string{"198.51.100.9"}}, true},
		{"ip not in allow list", &Rule{IPAllowList: []string{"10.0.0.1"}}, false},
		{"ip in deny list", &Rule{IPDenyList: []string{"198.51.100.9"}}, true},
		{"ip not in deny list", &Rule{IPDenyList: []string{"10.0.0.1"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.rule.Enabled = true
			tt.rule.Window = time.Minute
			tt.rule.MaxRequests = 1
			compiledRule(t, tt.rule)
			assert.Equal(t, tt.want, m.matches(tt.rule, rc))
		})
	}
}

func TestMostRestrictive(t *testing.T) {
	perMinute := compiledRule(t, &Rule{ID: "a", Window: time.Minute, MaxRequests: 60})
	perSecond := compiledRule(t, &Rule{ID: "b", Window: time.Second, MaxRequests: 10})
	tightest := compiledRule(t, &Rule{ID: "c", Window: time.Minute, MaxRequests: 5})

	assert.Nil(t, mostRestrictive(nil))
	assert.Equal(t, "c", mostRestrictive([]*Rule{perMinute, perSecond, tightest}).ID)
}

func TestCompileGlob(t *testing.T) {
	m, err := CompileGlob("/api/auth/*")
	require.NoError(t, err)

	assert.True(t, m.Matches("/api/auth/login"))
	assert.True(t, m.Matches("/api/auth/"))
	assert.False(t, m.Matches("/api/users"))
	assert.False(t, m.Matches("/api/auth"))
}
