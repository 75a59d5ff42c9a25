package admission

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionJSONRetryAfterInSeconds(t *testing.T) {
	d := Decision{
		Allowed:    false,
		Limit:      10,
		RetryAfter: 42 * time.Second,
		Reason:     ReasonRateLimited,
	}

	raw, err := json.Marshal(d)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, float64(42), body["retry_after"])
}

func TestDecisionJSONRetryAfterRoundsUpAndOmitsZero(t *testing.T) {
	d := Decision{Allowed: false, RetryAfter: 1500 * time.Millisecond}

	raw, err := json.Marshal(d)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, float64(2), body["retry_after"])

	raw, err = json.Marshal(Decision{Allowed: true})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "retry_after")
}
