package admission

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedLoad(cpu, memory float64) LoadSampler {
	return func() (float64, float64, error) {
		return cpu, memory, nil
	}
}

func TestEffectiveLimitScalesWithLoad(t *testing.T) {
	tests := []struct {
		name        string
		cpu, memory float64
		want        int
	}{
		{"idle host raises limits", 0.1, 0.1, 150},
		{"medium load leaves limits alone", 0.5, 0.5, 100},
		{"busy host sheds", 0.9, 0.9, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScaler(AdaptiveConfig{Enabled: true}, fixedLoad(tt.cpu, tt.memory), zerolog.Nop())
			assert.Equal(t, tt.want, s.EffectiveLimit(100))
		})
	}
}

func TestEffectiveLimitDisabled(t *testing.T) {
	s := NewScaler(AdaptiveConfig{}, fixedLoad(0.99, 0.99), zerolog.Nop())
	assert.Equal(t, 100, s.EffectiveLimit(100))
}

func TestEffectiveLimitSamplingFailure(t *testing.T) {
	sample := func() (float64, float64, error) {
		return 0, 0, errors.New("procfs unavailable")
	}
	s := NewScaler(AdaptiveConfig{Enabled: true}, sample, zerolog.Nop())
	assert.Equal(t, 100, s.EffectiveLimit(100))
}

func TestEffectiveLimitNeverBelowOne(t *testing.T) {
	s := NewScaler(AdaptiveConfig{Enabled: true}, fixedLoad(0.9, 0.9), zerolog.Nop())
	assert.Equal(t, 1, s.EffectiveLimit(1))
}

func TestSystemLoadBlending(t *testing.T) {
	s := NewScaler(AdaptiveConfig{}, fixedLoad(0.5, 1.0), zerolog.Nop())

	loadStat, err := s.SystemLoad()
	require.NoError(t, err)
	assert.InDelta(t, 0.5, loadStat.CPU, 1e-9)
	assert.InDelta(t, 1.0, loadStat.Memory, 1e-9)
	assert.InDelta(t, 0.7, loadStat.Blended, 1e-9)
}
