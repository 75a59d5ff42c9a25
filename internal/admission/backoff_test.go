package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConstantBackoff(t *testing.T) {
	s := NewBackoffStrategy(BackoffConstant, 2*time.Second)

	assert.Equal(t, 2*time.Second, s.Delay(0, 1))
	assert.Equal(t, 2*time.Second, s.Delay(time.Minute, 9))
}

func TestLinearBackoff(t *testing.T) {
	s := NewBackoffStrategy(BackoffLinear, time.Second)

	assert.Equal(t, time.Second, s.Delay(0, 0))
	assert.Equal(t, time.Second, s.Delay(0, 1))
	assert.Equal(t, 3*time.Second, s.Delay(0, 3))
}

func TestExponentialBackoff(t *testing.T) {
	s := NewBackoffStrategy(BackoffExponential, time.Second)

	assert.Equal(t, time.Second, s.Delay(0, 1))
	assert.Equal(t, 2*time.Second, s.Delay(time.Second, 1))
	assert.Equal(t, 4*time.Second, s.Delay(2*time.Second, 1))
	assert.Equal(t, 8*time.Second, s.Delay(3500*time.Millisecond, 1))
}

func TestExponentialBackoffCapsGrowth(t *testing.T) {
	s := NewBackoffStrategy(BackoffExponential, time.Millisecond)

	// Growth stops at 2^30 regardless of age.
	assert.Equal(t, s.Delay(time.Hour, 1), s.Delay(24*time.Hour, 1))
}

func TestBackoffDefaults(t *testing.T) {
	// Unknown and empty policies fall back to linear.
	s := NewBackoffStrategy("", time.Second)
	assert.Equal(t, 2*time.Second, s.Delay(0, 2))

	s = NewBackoffStrategy("banana", time.Second)
	assert.Equal(t, 2*time.Second, s.Delay(0, 2))

	// A non-positive base is coerced to one second.
	s = NewBackoffStrategy(BackoffConstant, 0)
	assert.Equal(t, time.Second, s.Delay(0, 1))
}
