package admission

import (
	"math"
	"time"
)

// BackoffStrategy computes how long a queued request must have waited
// before it becomes eligible for re-admission. Selected once at rule
// load time; the queue ticker only calls Delay.
type BackoffStrategy interface {
	Delay(age time.Duration, attempts int) time.Duration
}

// NewBackoffStrategy maps a policy name to its strategy. An unknown or
// empty policy falls back to linear.
func NewBackoffStrategy(policy BackoffPolicy, base time.Duration) BackoffStrategy {
	if base <= 0 {
		base = time.Second
	}
	switch policy {
	case BackoffConstant:
		return constantBackoff{base: base}
	case BackoffExponential:
		return exponentialBackoff{base: base}
	default:
		return linearBackoff{base: base}
	}
}

type constantBackoff struct {
	base time.Duration
}

func (b constantBackoff) Delay(time.Duration, int) time.Duration {
	return b.base
}

type linearBackoff struct {
	base time.Duration
}

func (b linearBackoff) Delay(_ time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return b.base * time.Duration(attempts)
}

type exponentialBackoff struct {
	base time.Duration
}

func (b exponentialBackoff) Delay(age time.Duration, _ int) time.Duration {
	steps := math.Floor(float64(age) / float64(b.base))
	if steps > 30 {
		steps = 30
	}
	return b.base * time.Duration(math.Pow(2, steps))
}
