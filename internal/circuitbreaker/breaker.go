package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrOpen is returned while the breaker refuses calls.
var ErrOpen = errors.New("circuit breaker is open")

// Breaker protects the counter store from being hammered while it is
// down. After Threshold consecutive failures calls fail fast with
// ErrOpen until Cooldown has passed; a probe call then decides whether
// to close again.
type Breaker struct {
	mu       sync.Mutex
	state    State
	failures int
	probes   int
	openedAt time.Time

	threshold int
	cooldown  time.Duration
	probeWins int
	log       zerolog.Logger
}

type Config struct {
	Threshold int           // consecutive failures before opening (default 5)
	Cooldown  time.Duration // how long to stay open (default 30s)
	ProbeWins int           // successful probes needed to close (default 1)
}

func New(cfg Config, log zerolog.Logger) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ProbeWins <= 0 {
		cfg.ProbeWins = 1
	}

	return &Breaker{
		state:     StateClosed,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		probeWins: cfg.ProbeWins,
		log:       log.With().Str("component", "store_breaker").Logger(),
	}
}

// Do runs fn unless the breaker is open. The error from fn is passed
// through so callers can distinguish a fast-failed call (ErrOpen) from
// a real store error.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	if b.state == StateOpen {
		if time.Since(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.transition(StateHalfOpen)
		b.probes = 0
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

func (b *Breaker) onFailure() {
	b.failures++

	if b.state == StateHalfOpen || b.failures >= b.threshold {
		if b.state != StateOpen {
			b.transition(StateOpen)
		}
		b.openedAt = time.Now()
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateHalfOpen:
		b.probes++
		if b.probes >= b.probeWins {
			b.transition(StateClosed)
			b.failures = 0
		}
	case StateClosed:
		b.failures = 0
	}
}

func (b *Breaker) transition(next State) {
	if b.state == next {
		return
	}
	b.log.Warn().
		Str("from", b.state.String()).
		Str("to", next.String()).
		Int("failures", b.failures).
		Msg("circuit breaker state change")
	b.state = next
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed. Exposed to operators through the
// admin API.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
	b.failures = 0
	b.probes = 0
}

// State is the breaker's position in its lifecycle.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
