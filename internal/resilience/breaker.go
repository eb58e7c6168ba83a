// Package resilience guards transcription engines with circuit breakers and
// folds an ordered chain of engines into one, falling over to the next entry
// when an engine fails or its breaker is open.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Execute] while the breaker is open.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has elapsed since the last failure.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. One failed
	// probe re-opens the breaker; enough successful probes close it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// BreakerConfig holds the tuning knobs of a [Breaker]. Zero values are
// replaced with defaults.
type BreakerConfig struct {
	// Name labels log lines and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenProbes is the number of successful probes needed to close a
	// half-open breaker. Default: 1.
	HalfOpenProbes int
}

// BreakerOption customises a [Breaker].
type BreakerOption func(*Breaker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// WithStateChange registers fn to be called after every state transition.
// fn runs without the breaker lock held.
func WithStateChange(fn func(name string, from, to State)) BreakerOption {
	return func(b *Breaker) { b.onChange = fn }
}

// Breaker is a three-state circuit breaker. Errors caused by the caller's
// context being cancelled do not count as failures.
type Breaker struct {
	cfg      BreakerConfig
	now      func() time.Time
	onChange func(name string, from, to State)

	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
	probes      int
	probePassed int
}

// NewBreaker returns a closed [Breaker].
func NewBreaker(cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	b := &Breaker{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Name returns the configured name.
func (b *Breaker) Name() string { return b.cfg.Name }

// Execute runs fn unless the breaker is open or its half-open probe budget
// is spent, in which case it returns [ErrCircuitOpen] without calling fn.
func (b *Breaker) Execute(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn()

	b.mu.Lock()
	from := b.state
	switch {
	case err == nil:
		b.onSuccess(probe)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		if probe {
			b.probes--
		}
	default:
		b.onFailure(probe)
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return err
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	from := b.state
	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			b.mu.Unlock()
			return false, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probes, b.probePassed = 0, 0
	}
	if b.state == StateHalfOpen {
		if b.probes >= b.cfg.HalfOpenProbes {
			b.mu.Unlock()
			return false, ErrCircuitOpen
		}
		b.probes++
		probe = true
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return probe, nil
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(probe bool) {
	if !probe {
		b.failures = 0
		return
	}
	b.probePassed++
	if b.probePassed >= b.cfg.HalfOpenProbes {
		b.state = StateClosed
		b.failures = 0
	}
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(probe bool) {
	b.failures++
	if probe || b.failures >= b.cfg.MaxFailures {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

func (b *Breaker) notify(from, to State) {
	if from == to {
		return
	}
	slog.Info("circuit breaker state changed", "name", b.cfg.Name, "from", from, "to", to)
	if b.onChange != nil {
		b.onChange(b.cfg.Name, from, to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call to Execute.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures, b.probes, b.probePassed = 0, 0, 0
	b.mu.Unlock()
	b.notify(from, StateClosed)
}
