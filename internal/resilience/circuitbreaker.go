// Package resilience guards the upstream departure providers.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// stops the skill from waiting on a provider that is already failing.
// [FallbackGroup] tries a list of providers in order, each behind its own
// breaker.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has passed since the last failure.
	StateOpen

	// StateHalfOpen lets up to HalfOpenMax probe calls through. All of them
	// succeeding closes the breaker; any failure re-opens it.
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

// CircuitBreakerConfig configures a [CircuitBreaker]. Zero values select the
// documented defaults.
type CircuitBreakerConfig struct {
	// Name labels log lines, errors and state change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens a closed
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget in the half-open state. Default: 3.
	HalfOpenMax int

	// IsFailure reports whether err counts against the breaker. Errors it
	// rejects are returned to the caller but count as a healthy round trip.
	// Default: every non-nil error.
	IsFailure func(err error) bool

	// OnStateChange, when set, is called after every transition with the
	// breaker's lock released.
	OnStateChange func(name string, from, to State)

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int
	probeOK  int
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// transition is a state change to report once the lock is released.
type transition struct {
	from, to State
}

// Execute runs fn unless the breaker rejects the call, in which case it
// returns an error wrapping [ErrCircuitOpen] without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, tr, err := cb.admit()
	cb.notify(tr)
	if err != nil {
		return err
	}

	callErr := fn()

	cb.mu.Lock()
	if callErr != nil && cb.cfg.IsFailure(callErr) {
		tr = cb.onFailure(probe)
	} else {
		tr = cb.onSuccess(probe)
	}
	cb.mu.Unlock()
	cb.notify(tr)
	return callErr
}

// admit decides whether a call may proceed and whether it is a half-open
// probe.
func (cb *CircuitBreaker) admit() (probe bool, tr *transition, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, nil, cb.openErr()
		}
		tr = cb.setState(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, tr, cb.openErr()
		}
		cb.probes++
		return true, tr, nil
	}
	return false, tr, nil
}

func (cb *CircuitBreaker) onFailure(probe bool) *transition {
	if probe {
		if cb.state != StateHalfOpen {
			return nil
		}
		return cb.open()
	}
	cb.failures++
	if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
		slog.Warn("circuit breaker opened", "name", cb.cfg.Name, "consecutive_failures", cb.failures)
		return cb.open()
	}
	return nil
}

func (cb *CircuitBreaker) onSuccess(probe bool) *transition {
	if !probe {
		cb.failures = 0
		return nil
	}
	if cb.state != StateHalfOpen {
		return nil
	}
	cb.probeOK++
	if cb.probeOK >= cb.cfg.HalfOpenMax {
		slog.Info("circuit breaker closed after successful probes", "name", cb.cfg.Name)
		return cb.setState(StateClosed)
	}
	return nil
}

func (cb *CircuitBreaker) open() *transition {
	cb.openedAt = cb.cfg.Now()
	return cb.setState(StateOpen)
}

// setState moves to s and resets the counters that belong to the new state.
// Must be called with cb.mu held.
func (cb *CircuitBreaker) setState(s State) *transition {
	from := cb.state
	cb.state = s
	cb.probes, cb.probeOK = 0, 0
	if s == StateClosed {
		cb.failures = 0
	}
	if from == s {
		return nil
	}
	return &transition{from: from, to: s}
}

func (cb *CircuitBreaker) notify(tr *transition) {
	if tr == nil || cb.cfg.OnStateChange == nil {
		return
	}
	cb.cfg.OnStateChange(cb.cfg.Name, tr.from, tr.to)
}

func (cb *CircuitBreaker) openErr() error {
	return fmt.Errorf("resilience: %s: %w", cb.cfg.Name, ErrCircuitOpen)
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Name returns the configured label.
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	tr := cb.setState(StateClosed)
	cb.mu.Unlock()
	slog.Info("circuit breaker manually reset", "name", cb.cfg.Name)
	cb.notify(tr)
}
