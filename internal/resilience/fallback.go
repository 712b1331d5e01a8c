package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has an
// open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for breakers created for entries that
	// have no shared breaker in Breakers.
	CircuitBreaker CircuitBreakerConfig

	// Breakers maps entry names to existing breakers. Sharing a breaker lets
	// direct calls to a provider and calls through the group trip the same
	// circuit.
	Breakers map[string]*CircuitBreaker

	// Retryable reports whether a failed entry should give way to the next
	// one. Errors for which it returns false are returned to the caller
	// unchanged. Default: every error is retryable.
	Retryable func(err error) bool
}

// fallbackEntry pairs a provider value with its dedicated circuit breaker.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup wraps a primary and zero or more fallback instances of the same
// provider type. When the primary fails (or its circuit breaker is open), the
// next healthy fallback is tried in registration order.
//
// FallbackGroup is safe for concurrent use once all fallbacks are added.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
// Additional fallbacks are registered via [FallbackGroup.AddFallback].
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	if cfg.Retryable == nil {
		cfg.Retryable = func(error) bool { return true }
	}
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a fallback provider. Fallbacks are tried in the order they
// are added, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cb, ok := fg.cfg.Breakers[name]
	if !ok || cb == nil {
		cbCfg := fg.cfg.CircuitBreaker
		cbCfg.Name = name
		cb = NewCircuitBreaker(cbCfg)
	}
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: cb,
	})
}

// ExecuteWithResult tries fn against each entry in the group until one succeeds,
// returning both the result value and the name of the entry that produced it.
// A non-retryable error stops the walk and is returned as-is; otherwise the
// error wraps [ErrAllFailed] and the last entry's error.
//
// This is a package-level function because Go does not support method-level
// type parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, string, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, entry.name, nil
		}
		lastErr = err
		switch {
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("skipping provider (circuit open)", "provider", entry.name)
		case !fg.cfg.Retryable(err):
			return zero, entry.name, err
		default:
			slog.Warn("provider failed, trying next",
				"provider", entry.name, "error", err)
		}
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
