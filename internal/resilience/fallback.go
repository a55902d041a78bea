package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed reports that every provider in a group failed or was rejected
// by its breaker. The reply pipeline turns this into the spoken fallback line.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig is applied to the breaker created for each group entry.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// fallbackEntry is one provider in the chain with its own breaker, so a dead
// primary cannot poison the health accounting of its fallbacks.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup chains a primary provider with the fallbacks listed for it in
// the gateway config. Calls walk the chain in registration order, skipping
// entries whose breaker is open, until one provider answers.
//
// The typed wrappers ([LLMFallback], [STTFallback], [TTSFallback]) expose a
// group behind the matching provider interface so callers never see it.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group whose first entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.add(primaryName, primary)
	return fg
}

// AddFallback appends a provider to the end of the chain.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.add(name, fallback)
}

func (fg *FallbackGroup[T]) add(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// primary returns the first entry's provider.
func (fg *FallbackGroup[T]) primary() (T, bool) {
	if len(fg.entries) == 0 {
		var zero T
		return zero, false
	}
	return fg.entries[0].value, true
}

// Execute runs fn against each entry in order until one succeeds. When every
// entry fails the last error comes back wrapped in [ErrAllFailed].
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult runs fn against each entry in order until one succeeds and
// returns its result. A package function because methods cannot add type
// parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(entry.value)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("fallback chain: skipping provider with open breaker", "provider", entry.name)
		} else {
			slog.Warn("fallback chain: provider failed; trying next",
				"provider", entry.name, "error", err)
		}
	}
	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
