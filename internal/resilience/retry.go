package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// RetryConfig tunes [Retry]. The zero value gets the defaults below.
type RetryConfig struct {
	// Attempts is the total number of tries, including the first. Default 3.
	Attempts int

	// BaseDelay is the backoff unit for the first retry. Default 500ms.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Default 8s.
	MaxDelay time.Duration
}

const (
	defaultRetryAttempts = 3
	defaultRetryBase     = 500 * time.Millisecond
	defaultRetryMax      = 8 * time.Second
)

// Retry runs fn until it succeeds, attempts are exhausted, or ctx is done.
// Between attempts it sleeps a full-jitter backoff: a uniform random duration
// in [0, min(MaxDelay, BaseDelay*2^attempt)). The last error is returned
// unwrapped so callers can errors.Is against provider sentinels.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultRetryAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultRetryBase
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultRetryMax
	}

	var err error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if attempt > 0 {
			delay := backoff(cfg, attempt)
			slog.Debug("retrying after failure", "attempt", attempt, "delay", delay, "error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return errors.Join(ctx.Err(), err)
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return errors.Join(ctx.Err(), err)
		}
	}
	return err
}

// backoff computes the full-jitter delay for the given attempt (1-based).
func backoff(cfg RetryConfig, attempt int) time.Duration {
	ceiling := cfg.BaseDelay << (attempt - 1)
	if ceiling > cfg.MaxDelay || ceiling <= 0 {
		ceiling = cfg.MaxDelay
	}
	return time.Duration(rand.Int63n(int64(ceiling) + 1))
}

// RetryWithResult is [Retry] for functions that return a value.
func RetryWithResult[R any](ctx context.Context, cfg RetryConfig, fn func() (R, error)) (R, error) {
	var res R
	err := Retry(ctx, cfg, func() error {
		var ferr error
		res, ferr = fn()
		return ferr
	})
	return res, err
}
