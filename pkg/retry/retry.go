package retry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Config drives a bounded retry loop with a fixed backoff schedule. The
// schedule entry at index i is the wait after attempt i+1 fails; when there
// are more attempts than schedule entries the last entry repeats.
type Config struct {
	MaxAttempts int
	Backoff     []time.Duration
	// Retryable decides whether an error is worth another attempt. A nil
	// predicate retries everything.
	Retryable func(error) bool
	Logger    *zap.Logger
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Backoff:     []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		Logger:      zap.NewNop(),
	}
}

// Do runs operation until it succeeds, the attempts are exhausted, the
// error is classified non-retryable, or ctx is done. The context is checked
// before every attempt and during every backoff wait.
func Do(ctx context.Context, cfg Config, operation func(attempt int) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = []time.Duration{time.Second}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := operation(attempt)
		if err == nil {
			if attempt > 1 {
				log.Info("Operation succeeded after retry", zap.Int("attempt", attempt))
			}
			return nil
		}

		lastErr = err

		if cfg.Retryable != nil && !cfg.Retryable(err) {
			log.Debug("Error not retryable", zap.Error(err), zap.Int("attempt", attempt))
			return err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		idx := attempt - 1
		if idx >= len(cfg.Backoff) {
			idx = len(cfg.Backoff) - 1
		}
		delay := cfg.Backoff[idx]

		log.Warn("Operation failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}
