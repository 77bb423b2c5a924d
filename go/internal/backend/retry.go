package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// RetryConfig controls retries of idempotent reads.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"` // multiplied by the attempt number
}

// DefaultRetryConfig returns the default read retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		RetryDelay:  250 * time.Millisecond,
	}
}

// RetryRead runs fn until it succeeds, fails with a non-transient error, or attempts run out.
// Only idempotent reads go through here; answer submission never does.
func RetryRead[T any](ctx context.Context, clock clockwork.Clock, cfg RetryConfig, op string, fn func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-clock.After(delay):
			}
		}

		v, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				log.Debug().Str("op", op).Int("attempt", attempt+1).Msg("read succeeded after retry")
			}
			return v, nil
		}
		lastErr = err
		if !IsTransient(err) || ctx.Err() != nil {
			return zero, err
		}
		log.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("transient read failure, retrying")
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", op, attempts, lastErr)
}
