package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrConnectionLost is returned once reconnection attempts are exhausted.
var ErrConnectionLost = errors.New("connection lost")

// Reconnector runs the bounded reconnection loop: wait, attempt, double the delay.
type Reconnector struct {
	clock   clockwork.Clock
	cfg     ReconnectConfig
	attempt func(ctx context.Context, n int) error
}

func NewReconnector(clock clockwork.Clock, cfg ReconnectConfig, attempt func(ctx context.Context, n int) error) *Reconnector {
	return &Reconnector{clock: clock, cfg: cfg, attempt: attempt}
}

// backoff returns the wait before attempt n (1-based).
func backoff(cfg ReconnectConfig, n int) time.Duration {
	d := cfg.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= cfg.MaxDelay {
			return cfg.MaxDelay
		}
	}
	return min(d, cfg.MaxDelay)
}

// Run blocks until an attempt succeeds, attempts run out, or ctx ends. It returns the number of
// attempts made; the error wraps ErrConnectionLost when every attempt failed.
func (r *Reconnector) Run(ctx context.Context) (int, error) {
	var lastErr error
	for n := 1; n <= r.cfg.MaxAttempts; n++ {
		delay := backoff(r.cfg, n)
		log.Info().Int("attempt", n).Dur("delay", delay).Msg("reconnecting")

		select {
		case <-ctx.Done():
			return n - 1, ctx.Err()
		case <-r.clock.After(delay):
		}

		if err := r.attempt(ctx, n); err != nil {
			if ctx.Err() != nil {
				return n, ctx.Err()
			}
			lastErr = err
			log.Warn().Err(err).Int("attempt", n).Msg("reconnect attempt failed")
			continue
		}
		log.Info().Int("attempt", n).Msg("reconnected")
		return n, nil
	}
	return r.cfg.MaxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrConnectionLost, r.cfg.MaxAttempts, lastErr)
}
