package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestBackoffDoublesUpToTheCap(t *testing.T) {
	cfg := ReconnectConfig{BaseDelay: time.Second, MaxDelay: 16 * time.Second, MaxAttempts: 6}
	want := []time.Duration{1, 2, 4, 8, 16, 16}
	for i, w := range want {
		if got := backoff(cfg, i+1); got != w*time.Second {
			t.Errorf("backoff(%d) = %s, want %s", i+1, got, w*time.Second)
		}
	}
}

// runReconnector releases the backoff wait waits times and returns Run's result.
func runReconnector(t *testing.T, fc *clockwork.FakeClock, r *Reconnector, waits int) (int, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := r.Run(ctx)
		done <- result{n, err}
	}()

	for i := 0; i < waits; i++ {
		if err := fc.BlockUntilContext(ctx, 1); err != nil {
			t.Fatalf("wait %d: %v", i+1, err)
		}
		fc.Advance(time.Minute)
	}
	select {
	case res := <-done:
		return res.n, res.err
	case <-ctx.Done():
		t.Fatal("reconnector did not return")
		return 0, nil
	}
}

func TestReconnectorGivesUpAfterMaxAttempts(t *testing.T) {
	fc := clockwork.NewFakeClock()
	broken := errors.New("dial tcp: connection refused")
	var attempts []int
	r := NewReconnector(fc, DefaultConfig().Reconnect, func(ctx context.Context, n int) error {
		attempts = append(attempts, n)
		return broken
	})

	n, err := runReconnector(t, fc, r, 5)
	if !errors.Is(err, ErrConnectionLost) || !errors.Is(err, broken) {
		t.Fatalf("err = %v", err)
	}
	if n != 5 || len(attempts) != 5 {
		t.Fatalf("attempts = %d (%v), want 5", n, attempts)
	}
}

func TestReconnectorStopsOnFirstSuccess(t *testing.T) {
	fc := clockwork.NewFakeClock()
	calls := 0
	r := NewReconnector(fc, DefaultConfig().Reconnect, func(ctx context.Context, n int) error {
		calls++
		if n < 3 {
			return errors.New("still down")
		}
		return nil
	})

	n, err := runReconnector(t, fc, r, 3)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n != 3 || calls != 3 {
		t.Fatalf("attempts = %d, calls = %d, want 3", n, calls)
	}
}

func TestReconnectorHonorsCancellation(t *testing.T) {
	fc := clockwork.NewFakeClock()
	r := NewReconnector(fc, DefaultConfig().Reconnect, func(ctx context.Context, n int) error {
		t.Fatal("attempted after cancellation")
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) || n != 0 {
		t.Fatalf("n = %d, err = %v", n, err)
	}
}
