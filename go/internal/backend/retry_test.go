package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestRetryReadRecoversFromTransientErrors(t *testing.T) {
	fc := clockwork.NewFakeClock()
	cfg := RetryConfig{MaxAttempts: 3, RetryDelay: 100 * time.Millisecond}

	calls := 0
	done := make(chan struct{})
	var (
		got int
		err error
	)
	go func() {
		defer close(done)
		got, err = RetryRead(context.Background(), fc, cfg, "fetch", func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, Transient(errors.New("503"))
			}
			return 42, nil
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, d := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond} {
		if err := fc.BlockUntilContext(ctx, 1); err != nil {
			t.Fatalf("waiting for retry timer: %v", err)
		}
		fc.Advance(d)
	}
	<-done

	if err != nil || got != 42 || calls != 3 {
		t.Fatalf("got=%d err=%v calls=%d", got, err, calls)
	}
}

func TestRetryReadStopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := RetryRead(context.Background(), clockwork.NewFakeClock(), DefaultRetryConfig(), "fetch", func(context.Context) (string, error) {
		calls++
		return "", ErrNotFound
	})
	if !errors.Is(err, ErrNotFound) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetryReadGivesUp(t *testing.T) {
	calls := 0
	_, err := RetryRead(context.Background(), clockwork.NewRealClock(), RetryConfig{MaxAttempts: 2, RetryDelay: time.Millisecond}, "fetch", func(context.Context) (string, error) {
		calls++
		return "", Transient(errors.New("reset"))
	})
	if !IsTransient(err) || calls != 2 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}
