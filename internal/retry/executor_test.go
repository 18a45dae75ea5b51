package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// recordWaits replaces the executor's timer with one that records the
// requested durations without sleeping.
func recordWaits(e *Executor) *[]time.Duration {
	var waits []time.Duration
	e.wait = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return &waits
}

func TestSucceedsFirstAttempt(t *testing.T) {
	e := New(3, 500*time.Millisecond, nil)
	recordWaits(e)

	calls := 0
	attempts, err := e.Do(context.Background(), "deliver", func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 1 || calls != 1 {
		t.Fatalf("expected 1 attempt, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestSucceedsAfterTransientFailures(t *testing.T) {
	e := New(3, 500*time.Millisecond, nil)
	recordWaits(e)

	calls := 0
	attempts, err := e.Do(context.Background(), "deliver", func(ctx context.Context) error {
		calls++
		if calls <= 2 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExhaustsAttemptsWithLinearBackoff(t *testing.T) {
	base := 500 * time.Millisecond
	e := New(4, base, nil)
	waits := recordWaits(e)

	errFirst := errors.New("first failure")
	errLast := errors.New("last failure")
	calls := 0
	attempts, err := e.Do(context.Background(), "deliver", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errFirst
		}
		return errLast
	})

	if attempts != 4 || calls != 4 {
		t.Fatalf("expected 4 attempts, got attempts=%d calls=%d", attempts, calls)
	}
	// Only the last error survives exhaustion.
	if !errors.Is(err, errLast) {
		t.Fatalf("expected last error, got %v", err)
	}
	if errors.Is(err, errFirst) {
		t.Fatal("earlier errors must not be aggregated")
	}

	// Waits scale linearly with the attempt index: base, 2*base, 3*base.
	want := []time.Duration{base, 2 * base, 3 * base}
	if len(*waits) != len(want) {
		t.Fatalf("expected %d waits, got %d", len(want), len(*waits))
	}
	for i, w := range want {
		if (*waits)[i] != w {
			t.Fatalf("wait %d: expected %s, got %s", i, w, (*waits)[i])
		}
	}
}

func TestCancelledContextAbortsBackoff(t *testing.T) {
	e := New(3, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan struct{})
	var attempts int
	var err error
	go func() {
		attempts, err = e.Do(ctx, "deliver", func(ctx context.Context) error {
			calls++
			cancel()
			return errors.New("boom")
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}

	if calls != 1 {
		t.Fatalf("expected 1 call before cancellation, got %d", calls)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 completed attempt, got %d", attempts)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDefaultsApplied(t *testing.T) {
	e := New(0, -1, nil)
	if e.MaxAttempts() != DefaultMaxAttempts {
		t.Fatalf("expected default max attempts %d, got %d", DefaultMaxAttempts, e.MaxAttempts())
	}
	if e.backoffBase != DefaultBackoffBase {
		t.Fatalf("expected default backoff base %s, got %s", DefaultBackoffBase, e.backoffBase)
	}
}
