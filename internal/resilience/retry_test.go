package resilience

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(recorded *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		if recorded != nil {
			*recorded = append(*recorded, d)
		}
		return nil
	}
}

func TestDoSucceedsWithoutRetry(t *testing.T) {
	e := &Executor{Sleep: noSleep(nil), logger: discardLogger()}

	calls := 0
	err := e.Do(context.Background(), "noop", func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoRetriesTransientUntilSuccess(t *testing.T) {
	var delays []time.Duration
	e := &Executor{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Sleep:        noSleep(&delays),
		logger:       discardLogger(),
	}

	calls := 0
	err := e.Do(context.Background(), "flaky", func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("expected %d backoff waits, got %d", len(want), len(delays))
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay %d: expected %v, got %v", i, want[i], delays[i])
		}
	}
}

func TestDoBackoffCappedAtMaxDelay(t *testing.T) {
	var delays []time.Duration
	e := &Executor{
		MaxAttempts:  6,
		InitialDelay: time.Second,
		MaxDelay:     4 * time.Second,
		Sleep:        noSleep(&delays),
		logger:       discardLogger(),
	}

	err := e.Do(context.Background(), "always-down", func() error {
		return errors.New("timeout")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second, 4 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("expected %d backoff waits, got %d", len(want), len(delays))
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay %d: expected %v, got %v", i, want[i], delays[i])
		}
	}
}

func TestDoPermanentShortCircuits(t *testing.T) {
	e := &Executor{MaxAttempts: 3, Sleep: noSleep(nil), logger: discardLogger()}

	calls := 0
	cause := errors.New("authentication failed")
	err := e.Do(context.Background(), "login", func() error {
		calls++
		return cause
	})
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to surface, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call for permanent error, got %d", calls)
	}
}

func TestDoExhaustedWrapsLastError(t *testing.T) {
	exhausted := 0
	cause := errors.New("i/o timeout")
	e := &Executor{
		MaxAttempts: 3,
		Sleep:       noSleep(nil),
		OnExhausted: func(op string, attempts int, err error) {
			exhausted++
			if attempts != 3 {
				t.Errorf("expected 3 attempts reported, got %d", attempts)
			}
		},
		logger: discardLogger(),
	}

	err := e.Do(context.Background(), "fetch", func() error { return cause })
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if exhausted != 1 {
		t.Errorf("expected OnExhausted once, got %d", exhausted)
	}
}

func TestDoContextCancelsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		logger:       discardLogger(),
	}

	calls := 0
	err := e.Do(ctx, "slow", func() error {
		calls++
		cancel()
		return errors.New("timeout")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected no attempt after cancellation, got %d calls", calls)
	}
}

func TestQuickProfile(t *testing.T) {
	e := &Executor{
		MaxAttempts:  5,
		InitialDelay: 10 * time.Second,
		MaxDelay:     30 * time.Second,
		Sleep:        noSleep(nil),
		logger:       discardLogger(),
	}
	q := e.Quick()

	if q.MaxAttempts != QuickMaxAttempts {
		t.Errorf("expected %d attempts, got %d", QuickMaxAttempts, q.MaxAttempts)
	}
	if q.MaxDelay != QuickMaxDelay {
		t.Errorf("expected max delay %v, got %v", QuickMaxDelay, q.MaxDelay)
	}
	if q.InitialDelay > q.MaxDelay {
		t.Errorf("initial delay %v exceeds max delay %v", q.InitialDelay, q.MaxDelay)
	}
	if e.MaxAttempts != 5 {
		t.Errorf("quick profile must not mutate the source executor")
	}
}

func TestOnRetryHookReceivesAttempts(t *testing.T) {
	var attempts []int
	e := &Executor{
		MaxAttempts: 3,
		Sleep:       noSleep(nil),
		OnRetry: func(op string, attempt int, delay time.Duration, err error) {
			attempts = append(attempts, attempt)
		},
		logger: discardLogger(),
	}

	_ = e.Do(context.Background(), "fetch", func() error { return errors.New("timeout") })
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("expected retry hooks for attempts 1 and 2, got %v", attempts)
	}
}
