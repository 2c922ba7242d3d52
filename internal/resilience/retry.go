package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/types"
)

const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 30 * time.Second

	// The quick profile is used where a long retry tail would stall a
	// whole batch, such as pool logins and per-link downloads.
	QuickMaxAttempts = 2
	QuickMaxDelay    = 5 * time.Second
)

// Executor wraps an operation with a fixed attempt budget and
// exponential backoff between attempts. A single executor is shared by
// every network boundary call so retry behavior stays uniform.
type Executor struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// Classify decides whether a failure is worth another attempt.
	// Defaults to the package classifier.
	Classify Classifier

	// OnRetry and OnExhausted are logging hooks. They must not be used
	// for control flow.
	OnRetry     func(op string, attempt int, delay time.Duration, err error)
	OnExhausted func(op string, attempts int, err error)

	// Sleep is injectable so tests never wait for real backoff.
	Sleep func(ctx context.Context, d time.Duration) error

	logger *slog.Logger
}

// New builds an executor from configuration, filling spec defaults for
// zero values.
func New(cfg *types.Config, logger *slog.Logger) *Executor {
	e := &Executor{logger: logger}
	if cfg != nil {
		e.MaxAttempts = cfg.Retry.MaxAttempts
		e.InitialDelay = time.Duration(cfg.Retry.InitialDelay) * time.Millisecond
		e.MaxDelay = time.Duration(cfg.Retry.MaxDelay) * time.Millisecond
	}
	e.normalize()
	return e
}

// Quick derives the short-budget profile from an executor, keeping its
// classifier, hooks and logger.
func (e *Executor) Quick() *Executor {
	q := *e
	q.MaxAttempts = QuickMaxAttempts
	q.MaxDelay = QuickMaxDelay
	if q.InitialDelay > q.MaxDelay {
		q.InitialDelay = q.MaxDelay
	}
	return &q
}

func (e *Executor) normalize() {
	if e.MaxAttempts <= 0 {
		e.MaxAttempts = DefaultMaxAttempts
	}
	if e.InitialDelay <= 0 {
		e.InitialDelay = DefaultInitialDelay
	}
	if e.MaxDelay <= 0 {
		e.MaxDelay = DefaultMaxDelay
	}
	if e.Classify == nil {
		e.Classify = Classify
	}
	if e.Sleep == nil {
		e.Sleep = sleepContext
	}
}

// Do runs fn up to MaxAttempts times. A non-transient error
// short-circuits without consuming further attempts. The context only
// interrupts the backoff wait, fn is responsible for its own deadline.
func (e *Executor) Do(ctx context.Context, op string, fn func() error) error {
	e.normalize()

	var lastErr error
	delay := e.InitialDelay
	for attempt := 1; attempt <= e.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if class := e.Classify(err); class != ClassTransient {
			if e.logger != nil {
				e.logger.Debug("not retrying",
					"op", op,
					"class", class.String(),
					"error", err,
				)
			}
			e.exhausted(op, attempt, err)
			return err
		}

		if attempt == e.MaxAttempts {
			break
		}

		if e.logger != nil {
			e.logger.Warn("operation failed, retrying",
				"op", op,
				"attempt", attempt,
				"max_attempts", e.MaxAttempts,
				"delay", delay,
				"error", err,
			)
		}
		if e.OnRetry != nil {
			e.OnRetry(op, attempt, delay, err)
		}

		if err := e.Sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s interrupted: %w", op, err)
		}

		delay *= 2
		if delay > e.MaxDelay {
			delay = e.MaxDelay
		}
	}

	e.exhausted(op, e.MaxAttempts, lastErr)
	return fmt.Errorf("%s failed after %d attempts: %w", op, e.MaxAttempts, lastErr)
}

func (e *Executor) exhausted(op string, attempts int, err error) {
	if e.logger != nil {
		e.logger.Error("operation exhausted retry budget",
			"op", op,
			"attempts", attempts,
			"error", err,
		)
	}
	if e.OnExhausted != nil {
		e.OnExhausted(op, attempts, err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
