package resilience

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRegistry(clock *fakeClock) *BreakerRegistry {
	r := NewBreakerRegistry(nil, discardLogger())
	r.Now = clock.Now
	return r
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	b := newTestRegistry(clock).For("acct-1")

	boom := errors.New("connection refused")
	for i := 0; i < DefaultFailureThreshold; i++ {
		if err := b.Execute(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: expected underlying error, got %v", i, err)
		}
	}

	if state, failures := b.State(); state != StateOpen || failures != DefaultFailureThreshold {
		t.Fatalf("expected open with %d failures, got %v/%d", DefaultFailureThreshold, state, failures)
	}

	calls := 0
	err := b.Execute(func() error { calls++; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 0 {
		t.Errorf("open breaker must not invoke the operation")
	}
}

func TestBreakerRejectsUntilRecoveryTimeout(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	b := newTestRegistry(clock).For("acct-1")

	for i := 0; i < DefaultFailureThreshold; i++ {
		_ = b.Execute(func() error { return errors.New("timeout") })
	}

	clock.Advance(DefaultRecoveryTimeout - time.Second)
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected rejection before timeout, got %v", err)
	}

	clock.Advance(2 * time.Second)
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected trial call to pass, got %v", err)
	}
	if state, failures := b.State(); state != StateClosed || failures != 0 {
		t.Errorf("expected closed after successful trial, got %v/%d", state, failures)
	}
}

func TestBreakerFailedTrialResetsTimer(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	b := newTestRegistry(clock).For("acct-1")

	for i := 0; i < DefaultFailureThreshold; i++ {
		_ = b.Execute(func() error { return errors.New("timeout") })
	}

	clock.Advance(DefaultRecoveryTimeout + time.Second)
	boom := errors.New("still down")
	if err := b.Execute(func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected trial to run and fail, got %v", err)
	}

	// Timer restarted at the failed trial, so half the original window
	// is not enough.
	clock.Advance(DefaultRecoveryTimeout / 2)
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected rejection after failed trial, got %v", err)
	}

	clock.Advance(DefaultRecoveryTimeout)
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected trial after full timeout, got %v", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	b := newTestRegistry(clock).For("acct-1")

	_ = b.Execute(func() error { return errors.New("timeout") })
	_ = b.Execute(func() error { return errors.New("timeout") })
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Two more failures must not open a breaker whose count was reset.
	_ = b.Execute(func() error { return errors.New("timeout") })
	_ = b.Execute(func() error { return errors.New("timeout") })
	if state, _ := b.State(); state != StateClosed {
		t.Errorf("expected closed after reset count, got %v", state)
	}
}

func TestBreakerReset(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	reg := newTestRegistry(clock)
	b := reg.For("acct-1")

	for i := 0; i < DefaultFailureThreshold; i++ {
		_ = b.Execute(func() error { return errors.New("timeout") })
	}
	reg.Reset("acct-1")

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected call to pass after reset, got %v", err)
	}
}

func TestRegistryKeepsAccountsIndependent(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	reg := newTestRegistry(clock)

	a := reg.For("acct-a")
	for i := 0; i < DefaultFailureThreshold; i++ {
		_ = a.Execute(func() error { return errors.New("timeout") })
	}

	bCalls := 0
	if err := reg.For("acct-b").Execute(func() error { bCalls++; return nil }); err != nil {
		t.Fatalf("unrelated account must not be affected, got %v", err)
	}
	if bCalls != 1 {
		t.Errorf("expected acct-b call to run")
	}

	if reg.For("acct-a") != a {
		t.Errorf("registry must return the same breaker per account")
	}
}
