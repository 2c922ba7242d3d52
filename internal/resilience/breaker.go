package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/types"
)

const (
	DefaultFailureThreshold = 3
	DefaultRecoveryTimeout  = 300 * time.Second
)

// ErrCircuitOpen is returned when a call is rejected without touching
// the network because the account's breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerState is the current mode of one account's circuit breaker.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards every mailbox call for one account. After
// failureThreshold consecutive failures it rejects calls until
// recoveryTimeout has elapsed, then admits a single trial call.
// Breaker state is in-memory only and rebuilt on restart.
type CircuitBreaker struct {
	accountID        string
	failureThreshold int
	recoveryTimeout  time.Duration
	logger           *slog.Logger

	mu            sync.Mutex
	state         BreakerState
	failures      int
	openedAt      time.Time
	trialInFlight bool

	now func() time.Time
}

// Execute runs fn under the breaker. Every error fn returns counts as a
// failure, whether or not the retry layer underneath considered it
// retryable.
func (b *CircuitBreaker) Execute(fn func() error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}
	err := fn()
	b.afterCall(err)
	return err
}

// beforeCall decides whether a call may proceed right now, moving Open
// to HalfOpen once the recovery timeout has elapsed.
func (b *CircuitBreaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.recoveryTimeout {
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		b.logger.Info("circuit breaker allowing trial call",
			"account_id", b.accountID,
			"open_for", b.now().Sub(b.openedAt),
		)
		return nil
	case StateHalfOpen:
		if b.trialInFlight {
			return ErrCircuitOpen
		}
		b.trialInFlight = true
		return nil
	}
	return nil
}

func (b *CircuitBreaker) afterCall(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != StateClosed {
			b.logger.Info("circuit breaker closed after successful trial",
				"account_id", b.accountID,
			)
		}
		b.state = StateClosed
		b.failures = 0
		b.trialInFlight = false
		return
	}

	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.openedAt = b.now()
		b.trialInFlight = false
		b.logger.Warn("circuit breaker reopened after failed trial",
			"account_id", b.accountID,
			"error", err,
		)
		return
	}

	b.failures++
	if b.state == StateClosed && b.failures >= b.failureThreshold {
		b.state = StateOpen
		b.openedAt = b.now()
		b.logger.Warn("circuit breaker opened",
			"account_id", b.accountID,
			"consecutive_failures", b.failures,
			"recovery_timeout", b.recoveryTimeout,
		)
	}
}

// Reset forces the breaker back to closed. Intended for operator use.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.trialInFlight = false
	b.logger.Info("circuit breaker reset", "account_id", b.accountID)
}

// State returns the current state and consecutive failure count.
func (b *CircuitBreaker) State() (BreakerState, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.failures
}

// BreakerRegistry owns one circuit breaker per account. It is
// constructed once per process and injected wherever mailbox calls are
// made, so unrelated accounts never share failure state.
type BreakerRegistry struct {
	failureThreshold int
	recoveryTimeout  time.Duration
	logger           *slog.Logger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker

	// Now is injectable for breaker timing tests.
	Now func() time.Time
}

// NewBreakerRegistry builds a registry from configuration, filling
// defaults for zero values.
func NewBreakerRegistry(cfg *types.Config, logger *slog.Logger) *BreakerRegistry {
	r := &BreakerRegistry{
		logger:   logger,
		breakers: make(map[string]*CircuitBreaker),
		Now:      time.Now,
	}
	if cfg != nil {
		r.failureThreshold = cfg.CircuitBreaker.FailureThreshold
		r.recoveryTimeout = time.Duration(cfg.CircuitBreaker.RecoveryTimeout) * time.Second
	}
	if r.failureThreshold <= 0 {
		r.failureThreshold = DefaultFailureThreshold
	}
	if r.recoveryTimeout <= 0 {
		r.recoveryTimeout = DefaultRecoveryTimeout
	}
	return r
}

// For returns the breaker for accountID, creating it on first use.
func (r *BreakerRegistry) For(accountID string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[accountID]; ok {
		return b
	}
	b := &CircuitBreaker{
		accountID:        accountID,
		failureThreshold: r.failureThreshold,
		recoveryTimeout:  r.recoveryTimeout,
		logger:           r.logger,
		now:              func() time.Time { return r.Now() },
	}
	r.breakers[accountID] = b
	return b
}

// Reset resets the breaker for one account if it exists.
func (r *BreakerRegistry) Reset(accountID string) {
	r.mu.Lock()
	b, ok := r.breakers[accountID]
	r.mu.Unlock()
	if ok {
		b.Reset()
	}
}
