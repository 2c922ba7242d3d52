package email

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/models"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/resilience"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/types"
)

// DefaultConnectionTTL bounds how long a pooled session is reused
// before it is recycled.
const DefaultConnectionTTL = 10 * time.Minute

// DialFunc opens an authenticated session for an account. Injectable
// so pool tests never touch a network.
type DialFunc func(ctx context.Context, account models.MailboxAccount) (Mailbox, error)

type poolEntry struct {
	mu        sync.Mutex
	conn      Mailbox
	createdAt time.Time
	expiresAt time.Time
}

func (e *poolEntry) closeLocked(logger *slog.Logger, accountID string) {
	if e.conn == nil {
		return
	}
	if err := e.conn.Logout(); err != nil {
		logger.Debug("logout of pooled connection failed",
			"account_id", accountID,
			"error", err,
		)
	}
	e.conn = nil
}

// ConnectionPool owns at most one live session per account. Entries
// are guarded per account so unrelated accounts never block each
// other; only the entry index itself is behind a short global lock.
type ConnectionPool struct {
	ttl    time.Duration
	dial   DialFunc
	retry  *resilience.Executor
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*poolEntry

	// Now is injectable for expiry tests.
	Now func() time.Time
}

// NewConnectionPool builds a pool that dials real sessions with the
// given authenticator. Login attempts run under the executor's quick
// profile so a dead server does not stall a whole batch.
func NewConnectionPool(cfg *types.Config, auth Authenticator, retry *resilience.Executor, logger *slog.Logger) *ConnectionPool {
	ttl := DefaultConnectionTTL
	if cfg != nil && cfg.Pool.ConnectionTTL > 0 {
		ttl = time.Duration(cfg.Pool.ConnectionTTL) * time.Second
	}
	p := &ConnectionPool{
		ttl:     ttl,
		retry:   retry.Quick(),
		logger:  logger,
		entries: make(map[string]*poolEntry),
		Now:     time.Now,
	}
	p.dial = func(ctx context.Context, account models.MailboxAccount) (Mailbox, error) {
		return Dial(ctx, account, cfg, auth, logger)
	}
	return p
}

// SetDialer replaces the session factory. Used by tests.
func (p *ConnectionPool) SetDialer(dial DialFunc) {
	p.dial = dial
}

func (p *ConnectionPool) entry(accountID string) *poolEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[accountID]
	if !ok {
		e = &poolEntry{}
		p.entries[accountID] = e
	}
	return e
}

// Get returns a usable session for the account, reusing the pooled one
// while it is fresh and alive, otherwise closing it and logging in
// again. Concurrent callers for the same account are serialized.
func (p *ConnectionPool) Get(ctx context.Context, account models.MailboxAccount) (Mailbox, error) {
	e := p.entry(account.ID)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := p.Now()
	if e.conn != nil {
		if now.Before(e.expiresAt) {
			if err := e.conn.Noop(); err == nil {
				p.logger.Debug("reusing pooled connection",
					"account_id", account.ID,
					"age", now.Sub(e.createdAt),
				)
				return e.conn, nil
			}
			p.logger.Info("pooled connection failed health check, recycling",
				"account_id", account.ID,
			)
		} else {
			p.logger.Debug("pooled connection expired, recycling",
				"account_id", account.ID,
				"age", now.Sub(e.createdAt),
			)
		}
		e.closeLocked(p.logger, account.ID)
	}

	var conn Mailbox
	err := p.retry.Do(ctx, fmt.Sprintf("login %s", account.ID), func() error {
		c, dialErr := p.dial(ctx, account)
		if dialErr != nil {
			return dialErr
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to obtain connection for %s: %w", account.ID, err)
	}

	now = p.Now()
	e.conn = conn
	e.createdAt = now
	e.expiresAt = now.Add(p.ttl)
	return conn, nil
}

// Invalidate closes the pooled session for an account so the next Get
// logs in fresh. Called after a connection-level failure mid-scan.
func (p *ConnectionPool) Invalidate(accountID string) {
	p.mu.Lock()
	e, ok := p.entries[accountID]
	p.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeLocked(p.logger, accountID)
}

// Drain closes and removes every pooled session. Used at shutdown and
// for forced recycling.
func (p *ConnectionPool) Drain() {
	p.mu.Lock()
	entries := make(map[string]*poolEntry, len(p.entries))
	for id, e := range p.entries {
		entries[id] = e
	}
	p.entries = make(map[string]*poolEntry)
	p.mu.Unlock()

	for id, e := range entries {
		e.mu.Lock()
		e.closeLocked(p.logger, id)
		e.mu.Unlock()
	}
	p.logger.Info("connection pool drained", "connections", len(entries))
}
