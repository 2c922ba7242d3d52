package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/accounts"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/models"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/types"
)

const DefaultMaxConcurrentAccounts = 3

// ErrScanInProgress is returned when a scan is requested for an account
// that is already being scanned.
var ErrScanInProgress = errors.New("scan already in progress")

// AccountScanner is the single-account scan the coordinator fans out.
type AccountScanner interface {
	ScanAccount(ctx context.Context, account models.MailboxAccount, maxMessages, daysBack int) (*models.ScanResult, error)
}

// Coordinator runs scans across accounts with bounded concurrency. A
// batch always reports one result per account, a failed account is
// converted into an error-carrying result instead of aborting the rest.
type Coordinator struct {
	cfg       *types.Config
	scanner   AccountScanner
	directory accounts.Directory
	logger    *slog.Logger

	mu      sync.Mutex
	running map[string]bool
}

func NewCoordinator(cfg *types.Config, scanner AccountScanner, directory accounts.Directory, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		scanner:   scanner,
		directory: directory,
		logger:    logger,
		running:   make(map[string]bool),
	}
}

// ScanAll scans every enabled account. maxMessages and maxConcurrent
// fall back to configuration when zero. The returned map carries an
// entry for every account that was attempted.
func (c *Coordinator) ScanAll(ctx context.Context, maxMessages, maxConcurrent int) (map[string]models.ScanResult, error) {
	accts, err := c.directory.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	results := make(map[string]models.ScanResult, len(accts))
	if len(accts) == 0 {
		c.logger.Info("no enabled accounts to scan")
		return results, nil
	}

	if maxConcurrent <= 0 {
		maxConcurrent = c.cfg.Batch.MaxConcurrentAccounts
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentAccounts
	}
	c.logger.Info("starting batch scan",
		"accounts", len(accts),
		"max_concurrent", maxConcurrent,
	)

	type keyed struct {
		id     string
		result models.ScanResult
	}
	gate := make(chan struct{}, maxConcurrent)
	out := make(chan keyed, len(accts))

	var wg sync.WaitGroup
	for _, account := range accts {
		wg.Add(1)
		go func(account models.MailboxAccount) {
			defer wg.Done()
			gate <- struct{}{}
			defer func() { <-gate }()
			out <- keyed{account.ID, c.scanOne(ctx, account, maxMessages, 0)}
		}(account)
	}
	wg.Wait()
	close(out)

	var pdfs, failed int
	for r := range out {
		results[r.id] = r.result
		pdfs += r.result.PdfsProcessed
		if len(r.result.Errors) > 0 {
			failed++
		}
	}
	c.logger.Info("batch scan finished",
		"accounts", len(results),
		"accounts_with_errors", failed,
		"pdfs_processed", pdfs,
	)
	return results, nil
}

// ScanOne scans a single account by id. Unlike a batch entry the error
// is returned to the caller directly.
func (c *Coordinator) ScanOne(ctx context.Context, accountID string, maxMessages, daysBack int) (*models.ScanResult, error) {
	account, err := c.directory.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if !c.tryAcquire(account.ID) {
		return nil, fmt.Errorf("%w: %s", ErrScanInProgress, account.ID)
	}
	defer c.release(account.ID)

	return c.scanner.ScanAccount(ctx, account, maxMessages, daysBack)
}

// scanOne wraps one batch entry. Failures of any kind, including a
// panicking scan, come back as a result so the batch stays intact.
func (c *Coordinator) scanOne(ctx context.Context, account models.MailboxAccount, maxMessages, daysBack int) (result models.ScanResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("scan panicked", "account_id", account.ID, "panic", r)
			result = models.FailedScanResult(account.ID, fmt.Errorf("scan panicked: %v", r))
		}
	}()

	if !c.tryAcquire(account.ID) {
		return models.FailedScanResult(account.ID, ErrScanInProgress)
	}
	defer c.release(account.ID)

	scanned, err := c.scanner.ScanAccount(ctx, account, maxMessages, daysBack)
	if err != nil {
		c.logger.Error("account scan failed", "account_id", account.ID, "error", err)
		return models.FailedScanResult(account.ID, err)
	}
	return *scanned
}

func (c *Coordinator) tryAcquire(accountID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running[accountID] {
		return false
	}
	c.running[accountID] = true
	return true
}

func (c *Coordinator) release(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.running, accountID)
}
