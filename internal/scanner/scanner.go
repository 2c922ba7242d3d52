package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/delivery"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/email"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/models"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/pdf"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/resilience"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/syncstate"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/types"
)

const (
	DefaultMaxMessages = 50
	DefaultDaysBack    = 30

	defaultMessageDelay = 200 * time.Millisecond
)

// ConnectionSource is the pool surface the scanner depends on.
type ConnectionSource interface {
	Get(ctx context.Context, account models.MailboxAccount) (email.Mailbox, error)
	Invalidate(accountID string)
}

// Scanner runs full and incremental scans for single accounts. All
// mailbox traffic goes through the account's circuit breaker, and every
// network call is wrapped by the retry executor.
type Scanner struct {
	cfg         *types.Config
	connections ConnectionSource
	breakers    *resilience.BreakerRegistry
	retry       *resilience.Executor
	store       syncstate.Store
	fetcher     *pdf.Fetcher
	processor   delivery.Processor
	matcher     *Matcher
	logger      *slog.Logger

	// Now and Sleep are injectable for tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func New(
	cfg *types.Config,
	connections ConnectionSource,
	breakers *resilience.BreakerRegistry,
	retry *resilience.Executor,
	store syncstate.Store,
	fetcher *pdf.Fetcher,
	processor delivery.Processor,
	logger *slog.Logger,
) *Scanner {
	return &Scanner{
		cfg:         cfg,
		connections: connections,
		breakers:    breakers,
		retry:       retry,
		store:       store,
		fetcher:     fetcher,
		processor:   processor,
		matcher:     NewMatcher(cfg),
		logger:      logger,
		Now:         time.Now,
		Sleep:       pacingSleep,
	}
}

// ScanAccount synchronizes one account and returns its result. Errors
// are returned only when the scan could not run at all: an open
// circuit, no connection, or a state store failure. Everything else is
// reported inside the result.
func (s *Scanner) ScanAccount(ctx context.Context, account models.MailboxAccount, maxMessages, daysBack int) (*models.ScanResult, error) {
	start := s.Now()
	result := &models.ScanResult{AccountID: account.ID, StartedAt: start.UTC()}

	if maxMessages <= 0 {
		maxMessages = s.cfg.Sync.MaxMessages
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if daysBack <= 0 {
		daysBack = account.DefaultDaysBack
	}
	if daysBack <= 0 {
		daysBack = s.cfg.Sync.DaysBack
	}
	if daysBack <= 0 {
		daysBack = DefaultDaysBack
	}

	state, err := s.store.Load(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync state for %s: %w", account.ID, err)
	}
	if state == nil {
		state = models.NewSyncState(account.ID)
	}

	fullSync := state.Mode == models.SyncModeNeverSynced || state.Mode == models.SyncModeFullSyncNeeded
	s.logger.Info("scanning account",
		"account_id", account.ID,
		"mode", state.Mode,
		"full_sync", fullSync,
		"max_messages", maxMessages,
		"days_back", daysBack,
	)

	var (
		conn        email.Mailbox
		candidates  []uint32
		anyStrategy bool
	)
	breaker := s.breakers.For(account.ID)
	execErr := breaker.Execute(func() error {
		var err error
		conn, err = s.connections.Get(ctx, account)
		if err != nil {
			return err
		}

		var strategies []Strategy
		if fullSync {
			strategies = s.fullSyncStrategies(conn, account, maxMessages, daysBack, start)
		} else {
			strategies = s.incrementalStrategies(conn, account, state, start)
		}
		candidates, anyStrategy = s.collectCandidates(ctx, strategies, result)
		if !anyStrategy {
			return fmt.Errorf("all scan strategies failed for %s", account.ID)
		}
		return nil
	})
	if execErr != nil && conn == nil {
		// Circuit open or no connection. Nothing was inspected and the
		// persisted state is untouched.
		return nil, execErr
	}
	if execErr != nil {
		// Every strategy failed on a live connection. The breaker has
		// counted the failure, the connection is suspect.
		s.connections.Invalidate(account.ID)
	}

	fresh := s.dedupe(candidates, state)
	sortDescending(fresh)
	if len(fresh) > maxMessages {
		fresh = fresh[:maxMessages]
	}

	maxSeen := s.processMessages(ctx, conn, account, state, result, fresh)
	s.finishState(state, fullSync, anyStrategy, maxSeen, start)
	result.DurationSeconds = s.Now().Sub(start).Seconds()

	if err := s.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to save sync state for %s: %w", account.ID, err)
	}
	s.recordHistory(ctx, account.ID, result)

	s.logger.Info("scan finished",
		"account_id", account.ID,
		"total_checked", result.TotalChecked,
		"new_messages", result.NewMessages,
		"pdfs_found", result.PdfsFound,
		"pdfs_processed", result.PdfsProcessed,
		"errors", len(result.Errors),
		"duration_seconds", result.DurationSeconds,
	)
	return result, nil
}

// ForceFullSync flags an account so its next scan runs the full-sync
// strategy again.
func (s *Scanner) ForceFullSync(ctx context.Context, accountID string) error {
	state, err := s.store.Load(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to load sync state for %s: %w", accountID, err)
	}
	if state == nil {
		state = models.NewSyncState(accountID)
	}
	state.Mode = models.SyncModeFullSyncNeeded
	if err := s.store.Save(ctx, state); err != nil {
		return fmt.Errorf("failed to save sync state for %s: %w", accountID, err)
	}
	return nil
}

// dedupe drops identifiers the account has already processed.
func (s *Scanner) dedupe(uids []uint32, state *models.SyncState) []uint32 {
	var fresh []uint32
	for _, uid := range uids {
		if state.WasProcessed(uid) {
			continue
		}
		fresh = append(fresh, uid)
	}
	return fresh
}

// processMessages fetches and handles each candidate in order,
// returning the highest identifier that is safe to advance past.
func (s *Scanner) processMessages(ctx context.Context, conn email.Mailbox, account models.MailboxAccount, state *models.SyncState, result *models.ScanResult, uids []uint32) uint32 {
	if conn == nil || len(uids) == 0 {
		return 0
	}

	delay := s.messageDelay()
	var maxSeen uint32

	for i, uid := range uids {
		if i > 0 && delay > 0 {
			if err := s.Sleep(ctx, delay); err != nil {
				result.AddError(fmt.Errorf("scan interrupted: %w", err))
				break
			}
		}

		result.TotalChecked++

		var msg *email.Message
		err := s.retry.Do(ctx, fmt.Sprintf("fetch %s/%d", account.ID, uid), func() error {
			var err error
			msg, err = conn.FetchMessage(uid)
			return err
		})
		if err != nil {
			result.AddError(fmt.Errorf("message %d: %w", uid, err))
			if resilience.Classify(err) == resilience.ClassData {
				// The message will never parse better. Skip it for good
				// so it is not re-inspected every scan.
				state.RememberProcessed(uid)
				state.TotalIndexed++
				if uid > maxSeen {
					maxSeen = uid
				}
			}
			continue
		}

		state.RememberProcessed(uid)
		state.TotalIndexed++
		if uid > maxSeen {
			maxSeen = uid
		}

		if !s.matcher.Relevant(msg) {
			s.logger.Debug("message not relevant",
				"account_id", account.ID,
				"uid", uid,
				"subject", msg.Subject,
			)
			continue
		}
		result.NewMessages++

		candidates := s.fetcher.Candidates(ctx, account.ID, msg)
		result.PdfsFound += len(candidates)
		for _, candidate := range candidates {
			doc := delivery.Document{
				AccountID: account.ID,
				Subject:   msg.Subject,
				Sender:    msg.Sender,
				Date:      msg.Date,
				Filename:  candidate.Name,
				Source:    candidate.Source,
				OriginURL: candidate.OriginURL,
				Data:      candidate.Data,
			}
			if err := s.processor.Process(ctx, doc); err != nil {
				result.AddError(fmt.Errorf("deliver %s from message %d: %w", candidate.Name, uid, err))
				continue
			}
			result.PdfsProcessed++
		}
	}
	return maxSeen
}

// finishState applies the mode transition rules after a scan attempt.
func (s *Scanner) finishState(state *models.SyncState, fullSync, anyStrategy bool, maxSeen uint32, now time.Time) {
	if maxSeen > state.LastProcessedUID {
		state.LastProcessedUID = maxSeen
	}

	if fullSync {
		if anyStrategy {
			state.Mode = models.SyncModeIncremental
			state.LastFullSyncAt = now.UTC()
		} else {
			// Keep retrying a full sync until one completes.
			state.Mode = models.SyncModeFullSyncNeeded
		}
		return
	}
	if anyStrategy {
		state.LastIncrementalSyncAt = now.UTC()
	}
}

// recordHistory appends and trims scan history. History failures are
// logged but never fail the scan, only sync state itself is load
// bearing.
func (s *Scanner) recordHistory(ctx context.Context, accountID string, result *models.ScanResult) {
	if err := s.store.AppendHistory(ctx, accountID, *result); err != nil {
		s.logger.Warn("failed to append scan history", "account_id", accountID, "error", err)
		return
	}
	if err := s.store.TrimHistory(ctx, accountID, s.historyKeep()); err != nil {
		s.logger.Warn("failed to trim scan history", "account_id", accountID, "error", err)
	}
}

func (s *Scanner) messageDelay() time.Duration {
	if s.cfg != nil && s.cfg.Sync.MessageDelayMS > 0 {
		return time.Duration(s.cfg.Sync.MessageDelayMS) * time.Millisecond
	}
	return defaultMessageDelay
}

func (s *Scanner) historyKeep() int {
	if s.cfg != nil && s.cfg.Sync.HistoryKeep > 0 {
		return s.cfg.Sync.HistoryKeep
	}
	return syncstate.DefaultHistoryKeep
}

func pacingSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
