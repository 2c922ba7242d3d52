package scanner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/email"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/models"
)

const (
	// StrategyFullSync scans a whole date window, used for new accounts
	// and accounts flagged for a full re-sync.
	StrategyFullSync = "full_sync"

	// StrategyUIDRange fetches everything newer than the last processed
	// identifier.
	StrategyUIDRange = "uid_range"

	// StrategyRecencyWindow re-inspects a recent date window to catch
	// messages the server reordered or that arrived backdated.
	StrategyRecencyWindow = "recency_window"

	recencyWindowDays      = 7
	firstRecencyWindowDays = 30
)

// Strategy is one named way to collect candidate message identifiers.
// Strategies return their result or error, the scanner unions results
// and records failures without aborting the scan.
type Strategy struct {
	Name    string
	Collect func(ctx context.Context) ([]uint32, error)
}

// fullSyncStrategies builds the single full-sync strategy: a date-range
// query capped at twice the message budget, newest first.
func (s *Scanner) fullSyncStrategies(conn email.Mailbox, account models.MailboxAccount, maxMessages, daysBack int, now time.Time) []Strategy {
	return []Strategy{{
		Name: StrategyFullSync,
		Collect: func(ctx context.Context) ([]uint32, error) {
			builder := email.NewCriteriaBuilder().
				Dated(now.AddDate(0, 0, -daysBack), time.Time{})
			uids, err := s.search(ctx, conn, account.ID, builder)
			if err != nil {
				return nil, err
			}
			sortDescending(uids)
			if len(uids) > maxMessages*2 {
				uids = uids[:maxMessages*2]
			}
			return uids, nil
		},
	}}
}

// incrementalStrategies builds the two independent incremental
// sub-strategies.
func (s *Scanner) incrementalStrategies(conn email.Mailbox, account models.MailboxAccount, state *models.SyncState, now time.Time) []Strategy {
	uidRange := Strategy{
		Name: StrategyUIDRange,
		Collect: func(ctx context.Context) ([]uint32, error) {
			builder := email.NewCriteriaBuilder().
				UIDRange(state.LastProcessedUID+1, 0)
			return s.search(ctx, conn, account.ID, builder)
		},
	}

	days := recencyWindowDays
	if state.LastIncrementalSyncAt.IsZero() {
		days = firstRecencyWindowDays
	}
	recency := Strategy{
		Name: StrategyRecencyWindow,
		Collect: func(ctx context.Context) ([]uint32, error) {
			builder := email.NewCriteriaBuilder().
				Dated(now.AddDate(0, 0, -days), time.Time{})
			return s.search(ctx, conn, account.ID, builder)
		},
	}

	return []Strategy{uidRange, recency}
}

// search runs one UID search under the retry executor.
func (s *Scanner) search(ctx context.Context, conn email.Mailbox, accountID string, builder *email.CriteriaBuilder) ([]uint32, error) {
	criteria := builder.Build()
	s.logger.Debug("searching mailbox",
		"account_id", accountID,
		"criteria", builder.Describe(),
	)

	var uids []uint32
	err := s.retry.Do(ctx, fmt.Sprintf("search %s", accountID), func() error {
		var err error
		uids, err = conn.SearchUIDs(criteria)
		return err
	})
	if err != nil {
		return nil, err
	}
	return uids, nil
}

// collectCandidates runs every strategy, unions the identifiers, and
// records per-strategy failures in the result. The returned flag tells
// whether at least one strategy completed.
func (s *Scanner) collectCandidates(ctx context.Context, strategies []Strategy, result *models.ScanResult) ([]uint32, bool) {
	seen := make(map[uint32]string)
	var union []uint32
	anySucceeded := false

	for _, strat := range strategies {
		uids, err := strat.Collect(ctx)
		if err != nil {
			s.logger.Warn("scan strategy failed",
				"account_id", result.AccountID,
				"strategy", strat.Name,
				"error", err,
			)
			result.AddError(fmt.Errorf("%s: %w", strat.Name, err))
			continue
		}

		anySucceeded = true
		result.StrategiesUsed = append(result.StrategiesUsed, strat.Name)

		overlap := 0
		for _, uid := range uids {
			if _, dup := seen[uid]; dup {
				overlap++
				continue
			}
			seen[uid] = strat.Name
			union = append(union, uid)
		}
		if overlap > 0 {
			// Overlapping identifiers are expected between the uid-range
			// and recency strategies, the first copy wins.
			s.logger.Debug("strategies overlap",
				"account_id", result.AccountID,
				"strategy", strat.Name,
				"overlap", overlap,
			)
		}
	}

	return union, anySucceeded
}

func sortDescending(uids []uint32) {
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
}
