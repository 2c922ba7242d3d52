package syncstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/models"
)

// SQLiteStore persists sync state in a local SQLite database. It is
// the default backend for single-node deployments.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates the database at dbPath.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	// Create tables if not exists
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sync_states (
			account_id TEXT PRIMARY KEY,
			last_processed_uid INTEGER NOT NULL DEFAULT 0,
			mode TEXT NOT NULL,
			last_full_sync_at TIMESTAMP,
			last_incremental_sync_at TIMESTAMP,
			total_indexed INTEGER NOT NULL DEFAULT 0,
			recently_processed TEXT NOT NULL DEFAULT '[]',
			updated_at TIMESTAMP
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync_states table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS scan_history (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			result TEXT NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create scan_history table: %w", err)
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_scan_history_account ON scan_history (account_id, started_at)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create scan_history index: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, accountID string) (*models.SyncState, error) {
	if s.db == nil {
		return nil, ErrStoreNotInitialized
	}

	var (
		state      models.SyncState
		mode       string
		fullAt     sql.NullTime
		incrAt     sql.NullTime
		recentJSON string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT account_id, last_processed_uid, mode, last_full_sync_at, last_incremental_sync_at, total_indexed, recently_processed
		 FROM sync_states WHERE account_id = ?`,
		accountID,
	).Scan(&state.AccountID, &state.LastProcessedUID, &mode, &fullAt, &incrAt, &state.TotalIndexed, &recentJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sync state: %w", err)
	}

	state.Mode = models.SyncMode(mode)
	if fullAt.Valid {
		state.LastFullSyncAt = fullAt.Time
	}
	if incrAt.Valid {
		state.LastIncrementalSyncAt = incrAt.Time
	}
	if err := json.Unmarshal([]byte(recentJSON), &state.RecentlyProcessed); err != nil {
		return nil, fmt.Errorf("failed to decode recently processed ids: %w", err)
	}
	return &state, nil
}

func (s *SQLiteStore) Save(ctx context.Context, state *models.SyncState) error {
	if s.db == nil {
		return ErrStoreNotInitialized
	}

	recentJSON, err := json.Marshal(state.RecentlyProcessed)
	if err != nil {
		return fmt.Errorf("failed to encode recently processed ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sync_states
		 (account_id, last_processed_uid, mode, last_full_sync_at, last_incremental_sync_at, total_indexed, recently_processed, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET
			last_processed_uid = excluded.last_processed_uid,
			mode = excluded.mode,
			last_full_sync_at = excluded.last_full_sync_at,
			last_incremental_sync_at = excluded.last_incremental_sync_at,
			total_indexed = excluded.total_indexed,
			recently_processed = excluded.recently_processed,
			updated_at = excluded.updated_at`,
		state.AccountID,
		state.LastProcessedUID,
		string(state.Mode),
		nullableTime(state.LastFullSyncAt),
		nullableTime(state.LastIncrementalSyncAt),
		state.TotalIndexed,
		string(recentJSON),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save sync state: %w", err)
	}
	return nil
}

// nullableTime maps the zero time to NULL so it round-trips cleanly.
func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func (s *SQLiteStore) AppendHistory(ctx context.Context, accountID string, result models.ScanResult) error {
	if s.db == nil {
		return ErrStoreNotInitialized
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode scan result: %w", err)
	}

	startedAt := result.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scan_history (id, account_id, started_at, result) VALUES (?, ?, ?, ?)`,
		uuid.New().String(),
		accountID,
		startedAt,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to append scan history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) TrimHistory(ctx context.Context, accountID string, keep int) error {
	if s.db == nil {
		return ErrStoreNotInitialized
	}
	if keep <= 0 {
		keep = DefaultHistoryKeep
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM scan_history
		 WHERE account_id = ?
		   AND id NOT IN (
			SELECT id FROM scan_history WHERE account_id = ? ORDER BY started_at DESC LIMIT ?
		 )`,
		accountID, accountID, keep,
	)
	if err != nil {
		return fmt.Errorf("failed to trim scan history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) History(ctx context.Context, accountID string, limit int) ([]models.ScanResult, error) {
	if s.db == nil {
		return nil, ErrStoreNotInitialized
	}
	if limit <= 0 {
		limit = DefaultHistoryKeep
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT result FROM scan_history WHERE account_id = ? ORDER BY started_at DESC LIMIT ?`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan history: %w", err)
	}
	defer rows.Close()

	var results []models.ScanResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		var r models.ScanResult
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			s.logger.Warn("skipping undecodable history row", "account_id", accountID, "error", err)
			continue
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
