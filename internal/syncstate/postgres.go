package syncstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/models"
)

// syncStateRecord is the persistence shape of a sync state row.
type syncStateRecord struct {
	AccountID             string `gorm:"primaryKey"`
	LastProcessedUID      uint32
	Mode                  string
	LastFullSyncAt        *time.Time
	LastIncrementalSyncAt *time.Time
	TotalIndexed          int64
	RecentlyProcessed     string `gorm:"type:text"`
	UpdatedAt             time.Time
}

func (syncStateRecord) TableName() string {
	return "sync_states"
}

// scanHistoryRecord stores one completed scan as a JSON document.
type scanHistoryRecord struct {
	ID        string `gorm:"primaryKey"`
	AccountID string `gorm:"index:idx_scan_history_account"`
	StartedAt time.Time
	Result    string `gorm:"type:text"`
}

func (scanHistoryRecord) TableName() string {
	return "scan_history"
}

// PostgresStore persists sync state in PostgreSQL. Use it when several
// workers share one state database.
type PostgresStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the database at dsn and migrates the schema.
func NewPostgresStore(dsn string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to state database: %w", err)
	}

	if err := db.AutoMigrate(&syncStateRecord{}, &scanHistoryRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate state schema: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

func (s *PostgresStore) Load(ctx context.Context, accountID string) (*models.SyncState, error) {
	if s.db == nil {
		return nil, ErrStoreNotInitialized
	}

	var rec syncStateRecord
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sync state: %w", err)
	}

	state := models.SyncState{
		AccountID:        rec.AccountID,
		LastProcessedUID: rec.LastProcessedUID,
		Mode:             models.SyncMode(rec.Mode),
		TotalIndexed:     rec.TotalIndexed,
	}
	if rec.LastFullSyncAt != nil {
		state.LastFullSyncAt = *rec.LastFullSyncAt
	}
	if rec.LastIncrementalSyncAt != nil {
		state.LastIncrementalSyncAt = *rec.LastIncrementalSyncAt
	}
	if err := json.Unmarshal([]byte(rec.RecentlyProcessed), &state.RecentlyProcessed); err != nil {
		return nil, fmt.Errorf("failed to decode recently processed ids: %w", err)
	}
	return &state, nil
}

func (s *PostgresStore) Save(ctx context.Context, state *models.SyncState) error {
	if s.db == nil {
		return ErrStoreNotInitialized
	}

	recentJSON, err := json.Marshal(state.RecentlyProcessed)
	if err != nil {
		return fmt.Errorf("failed to encode recently processed ids: %w", err)
	}

	rec := syncStateRecord{
		AccountID:         state.AccountID,
		LastProcessedUID:  state.LastProcessedUID,
		Mode:              string(state.Mode),
		TotalIndexed:      state.TotalIndexed,
		RecentlyProcessed: string(recentJSON),
		UpdatedAt:         time.Now().UTC(),
	}
	if !state.LastFullSyncAt.IsZero() {
		t := state.LastFullSyncAt
		rec.LastFullSyncAt = &t
	}
	if !state.LastIncrementalSyncAt.IsZero() {
		t := state.LastIncrementalSyncAt
		rec.LastIncrementalSyncAt = &t
	}

	var existing syncStateRecord
	err = s.db.WithContext(ctx).Where("account_id = ?", state.AccountID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
			return fmt.Errorf("failed to create sync state: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up sync state: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&syncStateRecord{}).Where("account_id = ?", state.AccountID).Updates(map[string]interface{}{
		"last_processed_uid":       rec.LastProcessedUID,
		"mode":                     rec.Mode,
		"last_full_sync_at":        rec.LastFullSyncAt,
		"last_incremental_sync_at": rec.LastIncrementalSyncAt,
		"total_indexed":            rec.TotalIndexed,
		"recently_processed":       rec.RecentlyProcessed,
		"updated_at":               rec.UpdatedAt,
	}).Error; err != nil {
		return fmt.Errorf("failed to update sync state: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendHistory(ctx context.Context, accountID string, result models.ScanResult) error {
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

	rec := scanHistoryRecord{
		ID:        uuid.New().String(),
		AccountID: accountID,
		StartedAt: startedAt,
		Result:    string(payload),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to append scan history: %w", err)
	}
	return nil
}

func (s *PostgresStore) TrimHistory(ctx context.Context, accountID string, keep int) error {
	if s.db == nil {
		return ErrStoreNotInitialized
	}
	if keep <= 0 {
		keep = DefaultHistoryKeep
	}

	var keepIDs []string
	err := s.db.WithContext(ctx).
		Model(&scanHistoryRecord{}).
		Where("account_id = ?", accountID).
		Order("started_at DESC").
		Limit(keep).
		Pluck("id", &keepIDs).Error
	if err != nil {
		return fmt.Errorf("failed to select history to keep: %w", err)
	}
	if len(keepIDs) == 0 {
		return nil
	}

	if err := s.db.WithContext(ctx).
		Where("account_id = ? AND id NOT IN ?", accountID, keepIDs).
		Delete(&scanHistoryRecord{}).Error; err != nil {
		return fmt.Errorf("failed to trim scan history: %w", err)
	}
	return nil
}

func (s *PostgresStore) History(ctx context.Context, accountID string, limit int) ([]models.ScanResult, error) {
	if s.db == nil {
		return nil, ErrStoreNotInitialized
	}
	if limit <= 0 {
		limit = DefaultHistoryKeep
	}

	var recs []scanHistoryRecord
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("started_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query scan history: %w", err)
	}

	var results []models.ScanResult
	for _, rec := range recs {
		var r models.ScanResult
		if err := json.Unmarshal([]byte(rec.Result), &r); err != nil {
			s.logger.Warn("skipping undecodable history row", "account_id", accountID, "error", err)
			continue
		}
		results = append(results, r)
	}
	return results, nil
}

func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
