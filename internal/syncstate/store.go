package syncstate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/models"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/types"
)

// DefaultHistoryKeep is the scan history retention window per account.
const DefaultHistoryKeep = 10

// Store persists per-account sync state and scan history. The scanner
// only depends on this interface, persistence mechanics live in the
// backends.
type Store interface {
	// Load returns the state for an account, or nil when the account
	// has never been scanned.
	Load(ctx context.Context, accountID string) (*models.SyncState, error)

	// Save writes the full state for an account, creating it on first
	// save.
	Save(ctx context.Context, state *models.SyncState) error

	// AppendHistory records one scan result for an account.
	AppendHistory(ctx context.Context, accountID string, result models.ScanResult) error

	// TrimHistory drops all but the most recent keep results.
	TrimHistory(ctx context.Context, accountID string, keep int) error

	// History returns up to limit results, most recent first.
	History(ctx context.Context, accountID string, limit int) ([]models.ScanResult, error)

	// Close releases backend resources.
	Close() error
}

// Common errors
var (
	ErrUnsupportedStoreType = errors.New("unsupported state store type")
	ErrStoreNotInitialized  = errors.New("state store not initialized")
)

// NewStore creates a store implementation based on the configured type.
func NewStore(cfg *types.Config, logger *slog.Logger) (Store, error) {
	switch cfg.StateStore.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.StateStore.SQLite.Path, logger)
	case "postgres":
		return NewPostgresStore(cfg.StateStore.Postgres.DSN, logger)
	case "memory", "":
		return NewMemoryStore(), nil
	default:
		return nil, ErrUnsupportedStoreType
	}
}
