package validation

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/types"
)

// ValidateConfig performs validation on a single scan profile. Zero
// values are allowed wherever the runtime fills a default, so the
// checks reject contradictions, not omissions.
func ValidateConfig(cfg *types.Config) error {
	if err := validateMeta(cfg); err != nil {
		return fmt.Errorf("meta validation failed: %w", err)
	}

	if err := validateAccounts(cfg); err != nil {
		return fmt.Errorf("accounts validation failed: %w", err)
	}

	if err := validateSync(cfg); err != nil {
		return fmt.Errorf("sync validation failed: %w", err)
	}

	if err := validateIMAP(cfg); err != nil {
		return fmt.Errorf("imap validation failed: %w", err)
	}

	if err := validateResilience(cfg); err != nil {
		return fmt.Errorf("resilience validation failed: %w", err)
	}

	if err := validateDownloads(cfg); err != nil {
		return fmt.Errorf("downloads validation failed: %w", err)
	}

	if err := validateStateStore(cfg); err != nil {
		return fmt.Errorf("state store validation failed: %w", err)
	}

	if err := validateDelivery(cfg); err != nil {
		return fmt.Errorf("delivery validation failed: %w", err)
	}

	if err := validateLogging(cfg); err != nil {
		return fmt.Errorf("logging validation failed: %w", err)
	}

	if err := validateScheduling(cfg); err != nil {
		return fmt.Errorf("scheduling validation failed: %w", err)
	}

	return nil
}

func validateMeta(cfg *types.Config) error {
	if cfg.Meta.ID == "" {
		return fmt.Errorf("meta.id is required")
	}

	if !isValidID(cfg.Meta.ID) {
		return fmt.Errorf("meta.id contains invalid characters (use only alphanumeric, dash, underscore)")
	}

	if cfg.Meta.Name == "" {
		return fmt.Errorf("meta.name is required")
	}

	return nil
}

func validateAccounts(cfg *types.Config) error {
	seen := make(map[string]bool, len(cfg.Accounts))
	needsOAuth := false

	for i, account := range cfg.Accounts {
		if account.ID == "" {
			return fmt.Errorf("accounts[%d].id is required", i)
		}
		if seen[account.ID] {
			return fmt.Errorf("duplicate account id %s", account.ID)
		}
		seen[account.ID] = true

		if account.Server == "" {
			return fmt.Errorf("account %s: server is required", account.ID)
		}
		if account.Port <= 0 || account.Port > 65535 {
			return fmt.Errorf("account %s: port must be between 1 and 65535", account.ID)
		}
		if account.Username == "" {
			return fmt.Errorf("account %s: username is required", account.ID)
		}
		if account.DefaultDaysBack < 0 {
			return fmt.Errorf("account %s: default_days_back must not be negative", account.ID)
		}

		switch account.AuthMethod {
		case "", "password":
			if account.Password == "" {
				return fmt.Errorf("account %s: password is required for password auth", account.ID)
			}
		case "xoauth2":
			needsOAuth = true
			switch account.Provider {
			case "google", "microsoft":
			default:
				return fmt.Errorf("account %s: provider must be 'google' or 'microsoft' for xoauth2", account.ID)
			}
		default:
			return fmt.Errorf("account %s: auth_method must be 'password' or 'xoauth2'", account.ID)
		}
	}

	if needsOAuth {
		if cfg.OAuth2.ClientID == "" || cfg.OAuth2.ClientSecret == "" {
			return fmt.Errorf("oauth2.client_id and oauth2.client_secret are required when an account uses xoauth2")
		}
	}

	return nil
}

func validateSync(cfg *types.Config) error {
	if cfg.Sync.MaxMessages < 0 {
		return fmt.Errorf("sync.max_messages must not be negative")
	}
	if cfg.Sync.DaysBack < 0 {
		return fmt.Errorf("sync.days_back must not be negative")
	}
	if cfg.Sync.MessageDelayMS < 0 {
		return fmt.Errorf("sync.message_delay_ms must not be negative")
	}
	if cfg.Sync.HistoryKeep < 0 {
		return fmt.Errorf("sync.history_keep must not be negative")
	}
	return nil
}

func validateIMAP(cfg *types.Config) error {
	if cfg.IMAP.DialTimeout < 0 {
		return fmt.Errorf("imap.dial_timeout must not be negative")
	}
	if cfg.IMAP.CommandTimeout < 0 {
		return fmt.Errorf("imap.command_timeout must not be negative")
	}

	switch cfg.IMAP.Security.TLS.MinVersion {
	case "", "1.2", "1.3":
	default:
		return fmt.Errorf("imap.security.tls.min_version must be '1.2' or '1.3'")
	}

	return nil
}

func validateResilience(cfg *types.Config) error {
	if cfg.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must not be negative")
	}
	if cfg.Retry.InitialDelay < 0 {
		return fmt.Errorf("retry.initial_delay must not be negative")
	}
	if cfg.Retry.MaxDelay < 0 {
		return fmt.Errorf("retry.max_delay must not be negative")
	}
	if cfg.Retry.InitialDelay > 0 && cfg.Retry.MaxDelay > 0 && cfg.Retry.InitialDelay > cfg.Retry.MaxDelay {
		return fmt.Errorf("retry.initial_delay must not exceed retry.max_delay")
	}

	if cfg.CircuitBreaker.FailureThreshold < 0 {
		return fmt.Errorf("circuit_breaker.failure_threshold must not be negative")
	}
	if cfg.CircuitBreaker.RecoveryTimeout < 0 {
		return fmt.Errorf("circuit_breaker.recovery_timeout must not be negative")
	}

	if cfg.Pool.ConnectionTTL < 0 {
		return fmt.Errorf("pool.connection_ttl must not be negative")
	}

	if cfg.Batch.MaxConcurrentAccounts < 0 {
		return fmt.Errorf("batch.max_concurrent_accounts must not be negative")
	}

	return nil
}

func validateDownloads(cfg *types.Config) error {
	if cfg.Downloads.MaxLinks < 0 {
		return fmt.Errorf("downloads.max_links must not be negative")
	}
	if cfg.Downloads.MaxConcurrent < 0 {
		return fmt.Errorf("downloads.max_concurrent must not be negative")
	}
	if cfg.Downloads.MaxSize < 0 {
		return fmt.Errorf("downloads.max_size must not be negative")
	}
	if cfg.Downloads.Timeout < 0 {
		return fmt.Errorf("downloads.timeout must not be negative")
	}
	if cfg.Downloads.MaxAttempts < 0 {
		return fmt.Errorf("downloads.max_attempts must not be negative")
	}
	return nil
}

func validateStateStore(cfg *types.Config) error {
	switch cfg.StateStore.Type {
	case "", "memory":
	case "sqlite":
		if cfg.StateStore.SQLite.Path == "" {
			return fmt.Errorf("state_store.sqlite.path is required for the sqlite store")
		}
	case "postgres":
		if cfg.StateStore.Postgres.DSN == "" {
			return fmt.Errorf("state_store.postgres.dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("state_store.type must be 'memory', 'sqlite' or 'postgres'")
	}
	return nil
}

func validateDelivery(cfg *types.Config) error {
	archive := cfg.Delivery.Archive
	if !archive.Enabled {
		return nil
	}

	switch archive.Type {
	case "", "file":
		if archive.StoragePath == "" {
			return fmt.Errorf("delivery.archive.storage_path is required for the file archive")
		}
		if !filepath.IsAbs(archive.StoragePath) {
			return fmt.Errorf("delivery.archive.storage_path must be absolute")
		}
	case "gdrive":
		if archive.GDrive.CredentialsFile == "" {
			return fmt.Errorf("delivery.archive.gdrive.credentials_file is required for the gdrive archive")
		}
		if archive.GDrive.FolderID == "" {
			return fmt.Errorf("delivery.archive.gdrive.folder_id is required for the gdrive archive")
		}
	default:
		return fmt.Errorf("delivery.archive.type must be 'file' or 'gdrive'")
	}

	return nil
}

func validateLogging(cfg *types.Config) error {
	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	switch cfg.Logging.Format {
	case "", "text", "json", "pretty":
	default:
		return fmt.Errorf("logging.format must be one of: text, json, pretty")
	}

	switch cfg.Logging.Output {
	case "", "stdout", "file":
	default:
		return fmt.Errorf("logging.output must be one of: stdout, file")
	}

	if cfg.Logging.Output == "file" && cfg.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path is required when output is 'file'")
	}

	return nil
}

func validateScheduling(cfg *types.Config) error {
	if !cfg.Scheduling.Enabled {
		return nil
	}

	validFrequencies := map[string]bool{
		"minute": true,
		"hour":   true,
		"day":    true,
		"week":   true,
		"month":  true,
	}
	if !validFrequencies[cfg.Scheduling.FrequencyEvery] {
		return fmt.Errorf("scheduling.frequency_every must be one of: minute, hour, day, week, month")
	}

	if cfg.Scheduling.FrequencyAmount < 1 {
		return fmt.Errorf("scheduling.frequency_amount must be greater than 0")
	}

	if !cfg.Scheduling.StartNow {
		if cfg.Scheduling.StartAt == "" {
			return fmt.Errorf("scheduling.start_at is required when start_now is false")
		}
		if _, err := time.Parse(time.RFC3339, cfg.Scheduling.StartAt); err != nil {
			return fmt.Errorf("scheduling.start_at must be in RFC3339 format (e.g., 2006-01-02T15:04:05Z)")
		}
	}

	if cfg.Scheduling.StopAt != "" {
		stopAt, err := time.Parse(time.RFC3339, cfg.Scheduling.StopAt)
		if err != nil {
			return fmt.Errorf("scheduling.stop_at must be in RFC3339 format (e.g., 2006-01-02T15:04:05Z)")
		}

		if cfg.Scheduling.StartAt != "" {
			startAt, _ := time.Parse(time.RFC3339, cfg.Scheduling.StartAt)
			if stopAt.Before(startAt) {
				return fmt.Errorf("scheduling.stop_at must be after start_at")
			}
		}

		if cfg.Scheduling.StartNow && stopAt.Before(time.Now().UTC()) {
			return fmt.Errorf("scheduling.stop_at must be in the future when start_now is true")
		}
	}

	switch cfg.Scheduling.FrequencyEvery {
	case "minute":
		if cfg.Scheduling.FrequencyAmount > 60 {
			return fmt.Errorf("scheduling.frequency_amount must not exceed 60 for minute frequency")
		}
	case "hour":
		if cfg.Scheduling.FrequencyAmount > 24 {
			return fmt.Errorf("scheduling.frequency_amount must not exceed 24 for hour frequency")
		}
	case "day":
		if cfg.Scheduling.FrequencyAmount > 31 {
			return fmt.Errorf("scheduling.frequency_amount must not exceed 31 for day frequency")
		}
	case "week":
		if cfg.Scheduling.FrequencyAmount > 52 {
			return fmt.Errorf("scheduling.frequency_amount must not exceed 52 for week frequency")
		}
	case "month":
		if cfg.Scheduling.FrequencyAmount > 12 {
			return fmt.Errorf("scheduling.frequency_amount must not exceed 12 for month frequency")
		}
	}

	return nil
}

func isValidID(id string) bool {
	for _, r := range id {
		if !isValidIDChar(r) {
			return false
		}
	}
	return true
}

func isValidIDChar(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') ||
		r == '-' ||
		r == '_'
}
