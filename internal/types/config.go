package types

import "github.com/vmxmy/invoice-assistant-v2-sub001/internal/models"

// Config represents one scan profile configuration
type Config struct {
	// Meta information for the configuration
	Meta struct {
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		Description string `yaml:"description,omitempty"`
		Enabled     bool   `yaml:"enabled"`
		Template    string `yaml:"template,omitempty"` // Name of the template to use
	} `yaml:"meta"`

	Sync struct {
		MaxMessages     int      `yaml:"max_messages"`
		DaysBack        int      `yaml:"days_back"`
		MessageDelayMS  int      `yaml:"message_delay_ms"`
		HistoryKeep     int      `yaml:"history_keep"`
		SubjectKeywords []string `yaml:"subject_keywords"`
		SenderKeywords  []string `yaml:"sender_keywords"`
		ExcludeKeywords []string `yaml:"exclude_keywords"`
	} `yaml:"sync"`

	IMAP struct {
		DialTimeout    int    `yaml:"dial_timeout"`    // seconds
		CommandTimeout int    `yaml:"command_timeout"` // seconds
		DefaultFolder  string `yaml:"default_folder"`
		Security       struct {
			TLS struct {
				Enabled    bool   `yaml:"enabled"`
				MinVersion string `yaml:"min_version"`
				VerifyCert bool   `yaml:"verify_cert"`
			} `yaml:"tls"`
		} `yaml:"security"`
	} `yaml:"imap"`

	Retry struct {
		MaxAttempts   int `yaml:"max_attempts"`
		InitialDelay  int `yaml:"initial_delay"` // milliseconds
		MaxDelay      int `yaml:"max_delay"`     // milliseconds
		QuickAttempts int `yaml:"quick_attempts"`
		QuickMaxDelay int `yaml:"quick_max_delay"` // milliseconds
	} `yaml:"retry"`

	CircuitBreaker struct {
		FailureThreshold int `yaml:"failure_threshold"`
		RecoveryTimeout  int `yaml:"recovery_timeout"` // seconds
	} `yaml:"circuit_breaker"`

	Pool struct {
		ConnectionTTL int `yaml:"connection_ttl"` // seconds
	} `yaml:"pool"`

	Downloads struct {
		MaxLinks      int   `yaml:"max_links"`
		MaxConcurrent int   `yaml:"max_concurrent"`
		MaxSize       int64 `yaml:"max_size"` // bytes
		Timeout       int   `yaml:"timeout"`  // seconds
		MaxAttempts   int   `yaml:"max_attempts"`
	} `yaml:"downloads"`

	Batch struct {
		MaxConcurrentAccounts int `yaml:"max_concurrent_accounts"`
	} `yaml:"batch"`

	StateStore struct {
		Type   string `yaml:"type"` // "sqlite", "postgres" or "memory"
		SQLite struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
		Postgres struct {
			DSN string `yaml:"dsn"`
		} `yaml:"postgres"`
	} `yaml:"state_store"`

	Delivery struct {
		Archive struct {
			Enabled           bool   `yaml:"enabled"`
			Type              string `yaml:"type"` // "file" or "gdrive"
			StoragePath       string `yaml:"storage_path"`
			SanitizeFilenames bool   `yaml:"sanitize_filenames"`
			GDrive            struct {
				CredentialsFile string `yaml:"credentials_file"`
				FolderID        string `yaml:"folder_id"`
			} `yaml:"gdrive"`
		} `yaml:"archive"`
	} `yaml:"delivery"`

	OAuth2 struct {
		TokenDir     string `yaml:"token_dir"`
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		RedirectURL  string `yaml:"redirect_url"`
	} `yaml:"oauth2"`

	Accounts []models.MailboxAccount `yaml:"accounts"`

	Logging struct {
		Level           string `yaml:"level"`
		Format          string `yaml:"format"`
		Output          string `yaml:"output"`
		FilePath        string `yaml:"file_path"`
		IncludeCaller   bool   `yaml:"include_caller"`
		RedactSensitive bool   `yaml:"redact_sensitive"`
	} `yaml:"logging"`

	Scheduling struct {
		Enabled         bool   `yaml:"enabled"`
		FrequencyEvery  string `yaml:"frequency_every"` // minute, hour, day, week, month
		FrequencyAmount int    `yaml:"frequency_amount"`
		StartNow        bool   `yaml:"start_now"`
		StartAt         string `yaml:"start_at"` // UTC DateTime
		StopAt          string `yaml:"stop_at"`  // UTC DateTime
	} `yaml:"scheduling"`
}
