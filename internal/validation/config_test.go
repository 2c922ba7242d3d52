package validation

import (
	"strings"
	"testing"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/models"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/types"
)

func validConfig() *types.Config {
	cfg := &types.Config{}
	cfg.Meta.ID = "profile-1"
	cfg.Meta.Name = "Test profile"
	cfg.Meta.Enabled = true
	cfg.Accounts = []models.MailboxAccount{{
		ID:       "acct-1",
		Server:   "imap.example.com",
		Port:     993,
		Username: "user@example.com",
		Password: "secret",
		TLS:      true,
		Enabled:  true,
	}}
	return cfg
}

func TestValidateConfigAcceptsMinimalProfile(t *testing.T) {
	if err := ValidateConfig(validConfig()); err != nil {
		t.Fatalf("ValidateConfig: %v", err)
	}
}

func TestValidateConfigAcceptsFilledProfile(t *testing.T) {
	cfg := validConfig()
	cfg.Sync.MaxMessages = 100
	cfg.Sync.DaysBack = 60
	cfg.Retry.MaxAttempts = 5
	cfg.Retry.InitialDelay = 500
	cfg.Retry.MaxDelay = 10000
	cfg.CircuitBreaker.FailureThreshold = 4
	cfg.StateStore.Type = "sqlite"
	cfg.StateStore.SQLite.Path = "/var/lib/scanner/state.db"
	cfg.Delivery.Archive.Enabled = true
	cfg.Delivery.Archive.Type = "file"
	cfg.Delivery.Archive.StoragePath = "/var/lib/scanner/archive"
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"
	cfg.Scheduling.Enabled = true
	cfg.Scheduling.FrequencyEvery = "hour"
	cfg.Scheduling.FrequencyAmount = 1
	cfg.Scheduling.StartNow = true

	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("ValidateConfig: %v", err)
	}
}

func TestValidateConfigRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *types.Config)
		want   string
	}{
		{
			name:   "missing meta id",
			mutate: func(cfg *types.Config) { cfg.Meta.ID = "" },
			want:   "meta.id is required",
		},
		{
			name:   "invalid meta id",
			mutate: func(cfg *types.Config) { cfg.Meta.ID = "bad id!" },
			want:   "invalid characters",
		},
		{
			name:   "missing meta name",
			mutate: func(cfg *types.Config) { cfg.Meta.Name = "" },
			want:   "meta.name is required",
		},
		{
			name:   "account without server",
			mutate: func(cfg *types.Config) { cfg.Accounts[0].Server = "" },
			want:   "server is required",
		},
		{
			name:   "account with bad port",
			mutate: func(cfg *types.Config) { cfg.Accounts[0].Port = 99999 },
			want:   "port must be between",
		},
		{
			name: "duplicate account ids",
			mutate: func(cfg *types.Config) {
				cfg.Accounts = append(cfg.Accounts, cfg.Accounts[0])
			},
			want: "duplicate account id",
		},
		{
			name:   "password auth without password",
			mutate: func(cfg *types.Config) { cfg.Accounts[0].Password = "" },
			want:   "password is required",
		},
		{
			name: "xoauth2 without provider",
			mutate: func(cfg *types.Config) {
				cfg.Accounts[0].AuthMethod = "xoauth2"
				cfg.OAuth2.ClientID = "client"
				cfg.OAuth2.ClientSecret = "secret"
			},
			want: "provider must be",
		},
		{
			name: "xoauth2 without client credentials",
			mutate: func(cfg *types.Config) {
				cfg.Accounts[0].AuthMethod = "xoauth2"
				cfg.Accounts[0].Provider = "google"
			},
			want: "oauth2.client_id",
		},
		{
			name:   "unknown auth method",
			mutate: func(cfg *types.Config) { cfg.Accounts[0].AuthMethod = "kerberos" },
			want:   "auth_method must be",
		},
		{
			name:   "negative max messages",
			mutate: func(cfg *types.Config) { cfg.Sync.MaxMessages = -1 },
			want:   "sync.max_messages",
		},
		{
			name: "retry delays inverted",
			mutate: func(cfg *types.Config) {
				cfg.Retry.InitialDelay = 5000
				cfg.Retry.MaxDelay = 1000
			},
			want: "must not exceed retry.max_delay",
		},
		{
			name:   "sqlite store without path",
			mutate: func(cfg *types.Config) { cfg.StateStore.Type = "sqlite" },
			want:   "state_store.sqlite.path",
		},
		{
			name:   "postgres store without dsn",
			mutate: func(cfg *types.Config) { cfg.StateStore.Type = "postgres" },
			want:   "state_store.postgres.dsn",
		},
		{
			name:   "unknown store type",
			mutate: func(cfg *types.Config) { cfg.StateStore.Type = "redis" },
			want:   "state_store.type",
		},
		{
			name: "file archive without path",
			mutate: func(cfg *types.Config) {
				cfg.Delivery.Archive.Enabled = true
				cfg.Delivery.Archive.Type = "file"
			},
			want: "storage_path is required",
		},
		{
			name: "file archive with relative path",
			mutate: func(cfg *types.Config) {
				cfg.Delivery.Archive.Enabled = true
				cfg.Delivery.Archive.StoragePath = "archive"
			},
			want: "must be absolute",
		},
		{
			name: "gdrive archive without credentials",
			mutate: func(cfg *types.Config) {
				cfg.Delivery.Archive.Enabled = true
				cfg.Delivery.Archive.Type = "gdrive"
			},
			want: "credentials_file",
		},
		{
			name:   "unknown logging level",
			mutate: func(cfg *types.Config) { cfg.Logging.Level = "verbose" },
			want:   "logging.level",
		},
		{
			name: "file logging without path",
			mutate: func(cfg *types.Config) {
				cfg.Logging.Output = "file"
			},
			want: "logging.file_path",
		},
		{
			name: "scheduling with unknown frequency",
			mutate: func(cfg *types.Config) {
				cfg.Scheduling.Enabled = true
				cfg.Scheduling.FrequencyEvery = "fortnight"
				cfg.Scheduling.FrequencyAmount = 1
				cfg.Scheduling.StartNow = true
			},
			want: "frequency_every",
		},
		{
			name: "scheduling minute amount too large",
			mutate: func(cfg *types.Config) {
				cfg.Scheduling.Enabled = true
				cfg.Scheduling.FrequencyEvery = "minute"
				cfg.Scheduling.FrequencyAmount = 61
				cfg.Scheduling.StartNow = true
			},
			want: "must not exceed 60",
		},
		{
			name: "scheduling stop before start",
			mutate: func(cfg *types.Config) {
				cfg.Scheduling.Enabled = true
				cfg.Scheduling.FrequencyEvery = "hour"
				cfg.Scheduling.FrequencyAmount = 1
				cfg.Scheduling.StartAt = "2026-03-02T00:00:00Z"
				cfg.Scheduling.StopAt = "2026-03-01T00:00:00Z"
			},
			want: "stop_at must be after",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := ValidateConfig(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}
