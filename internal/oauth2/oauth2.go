package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// TokenManager holds the OAuth2 token for one mailbox account, backed
// by a JSON file under the token directory. Tokens are provisioned out
// of band, the manager only refreshes them.
type TokenManager struct {
	config    *oauth2.Config
	tokenFile string
	logger    *slog.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

// NewTokenManager loads the stored token for accountID if one exists.
func NewTokenManager(config *oauth2.Config, tokenDir, accountID string, logger *slog.Logger) (*TokenManager, error) {
	if err := os.MkdirAll(tokenDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create token directory: %w", err)
	}

	tm := &TokenManager{
		config:    config,
		tokenFile: filepath.Join(tokenDir, fmt.Sprintf("%s.json", accountID)),
		logger:    logger,
	}

	token, err := tm.loadToken()
	if err != nil {
		logger.Warn("failed to load oauth2 token", "file", tm.tokenFile, "error", err)
	} else if token != nil {
		tm.token = token
		logger.Debug("loaded oauth2 token", "expires_at", token.Expiry.Format(time.RFC3339))
	}

	return tm, nil
}

// Token returns a valid token, refreshing it first when expired.
func (tm *TokenManager) Token(ctx context.Context) (*oauth2.Token, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.token != nil && tm.token.Valid() {
		return tm.token, nil
	}

	if tm.token == nil || tm.token.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token on file, provision %s first", tm.tokenFile)
	}

	tm.logger.Debug("refreshing oauth2 token")
	refreshed, err := tm.config.TokenSource(ctx, tm.token).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	tm.token = refreshed
	tm.logger.Debug("oauth2 token refreshed", "expires_at", refreshed.Expiry.Format(time.RFC3339))

	if err := tm.saveToken(refreshed); err != nil {
		// The refreshed token still works for this session.
		tm.logger.Warn("failed to persist refreshed oauth2 token", "error", err)
	}
	return refreshed, nil
}

// AccessToken returns just the bearer string for SASL use.
func (tm *TokenManager) AccessToken(ctx context.Context) (string, error) {
	token, err := tm.Token(ctx)
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// SetToken stores a newly provisioned token.
func (tm *TokenManager) SetToken(token *oauth2.Token) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.token = token
	return tm.saveToken(token)
}

func (tm *TokenManager) loadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(tm.tokenFile)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to decode token file: %w", err)
	}
	return &token, nil
}

func (tm *TokenManager) saveToken(token *oauth2.Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := os.WriteFile(tm.tokenFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}
