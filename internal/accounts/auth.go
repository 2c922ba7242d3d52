package accounts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emersion/go-imap/client"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/models"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/oauth2"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/resilience"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/types"
)

// DefaultTokenDir is where provisioned OAuth2 tokens live when the
// profile does not configure a directory.
const DefaultTokenDir = "tokens"

// Authenticator logs connections in with the mechanism each account
// declares: plain LOGIN or XOAUTH2 with a managed token.
type Authenticator struct {
	cfg    *types.Config
	logger *slog.Logger

	mu     sync.Mutex
	tokens map[string]*oauth2.TokenManager
}

func NewAuthenticator(cfg *types.Config, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		cfg:    cfg,
		logger: logger,
		tokens: make(map[string]*oauth2.TokenManager),
	}
}

// Login implements the connection authenticator contract used by the
// mailbox dialer.
func (a *Authenticator) Login(ctx context.Context, conn *client.Client, account models.MailboxAccount) error {
	switch account.AuthMethod {
	case "", "password":
		return conn.Login(account.Username, account.Password)

	case "xoauth2":
		tm, err := a.tokenManager(account)
		if err != nil {
			return resilience.Permanent(err)
		}
		token, err := tm.AccessToken(ctx)
		if err != nil {
			return fmt.Errorf("xoauth2 token for %s: %w", account.ID, err)
		}
		return conn.Authenticate(oauth2.NewXOAUTH2Client(account.Username, token))

	default:
		return resilience.Permanent(fmt.Errorf("unsupported auth method %q for %s", account.AuthMethod, account.ID))
	}
}

// tokenManager lazily builds one token manager per account.
func (a *Authenticator) tokenManager(account models.MailboxAccount) (*oauth2.TokenManager, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if tm, ok := a.tokens[account.ID]; ok {
		return tm, nil
	}

	providerCfg, err := oauth2.ProviderConfig(
		account.Provider,
		a.cfg.OAuth2.ClientID,
		a.cfg.OAuth2.ClientSecret,
		a.cfg.OAuth2.RedirectURL,
	)
	if err != nil {
		return nil, err
	}

	tokenDir := a.cfg.OAuth2.TokenDir
	if tokenDir == "" {
		tokenDir = DefaultTokenDir
	}

	tm, err := oauth2.NewTokenManager(providerCfg, tokenDir, account.ID, a.logger)
	if err != nil {
		return nil, fmt.Errorf("token manager for %s: %w", account.ID, err)
	}
	a.tokens[account.ID] = tm
	return tm, nil
}
