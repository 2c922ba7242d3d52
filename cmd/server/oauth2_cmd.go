package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	goauth2 "golang.org/x/oauth2"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/accounts"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/config"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/models"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/oauth2"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/types"
)

const defaultRedirectURL = "http://localhost:8085/oauth/callback"

// newOAuth2Command builds the token provisioning command tree. Tokens
// are provisioned interactively here and only refreshed by the running
// service.
func newOAuth2Command() *cobra.Command {
	oauth2Cmd := &cobra.Command{
		Use:   "oauth2",
		Short: "OAuth2 token management",
		Long:  `Provision and inspect OAuth2 tokens for xoauth2 mailbox accounts.`,
	}

	oauth2Cmd.AddCommand(&cobra.Command{
		Use:   "generate [account-id]",
		Short: "Provision an OAuth2 token for an account",
		Long:  `Runs the browser authorization flow and stores the resulting token.`,
		Args:  cobra.ExactArgs(1),
		RunE:  runOAuth2Generate,
	})
	oauth2Cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored OAuth2 tokens",
		RunE:  runOAuth2List,
	})
	oauth2Cmd.AddCommand(&cobra.Command{
		Use:   "delete [account-id]",
		Short: "Delete the stored OAuth2 token for an account",
		Args:  cobra.ExactArgs(1),
		RunE:  runOAuth2Delete,
	})

	return oauth2Cmd
}

func runOAuth2Generate(cmd *cobra.Command, args []string) error {
	accountID := args[0]

	cfg, account, err := findAccount(accountID)
	if err != nil {
		return err
	}
	if account.AuthMethod != "xoauth2" {
		return fmt.Errorf("account %s does not use xoauth2 authentication", accountID)
	}

	redirectURL := cfg.OAuth2.RedirectURL
	if redirectURL == "" {
		redirectURL = defaultRedirectURL
	}
	providerCfg, err := oauth2.ProviderConfig(account.Provider, cfg.OAuth2.ClientID, cfg.OAuth2.ClientSecret, redirectURL)
	if err != nil {
		return err
	}

	authURL := providerCfg.AuthCodeURL("state", goauth2.AccessTypeOffline, goauth2.ApprovalForce)
	fmt.Printf("Open the following URL in your browser:\n\n%s\n\n", authURL)
	fmt.Println("Waiting for authorization...")

	addr, err := callbackAddr(redirectURL)
	if err != nil {
		return err
	}
	code, err := oauth2.WaitForAuthCode(cmd.Context(), addr, logger)
	if err != nil {
		return fmt.Errorf("failed to get authorization code: %w", err)
	}

	token, err := providerCfg.Exchange(cmd.Context(), code)
	if err != nil {
		return fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	tm, err := oauth2.NewTokenManager(providerCfg, tokenDir(cfg), account.ID, logger)
	if err != nil {
		return err
	}
	if err := tm.SetToken(token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	fmt.Printf("Token saved for account %s, expires %s\n", account.ID, token.Expiry.Format(time.RFC3339))
	return nil
}

func runOAuth2List(cmd *cobra.Command, args []string) error {
	configs, err := loadConfigs()
	if err != nil {
		return err
	}

	dirs := make(map[string]bool)
	for _, cfg := range configs {
		dirs[tokenDir(cfg)] = true
	}

	found := false
	for dir := range dirs {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read token directory %s: %w", dir, err)
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			found = true
			accountID := strings.TrimSuffix(entry.Name(), ".json")

			data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				fmt.Printf("%s: unreadable token: %v\n", accountID, err)
				continue
			}
			var token goauth2.Token
			if err := json.Unmarshal(data, &token); err != nil {
				fmt.Printf("%s: malformed token: %v\n", accountID, err)
				continue
			}
			fmt.Printf("%s\n  expires: %s\n  valid: %v\n", accountID,
				token.Expiry.Format(time.RFC3339), token.Valid())
		}
	}

	if !found {
		fmt.Println("No OAuth2 tokens found")
	}
	return nil
}

func runOAuth2Delete(cmd *cobra.Command, args []string) error {
	accountID := args[0]

	cfg, account, err := findAccount(accountID)
	if err != nil {
		return err
	}

	tokenFile := filepath.Join(tokenDir(cfg), fmt.Sprintf("%s.json", account.ID))
	if _, err := os.Stat(tokenFile); os.IsNotExist(err) {
		fmt.Printf("No OAuth2 token found for account %s\n", account.ID)
		return nil
	}
	if err := os.Remove(tokenFile); err != nil {
		return fmt.Errorf("failed to delete token file: %w", err)
	}

	fmt.Printf("OAuth2 token deleted for account %s\n", account.ID)
	return nil
}

func loadConfigs() ([]*types.Config, error) {
	store := config.NewStore(configDir, logger)
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("failed to load configs: %w", err)
	}
	if configID != "" {
		cfg, err := store.Get(configID)
		if err != nil {
			return nil, err
		}
		return []*types.Config{cfg}, nil
	}
	return store.All(), nil
}

// findAccount locates an account across the loaded profiles.
func findAccount(accountID string) (*types.Config, models.MailboxAccount, error) {
	configs, err := loadConfigs()
	if err != nil {
		return nil, models.MailboxAccount{}, err
	}
	for _, cfg := range configs {
		for _, account := range cfg.Accounts {
			if account.ID == accountID {
				return cfg, account, nil
			}
		}
	}
	return nil, models.MailboxAccount{}, fmt.Errorf("account %s not found in any configuration", accountID)
}

func tokenDir(cfg *types.Config) string {
	if cfg.OAuth2.TokenDir != "" {
		return cfg.OAuth2.TokenDir
	}
	return accounts.DefaultTokenDir
}

// callbackAddr extracts the listen address for the local callback
// server from the configured redirect URL.
func callbackAddr(redirectURL string) (string, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return "", fmt.Errorf("invalid redirect url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("redirect url %s has no host", redirectURL)
	}
	if u.Port() == "" {
		return u.Host + ":80", nil
	}
	return u.Host, nil
}
