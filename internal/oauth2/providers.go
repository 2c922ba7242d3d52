package oauth2

import (
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
)

// GoogleConfig returns the OAuth2 config for Gmail IMAP access.
func GoogleConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes: []string{
			"https://mail.google.com/",
		},
		Endpoint: google.Endpoint,
	}
}

// MicrosoftConfig returns the OAuth2 config for Outlook IMAP access.
func MicrosoftConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes: []string{
			"https://outlook.office.com/IMAP.AccessAsUser.All",
			"offline_access",
		},
		Endpoint: microsoft.AzureADEndpoint("common"),
	}
}

// ProviderConfig maps a provider name from account config to its
// OAuth2 endpoints.
func ProviderConfig(provider, clientID, clientSecret, redirectURL string) (*oauth2.Config, error) {
	switch provider {
	case "google":
		return GoogleConfig(clientID, clientSecret, redirectURL), nil
	case "microsoft":
		return MicrosoftConfig(clientID, clientSecret, redirectURL), nil
	default:
		return nil, fmt.Errorf("unsupported oauth2 provider: %s", provider)
	}
}
