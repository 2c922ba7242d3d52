package accounts

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/models"
)

// ErrUnknownAccount is returned when an account id is not in the
// directory.
var ErrUnknownAccount = errors.New("unknown account")

// Directory resolves which mailbox accounts the engine may scan. The
// real account store with encrypted credentials lives outside this
// module, configs are the built-in source.
type Directory interface {
	// Accounts returns the enabled accounts in a stable order.
	Accounts(ctx context.Context) ([]models.MailboxAccount, error)

	// Account returns one account by id, enabled or not.
	Account(ctx context.Context, id string) (models.MailboxAccount, error)
}

// ConfigDirectory serves accounts declared in configuration files. It
// is safe to swap the set on config reload while scans are running.
type ConfigDirectory struct {
	mu       sync.RWMutex
	accounts map[string]models.MailboxAccount
	order    []string
}

var _ Directory = (*ConfigDirectory)(nil)

func NewConfigDirectory(accounts []models.MailboxAccount) *ConfigDirectory {
	d := &ConfigDirectory{}
	d.Replace(accounts)
	return d
}

// Replace swaps the full account set, keeping declaration order.
func (d *ConfigDirectory) Replace(accounts []models.MailboxAccount) {
	byID := make(map[string]models.MailboxAccount, len(accounts))
	order := make([]string, 0, len(accounts))
	for _, a := range accounts {
		if _, dup := byID[a.ID]; dup {
			continue
		}
		byID[a.ID] = a
		order = append(order, a.ID)
	}

	d.mu.Lock()
	d.accounts = byID
	d.order = order
	d.mu.Unlock()
}

func (d *ConfigDirectory) Accounts(ctx context.Context) ([]models.MailboxAccount, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var enabled []models.MailboxAccount
	for _, id := range d.order {
		if a := d.accounts[id]; a.Enabled {
			enabled = append(enabled, a)
		}
	}
	return enabled, nil
}

func (d *ConfigDirectory) Account(ctx context.Context, id string) (models.MailboxAccount, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	a, ok := d.accounts[id]
	if !ok {
		return models.MailboxAccount{}, fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	return a, nil
}
