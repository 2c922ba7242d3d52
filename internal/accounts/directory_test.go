package accounts

import (
	"context"
	"errors"
	"testing"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/models"
)

func TestConfigDirectoryFiltersDisabled(t *testing.T) {
	d := NewConfigDirectory([]models.MailboxAccount{
		{ID: "a", Enabled: true},
		{ID: "b", Enabled: false},
		{ID: "c", Enabled: true},
	})

	enabled, err := d.Accounts(context.Background())
	if err != nil {
		t.Fatalf("Accounts: %v", err)
	}
	if len(enabled) != 2 || enabled[0].ID != "a" || enabled[1].ID != "c" {
		t.Errorf("enabled accounts = %+v, want a and c in order", enabled)
	}

	// A disabled account is still resolvable by id.
	b, err := d.Account(context.Background(), "b")
	if err != nil {
		t.Fatalf("Account(b): %v", err)
	}
	if b.Enabled {
		t.Error("account b should be disabled")
	}
}

func TestConfigDirectoryUnknownAccount(t *testing.T) {
	d := NewConfigDirectory(nil)

	_, err := d.Account(context.Background(), "ghost")
	if !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("expected ErrUnknownAccount, got %v", err)
	}
}

func TestConfigDirectoryReplace(t *testing.T) {
	d := NewConfigDirectory([]models.MailboxAccount{{ID: "old", Enabled: true}})

	d.Replace([]models.MailboxAccount{{ID: "new", Enabled: true}})

	if _, err := d.Account(context.Background(), "old"); !errors.Is(err, ErrUnknownAccount) {
		t.Error("old account should be gone after Replace")
	}
	if _, err := d.Account(context.Background(), "new"); err != nil {
		t.Errorf("new account missing after Replace: %v", err)
	}
}

func TestConfigDirectoryDropsDuplicateIDs(t *testing.T) {
	d := NewConfigDirectory([]models.MailboxAccount{
		{ID: "a", Server: "first.example.com", Enabled: true},
		{ID: "a", Server: "second.example.com", Enabled: true},
	})

	a, err := d.Account(context.Background(), "a")
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if a.Server != "first.example.com" {
		t.Errorf("duplicate id should keep first declaration, got %s", a.Server)
	}
}
