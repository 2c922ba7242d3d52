package scanner

import (
	"testing"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/email"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/types"
)

func TestMatcherDefaultKeywords(t *testing.T) {
	m := NewMatcher(nil)

	tests := []struct {
		name string
		msg  *email.Message
		want bool
	}{
		{
			name: "subject keyword",
			msg:  &email.Message{Subject: "Your invoice for March", Sender: "shop@example.com"},
			want: true,
		},
		{
			name: "subject keyword uppercase",
			msg:  &email.Message{Subject: "INVOICE #42", Sender: "shop@example.com"},
			want: true,
		},
		{
			name: "receipt subject",
			msg:  &email.Message{Subject: "Receipt for order 9913", Sender: "shop@example.com"},
			want: true,
		},
		{
			name: "cjk subject keyword",
			msg:  &email.Message{Subject: "您的发票已开具", Sender: "shop@example.com"},
			want: true,
		},
		{
			name: "sender keyword",
			msg:  &email.Message{Subject: "Order shipped", Sender: "billing@acme.example"},
			want: true,
		},
		{
			name: "plain message",
			msg:  &email.Message{Subject: "Lunch on friday?", Sender: "colleague@example.com"},
			want: false,
		},
		{
			name: "pdf attachment alone",
			msg: &email.Message{
				Subject: "Documents",
				Sender:  "someone@example.com",
				Attachments: []email.Attachment{
					{Filename: "scan-0042.PDF", ContentType: "application/octet-stream"},
				},
			},
			want: true,
		},
		{
			name: "non pdf attachment",
			msg: &email.Message{
				Subject: "Documents",
				Sender:  "someone@example.com",
				Attachments: []email.Attachment{
					{Filename: "report.docx", ContentType: "application/msword"},
				},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Relevant(tt.msg); got != tt.want {
				t.Errorf("Relevant() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatcherConfigOverrides(t *testing.T) {
	cfg := &types.Config{}
	cfg.Sync.SubjectKeywords = []string{"rechnung"}
	cfg.Sync.SenderKeywords = []string{"buchhaltung"}
	m := NewMatcher(cfg)

	if m.Relevant(&email.Message{Subject: "Your invoice", Sender: "shop@example.com"}) {
		t.Error("default subject keyword should be replaced by config")
	}
	if !m.Relevant(&email.Message{Subject: "Rechnung 2026-03", Sender: "shop@example.com"}) {
		t.Error("configured subject keyword should match")
	}
	if !m.Relevant(&email.Message{Subject: "Unterlagen", Sender: "buchhaltung@firma.example"}) {
		t.Error("configured sender keyword should match")
	}
}

func TestMatcherExcludeVetoesSubjectMatch(t *testing.T) {
	cfg := &types.Config{}
	cfg.Sync.ExcludeKeywords = []string{"newsletter"}
	m := NewMatcher(cfg)

	msg := &email.Message{Subject: "Invoice tips newsletter", Sender: "billing@acme.example"}
	if m.Relevant(msg) {
		t.Error("excluded subject should not be relevant even with matching keywords")
	}

	// The veto is scoped to the subject, a PDF attachment on a clean
	// subject still counts.
	msg = &email.Message{
		Subject:     "Invoice 77",
		Sender:      "billing@acme.example",
		Attachments: []email.Attachment{{Filename: "invoice-77.pdf"}},
	}
	if !m.Relevant(msg) {
		t.Error("clean subject should stay relevant")
	}
}
