package scanner

import (
	"strings"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/email"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/types"
)

// Default keyword sets, applied when the config leaves them empty.
var (
	defaultSubjectKeywords = []string{"invoice", "receipt", "bill", "statement", "payment", "发票"}
	defaultSenderKeywords  = []string{"billing", "invoice", "accounting", "no-reply@pay"}
)

// Matcher classifies fetched messages as invoice-relevant. A message
// matches on subject keywords, sender keywords, or a PDF-named
// attachment. Exclude keywords veto a subject match.
type Matcher struct {
	subjectKeywords []string
	senderKeywords  []string
	excludeKeywords []string
}

func NewMatcher(cfg *types.Config) *Matcher {
	m := &Matcher{
		subjectKeywords: lowerAll(defaultSubjectKeywords),
		senderKeywords:  lowerAll(defaultSenderKeywords),
	}
	if cfg != nil {
		if len(cfg.Sync.SubjectKeywords) > 0 {
			m.subjectKeywords = lowerAll(cfg.Sync.SubjectKeywords)
		}
		if len(cfg.Sync.SenderKeywords) > 0 {
			m.senderKeywords = lowerAll(cfg.Sync.SenderKeywords)
		}
		m.excludeKeywords = lowerAll(cfg.Sync.ExcludeKeywords)
	}
	return m
}

// Relevant reports whether the message should be handed to PDF
// discovery.
func (m *Matcher) Relevant(msg *email.Message) bool {
	subject := strings.ToLower(msg.Subject)
	for _, word := range m.excludeKeywords {
		if strings.Contains(subject, word) {
			return false
		}
	}

	for _, word := range m.subjectKeywords {
		if strings.Contains(subject, word) {
			return true
		}
	}

	sender := strings.ToLower(msg.Sender)
	for _, word := range m.senderKeywords {
		if strings.Contains(sender, word) {
			return true
		}
	}

	for _, att := range msg.Attachments {
		if strings.HasSuffix(strings.ToLower(att.Filename), ".pdf") {
			return true
		}
	}
	return false
}

func lowerAll(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(strings.ToLower(w))
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
