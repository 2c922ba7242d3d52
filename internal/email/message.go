package email

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/DusanKasan/parsemail"
	"github.com/jhillyerd/enmime"
)

// Message is one fetched mail, parsed down to what scanning needs.
type Message struct {
	UID         uint32
	MessageID   string
	Subject     string
	Sender      string
	Date        time.Time
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
}

// Attachment is one MIME part carrying a file.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ParseMessage parses a raw RFC822 message. Attachments and embedded
// files are both surfaced, some providers deliver invoices as inline
// parts. Messages with broken MIME structure go through a tolerant
// fallback parser instead of being dropped.
func ParseMessage(uid uint32, raw []byte) (*Message, error) {
	parsed, err := parsemail.Parse(bytes.NewReader(raw))
	if err != nil {
		return parseMessageFallback(uid, raw, err)
	}

	msg := &Message{
		UID:      uid,
		Subject:  parsed.Subject,
		Date:     parsed.Date,
		TextBody: parsed.TextBody,
		HTMLBody: parsed.HTMLBody,
	}

	if len(parsed.From) > 0 && parsed.From[0] != nil {
		msg.Sender = parsed.From[0].Address
	} else if parsed.Sender != nil {
		msg.Sender = parsed.Sender.Address
	}

	msg.MessageID = strings.Trim(parsed.MessageID, "<>")
	if msg.MessageID == "" {
		// Some servers omit Message-ID, hash the content instead so
		// the identifier is stable across fetches.
		sum := md5.Sum(raw)
		msg.MessageID = hex.EncodeToString(sum[:])
	}

	for _, att := range parsed.Attachments {
		data, err := io.ReadAll(att.Data)
		if err != nil {
			continue
		}
		msg.Attachments = append(msg.Attachments, Attachment{
			Filename:    decodeFilename(att.Filename),
			ContentType: att.ContentType,
			Data:        data,
		})
	}
	for _, ef := range parsed.EmbeddedFiles {
		data, err := io.ReadAll(ef.Data)
		if err != nil {
			continue
		}
		msg.Attachments = append(msg.Attachments, Attachment{
			Filename:    decodeFilename(ef.CID),
			ContentType: ef.ContentType,
			Data:        data,
		})
	}

	return msg, nil
}

// parseMessageFallback re-parses with enmime, which tolerates the
// malformed boundaries and invalid media parameters some providers
// emit. parseErr is the strict parser's failure, reported when even the
// fallback cannot make sense of the message.
func parseMessageFallback(uid uint32, raw []byte, parseErr error) (*Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", parseErr)
	}

	msg := &Message{
		UID:      uid,
		Subject:  env.GetHeader("Subject"),
		TextBody: env.Text,
		HTMLBody: env.HTML,
	}
	if date, err := mail.ParseDate(env.GetHeader("Date")); err == nil {
		msg.Date = date
	}
	if addrs, err := env.AddressList("From"); err == nil && len(addrs) > 0 {
		msg.Sender = addrs[0].Address
	}

	msg.MessageID = strings.Trim(env.GetHeader("Message-Id"), "<>")
	if msg.MessageID == "" {
		sum := md5.Sum(raw)
		msg.MessageID = hex.EncodeToString(sum[:])
	}

	parts := append(append([]*enmime.Part{}, env.Attachments...), env.Inlines...)
	parts = append(parts, env.OtherParts...)
	for _, part := range parts {
		if len(part.Content) == 0 {
			continue
		}
		msg.Attachments = append(msg.Attachments, Attachment{
			Filename:    decodeFilename(part.FileName),
			ContentType: part.ContentType,
			Data:        part.Content,
		})
	}

	return msg, nil
}

// decodeFilename resolves RFC 2047 encoded-word syntax in filenames.
func decodeFilename(filename string) string {
	decoder := mime.WordDecoder{}
	decoded, err := decoder.DecodeHeader(filename)
	if err != nil {
		return filename
	}
	return decoded
}
