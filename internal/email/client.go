package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/models"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/resilience"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/types"
)

const (
	defaultDialTimeout    = 30 * time.Second
	defaultCommandTimeout = 30 * time.Second
	defaultFolder         = "INBOX"
)

// Mailbox is the narrow connection surface the scanner and the pool
// consume. It is satisfied by Client and faked in tests.
type Mailbox interface {
	SearchUIDs(criteria *imap.SearchCriteria) ([]uint32, error)
	FetchMessage(uid uint32) (*Message, error)
	Noop() error
	Logout() error
}

// Authenticator logs a dialed connection in. Implementations resolve
// the account credential at call time so a decrypted secret never
// outlives one connection attempt.
type Authenticator interface {
	Login(ctx context.Context, conn *client.Client, account models.MailboxAccount) error
}

// Client is one live IMAP session for a single account.
type Client struct {
	account models.MailboxAccount
	logger  *slog.Logger
	conn    *client.Client
}

var _ Mailbox = (*Client)(nil)

// Dial connects, authenticates and selects the account's folder. The
// caller owns the returned session and must Logout when done with it.
func Dial(ctx context.Context, account models.MailboxAccount, cfg *types.Config, auth Authenticator, logger *slog.Logger) (*Client, error) {
	dialTimeout := defaultDialTimeout
	cmdTimeout := defaultCommandTimeout
	verifyCert := true
	if cfg != nil {
		if cfg.IMAP.DialTimeout > 0 {
			dialTimeout = time.Duration(cfg.IMAP.DialTimeout) * time.Second
		}
		if cfg.IMAP.CommandTimeout > 0 {
			cmdTimeout = time.Duration(cfg.IMAP.CommandTimeout) * time.Second
		}
		// The TLS section only relaxes verification when explicitly
		// enabled, an absent section keeps it on.
		if cfg.IMAP.Security.TLS.Enabled {
			verifyCert = cfg.IMAP.Security.TLS.VerifyCert
		}
	}

	logger.Info("connecting to mail server",
		"account_id", account.ID,
		"server", account.Server,
		"port", account.Port,
		"tls", account.TLS,
	)

	dialer := &net.Dialer{Timeout: dialTimeout}
	tlsConfig := &tls.Config{
		ServerName:         account.Server,
		MinVersion:         tlsMinVersion(cfg),
		InsecureSkipVerify: !verifyCert,
	}

	var conn *client.Client
	var err error

	// Port 143 always starts plain and upgrades with STARTTLS when TLS
	// is requested. Any other port with TLS dials an implicit TLS
	// session directly.
	if account.Port == 143 {
		conn, err = client.DialWithDialer(dialer, account.Addr())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mail server: %w", err)
		}
		if account.TLS {
			if err := conn.StartTLS(tlsConfig); err != nil {
				_ = conn.Logout()
				return nil, fmt.Errorf("STARTTLS failed: %w", err)
			}
		}
	} else if account.TLS {
		conn, err = client.DialWithDialerTLS(dialer, account.Addr(), tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mail server: %w", err)
		}
	} else {
		conn, err = client.DialWithDialer(dialer, account.Addr())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mail server: %w", err)
		}
	}

	conn.Timeout = cmdTimeout

	// The wrap text stays neutral so the classifier judges the cause:
	// a server rejection reads as permanent, a dropped connection as
	// transient and worth a retry.
	if err := auth.Login(ctx, conn, account); err != nil {
		_ = conn.Logout()
		return nil, fmt.Errorf("login for %s: %w", account.ID, err)
	}

	folder := account.Folder
	if folder == "" && cfg != nil {
		folder = cfg.IMAP.DefaultFolder
	}
	if folder == "" {
		folder = defaultFolder
	}
	if _, err := conn.Select(folder, false); err != nil {
		_ = conn.Logout()
		return nil, fmt.Errorf("failed to select %s: %w", folder, err)
	}

	logger.Debug("mailbox session ready", "account_id", account.ID, "folder", folder)

	return &Client{account: account, logger: logger, conn: conn}, nil
}

// SearchUIDs runs a UID search and returns matching identifiers in
// server order.
func (c *Client) SearchUIDs(criteria *imap.SearchCriteria) ([]uint32, error) {
	uids, err := c.conn.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("uid search failed: %w", err)
	}
	return uids, nil
}

// FetchMessage retrieves and parses one full message by UID. The body
// is fetched with peek so scanning never flips the seen flag.
func (c *Client) FetchMessage(uid uint32) (*Message, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.conn.UidFetch(seqSet, items, messages)
	}()

	fetched := <-messages
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch message %d: %w", uid, err)
	}
	if fetched == nil {
		return nil, resilience.DataError(fmt.Errorf("message %d not returned by server", uid))
	}

	body := fetched.GetBody(section)
	if body == nil {
		return nil, resilience.DataError(fmt.Errorf("message %d has no body section", uid))
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read message %d body: %w", uid, err)
	}

	msg, err := ParseMessage(uid, raw)
	if err != nil {
		return nil, resilience.DataError(fmt.Errorf("failed to parse message %d: %w", uid, err))
	}
	if msg.Subject == "" && fetched.Envelope != nil {
		msg.Subject = fetched.Envelope.Subject
	}
	return msg, nil
}

// Noop pings the server so the pool can verify a connection is still
// alive before reusing it.
func (c *Client) Noop() error {
	return c.conn.Noop()
}

// Logout terminates the session.
func (c *Client) Logout() error {
	return c.conn.Logout()
}

func tlsMinVersion(cfg *types.Config) uint16 {
	if cfg == nil {
		return tls.VersionTLS12
	}
	switch cfg.IMAP.Security.TLS.MinVersion {
	case "1.0":
		return tls.VersionTLS10
	case "1.1":
		return tls.VersionTLS11
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}

// PasswordAuthenticator logs in with the account's static credential.
// It is the default when no credential resolver is injected.
type PasswordAuthenticator struct{}

// Login implements Authenticator.
func (PasswordAuthenticator) Login(_ context.Context, conn *client.Client, account models.MailboxAccount) error {
	return conn.Login(account.Username, account.Password)
}
