package email

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/models"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/resilience"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testExecutor() *resilience.Executor {
	return &resilience.Executor{
		Sleep: func(context.Context, time.Duration) error { return nil },
	}
}

type fakeMailbox struct {
	mu        sync.Mutex
	noopErr   error
	loggedOut bool
}

func (f *fakeMailbox) SearchUIDs(*imap.SearchCriteria) ([]uint32, error) { return nil, nil }
func (f *fakeMailbox) FetchMessage(uint32) (*Message, error)             { return nil, nil }

func (f *fakeMailbox) Noop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.noopErr
}

func (f *fakeMailbox) Logout() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = true
	return nil
}

func (f *fakeMailbox) wasLoggedOut() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loggedOut
}

type fakeDialer struct {
	mu    sync.Mutex
	calls int
	errs  []error // consumed per call, nil entry means success
	conns []*fakeMailbox
	delay time.Duration
}

func (d *fakeDialer) dial(_ context.Context, _ models.MailboxAccount) (Mailbox, error) {
	d.mu.Lock()
	call := d.calls
	d.calls++
	d.mu.Unlock()

	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if call < len(d.errs) && d.errs[call] != nil {
		return nil, d.errs[call]
	}

	conn := &fakeMailbox{}
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func newTestPool(d *fakeDialer, clock func() time.Time) *ConnectionPool {
	p := NewConnectionPool(nil, PasswordAuthenticator{}, testExecutor(), testLogger())
	p.SetDialer(d.dial)
	if clock != nil {
		p.Now = clock
	}
	return p
}

func acct(id string) models.MailboxAccount {
	return models.MailboxAccount{ID: id, Server: "mail.example.com", Port: 993, TLS: true}
}

func TestPoolReusesFreshConnection(t *testing.T) {
	d := &fakeDialer{}
	p := newTestPool(d, nil)

	first, err := p.Get(context.Background(), acct("a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := p.Get(context.Background(), acct("a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Errorf("expected the pooled session to be reused")
	}
	if d.dialCount() != 1 {
		t.Errorf("expected 1 dial, got %d", d.dialCount())
	}
}

func TestPoolRecyclesExpiredConnection(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	d := &fakeDialer{}
	p := newTestPool(d, func() time.Time { return now })

	first, err := p.Get(context.Background(), acct("a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now = now.Add(DefaultConnectionTTL + time.Minute)
	second, err := p.Get(context.Background(), acct("a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == second {
		t.Errorf("expected a fresh session after expiry")
	}
	if !first.(*fakeMailbox).wasLoggedOut() {
		t.Errorf("expired session must be closed before replacement")
	}
	if d.dialCount() != 2 {
		t.Errorf("expected 2 dials, got %d", d.dialCount())
	}
}

func TestPoolRecyclesDeadConnection(t *testing.T) {
	d := &fakeDialer{}
	p := newTestPool(d, nil)

	first, err := p.Get(context.Background(), acct("a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first.(*fakeMailbox).noopErr = errors.New("connection reset by peer")

	second, err := p.Get(context.Background(), acct("a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == second {
		t.Errorf("expected a fresh session after failed health check")
	}
}

func TestPoolRetriesLogin(t *testing.T) {
	d := &fakeDialer{errs: []error{errors.New("i/o timeout"), nil}}
	p := newTestPool(d, nil)

	if _, err := p.Get(context.Background(), acct("a")); err != nil {
		t.Fatalf("expected login retry to succeed, got %v", err)
	}
	if d.dialCount() != 2 {
		t.Errorf("expected 2 dial attempts, got %d", d.dialCount())
	}
}

func TestPoolLoginFailureSurfaces(t *testing.T) {
	cause := resilience.Permanent(errors.New("authentication failed"))
	d := &fakeDialer{errs: []error{cause}}
	p := newTestPool(d, nil)

	_, err := p.Get(context.Background(), acct("a"))
	if !errors.Is(err, cause) {
		t.Fatalf("expected login failure to surface, got %v", err)
	}
	if d.dialCount() != 1 {
		t.Errorf("permanent failure must not be retried, got %d dials", d.dialCount())
	}
}

func TestPoolSerializesSameAccount(t *testing.T) {
	d := &fakeDialer{delay: 20 * time.Millisecond}
	p := newTestPool(d, nil)

	var wg sync.WaitGroup
	conns := make([]Mailbox, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := p.Get(context.Background(), acct("a"))
			if err != nil {
				t.Errorf("get %d: %v", i, err)
				return
			}
			conns[i] = c
		}(i)
	}
	wg.Wait()

	if d.dialCount() != 1 {
		t.Errorf("concurrent callers for one account must share one dial, got %d", d.dialCount())
	}
	for i := 1; i < len(conns); i++ {
		if conns[i] != conns[0] {
			t.Errorf("caller %d received a different session", i)
		}
	}
}

func TestPoolInvalidateForcesRedial(t *testing.T) {
	d := &fakeDialer{}
	p := newTestPool(d, nil)

	first, _ := p.Get(context.Background(), acct("a"))
	p.Invalidate("a")

	if !first.(*fakeMailbox).wasLoggedOut() {
		t.Errorf("invalidated session must be logged out")
	}
	second, err := p.Get(context.Background(), acct("a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == second {
		t.Errorf("expected a fresh session after invalidation")
	}
}

func TestPoolDrainClosesEverything(t *testing.T) {
	d := &fakeDialer{}
	p := newTestPool(d, nil)

	a, _ := p.Get(context.Background(), acct("a"))
	b, _ := p.Get(context.Background(), acct("b"))
	p.Drain()

	if !a.(*fakeMailbox).wasLoggedOut() || !b.(*fakeMailbox).wasLoggedOut() {
		t.Errorf("drain must close every pooled session")
	}
	if _, err := p.Get(context.Background(), acct("a")); err != nil {
		t.Fatalf("pool must stay usable after drain: %v", err)
	}
	if d.dialCount() != 3 {
		t.Errorf("expected re-dial after drain, got %d dials", d.dialCount())
	}
}
