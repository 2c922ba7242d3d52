package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial tcp: i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ClassTransient},
		{"deadline exceeded", context.DeadlineExceeded, ClassTransient},
		{"canceled", context.Canceled, ClassPermanent},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, ClassTransient},
		{"connection refused", syscall.ECONNREFUSED, ClassTransient},
		{"connection reset wrapped", fmt.Errorf("fetch: %w", syscall.ECONNRESET), ClassTransient},
		{"auth failure text", errors.New("LOGIN: authentication failed"), ClassPermanent},
		{"bad credentials text", errors.New("invalid credentials (Failure)"), ClassPermanent},
		{"rate limit text", errors.New("too many connections"), ClassTransient},
		{"unknown defaults transient", errors.New("something odd"), ClassTransient},
		{"permanent marker", Permanent(errors.New("unsupported server")), ClassPermanent},
		{"data marker", DataError(errors.New("bad mime part")), ClassData},
		{"wrapped permanent marker", fmt.Errorf("scan: %w", Permanent(errors.New("nope"))), ClassPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{429, ClassTransient},
		{408, ClassTransient},
		{500, ClassTransient},
		{503, ClassTransient},
		{404, ClassPermanent},
		{403, ClassPermanent},
	}
	for _, tt := range tests {
		if got := ClassifyHTTPStatus(tt.status); got != tt.want {
			t.Errorf("ClassifyHTTPStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestMarkerPreservesMessage(t *testing.T) {
	cause := errors.New("boom")
	marked := Permanent(cause)
	if marked.Error() != "boom" {
		t.Errorf("expected message preserved, got %q", marked.Error())
	}
	if !errors.Is(marked, cause) {
		t.Errorf("expected errors.Is to see through the marker")
	}
	if Permanent(nil) != nil {
		t.Errorf("Permanent(nil) must be nil")
	}
}

func TestExecutorUsesInjectedClassifier(t *testing.T) {
	e := &Executor{
		MaxAttempts: 3,
		Sleep:       noSleep(nil),
		Classify:    func(error) ErrorClass { return ClassPermanent },
		logger:      discardLogger(),
	}
	calls := 0
	_ = e.Do(context.Background(), "op", func() error {
		calls++
		return errors.New("would normally retry: timeout")
	})
	if calls != 1 {
		t.Errorf("injected classifier must short-circuit, got %d calls", calls)
	}
}
