package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// ErrorClass tells the retry executor and circuit breaker how to treat
// a failure.
type ErrorClass int

const (
	// ClassTransient covers connection-level failures worth retrying.
	ClassTransient ErrorClass = iota
	// ClassPermanent covers failures that will not succeed on retry,
	// such as rejected credentials or a malformed query.
	ClassPermanent
	// ClassData covers failures scoped to a single message or
	// attachment. They are recorded and skipped, never retried.
	ClassData
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassData:
		return "data"
	default:
		return "unknown"
	}
}

// Classifier maps an error to its class. The executor short-circuits on
// anything that is not transient.
type Classifier func(error) ErrorClass

type classifiedError struct {
	class ErrorClass
	err   error
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ClassPermanent, err: err}
}

// DataError marks err as affecting a single item only.
func DataError(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ClassData, err: err}
}

// Classify is the default classifier. Unknown errors are treated as
// transient because the executor only wraps network boundary calls.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassTransient
	}

	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.class
	}

	if errors.Is(err, context.Canceled) {
		return ClassPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "authentication"),
		strings.Contains(msg, "invalid credentials"),
		strings.Contains(msg, "login failed"),
		strings.Contains(msg, "authorizationfailed"),
		strings.Contains(msg, "bad search"):
		return ClassPermanent
	case strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "temporarily"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many"),
		strings.Contains(msg, "try again"):
		return ClassTransient
	}

	return ClassTransient
}

// ClassifyHTTPStatus classifies a non-success HTTP status for download
// retries. Rate limiting and server errors are worth retrying, other
// client errors are not.
func ClassifyHTTPStatus(status int) ErrorClass {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return ClassTransient
	case status >= 500:
		return ClassTransient
	case status >= 400:
		return ClassPermanent
	default:
		return ClassTransient
	}
}
