package publish

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel errors for remote publishing.
var (
	// ErrAuthExpired means the remote session is no longer valid. It is
	// retried once, after re-authenticating.
	ErrAuthExpired = errors.New("session expired")

	// ErrThrottled means the remote asked us to slow down.
	ErrThrottled = errors.New("rate limited")

	// ErrRejected is a permanent remote rejection.
	ErrRejected = errors.New("rejected by remote")

	// ErrNoImages is returned when there is nothing to publish.
	ErrNoImages = errors.New("no images to publish")

	// ErrTooManyImages is returned when an album or story set exceeds the
	// platform limit.
	ErrTooManyImages = errors.New("too many images")
)

// PublishError wraps a failed remote call.
type PublishError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.Op, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

func publishErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PublishError
	if errors.As(err, &pe) {
		return err
	}
	return &PublishError{Op: op, Err: err, Retryable: ClassifyError(err) != ErrCategoryFatal}
}

// ErrorCategory classifies publish errors for retry decisions.
type ErrorCategory int

const (
	ErrCategoryFatal       ErrorCategory = iota // rejected, canceled, unknown
	ErrCategoryRetryable                        // transient network failure
	ErrCategoryThrottled                        // 429, 503
	ErrCategoryAuthExpired                      // session needs a new login
)

func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryRetryable:
		return "retryable"
	case ErrCategoryThrottled:
		return "throttled"
	case ErrCategoryAuthExpired:
		return "auth_expired"
	default:
		return "fatal"
	}
}

// ClassifyError determines how a publish error should be handled.
func ClassifyError(err error) ErrorCategory {
	if err == nil || errors.Is(err, context.Canceled) {
		return ErrCategoryFatal
	}
	switch {
	case errors.Is(err, ErrAuthExpired):
		return ErrCategoryAuthExpired
	case errors.Is(err, ErrThrottled):
		return ErrCategoryThrottled
	case errors.Is(err, ErrRejected), errors.Is(err, ErrNoImages), errors.Is(err, ErrTooManyImages):
		return ErrCategoryFatal
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrCategoryRetryable
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{"login_required", "login required", "unauthorized", "session expired"} {
		if strings.Contains(msg, p) {
			return ErrCategoryAuthExpired
		}
	}
	for _, p := range []string{"too many requests", "rate limit", "throttl", "please wait a few minutes"} {
		if strings.Contains(msg, p) {
			return ErrCategoryThrottled
		}
	}
	for _, p := range []string{"connection reset", "connection refused", "broken pipe", "timeout", "eof", "no such host"} {
		if strings.Contains(msg, p) {
			return ErrCategoryRetryable
		}
	}
	return ErrCategoryFatal
}

// IsAuthExpired reports whether err classifies as an expired session.
func IsAuthExpired(err error) bool {
	return ClassifyError(err) == ErrCategoryAuthExpired
}
