package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

// ErrStreamAborted means the response headers arrived but the body did not
// finish. The request may or may not have taken effect upstream.
var ErrStreamAborted = errors.New("response stream aborted")

// StatusError is a non-2xx response.
type StatusError struct {
	Code       int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned %d", e.Code)
	}
	return fmt.Sprintf("upstream returned %d: %s", e.Code, e.Body)
}

func statusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// IsAuthError reports 401/403 responses.
func IsAuthError(err error) bool {
	code := statusCode(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

func IsServerError(err error) bool {
	return statusCode(err) >= 500
}

func IsRateLimited(err error) bool {
	return statusCode(err) == http.StatusTooManyRequests
}

// IsNetworkError reports transport failures worth retrying through another proxy:
// timeouts, resets, refusals, DNS failures and truncated reads.
func IsNetworkError(err error) bool {
	if err == nil || errors.Is(err, ErrStreamAborted) || errors.Is(err, context.Canceled) {
		return false
	}
	if statusCode(err) != 0 {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
