package upstream

import (
	"context"
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pysugar/chat-automator/internal/logging"
	"github.com/pysugar/chat-automator/internal/util"
)

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RequestFunc performs exactly one upstream call with the given token.
type RequestFunc func(ctx context.Context, token string) (*Response, error)

// TokenRotator is the token view a request runs under. token.Binding implements it.
type TokenRotator interface {
	Token() string
	Len() int
	Advance() (string, bool)
}

// StaticToken pins a request to one token; auth failures are never rotated.
type StaticToken string

func (t StaticToken) Token() string           { return string(t) }
func (t StaticToken) Len() int                { return 1 }
func (t StaticToken) Advance() (string, bool) { return "", false }

// ProxyRotator is advanced after each transient failure.
type ProxyRotator interface {
	Advance() string
}

// Executor runs a RequestFunc with token rotation on auth failures and
// exponential backoff with proxy rotation on transient failures.
type Executor struct {
	proxies ProxyRotator

	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64

	sleep func(ctx context.Context, d time.Duration) error
}

func NewExecutor(proxies ProxyRotator, maxRetries int, baseDelay time.Duration, multiplier float64) *Executor {
	return &Executor{
		proxies:    proxies,
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		Multiplier: multiplier,
		sleep:      util.Sleep,
	}
}

type retryState struct {
	attempts  int
	rotations int
	lastErr   error
}

// Execute retries fn until it succeeds or the error is not recoverable.
// Each call has its own retry budget.
func (e *Executor) Execute(ctx context.Context, label string, tokens TokenRotator, fn RequestFunc) (*Response, error) {
	var st retryState
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := fn(ctx, tokens.Token())
		if err == nil {
			return resp, nil
		}
		st.lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		switch {
		case errors.Is(err, ErrStreamAborted):
			return nil, err

		case IsAuthError(err) && tokens.Len() > 1 && st.rotations < tokens.Len():
			next, ok := tokens.Advance()
			if !ok {
				return nil, err
			}
			st.rotations++
			st.attempts = 0
			log.Printf("%s🔄 %s: auth failed (%d), switching to token %s", logging.Prefix(ctx), label, statusCode(err), util.MaskToken(next))

		case (IsNetworkError(err) || IsServerError(err)) && st.attempts < e.MaxRetries:
			delay := e.backoff(st.attempts)
			var se *StatusError
			if errors.As(err, &se) && se.RetryAfter > delay {
				delay = se.RetryAfter
			}
			st.attempts++
			proxy := ""
			if e.proxies != nil {
				proxy = e.proxies.Advance()
			}
			log.Printf("%s⚠️ %s failed (attempt %d/%d): %v; retrying in %s%s",
				logging.Prefix(ctx), label, st.attempts, e.MaxRetries, util.TruncateLog(err.Error(), 200), delay.Round(time.Millisecond), proxyNote(proxy))
			if err := e.sleep(ctx, delay); err != nil {
				return nil, err
			}

		case IsRateLimited(err):
			log.Printf("%s🚦 %s: rate limited by the service", logging.Prefix(ctx), label)
			return nil, err

		default:
			return nil, st.lastErr
		}
	}
}

func (e *Executor) backoff(attempt int) time.Duration {
	mult := e.Multiplier
	if mult < 1 {
		mult = 1
	}
	return time.Duration(float64(e.BaseDelay) * math.Pow(mult, float64(attempt)))
}

func proxyNote(proxy string) string {
	if proxy == "" {
		return ""
	}
	return " via next proxy"
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
// Returns 0 when absent or unparsable.
func ParseRetryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
