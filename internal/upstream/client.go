package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pysugar/chat-automator/internal/auth/token"
	"github.com/pysugar/chat-automator/internal/util"
)

const (
	DefaultTimeout = 10 * time.Second
	ChatTimeout    = 30 * time.Second
	SignInTimeout  = 60 * time.Second
)

// Client talks to the chat service. All paths are relative to the base URL.
type Client struct {
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
	exec       *Executor

	DefaultTimeout time.Duration
	ChatTimeout    time.Duration
	SignInTimeout  time.Duration
}

// NewClient builds a client whose requests go through transport (usually a proxy.Rotator).
func NewClient(baseURL string, headers map[string]string, transport http.RoundTripper, exec *Executor) *Client {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if exec == nil {
		exec = NewExecutor(nil, 5, 2*time.Second, 1.5)
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		headers:        headers,
		httpClient:     &http.Client{Transport: transport},
		exec:           exec,
		DefaultTimeout: DefaultTimeout,
		ChatTimeout:    ChatTimeout,
		SignInTimeout:  SignInTimeout,
	}
}

type requestOptions struct {
	timeout time.Duration
	// body read failures after headers become ErrStreamAborted
	streamed bool
}

func (c *Client) do(ctx context.Context, method, path, tok string, payload any, opts requestOptions) (*Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s body: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if payload != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("X-Session-Token", tok)
	}

	zap.L().Debug("upstream request", zap.String("method", method), zap.String("path", path), zap.String("token", util.MaskToken(tok)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		if opts.streamed && resp.StatusCode < 300 {
			return nil, fmt.Errorf("%w: %v", ErrStreamAborted, readErr)
		}
		return nil, fmt.Errorf("reading %s response: %w", path, readErr)
	}

	zap.L().Debug("upstream response", zap.String("path", path), zap.Int("status", resp.StatusCode), zap.String("body", util.TruncateBytes(raw)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{
			Code:       resp.StatusCode,
			Body:       util.TruncateLog(string(raw), 300),
			RetryAfter: ParseRetryAfter(resp.Header),
		}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: raw}, nil
}

func (c *Client) getJSON(ctx context.Context, label, path string, tokens TokenRotator, out any) error {
	resp, err := c.exec.Execute(ctx, label, tokens, func(ctx context.Context, tok string) (*Response, error) {
		return c.do(ctx, http.MethodGet, path, tok, nil, requestOptions{timeout: c.DefaultTimeout})
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// Me returns the account behind the current token, rotating tokens on auth failure.
func (c *Client) Me(ctx context.Context, tokens TokenRotator) (*token.UserInfo, error) {
	var info token.UserInfo
	if err := c.getJSON(ctx, "GET /me", "/me", tokens, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// VerifyToken reports whether tok is accepted by /me.
func (c *Client) VerifyToken(ctx context.Context, tok string) bool {
	_, err := c.Me(ctx, StaticToken(tok))
	return err == nil
}

// RateLimit queries the quota of exactly this token.
func (c *Client) RateLimit(ctx context.Context, tok string) (*RateLimitStatus, error) {
	var st RateLimitStatus
	if err := c.getJSON(ctx, "GET /rate-limit", "/rate-limit", StaticToken(tok), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) Points(ctx context.Context, tokens TokenRotator) (*Points, error) {
	var p pointsPayload
	if err := c.getJSON(ctx, "GET /points", "/points", tokens, &p); err != nil {
		return nil, err
	}
	return &Points{Total: p.Total, Inference: p.Points.Inference, Referral: p.Points.Referral}, nil
}

func (c *Client) Models(ctx context.Context, tokens TokenRotator) ([]Model, error) {
	var models []Model
	if err := c.getJSON(ctx, "GET /models", "/models", tokens, &models); err != nil {
		return nil, err
	}
	return models, nil
}

// Chat posts a chat payload and returns the raw response. A body that breaks
// off mid-read yields ErrStreamAborted and is not retried.
func (c *Client) Chat(ctx context.Context, tokens TokenRotator, payload any) (*Response, error) {
	return c.exec.Execute(ctx, "POST /chat", tokens, func(ctx context.Context, tok string) (*Response, error) {
		return c.do(ctx, http.MethodPost, "/chat", tok, payload, requestOptions{timeout: c.ChatTimeout, streamed: true})
	})
}

// SignIn exchanges a signed wallet message for a session token. One attempt;
// callers own the retry policy.
func (c *Client) SignIn(ctx context.Context, req SignInRequest) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/verify", "", req, requestOptions{timeout: c.SignInTimeout})
	if err != nil {
		return "", err
	}
	var out signInResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", fmt.Errorf("decoding /verify: %w", err)
	}
	if out.SessionToken == "" {
		return "", fmt.Errorf("/verify returned no session_token")
	}
	return out.SessionToken, nil
}
