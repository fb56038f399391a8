package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/pysugar/chat-automator/internal/util"
)

const (
	defaultBaseURL    = "https://generativelanguage.googleapis.com"
	defaultModel      = "gemini-1.5-flash"
	defaultTimeout    = 30 * time.Second
	defaultRetryDelay = 5 * time.Second
)

// Backend generates messages with the AI Studio generateContent API, passing
// the key as a query parameter.
type Backend struct {
	apiKey     string
	baseURL    string
	model      string
	retries    int
	retryDelay time.Duration
	httpClient *http.Client
	sleep      func(ctx context.Context, d time.Duration) error
}

type Options struct {
	BaseURL    string
	Model      string
	Timeout    time.Duration
	RetryCount int
	RetryDelay time.Duration
}

func NewBackend(apiKey string, opts Options) *Backend {
	return NewBackendWithClient(apiKey, opts, nil)
}

func NewBackendWithClient(apiKey string, opts Options, httpClient *http.Client) *Backend {
	if strings.TrimSpace(opts.BaseURL) == "" {
		opts.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = defaultModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RetryCount < 0 {
		opts.RetryCount = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Backend{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		model:      opts.Model,
		retries:    opts.RetryCount,
		retryDelay: opts.RetryDelay,
		httpClient: httpClient,
		sleep:      util.Sleep,
	}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Generate tries once plus the configured number of retries.
func (b *Backend) Generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= b.retries; attempt++ {
		if attempt > 0 {
			log.Printf("⚠️ Gemini call failed, retry %d/%d in %s: %v", attempt, b.retries, b.retryDelay, lastErr)
			if err := b.sleep(ctx, b.retryDelay); err != nil {
				return "", err
			}
		}
		text, err := b.generateOnce(ctx, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
	}
	return "", lastErr
}

func (b *Backend) generateOnce(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Contents: []content{{Parts: []part{{Text: prompt}}}}})
	if err != nil {
		return "", err
	}

	target := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", b.baseURL, url.PathEscape(b.model), url.QueryEscape(b.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", redact(err, b.apiKey)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading gemini response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini returned %d: %s", resp.StatusCode, util.TruncateLog(string(raw), 200))
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decoding gemini response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	text := Clean(out.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return "", fmt.Errorf("gemini returned empty text")
	}
	return text, nil
}

var (
	quotePattern  = regexp.MustCompile(`^["']|["']$`)
	prefixPattern = regexp.MustCompile(`(?i)^(question|prompt)[:：]?\s*`)
)

// Clean strips wrapping quotes and a leading "Question:" or "Prompt:" label.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	s = quotePattern.ReplaceAllString(s, "")
	s = prefixPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// url.Error includes the request URL, which carries the key.
func redact(err error, key string) error {
	if key == "" {
		return err
	}
	msg := strings.ReplaceAll(err.Error(), url.QueryEscape(key), "REDACTED")
	return fmt.Errorf("gemini request failed: %s", msg)
}
