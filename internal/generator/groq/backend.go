package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/pysugar/chat-automator/internal/util"
)

const (
	defaultBaseURL = "https://api.groq.com/openai/v1"
	defaultModel   = "llama3-8b-8192"
	defaultTimeout = 30 * time.Second
)

const userInstruction = "Generate a single interesting prompt."

// Backend generates messages through Groq's OpenAI-compatible chat/completions API.
type Backend struct {
	model      string
	baseURL    string
	httpClient *http.Client
}

func NewBackend(apiKey, baseURL, model string, timeout time.Duration) *Backend {
	return NewBackendWithClient(apiKey, baseURL, model, timeout, nil)
}

// NewBackendWithClient authenticates with apiKey as a bearer token on top of base's transport.
func NewBackendWithClient(apiKey, baseURL, model string, timeout time.Duration, base *http.Client) *Backend {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}
	ctx := context.Background()
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: strings.TrimSpace(apiKey), TokenType: "Bearer"})
	client := oauth2.NewClient(ctx, src)
	client.Timeout = timeout

	return &Backend{
		model:      model,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: client,
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// Generate sends prompt as the system instruction and returns the first choice.
func (b *Backend) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model: b.model,
		Messages: []message{
			{Role: "system", Content: "You are a helpful assistant. " + prompt},
			{Role: "user", Content: userInstruction},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading groq response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("groq returned %d: %s", resp.StatusCode, util.TruncateLog(string(raw), 200))
	}

	var out completionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decoding groq response: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("groq returned no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
