package signin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pysugar/chat-automator/internal/upstream"
	"github.com/pysugar/chat-automator/internal/util"
)

var ErrNoPrivateKeys = errors.New("no private keys found")

// API is satisfied by upstream.Client.
type API interface {
	SignIn(ctx context.Context, req upstream.SignInRequest) (string, error)
}

// TokenSink receives issued tokens. token.Store implements it.
type TokenSink interface {
	Append(tok string) error
}

type Options struct {
	Domain       string
	URI          string
	ChainID      int
	ReferralCode string
	Attempts     int
	RetryDelay   time.Duration
	Threads      int
}

// Client signs in wallets and stores the session tokens they receive.
type Client struct {
	api  API
	sink TokenSink
	opts Options

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(api API, sink TokenSink, opts Options) *Client {
	if opts.Attempts <= 0 {
		opts.Attempts = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 3 * time.Second
	}
	if opts.Threads <= 0 {
		opts.Threads = 10
	}
	if opts.ChainID == 0 {
		opts.ChainID = 1
	}
	return &Client{api: api, sink: sink, opts: opts, now: time.Now, sleep: util.Sleep}
}

// Authenticate signs a fresh message per attempt and exchanges it for a token.
func (c *Client) Authenticate(ctx context.Context, signer Signer) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.opts.Attempts; attempt++ {
		tok, err := c.authenticateOnce(ctx, signer)
		if err == nil {
			if err := c.sink.Append(tok); err != nil {
				return tok, fmt.Errorf("saving token: %w", err)
			}
			log.Printf("✅ Token received for %s", signer.Address())
			return tok, nil
		}
		lastErr = err
		log.Printf("❌ Sign-in attempt %d/%d failed for %s: %v", attempt, c.opts.Attempts, signer.Address(), err)
		if attempt < c.opts.Attempts {
			if err := c.sleep(ctx, c.opts.RetryDelay); err != nil {
				return "", err
			}
		}
	}
	return "", fmt.Errorf("all %d sign-in attempts failed for %s: %w", c.opts.Attempts, signer.Address(), lastErr)
}

func (c *Client) authenticateOnce(ctx context.Context, signer Signer) (string, error) {
	nonce, err := NewNonce()
	if err != nil {
		return "", err
	}
	msg := Message{
		Domain:   c.opts.Domain,
		URI:      c.opts.URI,
		Address:  signer.Address(),
		ChainID:  c.opts.ChainID,
		Nonce:    nonce,
		IssuedAt: c.now(),
	}.String()

	sig, err := signer.SignMessage([]byte(msg))
	if err != nil {
		return "", fmt.Errorf("signing: %w", err)
	}
	log.Printf("🔐 Authenticating %s...", signer.Address())
	return c.api.SignIn(ctx, upstream.SignInRequest{
		SignedMessage: sig,
		Message:       msg,
		ReferralCode:  c.opts.ReferralCode,
	})
}

// AuthenticateAll signs in every key with bounded parallelism. Invalid keys
// and failed wallets are logged and skipped.
func (c *Client) AuthenticateAll(ctx context.Context, keys []string) []string {
	var (
		mu     sync.Mutex
		tokens []string
	)
	var g errgroup.Group
	g.SetLimit(c.opts.Threads)
	for _, key := range keys {
		g.Go(func() error {
			signer, err := NewEthSigner(key)
			if err != nil {
				log.Printf("❌ %v", err)
				return nil
			}
			tok, err := c.Authenticate(ctx, signer)
			if err != nil {
				log.Printf("❌ %v", err)
				return nil
			}
			mu.Lock()
			tokens = append(tokens, tok)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	log.Printf("📦 Signed in %d/%d wallets", len(tokens), len(keys))
	return tokens
}

// LoadKeys reads one private key per line.
func LoadKeys(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoPrivateKeys
		}
		return nil, err
	}
	defer f.Close()

	var keys []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" && !strings.HasPrefix(line, "#") {
			keys = append(keys, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, ErrNoPrivateKeys
	}
	return keys, nil
}
