package token

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/pysugar/chat-automator/internal/util"
)

var ErrNoTokensFound = errors.New("no session tokens found")

// UserInfo is the account identity returned by /me.
type UserInfo struct {
	UserID       string `json:"user_id"`
	AuthProvider string `json:"auth_provider"`
}

// VerifyFunc reports whether a token is still accepted by the service.
type VerifyFunc func(ctx context.Context, token string) bool

// Store holds session tokens loaded from a newline-delimited file and a
// shared cursor into them.
type Store struct {
	path    string
	threads int

	mu       sync.Mutex
	tokens   []string
	cursor   int
	userInfo *UserInfo
}

// NewStore creates a store backed by path. threads bounds VerifyAll parallelism.
func NewStore(path string, threads int) *Store {
	if threads <= 0 {
		threads = 10
	}
	return &Store{path: path, threads: threads}
}

// NewMemoryStore is a store without a backing file.
func NewMemoryStore(tokens []string) *Store {
	s := NewStore("", 1)
	s.tokens = clean(tokens)
	return s
}

// Load reads the token file and replaces the in-memory set.
func (s *Store) Load() ([]string, error) {
	if s.path == "" {
		s.mu.Lock()
		defer s.mu.Unlock()
		if len(s.tokens) == 0 {
			return nil, ErrNoTokensFound
		}
		return append([]string(nil), s.tokens...), nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoTokensFound
		}
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}

	tokens := clean(strings.Split(string(data), "\n"))

	s.mu.Lock()
	s.tokens = tokens
	s.cursor = 0
	s.userInfo = nil
	s.mu.Unlock()

	if len(tokens) == 0 {
		return nil, ErrNoTokensFound
	}
	log.Printf("📦 Loaded %d session tokens", len(tokens))
	return append([]string(nil), tokens...), nil
}

// VerifyAll keeps the tokens verify accepts, in input order, and rewrites
// the file with them.
func (s *Store) VerifyAll(ctx context.Context, tokens []string, verify VerifyFunc) ([]string, error) {
	ok := make([]bool, len(tokens))

	var g errgroup.Group
	g.SetLimit(s.threads)
	for i, tok := range tokens {
		g.Go(func() error {
			ok[i] = verify(ctx, tok)
			if ok[i] {
				log.Printf("✅ Token %s is valid", util.MaskToken(tok))
			} else {
				log.Printf("❌ Token %s is invalid", util.MaskToken(tok))
			}
			return nil
		})
	}
	_ = g.Wait()

	// A cancelled run would mark everything invalid.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	valid := lo.Filter(tokens, func(_ string, i int) bool { return ok[i] })

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeLocked(valid); err != nil {
		return valid, err
	}
	s.tokens = valid
	s.cursor = 0
	s.userInfo = nil
	log.Printf("📦 %d/%d tokens valid", len(valid), len(tokens))
	return append([]string(nil), valid...), nil
}

func (s *Store) writeLocked(tokens []string) error {
	if s.path == "" {
		return nil
	}
	content := ""
	if len(tokens) > 0 {
		content = strings.Join(tokens, "\n") + "\n"
	}
	if err := os.WriteFile(s.path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// Tokens returns a copy of the current set.
func (s *Store) Tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

func (s *Store) Current() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tokens) == 0 {
		return "", false
	}
	return s.tokens[s.cursor], true
}

// Advance moves the cursor to the next token (wrapping) and drops the cached user info.
func (s *Store) Advance() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tokens) == 0 {
		return "", false
	}
	s.cursor = (s.cursor + 1) % len(s.tokens)
	s.userInfo = nil
	return s.tokens[s.cursor], true
}

func (s *Store) UserInfo() *UserInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userInfo
}

func (s *Store) SetUserInfo(info *UserInfo) {
	s.mu.Lock()
	s.userInfo = info
	s.mu.Unlock()
}

// Append adds a freshly issued token to memory and to the file.
func (s *Store) Append(tok string) error {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if lo.Contains(s.tokens, tok) {
		return nil
	}
	if s.path != "" {
		f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("opening %s: %w", s.path, err)
		}
		if _, err := f.WriteString(tok + "\n"); err != nil {
			f.Close()
			return fmt.Errorf("appending token: %w", err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	s.tokens = append(s.tokens, tok)
	return nil
}

// Reset truncates the token file and clears memory.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeLocked(nil); err != nil {
		return err
	}
	s.tokens = nil
	s.cursor = 0
	s.userInfo = nil
	log.Printf("🔄 Token file %s cleared", s.path)
	return nil
}

func clean(lines []string) []string {
	return lo.Uniq(lo.Compact(lo.Map(lines, func(l string, _ int) string {
		return strings.TrimSpace(l)
	})))
}
