package ratelimit

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/pysugar/chat-automator/internal/logging"
	"github.com/pysugar/chat-automator/internal/upstream"
)

// Querier is satisfied by upstream.Client.
type Querier interface {
	RateLimit(ctx context.Context, token string) (*upstream.RateLimitStatus, error)
}

// Limiter tracks the remote quota of a single token. It never rotates tokens.
type Limiter struct {
	client Querier
	token  string

	mu   sync.Mutex
	last upstream.RateLimitStatus
}

func New(client Querier, token string) *Limiter {
	return &Limiter{client: client, token: token}
}

func (l *Limiter) Token() string { return l.token }

// Refresh queries the quota and caches it.
func (l *Limiter) Refresh(ctx context.Context) (upstream.RateLimitStatus, error) {
	st, err := l.client.RateLimit(ctx, l.token)
	if err != nil {
		return l.Last(), fmt.Errorf("rate limit: %w", err)
	}
	l.mu.Lock()
	l.last = *st
	l.mu.Unlock()
	log.Printf("%s📊 Rate limit: %d/%d remaining (resets in %s)", logging.Prefix(ctx), st.Remaining, st.Limit, formatReset(st.ResetSeconds))
	return *st, nil
}

// IsAvailable reports remaining > 0. A failed query counts as available.
func (l *Limiter) IsAvailable(ctx context.Context) bool {
	st, err := l.Refresh(ctx)
	if err != nil {
		log.Printf("%s⚠️ %v; assuming quota available", logging.Prefix(ctx), err)
		return true
	}
	return st.Remaining > 0
}

func (l *Limiter) Last() upstream.RateLimitStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

func formatReset(seconds int) string {
	if seconds <= 0 {
		return "N/A"
	}
	return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
}
