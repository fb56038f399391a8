package generator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

var ErrAllBackendsExhausted = errors.New("all generator backends reached their daily limit")

// Generator produces one synthetic user message from a meta-prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type BackendID string

const (
	Groq   BackendID = "groq"
	Gemini BackendID = "gemini"
)

type UsageStat struct {
	Calls     int       `json:"calls"`
	Errors    int       `json:"errors"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	LastReset time.Time `json:"last_reset"`
}

type backend struct {
	id     BackendID
	gen    Generator
	weight float64
	limit  int

	calls     int
	errors    int
	lastReset time.Time
}

// Manager picks a backend per call by weight, health and daily quota.
// Limits hold when the Manager is the only caller; concurrent Generate calls
// may overshoot by the number in flight.
type Manager struct {
	mu       sync.Mutex
	backends []*backend
	rand     *rand.Rand
	now      func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
		now:  time.Now,
	}
}

// Register adds a backend. Registering an existing id replaces it.
func (m *Manager) Register(id BackendID, gen Generator, weight float64, dailyLimit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := &backend{id: id, gen: gen, weight: weight, limit: dailyLimit, lastReset: m.now()}
	for i, existing := range m.backends {
		if existing.id == id {
			m.backends[i] = b
			return
		}
	}
	m.backends = append(m.backends, b)
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.backends)
}

func (m *Manager) SelectBackend() (BackendID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.selectLocked()
	if err != nil {
		return "", err
	}
	return b.id, nil
}

func (m *Manager) selectLocked() (*backend, error) {
	now := m.now()
	for _, b := range m.backends {
		if !sameDay(b.lastReset, now) {
			b.calls, b.errors = 0, 0
			b.lastReset = now
		}
	}

	eligible := lo.Filter(m.backends, func(b *backend, _ int) bool { return b.calls < b.limit })
	switch len(eligible) {
	case 0:
		return nil, ErrAllBackendsExhausted
	case 1:
		return eligible[0], nil
	}

	weights := lo.Map(eligible, func(b *backend, _ int) float64 {
		w := b.weight * (1 - float64(b.errors)/float64(b.calls+1))
		return max(w, 0)
	})
	total := lo.Sum(weights)
	if total <= 0 {
		return eligible[m.rand.Intn(len(eligible))], nil
	}
	r := m.rand.Float64() * total
	for i, w := range weights {
		if r < w {
			return eligible[i], nil
		}
		r -= w
	}
	return eligible[len(eligible)-1], nil
}

// Generate selects a backend and asks it for a message. The outcome is
// recorded against the backend that served the call.
func (m *Manager) Generate(ctx context.Context, prompt string) (string, BackendID, error) {
	m.mu.Lock()
	b, err := m.selectLocked()
	m.mu.Unlock()
	if err != nil {
		return "", "", err
	}

	text, err := b.gen.Generate(ctx, prompt)

	m.mu.Lock()
	if err != nil {
		b.errors++
	} else {
		b.calls++
	}
	calls, errs := b.calls, b.errors
	m.mu.Unlock()

	zap.L().Debug("generator call", zap.String("backend", string(b.id)), zap.Int("calls", calls), zap.Int("errors", errs), zap.Error(err))
	if err != nil {
		return "", b.id, fmt.Errorf("%s: %w", b.id, err)
	}
	return text, b.id, nil
}

func (m *Manager) Stats() map[BackendID]UsageStat {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[BackendID]UsageStat, len(m.backends))
	for _, b := range m.backends {
		out[b.id] = UsageStat{
			Calls:     b.calls,
			Errors:    b.errors,
			Limit:     b.limit,
			Remaining: max(b.limit-b.calls, 0),
			LastReset: b.lastReset,
		}
	}
	return out
}

// SortedIDs returns the stat keys in a stable order for display.
func SortedIDs(stats map[BackendID]UsageStat) []BackendID {
	ids := lo.Keys(stats)
	slices.Sort(ids)
	return ids
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
