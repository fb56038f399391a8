package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxPromptSize limits stored prompt and reply text to 2KB
	MaxPromptSize = 2 * 1024
	// MaxMemoryEvents limits the in-memory event cache
	MaxMemoryEvents = 100
)

// Event is one chat cycle of one worker.
type Event struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Worker    int    `json:"worker"`
	Token     string `json:"token"`
	Source    string `json:"source"`
	Prompt    string `json:"prompt"`
	Reply     string `json:"reply,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Duration  int64  `json:"duration_ms"`
}

type Stats struct {
	Total   int64 `json:"total"`
	Success int64 `json:"success"`
	Errors  int64 `json:"errors"`
}

// ChatMonitor keeps recent chat events and running counters in memory.
type ChatMonitor struct {
	recent []Event
	mu     sync.RWMutex

	total   atomic.Int64
	success atomic.Int64
	errors  atomic.Int64

	now func() time.Time
}

func NewChatMonitor() *ChatMonitor {
	return &ChatMonitor{
		recent: make([]Event, 0, MaxMemoryEvents),
		now:    time.Now,
	}
}

// Record stores e at the head of the cache, newest first.
func (m *ChatMonitor) Record(e Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp == 0 {
		e.Timestamp = m.now().UnixMilli()
	}
	e.Prompt = truncate(e.Prompt)
	e.Reply = truncate(e.Reply)

	m.total.Add(1)
	if e.Success {
		m.success.Add(1)
	} else {
		m.errors.Add(1)
	}

	m.mu.Lock()
	m.recent = append([]Event{e}, m.recent...)
	if len(m.recent) > MaxMemoryEvents {
		m.recent = m.recent[:MaxMemoryEvents]
	}
	m.mu.Unlock()
}

// Recent returns up to limit events, optionally only for one worker (worker > 0).
func (m *ChatMonitor) Recent(limit, worker int) []Event {
	if limit <= 0 || limit > MaxMemoryEvents {
		limit = MaxMemoryEvents
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Event, 0, limit)
	for _, e := range m.recent {
		if worker > 0 && e.Worker != worker {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out
}

func (m *ChatMonitor) Stats() Stats {
	return Stats{
		Total:   m.total.Load(),
		Success: m.success.Load(),
		Errors:  m.errors.Load(),
	}
}

// Clear drops cached events and resets the counters.
func (m *ChatMonitor) Clear() {
	m.mu.Lock()
	m.recent = m.recent[:0]
	m.mu.Unlock()
	m.total.Store(0)
	m.success.Store(0)
	m.errors.Store(0)
}

func truncate(s string) string {
	if len(s) > MaxPromptSize {
		return s[:MaxPromptSize] + "...[truncated]"
	}
	return s
}
