package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pysugar/chat-automator/internal/logging"
	"github.com/pysugar/chat-automator/internal/upstream"
	"github.com/pysugar/chat-automator/internal/util"
)

var (
	ErrNoModelSelected        = errors.New("no model selected")
	ErrChatVerificationFailed = errors.New("chat response aborted and no points increase detected")
)

const (
	// AbortedPlaceholder is returned when the body was lost but points prove the send landed.
	AbortedPlaceholder = "[response stream interrupted; chat confirmed by points increase]"
	// UnparsedPlaceholder is returned for a non-empty body no strategy could read.
	UnparsedPlaceholder = "[response received but could not be parsed]"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Thread struct {
	ID        uuid.UUID
	Title     string
	Messages  []Message
	CreatedAt time.Time
}

// API is the part of upstream.Client a session needs.
type API interface {
	Chat(ctx context.Context, tokens upstream.TokenRotator, payload any) (*upstream.Response, error)
	Points(ctx context.Context, tokens upstream.TokenRotator) (*upstream.Points, error)
}

type Options struct {
	Language    string
	VerifyDelay time.Duration
	// SampleFile receives the first raw text body seen, if it does not exist yet.
	SampleFile string
}

// Session is one worker's conversation: a model, a thread and the token it sends with.
type Session struct {
	api    API
	tokens upstream.TokenRotator
	opts   Options
	sleep  func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	model  string
	thread *Thread
}

func NewSession(api API, tokens upstream.TokenRotator, opts Options) *Session {
	if opts.Language == "" {
		opts.Language = "english"
	}
	if opts.VerifyDelay <= 0 {
		opts.VerifyDelay = 3 * time.Second
	}
	return &Session{api: api, tokens: tokens, opts: opts, sleep: util.Sleep}
}

// CreateThread starts a fresh thread, dropping any previous one.
func (s *Session) CreateThread() *Thread {
	th := &Thread{ID: uuid.New(), CreatedAt: time.Now()}
	s.mu.Lock()
	s.thread = th
	s.mu.Unlock()
	return th
}

func (s *Session) Thread() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thread
}

func (s *Session) SetModel(name string) {
	s.mu.Lock()
	s.model = name
	s.mu.Unlock()
}

func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

type chatPayload struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Language string    `json:"language"`
	Messages []Message `json:"messages"`
	Model    string    `json:"model"`
	Sources  []string  `json:"sources"`
}

// SendMessage posts content to the current thread and returns the assistant reply.
func (s *Session) SendMessage(ctx context.Context, content string) (string, error) {
	model := s.Model()
	if model == "" {
		return "", ErrNoModelSelected
	}

	baseline, haveBaseline := s.inferencePoints(ctx)

	s.mu.Lock()
	if s.thread == nil {
		s.thread = &Thread{ID: uuid.New(), CreatedAt: time.Now()}
	}
	th := s.thread
	th.Messages = append(th.Messages, Message{Role: RoleUser, Content: content})
	payload := chatPayload{
		ID:       th.ID.String(),
		Title:    th.Title,
		Language: s.opts.Language,
		Messages: append([]Message(nil), th.Messages...),
		Model:    model,
		Sources:  []string{},
	}
	s.mu.Unlock()

	log.Printf("%s💬 Sending to %s: %s", logging.Prefix(ctx), model, util.Preview(content, util.PreviewLen))

	resp, err := s.api.Chat(ctx, s.tokens, payload)
	aborted := false
	var body Body
	switch {
	case err == nil:
		body = ClassifyBody(resp.Header.Get("Content-Type"), resp.Body)
		s.saveSample(body)
	case errors.Is(err, upstream.ErrStreamAborted):
		aborted = true
		log.Printf("%s⚠️ Chat stream aborted, verifying via points", logging.Prefix(ctx))
	default:
		s.dropLast(th)
		return "", fmt.Errorf("chat request: %w", err)
	}

	var reply, method string
	ok := false
	if body != nil {
		reply, method, ok = Resolve(body)
	}
	if !ok {
		if aborted || isEmpty(body) {
			if !haveBaseline || !s.pointsIncreased(ctx, baseline) {
				s.dropLast(th)
				return "", ErrChatVerificationFailed
			}
			reply, method = AbortedPlaceholder, "points"
			log.Printf("%s✅ Chat confirmed by points increase", logging.Prefix(ctx))
		} else {
			reply, method = UnparsedPlaceholder, "none"
			zap.L().Warn("chat response unparsed", zap.String("preview", util.TruncateLog(rawText(body), 1000)))
		}
	}

	s.mu.Lock()
	th.Messages = append(th.Messages, Message{Role: RoleAssistant, Content: reply})
	s.mu.Unlock()

	logging.L(ctx).Info("chat reply",
		zap.String("thread", th.ID.String()),
		zap.String("model", model),
		zap.String("method", method),
		zap.Bool("stream_aborted", aborted),
		zap.String("reply", util.Preview(reply, 100)),
	)
	return reply, nil
}

func (s *Session) inferencePoints(ctx context.Context) (float64, bool) {
	p, err := s.api.Points(ctx, s.tokens)
	if err != nil {
		logging.L(ctx).Debug("points snapshot failed", zap.Error(err))
		return 0, false
	}
	return p.Inference, true
}

func (s *Session) pointsIncreased(ctx context.Context, before float64) bool {
	if err := s.sleep(ctx, s.opts.VerifyDelay); err != nil {
		return false
	}
	after, ok := s.inferencePoints(ctx)
	logging.L(ctx).Info("points verification", zap.Float64("before", before), zap.Float64("after", after), zap.Bool("ok", ok))
	return ok && after > before
}

// dropLast removes the unanswered user message so the thread keeps alternating.
func (s *Session) dropLast(th *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(th.Messages); n > 0 && th.Messages[n-1].Role == RoleUser {
		th.Messages = th.Messages[:n-1]
	}
}

func (s *Session) saveSample(b Body) {
	text, ok := bodyText(b)
	if !ok || s.opts.SampleFile == "" || text == "" {
		return
	}
	f, err := os.OpenFile(s.opts.SampleFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		zap.L().Warn("saving response sample", zap.Error(err))
	}
}

func rawText(b Body) string {
	if text, ok := bodyText(b); ok {
		return text
	}
	return fmt.Sprintf("%v", b)
}
