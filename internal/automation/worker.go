package automation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pysugar/chat-automator/internal/auth/token"
	"github.com/pysugar/chat-automator/internal/chat"
	"github.com/pysugar/chat-automator/internal/config"
	"github.com/pysugar/chat-automator/internal/generator"
	"github.com/pysugar/chat-automator/internal/logging"
	"github.com/pysugar/chat-automator/internal/monitor"
	"github.com/pysugar/chat-automator/internal/ratelimit"
	"github.com/pysugar/chat-automator/internal/upstream"
	"github.com/pysugar/chat-automator/internal/util"
)

var ErrNoDefaultModel = errors.New("no suitable default model found")

// Service is the remote API surface a worker drives. upstream.Client implements it.
type Service interface {
	chat.API
	ratelimit.Querier
	Me(ctx context.Context, tokens upstream.TokenRotator) (*token.UserInfo, error)
	Models(ctx context.Context, tokens upstream.TokenRotator) ([]upstream.Model, error)
}

// MessageSource is satisfied by generator.Manager.
type MessageSource interface {
	Generate(ctx context.Context, prompt string) (string, generator.BackendID, error)
}

// Recorder receives one event per chat cycle. *monitor.ChatMonitor implements it.
type Recorder interface {
	Record(e monitor.Event)
}

// WorkerDeps are shared by every worker of a run.
type WorkerDeps struct {
	API      Service
	Messages MessageSource
	Fallback *generator.FallbackPool
	Prompt   string
	Delays   config.DelayConfig
	Chat     chat.Options
	// Monitor is optional.
	Monitor Recorder
}

// Worker drives one token through the chat cycle until it is exhausted,
// fails, or the run is stopped.
type Worker struct {
	index   int
	binding *token.Binding
	deps    WorkerDeps

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(lo, hi time.Duration) time.Duration

	mu    sync.Mutex
	state State
	err   error
	sent  int
}

func NewWorker(index int, binding *token.Binding, deps WorkerDeps) *Worker {
	if deps.Fallback == nil {
		deps.Fallback = generator.NewFallbackPool()
	}
	if deps.Delays.MaxConsecutive <= 0 {
		deps.Delays.MaxConsecutive = 3
	}
	return &Worker{
		index:   index,
		binding: binding,
		deps:    deps,
		sleep:   util.Sleep,
		jitter:  uniform,
	}
}

func (w *Worker) Index() int { return w.index }

func (w *Worker) Token() string { return w.binding.Token() }

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Err is the error that ended the worker, if any.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Sent is the number of chat messages confirmed so far.
func (w *Worker) Sent() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sent
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Worker) finish(ctx context.Context, s State, err error) State {
	w.mu.Lock()
	w.state = s
	w.err = err
	w.mu.Unlock()
	if err != nil {
		log.Printf("%s❌ Worker %s: %v", logging.Prefix(ctx), s, err)
	} else {
		log.Printf("%s🏁 Worker %s", logging.Prefix(ctx), s)
	}
	return s
}

// Run executes the worker until a terminal state. running is polled at the
// top of every cycle; ctx cancellation interrupts calls and sleeps.
func (w *Worker) Run(ctx context.Context, running func() bool) State {
	ctx = logging.WithWorker(ctx, logging.WorkerLabel{Index: w.index, TokenPreview: util.MaskToken(w.binding.Token())})

	w.setState(StateStarting)
	session, err := w.start(ctx)
	if err != nil {
		return w.finish(ctx, w.failureState(ctx), err)
	}

	w.setState(StateAuthenticating)
	info, err := w.deps.API.Me(ctx, w.binding)
	if err != nil {
		return w.finish(ctx, w.failureState(ctx), fmt.Errorf("authenticating: %w", err))
	}
	w.binding.SetUserInfo(info)
	log.Printf("%s✅ Automation started (user %s, model %s)", logging.Prefix(ctx), info.UserID, session.Model())

	limiter := ratelimit.New(w.deps.API, w.binding.Token())
	consecutive := 0

	for running() {
		if ctx.Err() != nil {
			break
		}
		w.setState(StateActive)

		if tok := w.binding.Token(); tok != limiter.Token() {
			limiter = ratelimit.New(w.deps.API, tok)
		}
		if !limiter.IsAvailable(ctx) {
			next, _ := w.binding.Advance()
			log.Printf("%s⚠️ Remaining quota is 0 of %d, finishing; next token %s", logging.Prefix(ctx), limiter.Last().Limit, util.MaskToken(next))
			return w.finish(ctx, StateExhausted, nil)
		}

		prompt, source := w.nextPrompt(ctx)

		started := time.Now()
		reply, err := session.SendMessage(ctx, prompt)
		w.record(prompt, source, reply, err, time.Since(started))
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if upstream.IsAuthError(err) {
				return w.finish(ctx, StateFailed, fmt.Errorf("token rejected: %w", err))
			}
			consecutive++
			logging.L(ctx).Warn("chat failed", zap.Error(err), zap.Int("consecutive", consecutive))
			var delay time.Duration
			if consecutive >= w.deps.Delays.MaxConsecutive {
				delay = w.jitter(w.deps.Delays.LongCooldownMin, w.deps.Delays.LongCooldownMax)
				log.Printf("%s❌ Too many errors (%d), cooling down %s: %v", logging.Prefix(ctx), consecutive, delay.Round(time.Second), err)
				consecutive = 0
			} else {
				delay = w.jitter(w.deps.Delays.ShortCooldownMin, w.deps.Delays.ShortCooldownMax)
				log.Printf("%s⚠️ Chat error (%d/%d), retrying in %s: %v", logging.Prefix(ctx), consecutive, w.deps.Delays.MaxConsecutive, delay.Round(time.Second), err)
			}
			if !w.pause(ctx, delay) {
				break
			}
			continue
		}

		consecutive = 0
		w.mu.Lock()
		w.sent++
		w.mu.Unlock()

		if p, err := w.deps.API.Points(ctx, w.binding); err == nil {
			log.Printf("%s💰 Points: %.0f total", logging.Prefix(ctx), p.Total)
		} else {
			logging.L(ctx).Debug("points refresh failed", zap.Error(err))
		}

		delay := w.jitter(w.deps.Delays.MinChat, w.deps.Delays.MaxChat)
		log.Printf("%s😴 Sleeping %.1fs", logging.Prefix(ctx), delay.Seconds())
		if !w.pause(ctx, delay) {
			break
		}
	}
	return w.finish(ctx, StateStopped, nil)
}

func (w *Worker) start(ctx context.Context) (*chat.Session, error) {
	if p, err := w.deps.API.Points(ctx, w.binding); err == nil {
		log.Printf("%s💰 Points: %.0f total", logging.Prefix(ctx), p.Total)
	} else {
		logging.L(ctx).Debug("initial points failed", zap.Error(err))
	}

	models, err := w.deps.API.Models(ctx, w.binding)
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	log.Printf("%s📦 %d models available", logging.Prefix(ctx), len(models))

	model, ok := DefaultModel(models)
	if !ok {
		return nil, ErrNoDefaultModel
	}

	session := chat.NewSession(w.deps.API, w.binding, w.deps.Chat)
	session.SetModel(model)
	session.CreateThread()
	return session, nil
}

// nextPrompt returns the message to send and the backend that produced it.
func (w *Worker) nextPrompt(ctx context.Context) (string, string) {
	text, backend, err := w.deps.Messages.Generate(ctx, w.deps.Prompt)
	if err == nil && text != "" {
		log.Printf("%s🎲 %s prompt: %q", logging.Prefix(ctx), backend, util.Preview(text, util.PreviewLen))
		return text, string(backend)
	}
	fallback := w.deps.Fallback.Pick()
	log.Printf("%s⚠️ Message generation failed (%v), using fallback prompt", logging.Prefix(ctx), err)
	return fallback, "fallback"
}

func (w *Worker) record(prompt, source, reply string, err error, took time.Duration) {
	if w.deps.Monitor == nil {
		return
	}
	e := monitor.Event{
		Worker:   w.index,
		Token:    util.MaskToken(w.binding.Token()),
		Source:   source,
		Prompt:   prompt,
		Reply:    reply,
		Success:  err == nil,
		Duration: took.Milliseconds(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	w.deps.Monitor.Record(e)
}

// pause sleeps in the Sleeping state; false means ctx ended.
func (w *Worker) pause(ctx context.Context, d time.Duration) bool {
	w.setState(StateSleeping)
	return w.sleep(ctx, d) == nil
}

func (w *Worker) failureState(ctx context.Context) State {
	if ctx.Err() != nil {
		return StateStopped
	}
	return StateFailed
}

// DefaultModel picks the first active non-pro model.
func DefaultModel(models []upstream.Model) (string, bool) {
	for _, m := range models {
		if !m.IsPro && m.Active {
			return m.Name, true
		}
	}
	return "", false
}

func uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)+1))
}
