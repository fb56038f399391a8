package automation

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/pysugar/chat-automator/internal/auth/token"
	"github.com/pysugar/chat-automator/internal/generator"
	"github.com/pysugar/chat-automator/internal/util"
)

var ErrSwitchUnsupported = errors.New("manual account switching is not supported in concurrent mode")

// Runner is one unit of work in a run. *Worker implements it.
type Runner interface {
	Run(ctx context.Context, running func() bool) State
	State() State
	Index() int
	Token() string
}

// RunnerFactory builds the runner for the token bound at index (1-based).
type RunnerFactory func(index int, binding *token.Binding) Runner

// BackendCounter reports how many message backends are registered.
type BackendCounter interface {
	Len() int
}

type WorkerStatus struct {
	Index int    `json:"index"`
	Token string `json:"token"`
	State State  `json:"state"`
}

type Status struct {
	Running bool           `json:"running"`
	Outcome string         `json:"outcome,omitempty"`
	Workers []WorkerStatus `json:"workers"`
}

// run is one Start..drain cycle. Its flag is never set again once cleared,
// so workers of a paused run cannot be revived by a later Start.
type run struct {
	active  atomic.Bool
	done    chan struct{}
	runners []Runner
}

type Supervisor struct {
	store    *token.Store
	backends BackendCounter
	threads  int
	factory  RunnerFactory

	mu      sync.Mutex
	current *run
	outcome string
}

func NewSupervisor(store *token.Store, backends BackendCounter, threads int, factory RunnerFactory) *Supervisor {
	if threads <= 0 {
		threads = 10
	}
	return &Supervisor{store: store, backends: backends, threads: threads, factory: factory}
}

// Start launches one runner per token, at most threads at a time.
// Calling Start while running is a no-op.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.active.Load() {
		log.Printf("⚠️ Automation is already running")
		return nil
	}

	tokens, err := s.store.Load()
	if err != nil {
		log.Printf("❌ No tokens found, cannot start automation: %v", err)
		return err
	}
	if s.backends == nil || s.backends.Len() == 0 {
		log.Printf("❌ No message generator backend is configured")
		return generator.ErrAllBackendsExhausted
	}

	r := &run{done: make(chan struct{})}
	r.active.Store(true)
	for i := range tokens {
		b, ok := s.store.Bind(i)
		if !ok {
			break
		}
		r.runners = append(r.runners, s.factory(i+1, b))
	}
	s.current = r
	s.outcome = ""

	log.Printf("🚀 Queued %d tokens, concurrency=%d", len(r.runners), s.threads)
	go s.drive(ctx, r)
	return nil
}

func (s *Supervisor) drive(ctx context.Context, r *run) {
	var g errgroup.Group
	g.SetLimit(s.threads)
	for _, runner := range r.runners {
		g.Go(func() error {
			if !r.active.Load() || ctx.Err() != nil {
				return nil
			}
			runner.Run(ctx, r.active.Load)
			return nil
		})
	}
	_ = g.Wait()

	drained := r.active.Swap(false)

	s.mu.Lock()
	if s.current == r && drained {
		if ctx.Err() != nil {
			s.outcome = "stopped"
		} else {
			s.outcome = "exhausted"
			log.Printf("⚠️ All workers finished, automation stopped")
		}
	}
	s.mu.Unlock()
	close(r.done)
}

// Pause clears the run flag; workers stop at their next cycle.
func (s *Supervisor) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || !s.current.active.Load() {
		log.Printf("⚠️ Automation is not running")
		return false
	}
	s.current.active.Store(false)
	s.outcome = "paused"
	log.Printf("⏸️ Automation paused")
	return true
}

func (s *Supervisor) Resume(ctx context.Context) error {
	if s.Running() {
		log.Printf("⚠️ Automation is already running")
		return nil
	}
	log.Printf("🔄 Resuming automation")
	return s.Start(ctx)
}

func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && s.current.active.Load()
}

// Wait blocks until the current run has drained or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	r := s.current
	s.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	r := s.current
	st := Status{Outcome: s.outcome, Workers: []WorkerStatus{}}
	s.mu.Unlock()
	if r == nil {
		return st
	}
	st.Running = r.active.Load()
	for _, runner := range r.runners {
		st.Workers = append(st.Workers, WorkerStatus{
			Index: runner.Index(),
			Token: util.MaskToken(runner.Token()),
			State: runner.State(),
		})
	}
	return st
}

// SwitchAccount is refused: every token already has its own worker.
func (s *Supervisor) SwitchAccount() error {
	log.Printf("⚠️ Manual account switching is unavailable in concurrent mode")
	return ErrSwitchUnsupported
}
