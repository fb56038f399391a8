package automation

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pysugar/chat-automator/internal/auth/token"
	"github.com/pysugar/chat-automator/internal/generator"
)

type backendCount int

func (b backendCount) Len() int { return int(b) }

type fakeRunner struct {
	index int
	tok   string
	run   func(ctx context.Context, running func() bool) State

	mu    sync.Mutex
	state State
}

func (f *fakeRunner) Run(ctx context.Context, running func() bool) State {
	f.setState(StateActive)
	st := f.run(ctx, running)
	f.setState(st)
	return st
}

func (f *fakeRunner) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *fakeRunner) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeRunner) Index() int    { return f.index }
func (f *fakeRunner) Token() string { return f.tok }

func waitTimeout(t *testing.T, s *Supervisor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestStartWithoutTokens(t *testing.T) {
	store := token.NewStore(filepath.Join(t.TempDir(), "missing"), 1)
	s := NewSupervisor(store, backendCount(1), 2, nil)
	if err := s.Start(context.Background()); !errors.Is(err, token.ErrNoTokensFound) {
		t.Fatalf("err = %v", err)
	}
	if s.Running() {
		t.Fatal("running without tokens")
	}
}

func TestStartWithoutBackends(t *testing.T) {
	s := NewSupervisor(token.NewMemoryStore([]string{"A"}), backendCount(0), 2, nil)
	if err := s.Start(context.Background()); !errors.Is(err, generator.ErrAllBackendsExhausted) {
		t.Fatalf("err = %v", err)
	}
}

func TestBoundedConcurrencyAndExhaustedOutcome(t *testing.T) {
	var current, peak, ran atomic.Int32
	factory := func(i int, b *token.Binding) Runner {
		return &fakeRunner{index: i, tok: b.Token(), run: func(context.Context, func() bool) State {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
			ran.Add(1)
			return StateExhausted
		}}
	}
	s := NewSupervisor(token.NewMemoryStore([]string{"A", "B", "C", "D", "E"}), backendCount(1), 2, factory)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitTimeout(t, s)

	if ran.Load() != 5 {
		t.Fatalf("ran = %d", ran.Load())
	}
	if peak.Load() > 2 {
		t.Fatalf("peak concurrency = %d", peak.Load())
	}
	st := s.Status()
	if st.Running || st.Outcome != "exhausted" || len(st.Workers) != 5 {
		t.Fatalf("status = %+v", st)
	}
	if st.Workers[0].Index != 1 || st.Workers[0].State != StateExhausted {
		t.Fatalf("worker status = %+v", st.Workers[0])
	}
}

func loopingFactory(started *atomic.Int32) RunnerFactory {
	return func(i int, b *token.Binding) Runner {
		return &fakeRunner{index: i, tok: b.Token(), run: func(ctx context.Context, running func() bool) State {
			started.Add(1)
			for running() && ctx.Err() == nil {
				time.Sleep(2 * time.Millisecond)
			}
			return StateStopped
		}}
	}
}

func TestPauseDrainsAndResumeStartsFreshRun(t *testing.T) {
	var started atomic.Int32
	s := NewSupervisor(token.NewMemoryStore([]string{"A", "B"}), backendCount(1), 10, loopingFactory(&started))
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !s.Running() {
		t.Fatal("not running")
	}
	if !s.Pause() {
		t.Fatal("pause refused")
	}
	waitTimeout(t, s)
	if s.Running() || s.Status().Outcome != "paused" {
		t.Fatalf("status = %+v", s.Status())
	}
	if s.Pause() {
		t.Fatal("pause while stopped")
	}

	if err := s.Resume(ctx); err != nil {
		t.Fatal(err)
	}
	if !s.Running() {
		t.Fatal("resume did not start")
	}
	s.Pause()
	waitTimeout(t, s)
	if started.Load() > 4 {
		t.Fatalf("started = %d", started.Load())
	}
}

func TestCancelStopsRun(t *testing.T) {
	var started atomic.Int32
	s := NewSupervisor(token.NewMemoryStore([]string{"A"}), backendCount(1), 1, loopingFactory(&started))
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	waitTimeout(t, s)
	if s.Running() || s.Status().Outcome != "stopped" {
		t.Fatalf("status = %+v", s.Status())
	}
}

func TestSwitchAccountDenied(t *testing.T) {
	s := NewSupervisor(token.NewMemoryStore([]string{"A"}), backendCount(1), 1, nil)
	if err := s.SwitchAccount(); !errors.Is(err, ErrSwitchUnsupported) {
		t.Fatalf("err = %v", err)
	}
}

func TestStateString(t *testing.T) {
	if StateExhausted.String() != "exhausted" || State(99).String() != "unknown" {
		t.Fatal("state names")
	}
	if !StateFailed.Terminal() || StateActive.Terminal() {
		t.Fatal("terminal")
	}
}
