package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pysugar/chat-automator/internal/auth/token"
	"github.com/pysugar/chat-automator/internal/automation"
	"github.com/pysugar/chat-automator/internal/generator"
	"github.com/pysugar/chat-automator/internal/monitor"
)

type fakeController struct {
	running  bool
	startErr error
	started  int
}

func (f *fakeController) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started++
	f.running = true
	return nil
}

func (f *fakeController) Pause() bool {
	was := f.running
	f.running = false
	return was
}

func (f *fakeController) Resume(ctx context.Context) error { return f.Start(ctx) }

func (f *fakeController) Status() automation.Status {
	return automation.Status{Running: f.running, Workers: []automation.WorkerStatus{{Index: 1, Token: "abcdefgh", State: automation.StateActive}}}
}

func (f *fakeController) SwitchAccount() error { return automation.ErrSwitchUnsupported }

type fakeStats map[generator.BackendID]generator.UsageStat

func (f fakeStats) Stats() map[generator.BackendID]generator.UsageStat { return f }

func newTestRouter(c *fakeController, password string) http.Handler {
	return NewRouter(context.Background(), Deps{
		Controller: c,
		Stats: fakeStats{
			generator.Groq:   {Calls: 3, Limit: 10, Remaining: 7},
			generator.Gemini: {Calls: 1, Errors: 2, Limit: 10, Remaining: 9},
		},
		Tokens:   token.NewMemoryStore([]string{"0123456789abcdef"}),
		Password: password,
	})
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestStatusAndStartPause(t *testing.T) {
	c := &fakeController{}
	h := newTestRouter(c, "")

	rec := do(t, h, http.MethodPost, "/start")
	if rec.Code != http.StatusAccepted || c.started != 1 {
		t.Fatalf("start code = %d started = %d", rec.Code, c.started)
	}

	rec = do(t, h, http.MethodGet, "/status")
	var st struct {
		Running bool `json:"running"`
		Workers []struct {
			State string `json:"state"`
		} `json:"workers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.Running || len(st.Workers) != 1 || st.Workers[0].State != "active" {
		t.Fatalf("status = %+v", st)
	}

	rec = do(t, h, http.MethodPost, "/pause")
	if !strings.Contains(rec.Body.String(), `"paused":true`) {
		t.Fatalf("pause body = %s", rec.Body.String())
	}
}

func TestStartErrorIsConflict(t *testing.T) {
	c := &fakeController{startErr: token.ErrNoTokensFound}
	rec := do(t, newTestRouter(c, ""), http.MethodPost, "/start")
	if rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), "no session tokens") {
		t.Fatalf("code = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestSwitchAccountDenied(t *testing.T) {
	rec := do(t, newTestRouter(&fakeController{}, ""), http.MethodPost, "/switch-account")
	if rec.Code != http.StatusConflict {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestStatsSortedByBackend(t *testing.T) {
	rec := do(t, newTestRouter(&fakeController{}, ""), http.MethodGet, "/stats")
	var body struct {
		Backends []struct {
			Backend   string `json:"backend"`
			Calls     int    `json:"calls"`
			Remaining int    `json:"remaining"`
		} `json:"backends"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Backends) != 2 || body.Backends[0].Backend != "gemini" || body.Backends[1].Calls != 3 {
		t.Fatalf("stats = %+v", body)
	}
}

func TestActivity(t *testing.T) {
	mon := monitor.NewChatMonitor()
	mon.Record(monitor.Event{Worker: 1, Prompt: "a", Success: true})
	mon.Record(monitor.Event{Worker: 2, Prompt: "b"})

	h := NewRouter(context.Background(), Deps{Controller: &fakeController{}, Activity: mon})
	rec := do(t, h, http.MethodGet, "/activity?worker=2")
	var body struct {
		Stats  monitor.Stats   `json:"stats"`
		Events []monitor.Event `json:"events"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Stats.Total != 2 || len(body.Events) != 1 || body.Events[0].Prompt != "b" {
		t.Fatalf("activity = %+v", body)
	}

	if rec := do(t, newTestRouter(&fakeController{}, ""), http.MethodGet, "/activity"); rec.Code != http.StatusNotFound {
		t.Fatalf("unmounted activity code = %d", rec.Code)
	}
}

func TestTokensAreMasked(t *testing.T) {
	rec := do(t, newTestRouter(&fakeController{}, ""), http.MethodGet, "/tokens")
	if strings.Contains(rec.Body.String(), "89abcdef") || !strings.Contains(rec.Body.String(), "01234567") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestBasicAuth(t *testing.T) {
	h := newTestRouter(&fakeController{}, "secret")
	if rec := do(t, h, http.MethodGet, "/status"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authorized code = %d", rec.Code)
	}
}
