package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/samber/lo"

	"github.com/pysugar/chat-automator/internal/automation"
	"github.com/pysugar/chat-automator/internal/generator"
	"github.com/pysugar/chat-automator/internal/monitor"
	"github.com/pysugar/chat-automator/internal/util"
	"github.com/pysugar/chat-automator/internal/version"
)

// Controller is the run control surface. automation.Supervisor implements it.
type Controller interface {
	Start(ctx context.Context) error
	Pause() bool
	Resume(ctx context.Context) error
	Status() automation.Status
	SwitchAccount() error
}

type StatsSource interface {
	Stats() map[generator.BackendID]generator.UsageStat
}

type TokenLister interface {
	Tokens() []string
}

// ActivitySource is satisfied by monitor.ChatMonitor.
type ActivitySource interface {
	Recent(limit, worker int) []monitor.Event
	Stats() monitor.Stats
}

type Deps struct {
	Controller Controller
	Stats      StatsSource
	Tokens     TokenLister
	// Activity is optional; /activity is only mounted when set.
	Activity ActivitySource
	// Password enables basic auth when set.
	Password string
}

// NewRouter builds the local control API. Runs started through it live on
// runCtx, not on the request context.
func NewRouter(runCtx context.Context, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(basicAuth(deps.Password))

	r.Get("/status", StatusHandler(deps.Controller))
	r.Get("/stats", StatsHandler(deps.Stats))
	r.Get("/tokens", TokensHandler(deps.Tokens))
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": version.String()})
	})
	if deps.Activity != nil {
		r.Get("/activity", ActivityHandler(deps.Activity))
	}
	r.Post("/start", StartHandler(runCtx, deps.Controller))
	r.Post("/resume", ResumeHandler(runCtx, deps.Controller))
	r.Post("/pause", PauseHandler(deps.Controller))
	r.Post("/switch-account", SwitchAccountHandler(deps.Controller))
	return r
}

func basicAuth(password string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if password == "" {
				next.ServeHTTP(w, r)
				return
			}
			_, pass, ok := r.BasicAuth()
			if !ok || pass != password {
				w.Header().Set("WWW-Authenticate", `Basic realm="chatrunner"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func StatusHandler(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, c.Status())
	}
}

func StartHandler(runCtx context.Context, c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := c.Start(runCtx); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusAccepted, c.Status())
	}
}

func ResumeHandler(runCtx context.Context, c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := c.Resume(runCtx); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusAccepted, c.Status())
	}
}

func PauseHandler(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paused := c.Pause()
		writeJSON(w, http.StatusOK, map[string]interface{}{"paused": paused})
	}
}

func SwitchAccountHandler(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := c.SwitchAccount(); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, automation.ErrSwitchUnsupported) {
				status = http.StatusConflict
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"switched": true})
	}
}

type backendStats struct {
	Backend generator.BackendID `json:"backend"`
	generator.UsageStat
}

func StatsHandler(src StatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := src.Stats()
		out := lo.Map(generator.SortedIDs(stats), func(id generator.BackendID, _ int) backendStats {
			return backendStats{Backend: id, UsageStat: stats[id]}
		})
		writeJSON(w, http.StatusOK, map[string]interface{}{"backends": out})
	}
}

// ActivityHandler lists recent chat events. Query: limit, worker.
func ActivityHandler(src ActivitySource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		worker, _ := strconv.Atoi(r.URL.Query().Get("worker"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"stats":  src.Stats(),
			"events": src.Recent(limit, worker),
		})
	}
}

func TokensHandler(src TokenLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		masked := lo.Map(src.Tokens(), func(tok string, _ int) string { return util.MaskToken(tok) })
		writeJSON(w, http.StatusOK, map[string]interface{}{"count": len(masked), "tokens": masked})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{"message": err.Error()},
	})
}
