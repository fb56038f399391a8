package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/pysugar/chat-automator/internal/auth/token"
	"github.com/pysugar/chat-automator/internal/automation"
	"github.com/pysugar/chat-automator/internal/chat"
	"github.com/pysugar/chat-automator/internal/config"
	"github.com/pysugar/chat-automator/internal/control"
	"github.com/pysugar/chat-automator/internal/generator"
	"github.com/pysugar/chat-automator/internal/logging"
	"github.com/pysugar/chat-automator/internal/monitor"
	"github.com/pysugar/chat-automator/internal/proxy"
	"github.com/pysugar/chat-automator/internal/signin"
	"github.com/pysugar/chat-automator/internal/upstream"
	"github.com/pysugar/chat-automator/internal/util"
	"github.com/pysugar/chat-automator/internal/version"
)

// app holds the process-wide instances shared by every command.
type app struct {
	cfg      config.Config
	proxies  *proxy.Rotator
	client   *upstream.Client
	store    *token.Store
	backends *generator.Manager
	fallback *generator.FallbackPool
	activity *monitor.ChatMonitor
}

func withApp(ctx context.Context, configPath string, verbose bool, fn func(context.Context, *app) error) error {
	if err := config.LoadDotEnv(); err != nil {
		log.Printf("⚠️ Failed to load .env: %v", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	flush, err := logging.Install(cfg.Log.File, verbose || cfg.Log.Verbose || util.IsVerbose())
	if err != nil {
		log.Printf("⚠️ Detail log disabled: %v", err)
	}
	defer flush()

	a := newApp(cfg)
	ctx = logging.WithRunID(ctx, logging.GenerateRunID())
	return fn(ctx, a)
}

func newApp(cfg config.Config) *app {
	proxies := proxy.NewStaticRotator(nil)
	if cfg.Proxy.Enabled {
		proxies = proxy.NewRotator(cfg.Files.Proxies)
	}

	exec := upstream.NewExecutor(proxies, cfg.Retry.MaxRetries, cfg.Retry.BaseDelay, cfg.Retry.Multiplier)
	client := upstream.NewClient(cfg.BaseURL, cfg.Headers, proxies, exec)
	if cfg.Chat.Timeout > 0 {
		client.ChatTimeout = cfg.Chat.Timeout
	}
	if cfg.SignIn.Timeout > 0 {
		client.SignInTimeout = cfg.SignIn.Timeout
	}

	backends := generator.NewManager()
	generator.RegisterConfigured(backends, cfg, nil)

	return &app{
		cfg:      cfg,
		proxies:  proxies,
		client:   client,
		store:    token.NewStore(cfg.Files.Tokens, cfg.Threads),
		backends: backends,
		fallback: generator.NewFallbackPool(),
		activity: monitor.NewChatMonitor(),
	}
}

func (a *app) supervisor() *automation.Supervisor {
	deps := automation.WorkerDeps{
		API:      a.client,
		Messages: a.backends,
		Fallback: a.fallback,
		Prompt:   a.cfg.Strategy.Prompt,
		Delays:   a.cfg.Delays,
		Chat: chat.Options{
			Language:    a.cfg.Chat.Language,
			VerifyDelay: a.cfg.Chat.VerifyDelay,
			SampleFile:  a.cfg.Chat.SampleFile,
		},
		Monitor: a.activity,
	}
	return automation.NewSupervisor(a.store, a.backends, a.cfg.Threads, func(index int, b *token.Binding) automation.Runner {
		return automation.NewWorker(index, b, deps)
	})
}

func (a *app) signInClient() *signin.Client {
	return signin.NewClient(a.client, a.store, signin.Options{
		Domain:       a.cfg.SignIn.Domain,
		URI:          a.cfg.SignIn.URI,
		ChainID:      a.cfg.SignIn.ChainID,
		ReferralCode: a.cfg.ReferralCode,
		Attempts:     a.cfg.SignIn.Attempts,
		RetryDelay:   a.cfg.SignIn.RetryDelay,
		Threads:      a.cfg.Threads,
	})
}

// prepareTokens resets, verifies and if needed replenishes the token file.
func (a *app) prepareTokens(ctx context.Context) error {
	if a.cfg.Files.ResetTokensOnStart {
		if err := a.store.Reset(); err != nil {
			return fmt.Errorf("resetting token file: %w", err)
		}
	}

	valid, err := a.verify(ctx)
	if err != nil {
		return err
	}
	if len(valid) > 0 {
		return nil
	}

	log.Printf("🎫 No valid session token, signing in from %s", a.cfg.Files.PrivateKeys)
	if err := signInWallets(ctx, a); err != nil {
		return err
	}
	_, err = a.store.Load()
	return err
}

func (a *app) verify(ctx context.Context) ([]string, error) {
	tokens, err := a.store.Load()
	if errors.Is(err, token.ErrNoTokensFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a.store.VerifyAll(ctx, tokens, a.client.VerifyToken)
}

func verifyTokens(ctx context.Context, a *app) error {
	valid, err := a.verify(ctx)
	if err != nil {
		return err
	}
	if len(valid) == 0 {
		return token.ErrNoTokensFound
	}
	return nil
}

func signInWallets(ctx context.Context, a *app) error {
	keys, err := signin.LoadKeys(a.cfg.Files.PrivateKeys)
	if err != nil {
		return err
	}
	if tokens := a.signInClient().AuthenticateAll(ctx, keys); len(tokens) == 0 {
		return fmt.Errorf("no wallet could sign in")
	}
	return nil
}

func runAutomation(ctx context.Context, a *app) error {
	log.Printf("🚀 %s starting against %s", version.String(), a.cfg.BaseURL)
	if err := a.proxies.Err(); err != nil {
		return fmt.Errorf("loading proxies: %w", err)
	}
	if err := a.prepareTokens(ctx); err != nil {
		return err
	}

	sup := a.supervisor()
	if err := sup.Start(ctx); err != nil {
		return err
	}

	if !a.cfg.Control.Enabled {
		if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		log.Printf("🏁 Automation finished: %s", sup.Status().Outcome)
		return nil
	}

	srv := &http.Server{
		Addr: a.cfg.Control.Addr,
		Handler: control.NewRouter(ctx, control.Deps{
			Controller: sup,
			Stats:      a.backends,
			Tokens:     a.store,
			Activity:   a.activity,
			Password:   a.cfg.Control.Password,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("📊 Control API: http://%s/status", a.cfg.Control.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control API: %w", err)
		}
	case <-ctx.Done():
	}

	log.Printf("🛑 Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = sup.Wait(shutdownCtx)
	return nil
}
