package generator

import (
	"log"
	"net/http"

	"github.com/pysugar/chat-automator/internal/config"
	"github.com/pysugar/chat-automator/internal/generator/gemini"
	"github.com/pysugar/chat-automator/internal/generator/groq"
)

// RegisterConfigured adds every enabled backend that has an API key.
// httpClient may be nil.
func RegisterConfigured(m *Manager, cfg config.Config, httpClient *http.Client) int {
	n := 0
	if cfg.Groq.Enabled {
		if key := cfg.Groq.ResolveAPIKey(); key != "" {
			m.Register(Groq, groq.NewBackendWithClient(key, cfg.Groq.BaseURL, cfg.Groq.Model, cfg.Groq.Timeout, httpClient), cfg.Groq.Weight, cfg.Groq.DailyLimit)
			n++
		} else {
			log.Printf("⚠️ Groq API key not found (%s or %s), backend disabled", cfg.Groq.APIKeyFile, cfg.Groq.APIKeyEnv)
		}
	}
	if cfg.Gemini.Enabled {
		if key := cfg.Gemini.ResolveAPIKey(); key != "" {
			m.Register(Gemini, gemini.NewBackendWithClient(key, gemini.Options{
				BaseURL:    cfg.Gemini.BaseURL,
				Model:      cfg.Gemini.Model,
				Timeout:    cfg.Gemini.Timeout,
				RetryCount: cfg.Gemini.RetryCount,
				RetryDelay: cfg.Gemini.RetryDelay,
			}, httpClient), cfg.Gemini.Weight, cfg.Gemini.DailyLimit)
			n++
		} else {
			log.Printf("⚠️ Gemini API key not found (%s or %s), backend disabled", cfg.Gemini.APIKeyFile, cfg.Gemini.APIKeyEnv)
		}
	}
	if n > 0 {
		log.Printf("✅ %d generator backend(s) registered", n)
	}
	return n
}
