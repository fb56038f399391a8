package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config.yaml"

// Config is loaded once at process start. There is no hot reload.
type Config struct {
	BaseURL      string            `yaml:"base_url"`
	Headers      map[string]string `yaml:"headers"`
	Threads      int               `yaml:"threads"`
	ReferralCode string            `yaml:"referral_code"`

	Files    FilesConfig    `yaml:"files"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Retry    RetryConfig    `yaml:"retry"`
	Delays   DelayConfig    `yaml:"delays"`
	Chat     ChatConfig     `yaml:"chat"`
	Strategy StrategyConfig `yaml:"strategy"`
	Groq     BackendConfig  `yaml:"groq"`
	Gemini   BackendConfig  `yaml:"gemini"`
	SignIn   SignInConfig   `yaml:"signin"`
	Control  ControlConfig  `yaml:"control"`
	Log      LogConfig      `yaml:"log"`
}

type FilesConfig struct {
	Tokens             string `yaml:"tokens"`
	Proxies            string `yaml:"proxies"`
	PrivateKeys        string `yaml:"private_keys"`
	ResetTokensOnStart bool   `yaml:"reset_tokens_on_start"`
}

type ProxyConfig struct {
	Enabled bool `yaml:"enabled"`
}

type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	Multiplier float64       `yaml:"multiplier"`
}

// DelayConfig holds the worker's sleep windows. Each pair is a uniform [min,max] draw.
type DelayConfig struct {
	MinChat          time.Duration `yaml:"min_chat"`
	MaxChat          time.Duration `yaml:"max_chat"`
	ShortCooldownMin time.Duration `yaml:"short_cooldown_min"`
	ShortCooldownMax time.Duration `yaml:"short_cooldown_max"`
	LongCooldownMin  time.Duration `yaml:"long_cooldown_min"`
	LongCooldownMax  time.Duration `yaml:"long_cooldown_max"`
	MaxConsecutive   int           `yaml:"max_consecutive_errors"`
}

type ChatConfig struct {
	Language    string        `yaml:"language"`
	Timeout     time.Duration `yaml:"timeout"`
	VerifyDelay time.Duration `yaml:"verify_delay"`
	SampleFile  string        `yaml:"sample_file"`
}

type StrategyConfig struct {
	Prompt string `yaml:"prompt"`
}

type BackendConfig struct {
	Enabled    bool          `yaml:"enabled"`
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	APIKey     string        `yaml:"api_key"`
	APIKeyFile string        `yaml:"api_key_file"`
	APIKeyEnv  string        `yaml:"api_key_env"`
	Weight     float64       `yaml:"weight"`
	DailyLimit int           `yaml:"daily_limit"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

type SignInConfig struct {
	Domain     string        `yaml:"domain"`
	URI        string        `yaml:"uri"`
	ChainID    int           `yaml:"chain_id"`
	Attempts   int           `yaml:"attempts"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	Timeout    time.Duration `yaml:"timeout"`
}

type ControlConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
}

type LogConfig struct {
	File    string `yaml:"file"`
	Verbose bool   `yaml:"verbose"`
}

func Default() Config {
	return Config{
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Threads: 10,
		Files: FilesConfig{
			Tokens:      "session-token.key",
			Proxies:     "proxies.txt",
			PrivateKeys: "priv.txt",
		},
		Proxy: ProxyConfig{Enabled: true},
		Retry: RetryConfig{
			MaxRetries: 5,
			BaseDelay:  2 * time.Second,
			Multiplier: 1.5,
		},
		Delays: DelayConfig{
			MinChat:          160 * time.Second,
			MaxChat:          200 * time.Second,
			ShortCooldownMin: 5 * time.Second,
			ShortCooldownMax: 10 * time.Second,
			LongCooldownMin:  60 * time.Second,
			LongCooldownMax:  180 * time.Second,
			MaxConsecutive:   3,
		},
		Chat: ChatConfig{
			Language:    "english",
			Timeout:     30 * time.Second,
			VerifyDelay: 3 * time.Second,
			SampleFile:  "response-sample.txt",
		},
		Strategy: StrategyConfig{
			Prompt: "Generate a random, interesting question or prompt for an AI assistant. " +
				"Keep it concise (max 2 sentences) and make it something that would lead to an engaging response. " +
				"Reply with the question only.",
		},
		Groq: BackendConfig{
			Enabled:    true,
			BaseURL:    "https://api.groq.com/openai/v1",
			Model:      "llama3-8b-8192",
			APIKeyFile: "groq-api.key",
			APIKeyEnv:  "GROQ_API_KEY",
			Weight:     1,
			DailyLimit: 1000,
			Timeout:    30 * time.Second,
		},
		Gemini: BackendConfig{
			Enabled:    true,
			BaseURL:    "https://generativelanguage.googleapis.com",
			Model:      "gemini-1.5-flash",
			APIKeyFile: "gemini-api.key",
			APIKeyEnv:  "GEMINI_API_KEY",
			Weight:     1,
			DailyLimit: 1000,
			Timeout:    30 * time.Second,
			RetryCount: 2,
			RetryDelay: 5 * time.Second,
		},
		SignIn: SignInConfig{
			ChainID:    1,
			Attempts:   5,
			RetryDelay: 3 * time.Second,
			Timeout:    60 * time.Second,
		},
		Control: ControlConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8090",
		},
		Log: LogConfig{File: "info.log"},
	}
}

// Load reads path over the defaults, applies env overrides and validates.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Default(), fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDotEnv loads .env files into the process env; missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(getenv("CHAT_BASE_URL")); v != "" {
		c.BaseURL = v
	}
	if v := strings.TrimSpace(getenv("CHAT_THREADS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Threads = n
		}
	}
	if v := strings.TrimSpace(getenv("CHAT_CONTROL_ADDR")); v != "" {
		c.Control.Addr = v
	}
	if v := strings.TrimSpace(getenv("CHAT_CONTROL_PASSWORD")); v != "" {
		c.Control.Password = v
	}
	if v := strings.TrimSpace(getenv("CHAT_REFERRAL_CODE")); v != "" {
		c.ReferralCode = v
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("base_url is required (set it in config or CHAT_BASE_URL)")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base_url %q", c.BaseURL)
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Threads <= 0 {
		c.Threads = 10
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	if c.Retry.Multiplier < 1 {
		c.Retry.Multiplier = 1
	}
	if err := checkWindow("delays.min_chat/max_chat", c.Delays.MinChat, c.Delays.MaxChat); err != nil {
		return err
	}
	if err := checkWindow("delays.short_cooldown", c.Delays.ShortCooldownMin, c.Delays.ShortCooldownMax); err != nil {
		return err
	}
	if err := checkWindow("delays.long_cooldown", c.Delays.LongCooldownMin, c.Delays.LongCooldownMax); err != nil {
		return err
	}
	if c.Delays.MaxConsecutive <= 0 {
		c.Delays.MaxConsecutive = 3
	}
	if c.Groq.Weight < 0 || c.Gemini.Weight < 0 {
		return fmt.Errorf("backend weights must be >= 0")
	}
	if c.SignIn.Domain == "" {
		c.SignIn.Domain = deriveDomain(c.Headers["Origin"], c.BaseURL)
	}
	if c.SignIn.URI == "" {
		c.SignIn.URI = "https://" + c.SignIn.Domain + "/"
	}
	return nil
}

// ResolveAPIKey returns the backend key. Priority: api_key > api_key_file > api_key_env.
func (b BackendConfig) ResolveAPIKey() string {
	if k := strings.TrimSpace(b.APIKey); k != "" {
		return k
	}
	if b.APIKeyFile != "" {
		if data, err := os.ReadFile(b.APIKeyFile); err == nil {
			if k := strings.TrimSpace(string(data)); k != "" {
				return k
			}
		}
	}
	if b.APIKeyEnv != "" {
		return strings.TrimSpace(getenv(b.APIKeyEnv))
	}
	return ""
}

func checkWindow(name string, lo, hi time.Duration) error {
	if lo < 0 || hi < lo {
		return fmt.Errorf("%s: invalid window [%s, %s]", name, lo, hi)
	}
	return nil
}

func deriveDomain(origin, baseURL string) string {
	for _, raw := range []string{origin, baseURL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	return "localhost"
}

var getenv = func(key string) string {
	return os.Getenv(key)
}
