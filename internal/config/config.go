// Package config loads VibePHP runtime configuration from .env files, an optional
// YAML file and process environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults mirror the hosted VibePHP deployment.
const (
	DefaultPort            = "8080"
	DefaultAIBaseURL       = "https://api.tokenfactory.nebius.com/v1/"
	DefaultAIModel         = "zai-org/GLM-4.5"
	DefaultExecutorURL     = "https://streamingsites.eu.org/phpvibe-executor/index.php"
	DefaultEntryFile       = "index.php"
	DefaultMaxFixAttempts  = 3
	DefaultAITimeout       = 120 * time.Second
	DefaultExecutorTimeout = 60 * time.Second
	DefaultPreviewDebounce = time.Second
	DefaultAIRatePerSec    = 2.0
	DefaultAIBurst         = 4
	DefaultHistoryWindow   = 4
	DefaultMaxTokens       = 16384
	DefaultHTTPRatePerMin  = 600
	DefaultHTTPBurst       = 50
)

// DefaultReservedFiles are infrastructure files the executor provides itself.
var DefaultReservedFiles = []string{"db_config.php", "vibe.php"}

// Config is the resolved application configuration.
type Config struct {
	Port        string `yaml:"port"`
	Environment string `yaml:"environment"`

	AI       AIConfig       `yaml:"ai"`
	Executor ExecutorConfig `yaml:"executor"`
	Agent    AgentConfig    `yaml:"agent"`

	HTTP HTTPConfig `yaml:"http"`

	RedisURL    string `yaml:"redis_url"`
	VersionsDSN string `yaml:"versions_dsn"`
	AuthSecret  string `yaml:"auth_secret"`
	LogFile     string `yaml:"log_file"`
}

// AIConfig configures the generation and fix clients.
type AIConfig struct {
	APIKey        string        `yaml:"api_key"`
	BaseURL       string        `yaml:"base_url"`
	Model         string        `yaml:"model"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerSec    float64       `yaml:"rate_per_sec"`
	Burst         int           `yaml:"burst"`
	MaxTokens     int           `yaml:"max_tokens"`
	HistoryWindow int           `yaml:"history_window"`
}

// ExecutorConfig configures the remote PHP executor.
type ExecutorConfig struct {
	URL             string        `yaml:"url"`
	Timeout         time.Duration `yaml:"timeout"`
	PreviewDebounce time.Duration `yaml:"preview_debounce"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	RatePerMinute  int      `yaml:"rate_per_minute"`
	Burst          int      `yaml:"burst"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AgentConfig configures the build-fix loop.
type AgentConfig struct {
	MaxFixAttempts int      `yaml:"max_fix_attempts"`
	ReservedFiles  []string `yaml:"reserved_files"`
	EntryFile      string   `yaml:"entry_file"`
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	return &Config{
		Port:        DefaultPort,
		Environment: EnvDevelopment,
		AI: AIConfig{
			BaseURL:       DefaultAIBaseURL,
			Model:         DefaultAIModel,
			Timeout:       DefaultAITimeout,
			RatePerSec:    DefaultAIRatePerSec,
			Burst:         DefaultAIBurst,
			MaxTokens:     DefaultMaxTokens,
			HistoryWindow: DefaultHistoryWindow,
		},
		Executor: ExecutorConfig{
			URL:             DefaultExecutorURL,
			Timeout:         DefaultExecutorTimeout,
			PreviewDebounce: DefaultPreviewDebounce,
		},
		HTTP: HTTPConfig{
			RatePerMinute: DefaultHTTPRatePerMin,
			Burst:         DefaultHTTPBurst,
		},
		Agent: AgentConfig{
			MaxFixAttempts: DefaultMaxFixAttempts,
			ReservedFiles:  append([]string(nil), DefaultReservedFiles...),
			EntryFile:      DefaultEntryFile,
		},
	}
}

// Load resolves configuration. A missing .env file is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		_ = godotenv.Load("../.env")
	}

	cfg := Default()

	if path := os.Getenv("VIBEPHP_CONFIG"); path != "" {
		if err := LoadYAML(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadYAML overlays the YAML file at path onto cfg.
func LoadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML from %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnv("PORT", cfg.Port)
	if env := GetEnvironment(); env != "" {
		cfg.Environment = env
	}

	cfg.AI.APIKey = getEnvAny([]string{"NEBIUS_API_KEY", "VITE_NEBIUS_API_KEY", "VIBEPHP_API_KEY"}, cfg.AI.APIKey)
	cfg.AI.BaseURL = getEnv("AI_BASE_URL", cfg.AI.BaseURL)
	cfg.AI.Model = getEnv("AI_MODEL", cfg.AI.Model)
	cfg.AI.Timeout = getEnvDuration("AI_TIMEOUT", cfg.AI.Timeout)
	cfg.AI.RatePerSec = getEnvFloat("AI_RATE_PER_SEC", cfg.AI.RatePerSec)
	cfg.AI.Burst = getEnvInt("AI_BURST", cfg.AI.Burst)
	cfg.AI.MaxTokens = getEnvInt("AI_MAX_TOKENS", cfg.AI.MaxTokens)

	cfg.Executor.URL = getEnv("EXECUTOR_URL", cfg.Executor.URL)
	cfg.Executor.Timeout = getEnvDuration("EXECUTOR_TIMEOUT", cfg.Executor.Timeout)
	cfg.Executor.PreviewDebounce = getEnvDuration("PREVIEW_DEBOUNCE", cfg.Executor.PreviewDebounce)

	cfg.Agent.MaxFixAttempts = getEnvInt("MAX_FIX_ATTEMPTS", cfg.Agent.MaxFixAttempts)
	cfg.Agent.EntryFile = getEnv("ENTRY_FILE", cfg.Agent.EntryFile)
	if raw := os.Getenv("RESERVED_FILES"); raw != "" {
		cfg.Agent.ReservedFiles = splitList(raw)
	}

	cfg.HTTP.RatePerMinute = getEnvInt("HTTP_RATE_PER_MINUTE", cfg.HTTP.RatePerMinute)
	cfg.HTTP.Burst = getEnvInt("HTTP_BURST", cfg.HTTP.Burst)
	if raw := os.Getenv("CORS_ALLOWED_ORIGINS"); raw != "" {
		cfg.HTTP.AllowedOrigins = splitList(raw)
	}

	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.VersionsDSN = getEnv("VERSIONS_DSN", cfg.VersionsDSN)
	cfg.AuthSecret = getEnv("AUTH_SECRET", cfg.AuthSecret)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
}

// Validate checks value ranges. A missing API key is allowed here because the
// clients report it as an actionable auth error at call time.
func (c *Config) Validate() error {
	var errs []error
	if c.AI.BaseURL == "" {
		errs = append(errs, errors.New("ai.base_url is required"))
	}
	if c.AI.Model == "" {
		errs = append(errs, errors.New("ai.model is required"))
	}
	if c.Executor.URL == "" {
		errs = append(errs, errors.New("executor.url is required"))
	}
	if c.Agent.MaxFixAttempts < 1 {
		errs = append(errs, fmt.Errorf("agent.max_fix_attempts must be >= 1, got %d", c.Agent.MaxFixAttempts))
	}
	if c.Agent.EntryFile == "" {
		errs = append(errs, errors.New("agent.entry_file is required"))
	}
	if c.AI.RatePerSec <= 0 {
		errs = append(errs, fmt.Errorf("ai.rate_per_sec must be positive, got %v", c.AI.RatePerSec))
	}
	if c.HTTP.RatePerMinute < 1 {
		errs = append(errs, fmt.Errorf("http.rate_per_minute must be >= 1, got %d", c.HTTP.RatePerMinute))
	}
	if c.AuthSecret != "" {
		if err := ValidateAuthSecret(c.AuthSecret); err != nil {
			errs = append(errs, fmt.Errorf("auth_secret: %w", err))
		}
	}
	return errors.Join(errs...)
}

// IsProduction reports whether the production environment is selected.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAny(keys []string, defaultValue string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
