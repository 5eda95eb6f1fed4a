package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	DBPath    string
	APIPort   string
	LogLevel  slog.Level
	LogFormat string // "text" or "json"
	LogFile   string // when set, logs also rotate into this file

	// LLM settings for the narrative rewriter; all optional. An empty base
	// URL disables the model and the templated digest is served directly.
	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string

	SourcesPath string
	Sources     map[string]SourceConfig
}

// SourceConfig is one source's block in sources.yaml.
type SourceConfig struct {
	Enabled   bool    `yaml:"enabled"`
	BaseURL   string  `yaml:"base_url"`
	APIKey    string  `yaml:"api_key"` // supports ${ENV_VAR} expansion
	Interval  string  `yaml:"interval"`
	PageLimit int     `yaml:"page_limit"`
	MaxPages  int     `yaml:"max_pages"`
	Latitude  float64 `yaml:"latitude"`  // weather only
	Longitude float64 `yaml:"longitude"` // weather only
	Fetch     struct {
		Facts bool `yaml:"facts"`
		Todos bool `yaml:"todos"`
	} `yaml:"fetch"` // omi sub-flags: which extra record kinds to pull

	// SyncEvery is Interval parsed and defaulted; filled by Load.
	SyncEvery time.Duration `yaml:"-"`
}

const defaultSyncInterval = 15 * time.Minute

// Load reads configuration from environment variables and sources.yaml.
// It applies defaults for optional fields and validates the rest.
// If a .env file exists in the current directory or project root, it will be
// loaded automatically; variables already set take precedence.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	// Check current directory first, then walk up to find project root (where go.mod is)
	_ = godotenv.Load() // Try current directory

	wd, err := os.Getwd()
	if err == nil {
		dir := wd
		for i := 0; i < 5; i++ { // Limit search depth
			envPath := filepath.Join(dir, ".env")
			if _, err := os.Stat(envPath); err == nil {
				_ = godotenv.Load(envPath)
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break // Reached filesystem root
			}
			dir = parent
		}
	}

	cfg := &Config{
		DBPath:      getEnv("DB_PATH", "./data/lifecal.db"),
		APIPort:     getEnv("API_PORT", "9000"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
		LogFile:     getEnv("LOG_FILE", ""),
		LLMBaseURL:  getEnv("LLM_BASE_URL", ""),
		LLMAPIKey:   getEnv("LLM_API_KEY", "dummy-key"),
		LLMModel:    getEnv("LLM_MODEL", ""),
		SourcesPath: getEnv("SOURCES_CONFIG", "./sources.yaml"),
	}

	cfg.LogLevel, err = parseLogLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("LOG_FORMAT must be \"text\" or \"json\", got %q", cfg.LogFormat)
	}
	if cfg.LLMBaseURL != "" && cfg.LLMModel == "" {
		return nil, fmt.Errorf("LLM_MODEL is required when LLM_BASE_URL is set")
	}

	cfg.Sources, err = loadSources(cfg.SourcesPath)
	if err != nil {
		return nil, err
	}

	// Create ./data directory if it doesn't exist (for the DB file)
	dataDir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return cfg, nil
}

// loadSources parses sources.yaml. A missing file is not an error: the
// manual mood source needs no credentials, so it is enabled by default and
// everything else stays off until configured.
func loadSources(path string) (map[string]SourceConfig, error) {
	sources := map[string]SourceConfig{
		"mood": {Enabled: true, Interval: "5m"},
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return finishSources(sources)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	parsed := make(map[string]SourceConfig)
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for name, sc := range parsed {
		sources[name] = sc
	}
	return finishSources(sources)
}

func finishSources(sources map[string]SourceConfig) (map[string]SourceConfig, error) {
	for name, sc := range sources {
		sc.APIKey = os.ExpandEnv(sc.APIKey)
		sc.BaseURL = os.ExpandEnv(sc.BaseURL)

		sc.SyncEvery = defaultSyncInterval
		if sc.Interval != "" {
			every, err := time.ParseDuration(sc.Interval)
			if err != nil {
				return nil, fmt.Errorf("source %s: invalid interval %q: %w", name, sc.Interval, err)
			}
			if every <= 0 {
				return nil, fmt.Errorf("source %s: interval must be positive", name)
			}
			sc.SyncEvery = every
		}
		sources[name] = sc
	}
	return sources, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("LOG_LEVEL must be debug, info, warn, or error, got %q", s)
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
