package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setEnv sets an environment variable, ignoring errors (for test setup)
func setEnv(key, value string) {
	_ = os.Setenv(key, value)
}

// unsetEnv unsets an environment variable, ignoring errors (for test cleanup)
func unsetEnv(key string) {
	_ = os.Unsetenv(key)
}

func TestLoad(t *testing.T) {
	// Save original env vars
	originalEnv := make(map[string]string)
	envVars := []string{
		"DB_PATH", "API_PORT", "LOG_LEVEL", "LOG_FORMAT", "LOG_FILE",
		"LLM_BASE_URL", "LLM_API_KEY", "LLM_MODEL", "SOURCES_CONFIG",
	}
	for _, key := range envVars {
		originalEnv[key] = os.Getenv(key)
		unsetEnv(key)
	}
	defer func() {
		for key, value := range originalEnv {
			if value != "" {
				setEnv(key, value)
			} else {
				unsetEnv(key)
			}
		}
	}()

	tests := []struct {
		name        string
		setupEnv    func(*testing.T)
		wantErr     bool
		checkConfig func(*Config) bool
	}{
		{
			name: "defaults",
			setupEnv: func(t *testing.T) {
				setEnv("DB_PATH", filepath.Join(t.TempDir(), "lifecal.db"))
				setEnv("SOURCES_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
			},
			wantErr: false,
			checkConfig: func(cfg *Config) bool {
				return cfg.APIPort == "9000" &&
					cfg.LogLevel == slog.LevelInfo &&
					cfg.LogFormat == "text" &&
					cfg.LLMBaseURL == ""
			},
		},
		{
			name: "explicit log settings",
			setupEnv: func(t *testing.T) {
				setEnv("DB_PATH", filepath.Join(t.TempDir(), "lifecal.db"))
				setEnv("SOURCES_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
				setEnv("LOG_LEVEL", "debug")
				setEnv("LOG_FORMAT", "json")
			},
			wantErr: false,
			checkConfig: func(cfg *Config) bool {
				return cfg.LogLevel == slog.LevelDebug && cfg.LogFormat == "json"
			},
		},
		{
			name: "invalid log level",
			setupEnv: func(t *testing.T) {
				setEnv("DB_PATH", filepath.Join(t.TempDir(), "lifecal.db"))
				setEnv("LOG_LEVEL", "chatty")
			},
			wantErr: true,
		},
		{
			name: "invalid log format",
			setupEnv: func(t *testing.T) {
				setEnv("DB_PATH", filepath.Join(t.TempDir(), "lifecal.db"))
				setEnv("LOG_FORMAT", "xml")
			},
			wantErr: true,
		},
		{
			name: "model base URL without model name",
			setupEnv: func(t *testing.T) {
				setEnv("DB_PATH", filepath.Join(t.TempDir(), "lifecal.db"))
				setEnv("SOURCES_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
				setEnv("LLM_BASE_URL", "http://localhost:11434")
			},
			wantErr: true,
		},
		{
			name: "complete model config",
			setupEnv: func(t *testing.T) {
				setEnv("DB_PATH", filepath.Join(t.TempDir(), "lifecal.db"))
				setEnv("SOURCES_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
				setEnv("LLM_BASE_URL", "http://localhost:11434")
				setEnv("LLM_MODEL", "llama3")
			},
			wantErr: false,
			checkConfig: func(cfg *Config) bool {
				return cfg.LLMModel == "llama3"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range envVars {
				unsetEnv(key)
			}
			tt.setupEnv(t)

			cfg, err := Load()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if tt.checkConfig != nil && !tt.checkConfig(cfg) {
				t.Errorf("Load() config check failed: %+v", cfg)
			}
		})
	}
}

func TestLoad_MissingSourcesFileEnablesMoodOnly(t *testing.T) {
	setEnv("DB_PATH", filepath.Join(t.TempDir(), "lifecal.db"))
	setEnv("SOURCES_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	defer func() {
		unsetEnv("DB_PATH")
		unsetEnv("SOURCES_CONFIG")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	mood, ok := cfg.Sources["mood"]
	if !ok || !mood.Enabled {
		t.Fatalf("sources = %+v, want mood enabled by default", cfg.Sources)
	}
	if mood.SyncEvery != 5*time.Minute {
		t.Errorf("mood interval = %v, want 5m", mood.SyncEvery)
	}
	for name, sc := range cfg.Sources {
		if name != "mood" && sc.Enabled {
			t.Errorf("source %s enabled without configuration", name)
		}
	}
}

func TestLoad_SourcesYAML(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "sources.yaml")
	content := `limitless:
  enabled: true
  api_key: ${LIMITLESS_API_KEY}
  interval: 30m
  page_limit: 25
omi:
  enabled: true
  api_key: omi-key
  fetch:
    facts: true
    todos: false
weather:
  enabled: true
  latitude: 52.52
  longitude: 13.405
mood:
  enabled: false
`
	if err := os.WriteFile(yamlPath, []byte(content), 0644); err != nil {
		t.Fatalf("write sources.yaml: %v", err)
	}

	setEnv("DB_PATH", filepath.Join(dir, "lifecal.db"))
	setEnv("SOURCES_CONFIG", yamlPath)
	setEnv("LIMITLESS_API_KEY", "sk-limitless")
	defer func() {
		unsetEnv("DB_PATH")
		unsetEnv("SOURCES_CONFIG")
		unsetEnv("LIMITLESS_API_KEY")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	ll := cfg.Sources["limitless"]
	if !ll.Enabled || ll.PageLimit != 25 {
		t.Errorf("limitless = %+v", ll)
	}
	if ll.APIKey != "sk-limitless" {
		t.Errorf("limitless api_key = %q, want env expansion", ll.APIKey)
	}
	if ll.SyncEvery != 30*time.Minute {
		t.Errorf("limitless interval = %v, want 30m", ll.SyncEvery)
	}

	omi := cfg.Sources["omi"]
	if !omi.Fetch.Facts || omi.Fetch.Todos {
		t.Errorf("omi fetch flags = %+v", omi.Fetch)
	}
	if omi.SyncEvery != defaultSyncInterval {
		t.Errorf("omi interval = %v, want default", omi.SyncEvery)
	}

	weather := cfg.Sources["weather"]
	if weather.Latitude != 52.52 || weather.Longitude != 13.405 {
		t.Errorf("weather coordinates = %v, %v", weather.Latitude, weather.Longitude)
	}

	// The yaml block overrides the built-in mood default
	if cfg.Sources["mood"].Enabled {
		t.Error("mood still enabled after explicit disable")
	}
}

func TestLoad_InvalidInterval(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "sources.yaml")
	content := "limitless:\n  enabled: true\n  interval: soonish\n"
	if err := os.WriteFile(yamlPath, []byte(content), 0644); err != nil {
		t.Fatalf("write sources.yaml: %v", err)
	}

	setEnv("DB_PATH", filepath.Join(dir, "lifecal.db"))
	setEnv("SOURCES_CONFIG", yamlPath)
	defer func() {
		unsetEnv("DB_PATH")
		unsetEnv("SOURCES_CONFIG")
	}()

	if _, err := Load(); err == nil {
		t.Error("Load() error = nil, want invalid interval error")
	}
}
