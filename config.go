package anchorid

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds engine configuration. The core has no command surface; hosts
// populate this struct directly, with env processing available as a
// convenience.
type Config struct {
	Token      TokenConfig
	Automation AutomationConfig
	Logging    LogConfig
	App        AppConfig
}

// AppConfig identifies the embedding application.
type AppConfig struct {
	ID       string `envconfig:"ANCHORID_APP_ID"`
	Version  string `envconfig:"ANCHORID_APP_VERSION"`
	Platform string `envconfig:"ANCHORID_PLATFORM" default:"mobile"`
}

// TokenConfig holds token-exchange endpoint configuration.
type TokenConfig struct {
	Endpoint          string        `envconfig:"ANCHORID_TOKEN_ENDPOINT"`
	Timeout           time.Duration `envconfig:"ANCHORID_HTTP_TIMEOUT" default:"30s"`
	RetryMax          int           `envconfig:"ANCHORID_HTTP_RETRY_MAX" default:"4"`
	RequestsPerSecond float64       `envconfig:"ANCHORID_HTTP_RPS" default:"0"`
}

// AutomationConfig holds automation engine tuning.
type AutomationConfig struct {
	Debounce        time.Duration `envconfig:"ANCHORID_AUTOMATION_DEBOUNCE" default:"500ms"`
	PersistDebounce time.Duration `envconfig:"ANCHORID_PERSIST_DEBOUNCE" default:"100ms"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"ANCHORID_LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"ANCHORID_LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Platform: "mobile",
		},
		Token: TokenConfig{
			Timeout:  30 * time.Second,
			RetryMax: 4,
		},
		Automation: AutomationConfig{
			Debounce:        500 * time.Millisecond,
			PersistDebounce: 100 * time.Millisecond,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
