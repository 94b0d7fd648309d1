package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	RegistryBaseURL string        `envconfig:"REGISTRY_BASE_URL" required:"true"`
	RegistryToken   string        `envconfig:"REGISTRY_TOKEN" required:"true"`
	RegistryTimeout time.Duration `envconfig:"REGISTRY_TIMEOUT" default:"10s"`
	RegistryTTL     time.Duration `envconfig:"REGISTRY_TTL" default:"720h"`

	RetryInitialDelay time.Duration `envconfig:"RETRY_INITIAL_DELAY" default:"1s"`
	RetryMaxDelay     time.Duration `envconfig:"RETRY_MAX_DELAY" default:"30s"`
	RetryMaxAttempts  int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`

	SweepInterval   time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"`
	SweepBatchSize  int           `envconfig:"SWEEP_BATCH_SIZE" default:"100"`
	RecheckMaxCount int           `envconfig:"RECHECK_MAX_COUNT" default:"8"`

	DBPath   string `envconfig:"DB_PATH" default:"hashgate.db"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`

	API struct {
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}

	Telemetry struct {
		Enabled        bool   `split_words:"true" default:"true"`
		ServiceName    string `split_words:"true" default:"hashgate"`
		ServiceVersion string `split_words:"true" default:"dev"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"127.0.0.1:8480"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if cfg.RetryMaxAttempts < 1 {
		return nil, fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", cfg.RetryMaxAttempts)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
