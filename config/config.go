package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env      string `env:"ENV"       envDefault:"local" validate:"required,oneof=local staging production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"  validate:"oneof=debug info warn error"`

	// Where schedule definitions come from.
	Source        string `env:"SOURCE"         envDefault:"remote"    validate:"required,oneof=remote file"`
	APIURL        string `env:"API_URL"                               validate:"required_if=Source remote"`
	AgentUUID     string `env:"AGENT_UUID"                            validate:"required_if=Source remote"`
	AgentKey      string `env:"AGENT_KEY"                             validate:"required_if=Source remote"`
	SchedulesFile string `env:"SCHEDULES_FILE"                        validate:"required_if=Source file"`
	SyncSpec      string `env:"SYNC_SPEC"      envDefault:"@every 1m" validate:"required"`

	PollIntervalSec  int    `env:"POLL_INTERVAL_SEC"  envDefault:"1"    validate:"min=1,max=60"`
	Concurrency      int    `env:"CONCURRENCY"        envDefault:"1"    validate:"min=1,max=16"`
	BackupEngineURL  string `env:"BACKUP_ENGINE_URL,required"           validate:"required,url"`
	BackupTimeoutSec int    `env:"BACKUP_TIMEOUT_SEC" envDefault:"3600" validate:"min=1"`
	BackupMaxRetries int    `env:"BACKUP_MAX_RETRIES" envDefault:"2"    validate:"min=0,max=10"`
	BackupBackoff    string `env:"BACKUP_BACKOFF"     envDefault:"exponential" validate:"oneof=exponential linear"`

	HistoryDriver        string `env:"HISTORY_DRIVER"         envDefault:"sqlite"   validate:"required,oneof=sqlite postgres"`
	DatabaseURL          string `env:"DATABASE_URL"                                 validate:"required_if=HistoryDriver postgres"`
	SQLitePath           string `env:"SQLITE_PATH"            envDefault:"agent.db" validate:"required_if=HistoryDriver sqlite"`
	HistoryRetentionDays int    `env:"HISTORY_RETENTION_DAYS" envDefault:"90"       validate:"min=1"`

	MetricsPort    string `env:"METRICS_PORT"     envDefault:"9090"`
	AdminPort      string `env:"ADMIN_PORT"       envDefault:"8081"`
	AdminJWTSecret string `env:"ADMIN_JWT_SECRET,required" validate:"required,min=32"`

	ResendAPIKey string `env:"RESEND_API_KEY" validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom   string `env:"RESEND_FROM"    validate:"required_if=Env production,required_if=Env staging"`
	AlertEmail   string `env:"ALERT_EMAIL"    validate:"omitempty,email"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

func (c *Config) BackupTimeout() time.Duration {
	return time.Duration(c.BackupTimeoutSec) * time.Second
}

func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.HistoryRetentionDays) * 24 * time.Hour
}
