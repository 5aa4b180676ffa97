package config_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/ErlanBelekov/backup-agent/config"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("API_URL", "https://backend.example.com")
	t.Setenv("AGENT_UUID", "agent-1")
	t.Setenv("AGENT_KEY", "secret")
	t.Setenv("BACKUP_ENGINE_URL", "http://127.0.0.1:7000/backup")
	t.Setenv("ADMIN_JWT_SECRET", "admin-secret-that-is-32-chars-long!")
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != "local" || cfg.Source != "remote" || cfg.HistoryDriver != "sqlite" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.PollInterval() != time.Second {
		t.Errorf("poll interval = %v, want 1s", cfg.PollInterval())
	}
	if cfg.SlogLevel() != slog.LevelInfo {
		t.Errorf("level = %v, want info", cfg.SlogLevel())
	}
	if cfg.HistoryRetention() != 90*24*time.Hour {
		t.Errorf("retention = %v", cfg.HistoryRetention())
	}
}

func TestLoad_RemoteSourceNeedsCredentials(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("AGENT_KEY", "")

	if _, err := config.Load(); err == nil {
		t.Fatal("expected validation error without AGENT_KEY")
	}
}

func TestLoad_FileSource(t *testing.T) {
	t.Setenv("SOURCE", "file")
	t.Setenv("SCHEDULES_FILE", "/etc/backup-agent/schedules.yaml")
	t.Setenv("BACKUP_ENGINE_URL", "http://127.0.0.1:7000/backup")
	t.Setenv("ADMIN_JWT_SECRET", "admin-secret-that-is-32-chars-long!")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SchedulesFile == "" {
		t.Error("schedules file not loaded")
	}
}

func TestLoad_PostgresNeedsDatabaseURL(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("HISTORY_DRIVER", "postgres")

	if _, err := config.Load(); err == nil {
		t.Fatal("expected validation error without DATABASE_URL")
	}
}

func TestLoad_ProductionNeedsResend(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ENV", "production")

	if _, err := config.Load(); err == nil {
		t.Fatal("expected validation error without RESEND_API_KEY")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		cfg := &config.Config{LogLevel: in}
		if got := cfg.SlogLevel(); got != want {
			t.Errorf("%s: level = %v, want %v", in, got, want)
		}
	}
}
