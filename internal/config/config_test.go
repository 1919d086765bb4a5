package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kirillkom/pricewatch/internal/core/domain"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		ConfigFileEnv, "API_PORT", "TAG_ACCEPT_THRESHOLD", "TAG_REVIEW_THRESHOLD",
		"NATS_ENABLED", "STAGING_SHARD_RECORDS", "RETRY_INITIAL_BACKOFF", "WORKER_SCHEDULE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TagAcceptThreshold != 0.85 || cfg.TagReviewThreshold != 0.5 {
		t.Fatalf("unexpected default thresholds: %+v", cfg.Thresholds())
	}
	if cfg.StagingShardRecords != 5000 {
		t.Fatalf("expected default shard size 5000, got %d", cfg.StagingShardRecords)
	}
	if cfg.NATSEnabled {
		t.Fatalf("expected nats disabled by default")
	}
	if cfg.WorkerSchedule != "@every 15m" {
		t.Fatalf("unexpected default schedule %q", cfg.WorkerSchedule)
	}
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "pricewatch.yaml")
	content := "api_port: \"9000\"\ntag_accept_threshold: 0.9\nnats_enabled: true\nretry_initial_backoff: 1s\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigFileEnv, path)
	t.Setenv("API_PORT", "9100")
	t.Setenv("NATS_ENABLED", "not-a-bool")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIPort != "9100" {
		t.Fatalf("expected env to win over file, got %q", cfg.APIPort)
	}
	if cfg.TagAcceptThreshold != 0.9 {
		t.Fatalf("expected file accept threshold 0.9, got %v", cfg.TagAcceptThreshold)
	}
	if !cfg.NATSEnabled {
		t.Fatalf("invalid env bool must keep the file value")
	}
	if cfg.RetryInitialBackoff != time.Second {
		t.Fatalf("expected backoff from file, got %v", cfg.RetryInitialBackoff)
	}
}

func TestLoadRejectsInvertedThresholds(t *testing.T) {
	clearEnv(t)
	t.Setenv("TAG_ACCEPT_THRESHOLD", "0.4")
	t.Setenv("TAG_REVIEW_THRESHOLD", "0.6")

	_, err := Load()
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(ConfigFileEnv, filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
