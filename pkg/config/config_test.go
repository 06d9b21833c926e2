package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log.level = %q, want info", cfg.Log.Level)
	}
	if cfg.Store.CacheSize != 1024 {
		t.Errorf("store.cache_size = %d, want 1024", cfg.Store.CacheSize)
	}
	if cfg.Registry.Policy != "round_robin" {
		t.Errorf("registry.policy = %q, want round_robin", cfg.Registry.Policy)
	}
	if cfg.Workflow.MaxRetries != 3 {
		t.Errorf("workflow.max_retries = %d, want 3", cfg.Workflow.MaxRetries)
	}
	if cfg.Telemetry.Exporter != "stdout" {
		t.Errorf("telemetry.exporter = %q, want stdout", cfg.Telemetry.Exporter)
	}
}

func TestFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "semant.yaml")
	content := []byte("log:\n  level: debug\nstore:\n  cache_size: 42\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Store.CacheSize != 42 {
		t.Errorf("store.cache_size = %d, want 42", cfg.Store.CacheSize)
	}
	// Untouched keys keep their defaults.
	if cfg.Workflow.MaxConcurrency != 8 {
		t.Errorf("workflow.max_concurrency = %d, want 8", cfg.Workflow.MaxConcurrency)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "semant.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("SEMANT_LOG_LEVEL", "warn")
	t.Setenv("SEMANT_REGISTRY_POLICY", "least_recently_used")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log.level = %q, want warn", cfg.Log.Level)
	}
	if cfg.Registry.Policy != "least_recently_used" {
		t.Errorf("registry.policy = %q, want least_recently_used", cfg.Registry.Policy)
	}
}

func TestMissingFileFails(t *testing.T) {
	if _, err := Load("/nonexistent/semant.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
