// Package config loads Semant configuration from file, environment, and defaults.
package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Store     StoreConfig     `koanf:"store"`
	Registry  RegistryConfig  `koanf:"registry"`
	Workflow  WorkflowConfig  `koanf:"workflow"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type StoreConfig struct {
	CacheSize      int    `koanf:"cache_size"`
	CacheTTLSecs   int    `koanf:"cache_ttl_secs"`
	HistoryLimit   int    `koanf:"history_limit"` // retained ledger versions
	SQLitePath     string `koanf:"sqlite_path"`   // empty disables persistence
	PersistEnabled bool   `koanf:"persist_enabled"`
}

type RegistryConfig struct {
	Policy           string `koanf:"policy"` // round_robin, least_recently_used
	FailureThreshold int    `koanf:"failure_threshold"`
}

type WorkflowConfig struct {
	MaxRetries       int `koanf:"max_retries"`
	InitialDelayMS   int `koanf:"initial_delay_ms"`
	MaxDelayMS       int `koanf:"max_delay_ms"`
	StepTimeoutSecs  int `koanf:"step_timeout_secs"`
	MaxConcurrency   int `koanf:"max_concurrency"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp, none
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("store.cache_size", 1024)
	k.Set("store.cache_ttl_secs", 60)
	k.Set("store.history_limit", 1000)
	k.Set("store.persist_enabled", false)
	k.Set("store.sqlite_path", "semant.db")

	k.Set("registry.policy", "round_robin")
	k.Set("registry.failure_threshold", 3)

	k.Set("workflow.max_retries", 3)
	k.Set("workflow.initial_delay_ms", 100)
	k.Set("workflow.max_delay_ms", 10000)
	k.Set("workflow.step_timeout_secs", 30)
	k.Set("workflow.max_concurrency", 8)

	k.Set("telemetry.exporter", "stdout")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (SEMANT_STORE_CACHE_SIZE -> store.cache_size)
	if err := k.Load(env.Provider("SEMANT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "SEMANT_")), "_", ".", 1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
