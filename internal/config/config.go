// Package config assembles runtime settings: a nested Config struct with
// a DefaultConfig constructor, an optional JSON settings file, and an
// environment-variable override layer applied last.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// EngineConfig controls the module engine's worker allocation and timing.
type EngineConfig struct {
	MaxThreads        int           `json:"max_threads"`         // default 4, overridden by pipeline execution.max_threads
	MonitorInterval   time.Duration `json:"monitor_interval"`    // default 2s
	ShutdownGrace     time.Duration `json:"shutdown_grace"`      // default 30s
	DefaultCycleTime  time.Duration `json:"default_cycle_time"`  // default 5s; not passed to modules, which pace from BaseModule's own 5s default
}

// BusConfig controls message bus behavior.
type BusConfig struct {
	WarnOnEmptyPublish bool `json:"warn_on_empty_publish"` // default true
}

// TranslatorConfig controls the type translation layer.
type TranslatorConfig struct {
	RulesFile    string `json:"rules_file"`     // default "translation_rules.yaml"
	MaxCacheSize int    `json:"max_cache_size"` // default 100
}

// SecurityConfig controls module verification.
type SecurityConfig struct {
	Mode               string `json:"mode"`                 // paranoid, default, permissive
	AllowUnverified    bool   `json:"allow_unverified"`
	TrustedSignersFile string `json:"trusted_signers_file"` // default "trusted_signers.json"
}

// LoggingConfig controls structured logging output.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json

	// ActivityFile, when set, receives per-iteration activity records
	// as JSON lines in addition to the console.
	ActivityFile string `json:"activity_file"`
	// ActivityConsole controls whether activity records are echoed to
	// stdout.
	ActivityConsole bool `json:"activity_console"`
}

// MetricsConfig controls the optional Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"` // default "eidolon"
	Addr      string `json:"addr"`      // default ":9477"
}

// TracingConfig controls the optional OpenTelemetry exporter.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Exporter    string  `json:"exporter"` // otlp-http, stdout
	Endpoint    string  `json:"endpoint"`
	ServiceName string  `json:"service_name"`
	SampleRate  float64 `json:"sample_rate"`
}

// Config is the top-level runtime configuration.
type Config struct {
	ModuleDir   string           `json:"module_dir"`
	PipelineDir string           `json:"pipeline_dir"`
	Engine      EngineConfig     `json:"engine"`
	Bus         BusConfig        `json:"bus"`
	Translator  TranslatorConfig `json:"translator"`
	Security    SecurityConfig   `json:"security"`
	Logging     LoggingConfig    `json:"logging"`
	Metrics     MetricsConfig    `json:"metrics"`
	Tracing     TracingConfig    `json:"tracing"`
}

// DefaultConfig returns the built-in defaults: 5s cycle time, 2s monitor
// interval, 30s shutdown grace, 4 engine threads, 100-entry translator
// cache.
func DefaultConfig() *Config {
	return &Config{
		ModuleDir:   "modules",
		PipelineDir: "pipelines",
		Engine: EngineConfig{
			MaxThreads:       4,
			MonitorInterval:  2 * time.Second,
			ShutdownGrace:    30 * time.Second,
			DefaultCycleTime: 5 * time.Second,
		},
		Bus: BusConfig{
			WarnOnEmptyPublish: true,
		},
		Translator: TranslatorConfig{
			RulesFile:    "translation_rules.yaml",
			MaxCacheSize: 100,
		},
		Security: SecurityConfig{
			Mode:               "default",
			AllowUnverified:    false,
			TrustedSignersFile: "trusted_signers.json",
		},
		Logging: LoggingConfig{
			Level:           "info",
			Format:          "text",
			ActivityConsole: true,
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "eidolon",
			Addr:      ":9477",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    "stdout",
			ServiceName: "eidolon",
			SampleRate:  1.0,
		},
	}
}

// LoadFromFile reads a JSON settings file onto a DefaultConfig base.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv applies EIDOLON_*-prefixed environment overrides onto cfg.
// MODULE_DIR and PIPELINE_DIR stay unprefixed; operator tooling sets them
// directly.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("MODULE_DIR"); v != "" {
		cfg.ModuleDir = v
	}
	if v := os.Getenv("PIPELINE_DIR"); v != "" {
		cfg.PipelineDir = v
	}
	if v := os.Getenv("EIDOLON_ENGINE_MAX_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.MaxThreads = n
		}
	}
	if v := os.Getenv("EIDOLON_ENGINE_MONITOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.MonitorInterval = d
		}
	}
	if v := os.Getenv("EIDOLON_ENGINE_SHUTDOWN_GRACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.ShutdownGrace = d
		}
	}
	if v := os.Getenv("EIDOLON_SECURITY_MODE"); v != "" {
		cfg.Security.Mode = v
	}
	if v := os.Getenv("EIDOLON_SECURITY_ALLOW_UNVERIFIED"); v != "" {
		cfg.Security.AllowUnverified = parseBool(v)
	}
	if v := os.Getenv("EIDOLON_SECURITY_TRUSTED_SIGNERS_FILE"); v != "" {
		cfg.Security.TrustedSignersFile = v
	}
	if v := os.Getenv("EIDOLON_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("EIDOLON_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("EIDOLON_ACTIVITY_FILE"); v != "" {
		cfg.Logging.ActivityFile = v
	}
	if v := os.Getenv("EIDOLON_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("EIDOLON_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("EIDOLON_TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("EIDOLON_TRACING_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}
