// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, first match wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/accessync/config.yaml",
	"/etc/accessync/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns the built-in defaults, applied before file and env layers.
func defaultConfig() *Config {
	return &Config{
		Feed: FeedConfig{
			StatusFilter: []string{"complete", "confirmed"},
			SinceParam:   "since",
			PerPage:      100,
			MaxPages:     50,
			Timeout:      30 * time.Second,
		},
		Provider: ProviderConfig{
			APIKeyHeader:   "x-api-key",
			Timeout:        30 * time.Second,
			MaxRetries:     3,
			RetryBackoff:   []time.Duration{5 * time.Second, 15 * time.Second, 60 * time.Second},
			RateLimit:      5,
			RateBurst:      5,
			CircuitBreaker: true,
		},
		Sync: SyncConfig{
			Interval:           15 * time.Minute,
			RunOnStartup:       true,
			MaxRetryAttempts:   5,
			BatchSize:          500,
			MaxBatches:         0,
			DefaultRemarks:     "paid",
			LockTTL:            5 * time.Minute,
			ProductConcurrency: 2,
			RunTimeout:         30 * time.Minute,
		},
		State: StateConfig{
			Path:       "/data/accessync",
			GCInterval: 10 * time.Minute,
		},
		Email: EmailConfig{
			SMTPPort:    587,
			FromName:    "Access Sync",
			UseTLS:      true,
			SendTimeout: 30 * time.Second,
		},
		Notify: NotifyConfig{
			DedupeWindow:   6 * time.Hour,
			DedupeCapacity: 10000,
		},
		Events: EventsConfig{
			Backend:     "gochannel",
			NATSURL:     "nats://127.0.0.1:4222",
			TopicPrefix: "accessync",
		},
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{},
			RateLimitReqs:   60,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadWithKoanf loads configuration with layered sources:
//  1. Built-in defaults
//  2. Optional YAML file (CONFIG_PATH or DefaultConfigPaths)
//  3. Environment variables (explicit mapping, see envTransformFunc)
//
// The result is validated before it is returned.
func LoadWithKoanf() (*Config, error) {
	return loadFrom(findConfigFile())
}

// LoadFromPath is LoadWithKoanf with an explicit YAML file. An empty path
// falls back to the usual discovery.
func LoadFromPath(configPath string) (*Config, error) {
	if configPath == "" {
		return LoadWithKoanf()
	}
	if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	return loadFrom(configPath)
}

func loadFrom(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated env values.
var sliceConfigPaths = []string{
	"feed.status_filter",
	"provider.retry_backoff",
	"email.bcc",
	"server.cors_origins",
}

// processSliceFields converts comma-separated strings to slices. Values that
// are already slices (from YAML) are left alone.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) == 0 {
			continue
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
// Unmapped variables are ignored so the process environment cannot inject
// arbitrary keys.
var envMappings = map[string]string{
	"wp_base_url":      "feed.url",
	"wp_api_key":       "feed.api_key",
	"wp_username":      "feed.username",
	"wp_password":      "feed.password",
	"wp_status_filter": "feed.status_filter",
	"wp_since_param":   "feed.since_param",
	"wp_per_page":      "feed.per_page",
	"wp_timeout":       "feed.timeout",

	"tv_base_url":        "provider.base_url",
	"tv_api_key":         "provider.api_key",
	"tv_api_key_header":  "provider.api_key_header",
	"tv_timeout":         "provider.timeout",
	"tv_max_retries":     "provider.max_retries",
	"tv_retry_backoff":   "provider.retry_backoff",
	"tv_rate_limit":      "provider.rate_limit",
	"tv_circuit_breaker": "provider.circuit_breaker",

	"sync_interval":            "sync.interval",
	"sync_run_on_startup":      "sync.run_on_startup",
	"sync_max_retry_attempts":  "sync.max_retry_attempts",
	"sync_batch_size":          "sync.batch_size",
	"sync_max_batches":         "sync.max_batches",
	"sync_default_remarks":     "sync.default_remarks",
	"sync_lock_ttl":            "sync.lock_ttl",
	"sync_product_concurrency": "sync.product_concurrency",
	"sync_run_timeout":         "sync.run_timeout",

	"state_path":        "state.path",
	"state_in_memory":   "state.in_memory",
	"state_gc_interval": "state.gc_interval",

	"email_enabled":   "email.enabled",
	"smtp_host":       "email.smtp_host",
	"smtp_port":       "email.smtp_port",
	"smtp_username":   "email.username",
	"smtp_password":   "email.password",
	"email_from":      "email.from",
	"email_from_name": "email.from_name",
	"email_bcc":       "email.bcc",
	"smtp_use_tls":    "email.use_tls",

	"discord_enabled":     "discord.enabled",
	"discord_webhook_url": "discord.webhook_url",

	"notify_dedupe_window":   "notify.dedupe_window",
	"notify_dedupe_capacity": "notify.dedupe_capacity",

	"events_enabled":      "events.enabled",
	"events_backend":      "events.backend",
	"nats_url":            "events.nats_url",
	"nats_jetstream":      "events.jetstream",
	"events_topic_prefix": "events.topic_prefix",

	"http_port":           "server.port",
	"http_host":           "server.host",
	"http_timeout":        "server.timeout",
	"cors_origins":        "server.cors_origins",
	"rate_limit_requests": "server.rate_limit_reqs",
	"rate_limit_window":   "server.rate_limit_window",
	"disable_rate_limit":  "server.rate_limit_disabled",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps an environment variable name to its koanf path,
// returning "" to skip it.
//
//   - TV_API_KEY -> provider.api_key
//   - SYNC_INTERVAL -> sync.interval
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
