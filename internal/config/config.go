// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

// Package config loads Accessync configuration from defaults, an optional YAML
// file and environment variables (see LoadWithKoanf).
package config

import (
	"time"

	"github.com/tomtom215/accessync/internal/models"
)

// Config holds all application configuration.
// It is loaded once at startup and passed explicitly to each component.
type Config struct {
	Feed     FeedConfig               `koanf:"feed"`
	Provider ProviderConfig           `koanf:"provider"`
	Products map[string]ProductConfig `koanf:"products"`
	Sync     SyncConfig               `koanf:"sync"`
	State    StateConfig              `koanf:"state"`
	Email    EmailConfig              `koanf:"email"`
	Discord  DiscordConfig            `koanf:"discord"`
	Notify   NotifyConfig             `koanf:"notify"`
	Events   EventsConfig             `koanf:"events"`
	Server   ServerConfig             `koanf:"server"`
	Logging  LoggingConfig            `koanf:"logging"`
}

// FeedConfig holds the membership transaction feed settings (MemberPress REST API).
type FeedConfig struct {
	URL      string `koanf:"url"`
	APIKey   string `koanf:"api_key"`  // Sent as Bearer token when set
	Username string `koanf:"username"` // Basic auth, used when APIKey is empty
	Password string `koanf:"password"`

	// StatusFilter lists transaction statuses that count as paid (case-insensitive).
	StatusFilter []string `koanf:"status_filter"`

	// SinceParam is the query parameter carrying the watermark.
	SinceParam string        `koanf:"since_param"`
	PerPage    int           `koanf:"per_page"`
	MaxPages   int           `koanf:"max_pages"`
	Timeout    time.Duration `koanf:"timeout"`
}

// ProviderConfig holds the access provider (TradingView access API) settings.
type ProviderConfig struct {
	BaseURL      string        `koanf:"base_url"`
	APIKey       string        `koanf:"api_key"`
	APIKeyHeader string        `koanf:"api_key_header"`
	Timeout      time.Duration `koanf:"timeout"`

	// MaxRetries is the number of attempts per call before a RetryableFailure surfaces.
	MaxRetries int `koanf:"max_retries"`

	// RetryBackoff is the wait before each retry; the last entry repeats.
	RetryBackoff []time.Duration `koanf:"retry_backoff"`

	// RateLimit is the steady-state request rate per second (0 disables limiting).
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`

	CircuitBreaker bool `koanf:"circuit_breaker"`
}

// ProductConfig maps one membership product to a provider script.
type ProductConfig struct {
	ScriptID         string `koanf:"script_id"`
	DurationDays     int    `koanf:"duration_days"`
	SubscriptionType string `koanf:"subscription_type"`

	// StackingAllowed defaults to true when omitted.
	StackingAllowed *bool `koanf:"stacking_allowed"`
}

// Stacking reports the effective stacking policy.
func (p ProductConfig) Stacking() bool {
	return p.StackingAllowed == nil || *p.StackingAllowed
}

// SyncConfig holds orchestrator and scheduler settings.
type SyncConfig struct {
	Interval     time.Duration `koanf:"interval"`
	RunOnStartup bool          `koanf:"run_on_startup"`

	// MaxRetryAttempts bounds retry-queue re-attempts before escalation to manual review.
	MaxRetryAttempts int `koanf:"max_retry_attempts"`

	BatchSize  int `koanf:"batch_size"`
	MaxBatches int `koanf:"max_batches"` // 0 = unlimited

	DefaultRemarks string `koanf:"default_remarks"`

	// LockTTL is the lease length on a product's state; renewed while a run is active.
	LockTTL time.Duration `koanf:"lock_ttl"`

	// ProductConcurrency is the number of products synced in parallel.
	ProductConcurrency int `koanf:"product_concurrency"`

	RunTimeout time.Duration `koanf:"run_timeout"`
}

// StateConfig holds the BadgerDB state store settings.
type StateConfig struct {
	Path       string        `koanf:"path"`
	InMemory   bool          `koanf:"in_memory"`
	GCInterval time.Duration `koanf:"gc_interval"`
}

// EmailConfig holds SMTP settings for invalid-username notices.
type EmailConfig struct {
	Enabled     bool          `koanf:"enabled"`
	SMTPHost    string        `koanf:"smtp_host"`
	SMTPPort    int           `koanf:"smtp_port"`
	Username    string        `koanf:"username"`
	Password    string        `koanf:"password"`
	From        string        `koanf:"from"`
	FromName    string        `koanf:"from_name"`
	BCC         []string      `koanf:"bcc"`
	UseTLS      bool          `koanf:"use_tls"`
	SendTimeout time.Duration `koanf:"send_timeout"`
}

// DiscordConfig holds the operator alert webhook.
type DiscordConfig struct {
	Enabled    bool   `koanf:"enabled"`
	WebhookURL string `koanf:"webhook_url"`
}

// NotifyConfig controls duplicate suppression across notification channels.
// A zero DedupeWindow sends every notification.
type NotifyConfig struct {
	DedupeWindow   time.Duration `koanf:"dedupe_window"`
	DedupeCapacity int           `koanf:"dedupe_capacity"`
}

// EventsConfig controls the access event stream.
type EventsConfig struct {
	Enabled bool `koanf:"enabled"`

	// Backend is gochannel (in-process) or nats.
	Backend   string `koanf:"backend"`
	NATSURL   string `koanf:"nats_url"`
	JetStream bool   `koanf:"jetstream"`

	// TopicPrefix is prepended to event types, e.g. accessync.access.granted.
	TopicPrefix string `koanf:"topic_prefix"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port              int           `koanf:"port"`
	Host              string        `koanf:"host"`
	Timeout           time.Duration `koanf:"timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`

	// Caller includes caller file and line number in logs.
	Caller bool `koanf:"caller"`
}

// Catalog converts the product configuration into the decision catalog.
func (c *Config) Catalog() models.Catalog {
	catalog := make(models.Catalog, len(c.Products))
	for id, p := range c.Products {
		catalog[id] = models.Product{
			ProductID:        id,
			ScriptID:         p.ScriptID,
			PlanDuration:     int64(p.DurationDays) * models.SecondsPerDay,
			SubscriptionType: p.SubscriptionType,
			StackingAllowed:  p.Stacking(),
		}
	}
	return catalog
}
