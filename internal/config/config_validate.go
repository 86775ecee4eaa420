// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package config

import (
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"
)

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateFeed,
		c.validateProvider,
		c.validateProducts,
		c.validateSync,
		c.validateState,
		c.validateEmail,
		c.validateDiscord,
		c.validateNotify,
		c.validateEvents,
		c.validateServer,
		c.validateLogging,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateFeed() error {
	if c.Feed.URL == "" {
		return fmt.Errorf("WP_BASE_URL is required")
	}
	if err := validateHTTPURL(c.Feed.URL, "WP_BASE_URL", true); err != nil {
		return err
	}
	if c.Feed.Username != "" && c.Feed.Password == "" {
		return fmt.Errorf("WP_PASSWORD is required when WP_USERNAME is set")
	}
	if c.Feed.PerPage < 1 {
		return fmt.Errorf("feed per_page must be at least 1, got %d", c.Feed.PerPage)
	}
	if c.Feed.SinceParam == "" {
		return fmt.Errorf("feed since_param must not be empty")
	}
	return nil
}

func (c *Config) validateProvider() error {
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("TV_BASE_URL is required")
	}
	if err := validateHTTPURL(c.Provider.BaseURL, "TV_BASE_URL", false); err != nil {
		return err
	}
	if c.Provider.APIKey == "" {
		return fmt.Errorf("TV_API_KEY is required")
	}
	if c.Provider.APIKeyHeader == "" {
		return fmt.Errorf("provider api_key_header must not be empty")
	}
	if c.Provider.MaxRetries < 1 {
		return fmt.Errorf("TV_MAX_RETRIES must be at least 1, got %d", c.Provider.MaxRetries)
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("TV_TIMEOUT must be positive")
	}
	for i, d := range c.Provider.RetryBackoff {
		if d < 0 {
			return fmt.Errorf("TV_RETRY_BACKOFF[%d] must not be negative", i)
		}
	}
	if c.Provider.RateLimit < 0 {
		return fmt.Errorf("TV_RATE_LIMIT must not be negative")
	}
	return nil
}

func (c *Config) validateProducts() error {
	if len(c.Products) == 0 {
		return fmt.Errorf("at least one product mapping is required")
	}

	ids := make([]string, 0, len(c.Products))
	for id := range c.Products {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		p := c.Products[id]
		if strings.TrimSpace(p.ScriptID) == "" {
			return fmt.Errorf("products.%s.script_id is required", id)
		}
		if p.DurationDays <= 0 {
			return fmt.Errorf("products.%s.duration_days must be positive, got %d", id, p.DurationDays)
		}
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.Interval < time.Minute {
		return fmt.Errorf("SYNC_INTERVAL must be at least 1m, got %s", c.Sync.Interval)
	}
	if c.Sync.MaxRetryAttempts < 1 {
		return fmt.Errorf("SYNC_MAX_RETRY_ATTEMPTS must be at least 1, got %d", c.Sync.MaxRetryAttempts)
	}
	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be at least 1, got %d", c.Sync.BatchSize)
	}
	if c.Sync.MaxBatches < 0 {
		return fmt.Errorf("SYNC_MAX_BATCHES must not be negative")
	}
	if c.Sync.LockTTL < time.Second {
		return fmt.Errorf("SYNC_LOCK_TTL must be at least 1s, got %s", c.Sync.LockTTL)
	}
	if c.Sync.ProductConcurrency < 1 {
		return fmt.Errorf("SYNC_PRODUCT_CONCURRENCY must be at least 1, got %d", c.Sync.ProductConcurrency)
	}
	return nil
}

func (c *Config) validateState() error {
	if !c.State.InMemory && c.State.Path == "" {
		return fmt.Errorf("STATE_PATH is required unless STATE_IN_MEMORY=true")
	}
	return nil
}

func (c *Config) validateEmail() error {
	if !c.Email.Enabled {
		return nil
	}
	if c.Email.SMTPHost == "" {
		return fmt.Errorf("SMTP_HOST is required when EMAIL_ENABLED=true")
	}
	if c.Email.SMTPPort < 1 || c.Email.SMTPPort > 65535 {
		return fmt.Errorf("SMTP_PORT must be between 1 and 65535, got %d", c.Email.SMTPPort)
	}
	if _, err := mail.ParseAddress(c.Email.From); err != nil {
		return fmt.Errorf("EMAIL_FROM must be a valid address: %w", err)
	}
	for _, addr := range c.Email.BCC {
		if _, err := mail.ParseAddress(addr); err != nil {
			return fmt.Errorf("EMAIL_BCC entry %q is invalid: %w", addr, err)
		}
	}
	return nil
}

func (c *Config) validateNotify() error {
	if c.Notify.DedupeWindow < 0 {
		return fmt.Errorf("NOTIFY_DEDUPE_WINDOW must not be negative")
	}
	if c.Notify.DedupeCapacity < 0 {
		return fmt.Errorf("NOTIFY_DEDUPE_CAPACITY must not be negative, got %d", c.Notify.DedupeCapacity)
	}
	return nil
}

func (c *Config) validateDiscord() error {
	if !c.Discord.Enabled {
		return nil
	}
	if c.Discord.WebhookURL == "" {
		return fmt.Errorf("DISCORD_WEBHOOK_URL is required when DISCORD_ENABLED=true")
	}
	return validateHTTPURL(c.Discord.WebhookURL, "DISCORD_WEBHOOK_URL", true)
}

func (c *Config) validateEvents() error {
	if !c.Events.Enabled {
		return nil
	}
	switch c.Events.Backend {
	case "gochannel":
		return nil
	case "nats":
		if err := validateNATSURL(c.Events.NATSURL); err != nil {
			return fmt.Errorf("NATS_URL is invalid: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("EVENTS_BACKEND must be gochannel or nats, got %q", c.Events.Backend)
	}
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if !c.Server.RateLimitDisabled && c.Server.RateLimitReqs < 1 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be at least 1, got %d", c.Server.RateLimitReqs)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error; got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
