// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

// Package app builds the sync engine's components from configuration. Both
// the server and the batch CLI use it so they share one wiring.
package app

import (
	"errors"
	"fmt"

	"github.com/tomtom215/accessync/internal/cache"
	"github.com/tomtom215/accessync/internal/config"
	"github.com/tomtom215/accessync/internal/decision"
	"github.com/tomtom215/accessync/internal/events"
	"github.com/tomtom215/accessync/internal/feed"
	"github.com/tomtom215/accessync/internal/logging"
	"github.com/tomtom215/accessync/internal/models"
	"github.com/tomtom215/accessync/internal/notify"
	"github.com/tomtom215/accessync/internal/provider"
	"github.com/tomtom215/accessync/internal/state"
	"github.com/tomtom215/accessync/internal/sync"
)

// Components are the wired engine parts. Close releases them in reverse
// order of construction.
type Components struct {
	Config       *config.Config
	Catalog      models.Catalog
	Store        *state.Store
	Repo         *state.Repository
	Gateway      provider.Gateway
	Source       feed.Source
	Notifier     *notify.Dispatcher
	Events       events.Publisher
	Orchestrator *sync.Orchestrator
}

// Options adjust the wiring for a particular binary.
type Options struct {
	// InMemoryState forces an in-memory state store regardless of config.
	InMemoryState bool
}

// Build constructs every component. On error, anything already opened is closed.
func Build(cfg *config.Config, opts Options) (*Components, error) {
	c := &Components{Config: cfg, Catalog: cfg.Catalog()}
	built := false
	defer func() {
		if !built {
			_ = c.Close()
		}
	}()

	var err error
	c.Store, err = state.Open(state.StoreConfig{
		Path:       cfg.State.Path,
		InMemory:   cfg.State.InMemory || opts.InMemoryState,
		SyncWrites: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	c.Gateway = NewGateway(&cfg.Provider)
	c.Repo = state.NewRepository(c.Store, c.Gateway)

	c.Source = feed.NewClient(feed.Config{
		URL:          cfg.Feed.URL,
		APIKey:       cfg.Feed.APIKey,
		Username:     cfg.Feed.Username,
		Password:     cfg.Feed.Password,
		StatusFilter: cfg.Feed.StatusFilter,
		SinceParam:   cfg.Feed.SinceParam,
		PerPage:      cfg.Feed.PerPage,
		MaxPages:     cfg.Feed.MaxPages,
		Timeout:      cfg.Feed.Timeout,
	}, c.Catalog)

	c.Notifier = NewNotifier(cfg)

	c.Events, err = events.New(events.Config{
		Enabled:     cfg.Events.Enabled,
		Backend:     cfg.Events.Backend,
		NATSURL:     cfg.Events.NATSURL,
		JetStream:   cfg.Events.JetStream,
		TopicPrefix: cfg.Events.TopicPrefix,
	}, events.NewWatermillLogger(logging.WithComponent("events")))
	if err != nil {
		return nil, fmt.Errorf("create event publisher: %w", err)
	}

	c.Orchestrator = sync.NewOrchestrator(sync.Config{
		MaxRetryAttempts:   cfg.Sync.MaxRetryAttempts,
		LockTTL:            cfg.Sync.LockTTL,
		ProductConcurrency: cfg.Sync.ProductConcurrency,
		BatchSize:          cfg.Sync.BatchSize,
		MaxBatches:         cfg.Sync.MaxBatches,
	}, sync.Deps{
		Catalog:  c.Catalog,
		Repo:     c.Repo,
		Source:   c.Source,
		Gateway:  c.Gateway,
		Engine:   decision.NewEngine(c.Catalog, decision.WithDefaultRemarks(cfg.Sync.DefaultRemarks)),
		Notifier: c.Notifier,
		Events:   c.Events,
	})

	logging.Info().
		Int("products", len(c.Catalog)).
		Int("scripts", len(c.Catalog.ScriptIDs())).
		Int("notifiers", c.Notifier.Len()).
		Bool("events", cfg.Events.Enabled).
		Msg("Sync engine wired")
	built = true
	return c, nil
}

// NewGateway builds the provider client, wrapped in a circuit breaker when enabled.
func NewGateway(cfg *config.ProviderConfig) provider.Gateway {
	var gw provider.Gateway = provider.NewClient(provider.Config{
		BaseURL:      cfg.BaseURL,
		APIKey:       cfg.APIKey,
		APIKeyHeader: cfg.APIKeyHeader,
		Timeout:      cfg.Timeout,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		RateLimit:    cfg.RateLimit,
		RateBurst:    cfg.RateBurst,
	})
	if cfg.CircuitBreaker {
		gw = provider.NewCircuitBreakerGateway(gw, provider.CircuitBreakerSettings{})
	}
	return gw
}

// NewNotifier builds the notification dispatcher from the enabled channels.
func NewNotifier(cfg *config.Config) *notify.Dispatcher {
	var channels []notify.Notifier
	if cfg.Email.Enabled {
		channels = append(channels, notify.NewEmailNotifier(notify.EmailConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			FromName: cfg.Email.FromName,
			BCC:      cfg.Email.BCC,
			UseTLS:   cfg.Email.UseTLS,
			Timeout:  cfg.Email.SendTimeout,
		}))
	}
	if cfg.Discord.Enabled && cfg.Discord.WebhookURL != "" {
		channels = append(channels, notify.NewDiscordNotifier(notify.DiscordConfig{
			WebhookURL: cfg.Discord.WebhookURL,
		}))
	}
	d := notify.NewDispatcher(cfg.Email.SendTimeout, channels...)
	if cfg.Notify.DedupeWindow > 0 {
		d.SuppressDuplicates(cache.NewDedupe(cfg.Notify.DedupeCapacity, cfg.Notify.DedupeWindow))
	}
	return d
}

// Close waits for queued notifications, then closes the event publisher
// and the state store.
func (c *Components) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Notifier != nil {
		c.Notifier.Wait()
	}
	if c.Events != nil {
		if err := c.Events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close events: %w", err))
		}
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close state store: %w", err))
		}
	}
	return errors.Join(errs...)
}
