// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

// Package main is the entry point for the Accessync server.
//
// Accessync keeps subscription access on an external provider (TradingView
// invite-only scripts) in step with payments recorded by a membership
// platform. The server runs the sync on a schedule and exposes an operator
// HTTP API.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: defaults, optional YAML file, environment (Koanf v2)
//  2. Logging: zerolog, level and format from configuration
//  3. Engine: state store (BadgerDB), provider gateway, feed client,
//     notifiers, event publisher and orchestrator (internal/app)
//  4. Sync manager: schedule and trigger coalescing
//  5. HTTP server: chi router with health, sync, state and metrics routes
//  6. Supervisor tree: data, sync and api layers (suture v4)
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the tree. The HTTP server drains within
// server.shutdown_timeout; an in-flight sync stops at the next transaction
// boundary and saves its progress before the state store is closed.
//
// # Example Usage
//
//	export CONFIG_PATH=/etc/accessync/config.yaml
//	export WP_BASE_URL=https://members.example.com/wp-json/mp/v1/transactions
//	export WP_API_KEY=...
//	export TV_BASE_URL=https://access.example.com
//	export TV_API_KEY=...
//	./accessync
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/accessync/internal/api"
	"github.com/tomtom215/accessync/internal/app"
	"github.com/tomtom215/accessync/internal/config"
	"github.com/tomtom215/accessync/internal/logging"
	"github.com/tomtom215/accessync/internal/supervisor"
	"github.com/tomtom215/accessync/internal/supervisor/services"
	"github.com/tomtom215/accessync/internal/sync"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("Accessync stopped with an error")
	}
	logging.Info().Msg("Application stopped gracefully")
}

func run() error {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	logCfg.Caller = cfg.Logging.Caller
	logging.Init(logCfg)

	logging.Info().
		Str("feed_url", cfg.Feed.URL).
		Str("provider_url", cfg.Provider.BaseURL).
		Str("state_path", cfg.State.Path).
		Bool("state_in_memory", cfg.State.InMemory).
		Msg("Configuration loaded")

	if cfg.State.InMemory {
		logging.Warn().Msg("State store is in memory; processed ids and queues are lost on restart")
	}
	if cfg.Server.RateLimitDisabled {
		logging.Warn().Msg("API rate limiting is DISABLED")
	}

	engine, err := app.Build(cfg, app.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing engine components")
		}
	}()

	syncManager := sync.NewManager(engine.Orchestrator, sync.ManagerConfig{
		Interval:     cfg.Sync.Interval,
		RunOnStartup: cfg.Sync.RunOnStartup,
		RunTimeout:   cfg.Sync.RunTimeout,
	})
	syncManager.SetOnSyncCompleted(func(summary *sync.RunSummary) {
		if summary.Failed() {
			return
		}
		logging.Info().
			Str("run_id", summary.RunID).
			Int("processed", summary.Processed).
			Int("manual_review", summary.ManualReview).
			Int("errors", summary.Errors).
			Dur("duration", summary.Duration()).
			Msg("Sync completed")
	})

	handler := api.NewHandler(syncManager, engine.Repo, engine.Catalog)
	router := api.NewRouter(handler, api.NewChiMiddlewareFromConfig(&cfg.Server))

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.SetupChi(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		// POST /sync answers when the run finishes.
		WriteTimeout: max(cfg.Server.Timeout, cfg.Sync.RunTimeout+cfg.Server.Timeout),
		IdleTimeout:  60 * time.Second,
	}

	treeCfg := supervisor.DefaultTreeConfig()
	treeCfg.ShutdownTimeout = max(treeCfg.ShutdownTimeout, cfg.Server.ShutdownTimeout+5*time.Second)
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), treeCfg)
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	if !cfg.State.InMemory {
		tree.AddDataService(services.NewStateGCService(engine.Store, cfg.State.GCInterval))
	}
	tree.AddSyncService(services.NewSyncService(syncManager))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	for layer, names := range tree.Services() {
		logging.Debug().Str("layer", string(layer)).Strs("services", names).Msg("Supervisor layer configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Received shutdown signal, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
		}
	}
	return nil
}
