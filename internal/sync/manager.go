// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

/*
manager.go - Sync Manager Lifecycle and Scheduling

The Manager runs the Orchestrator on an interval and serves on-demand runs
for the HTTP API.

Lifecycle Methods:
  - NewManager(): Initialize manager with a runner and schedule
  - Start(): Begin periodic sync (and an initial run when configured)
  - Stop(): Stop the schedule and wait for an in-flight run
  - TriggerSync(): Run one live sync now unless one is already running
  - RunNow(): Run a scoped or dry-run sync for the API

Thread Safety:
  - syncMu: Allows one live run at a time; extra triggers are coalesced
  - mu: Protects shared state (running, lastSync, lastSummary)
*/

//nolint:staticcheck // File documentation, not package doc
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/accessync/internal/logging"
	"github.com/tomtom215/accessync/internal/models"
)

// ErrSyncInProgress is returned when a live run is requested while another
// is still running.
var ErrSyncInProgress = errors.New("sync already in progress")

// Runner executes sync runs. Implemented by *Orchestrator.
type Runner interface {
	RunSync(ctx context.Context, scope models.Scope, dryRun bool) (*RunSummary, error)
}

// ManagerConfig controls scheduling.
type ManagerConfig struct {
	Interval     time.Duration
	RunOnStartup bool

	// RunTimeout bounds each run, scheduled or triggered. Zero means no limit.
	RunTimeout time.Duration
}

// Manager schedules sync runs.
type Manager struct {
	runner Runner
	cfg    ManagerConfig

	lastSync    time.Time
	lastSummary *RunSummary
	running     bool
	mu          sync.RWMutex
	syncMu      sync.Mutex
	stopChan    chan struct{}
	wg          sync.WaitGroup

	onSyncCompleted func(*RunSummary)
}

// NewManager creates a sync manager.
func NewManager(runner Runner, cfg ManagerConfig) *Manager {
	logging.Info().
		Dur("interval", cfg.Interval).
		Bool("run_on_startup", cfg.RunOnStartup).
		Dur("run_timeout", cfg.RunTimeout).
		Msg("Sync manager config loaded")

	return &Manager{
		runner:   runner,
		cfg:      cfg,
		stopChan: make(chan struct{}),
	}
}

// SetOnSyncCompleted sets a callback invoked after every finished live run.
func (m *Manager) SetOnSyncCompleted(callback func(*RunSummary)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSyncCompleted = callback
}

// Start begins the periodic synchronization process. An Interval of zero
// disables the schedule; runs then only happen through TriggerSync or RunNow.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("sync manager is already running")
	}
	logging.Info().Msg("Starting sync manager...")
	m.running = true
	m.stopChan = make(chan struct{})
	m.mu.Unlock()

	if m.cfg.RunOnStartup {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if _, err := m.TriggerSync(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
				logging.Warn().Err(err).Msg("Initial sync failed (will retry on schedule)")
			}
		}()
	}

	if m.cfg.Interval > 0 {
		m.wg.Add(1)
		go m.syncLoop(ctx)
	} else {
		logging.Info().Msg("Sync interval is zero, scheduled sync disabled")
	}
	return nil
}

// Stop stops the schedule and waits for a running sync to finish.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return fmt.Errorf("sync manager is not running")
	}
	m.running = false
	m.mu.Unlock()

	logging.Info().Msg("Stopping sync manager...")
	close(m.stopChan)
	m.wg.Wait()
	logging.Info().Msg("Sync manager stopped")
	return nil
}

func (m *Manager) syncLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-ticker.C:
			_, err := m.TriggerSync(ctx)
			switch {
			case errors.Is(err, ErrSyncInProgress):
				logging.Debug().Msg("Previous sync still running, skipping tick")
			case err != nil:
				logging.Error().Err(err).Msg("Sync failed")
			}
		}
	}
}

// TriggerSync runs a live sync of every product. When a live run is already
// in progress the trigger is dropped and ErrSyncInProgress is returned.
func (m *Manager) TriggerSync(ctx context.Context) (*RunSummary, error) {
	return m.RunNow(ctx, nil, false)
}

// RunNow runs a sync over scope. Live runs are serialized with the schedule;
// dry runs write nothing and run alongside.
func (m *Manager) RunNow(ctx context.Context, scope models.Scope, dryRun bool) (*RunSummary, error) {
	if m.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.RunTimeout)
		defer cancel()
	}

	if dryRun {
		return m.runner.RunSync(ctx, scope, true)
	}

	if !m.syncMu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer m.syncMu.Unlock()

	summary, err := m.runner.RunSync(ctx, scope, false)
	if summary == nil {
		return nil, err
	}

	m.mu.Lock()
	m.lastSummary = summary
	if !summary.Failed() {
		m.lastSync = summary.FinishedAt
	}
	callback := m.onSyncCompleted
	m.mu.Unlock()

	if callback != nil {
		callback(summary)
	}
	return summary, err
}

// LastSyncTime returns the finish time of the last live run in which at
// least one product completed.
func (m *Manager) LastSyncTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSync
}

// LastSummary returns the summary of the last live run, or nil.
func (m *Manager) LastSummary() *RunSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSummary
}

// IsRunning reports whether the schedule is active.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}
