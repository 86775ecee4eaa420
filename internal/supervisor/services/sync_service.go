// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/accessync/internal/logging"
)

// StartStopManager is the part of sync.Manager the supervisor drives.
type StartStopManager interface {
	Start(ctx context.Context) error
	Stop() error
}

// SyncService runs the sync schedule under suture. Serve starts the
// manager, parks until the tree is canceled, then stops it; Stop returns
// only after an in-flight run has saved its progress.
//
//	manager := sync.NewManager(orchestrator, sync.ManagerConfig{Interval: cfg.Sync.Interval})
//	tree.AddSyncService(services.NewSyncService(manager))
type SyncService struct {
	manager StartStopManager
	name    string
}

// NewSyncService wraps manager.
func NewSyncService(manager StartStopManager) *SyncService {
	return &SyncService{manager: manager, name: "sync-scheduler"}
}

// Serve implements suture.Service. A Start error is returned as is so
// suture restarts the service with backoff.
func (s *SyncService) Serve(ctx context.Context) error {
	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("start sync scheduler: %w", err)
	}

	<-ctx.Done()

	began := time.Now()
	if err := s.manager.Stop(); err != nil {
		return fmt.Errorf("stop sync scheduler: %w", err)
	}
	logging.Debug().Dur("drain", time.Since(began)).Msg("Sync scheduler stopped")
	return ctx.Err()
}

func (s *SyncService) String() string {
	return s.name
}
