// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package services

import (
	"context"
	"time"

	"github.com/tomtom215/accessync/internal/logging"
)

// GarbageCollector is satisfied by *state.Store.
type GarbageCollector interface {
	RunGC() error
}

// StateGCService periodically reclaims space in the state store's value log.
// Every sync rewrites whole ProductState documents, so stale values pile up
// quickly without it.
//
// Example usage:
//
//	tree.AddDataService(services.NewStateGCService(store, cfg.State.GCInterval))
type StateGCService struct {
	gc       GarbageCollector
	interval time.Duration
	name     string
}

// NewStateGCService creates the GC loop. A non-positive interval defaults to 10 minutes.
func NewStateGCService(gc GarbageCollector, interval time.Duration) *StateGCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &StateGCService{
		gc:       gc,
		interval: interval,
		name:     "state-gc",
	}
}

// Serve implements suture.Service. GC errors are logged and the loop
// continues; only context cancellation ends it.
func (s *StateGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			if err := s.gc.RunGC(); err != nil {
				logging.Warn().Err(err).Msg("State store GC failed")
				continue
			}
			logging.Debug().Dur("duration", time.Since(start)).Msg("State store GC completed")
		}
	}
}

// String implements fmt.Stringer for logging.
func (s *StateGCService) String() string {
	return s.name
}
