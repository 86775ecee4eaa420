// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/accessync/internal/models"
	"github.com/tomtom215/accessync/internal/state"
	syncpkg "github.com/tomtom215/accessync/internal/sync"
)

// SyncRunner runs syncs on request. Implemented by *sync.Manager.
type SyncRunner interface {
	RunNow(ctx context.Context, scope models.Scope, dryRun bool) (*syncpkg.RunSummary, error)
	LastSyncTime() time.Time
	LastSummary() *syncpkg.RunSummary
}

// StateReader reads stored product state without creating it.
// Implemented by *state.Repository.
type StateReader interface {
	Peek(ctx context.Context, scriptID string) (*state.ProductState, bool, error)
}

// Handler contains dependencies for API handlers.
//
// Handler methods are split across files:
//   - handlers.go: Handler struct and constructor (this file)
//   - handlers_helpers.go: response and request helpers
//   - handlers_health.go: health endpoints
//   - handlers_sync.go: sync trigger
//   - handlers_state.go: state inspection
type Handler struct {
	sync      SyncRunner
	states    StateReader
	catalog   models.Catalog
	startTime time.Time
}

// NewHandler creates an API handler.
//
// Example:
//
//	handler := api.NewHandler(syncManager, repo, cfg.Catalog())
//	router := api.NewRouter(handler, nil)
func NewHandler(runner SyncRunner, states StateReader, catalog models.Catalog) *Handler {
	return &Handler{
		sync:      runner,
		states:    states,
		catalog:   catalog,
		startTime: time.Now(),
	}
}

// NotFound answers unknown routes with the JSON envelope.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, CodeNotFound, "route not found: "+sanitizeLogValue(r.URL.Path), nil)
}

// MethodNotAllowed answers known routes hit with the wrong method.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusMethodNotAllowed, CodeValidation, "method not allowed: "+r.Method, nil)
}
