// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package api

import (
	"net/http"
	"time"
)

// HealthStatus is the payload of GET /health.
type HealthStatus struct {
	Status        string     `json:"status"`
	LastSync      *time.Time `json:"last_sync"`
	LastRunID     string     `json:"last_run_id,omitempty"`
	LastRunErrors int        `json:"last_run_errors"`
	Products      int        `json:"products"`
	Uptime        float64    `json:"uptime"`
}

// Health reports service status and the time of the last successful run.
// last_sync is null until a live run has completed at least one product.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:   "ok",
		Products: len(h.catalog.ScriptIDs()),
		Uptime:   time.Since(h.startTime).Seconds(),
	}

	if last := h.sync.LastSyncTime(); !last.IsZero() {
		status.LastSync = &last
	}
	if summary := h.sync.LastSummary(); summary != nil {
		status.LastRunID = summary.RunID
		status.LastRunErrors = summary.Errors
		if summary.Failed() {
			status.Status = "degraded"
		}
	}

	respondSuccess(w, http.StatusOK, status, time.Time{})
}

// HealthLive is a Kubernetes liveness probe. It always returns 200 while the
// process can serve HTTP.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	}, time.Time{})
}
