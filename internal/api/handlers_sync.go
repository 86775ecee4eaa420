// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/accessync/internal/logging"
	"github.com/tomtom215/accessync/internal/models"
	syncpkg "github.com/tomtom215/accessync/internal/sync"
)

const maxBodyBytes = 64 << 10

// SyncRequest is the merged query and body of POST /sync.
type SyncRequest struct {
	DryRun     bool     `json:"dry_run"`
	ProductIDs []string `json:"product_ids" validate:"omitempty,max=100,dive,required,max=128"`
}

// Sync runs a sync over the requested products and returns its RunSummary.
//
// The run is detached from the request context: a client that disconnects
// mid-run does not abort provider writes. The manager's RunTimeout still
// bounds it.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	req, err := parseSyncRequest(r)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		respondError(w, status, CodeValidation, err.Error(), nil)
		return
	}
	if apiErr := validateRequest(req); apiErr != nil {
		respondJSON(w, http.StatusBadRequest, &models.APIResponse{
			Status:   "error",
			Metadata: models.Metadata{Timestamp: time.Now()},
			Error:    apiErr,
		})
		return
	}
	for _, id := range req.ProductIDs {
		if _, ok := h.catalog.Lookup(id); !ok {
			respondError(w, http.StatusBadRequest, CodeValidation, "unknown product: "+sanitizeLogValue(id), nil)
			return
		}
	}

	logging.Ctx(r.Context()).Info().
		Bool("dry_run", req.DryRun).
		Strs("products", req.ProductIDs).
		Msg("Sync requested")

	summary, err := h.sync.RunNow(context.WithoutCancel(r.Context()), models.Scope(req.ProductIDs), req.DryRun)
	switch {
	case errors.Is(err, syncpkg.ErrSyncInProgress):
		respondError(w, http.StatusConflict, CodeSyncInProgress, "a sync is already in progress", nil)
	case summary == nil && models.IsKind(err, models.KindValidation):
		respondError(w, http.StatusBadRequest, CodeValidation, err.Error(), nil)
	case summary == nil:
		respondError(w, http.StatusInternalServerError, CodeSyncFailed, "sync failed", err)
	case summary.AllLocked():
		respondErrorWithData(w, http.StatusConflict, CodeLocked, "every requested product is locked by another run", summary, nil)
	case summary.Failed():
		respondErrorWithData(w, http.StatusInternalServerError, CodeSyncFailed, "no product finished", summary, err)
	default:
		// Per-product failures are reported in the summary.
		respondSuccess(w, http.StatusOK, summary, start)
	}
}

// parseSyncRequest merges the query parameters dry_run and product with an
// optional JSON body. Either source may set dry_run; product ids are unioned.
func parseSyncRequest(r *http.Request) (*SyncRequest, error) {
	req := &SyncRequest{}
	query := r.URL.Query()

	if v := query.Get("dry_run"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, ErrInvalidDryRun
		}
		req.DryRun = b
	}
	ids := parseCommaSeparated(query["product"])

	if r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			return nil, err
		}
		if len(body) > maxBodyBytes {
			return nil, ErrBodyTooLarge
		}
		if strings.TrimSpace(string(body)) != "" {
			var fromBody SyncRequest
			if err := json.Unmarshal(body, &fromBody); err != nil {
				return nil, errors.New("invalid JSON body")
			}
			req.DryRun = req.DryRun || fromBody.DryRun
			ids = append(ids, fromBody.ProductIDs...)
		}
	}

	req.ProductIDs = dedupeStrings(ids)
	return req, nil
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
