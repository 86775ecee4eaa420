// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package api

import (
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/accessync/internal/state"
)

// StateSnapshot is the read-only view of one product's stored state.
// Processed ids are summarized by count; the full window is internal.
type StateSnapshot struct {
	ScriptID        string                     `json:"script_id"`
	Users           []state.UserRecord         `json:"users"`
	WindowSize      int                        `json:"processed_window_size"`
	WindowCapacity  int                        `json:"processed_window_capacity"`
	RetryQueue      []state.PendingTransaction `json:"retry_queue"`
	ManualReview    []state.PendingTransaction `json:"manual_review"`
	LastProcessedAt int64                      `json:"last_processed_at"`
	Bootstrapped    bool                       `json:"bootstrapped"`
	UpdatedAt       int64                      `json:"updated_at"`
	Version         int64                      `json:"version"`
}

// State returns the stored state of the product identified by scriptId.
// It never creates or bootstraps state; unknown ids are 404.
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	scriptID, err := url.PathUnescape(chi.URLParam(r, "scriptId"))
	if err != nil || scriptID == "" {
		respondError(w, http.StatusBadRequest, CodeValidation, "invalid script id", nil)
		return
	}

	st, found, err := h.states.Peek(r.Context(), scriptID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeStateError, "failed to read state", err)
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, CodeNotFound, "no state for script "+sanitizeLogValue(scriptID), nil)
		return
	}

	respondSuccess(w, http.StatusOK, snapshot(st), start)
}

func snapshot(st *state.ProductState) StateSnapshot {
	users := make([]state.UserRecord, 0, len(st.Users))
	for _, u := range st.Users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })

	s := StateSnapshot{
		ScriptID:        st.ScriptID,
		Users:           users,
		RetryQueue:      nonNil(st.RetryQueue),
		ManualReview:    nonNil(st.ManualReview),
		LastProcessedAt: st.LastProcessedAt,
		Bootstrapped:    st.Bootstrapped,
		UpdatedAt:       st.UpdatedAt,
		Version:         st.Version,
	}
	if st.Processed != nil {
		s.WindowSize = st.Processed.Len()
		s.WindowCapacity = st.Processed.Capacity()
	}
	return s
}

func nonNil(q []state.PendingTransaction) []state.PendingTransaction {
	if q == nil {
		return []state.PendingTransaction{}
	}
	return q
}

