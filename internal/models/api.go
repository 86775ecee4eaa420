// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package models

import "time"

// APIResponse is the envelope returned by every HTTP endpoint.
//
// Status is "success" or "error". On error, Error carries the details and
// Data is null.
//
//	{
//	  "status": "error",
//	  "error": {"code": "VALIDATION_ERROR", "message": "unknown product"},
//	  "metadata": {"timestamp": "2026-01-02T12:00:00Z"}
//	}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata accompanies every API response.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`

	// DurationMS is the handler time for sync and state requests.
	DurationMS int64 `json:"duration_ms,omitempty"`
}

// APIError is a machine-readable error code with a human message.
//
// Codes in use: VALIDATION_ERROR, NOT_FOUND, SYNC_IN_PROGRESS, LOCKED,
// SYNC_FAILED, STATE_ERROR, RATE_LIMIT_EXCEEDED.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
