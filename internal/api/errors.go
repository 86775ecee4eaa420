// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

// Package api provides HTTP handlers for Accessync.
//
// errors.go - API error codes and sentinel errors
package api

import "errors"

// Error codes carried in models.APIError.Code.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeSyncInProgress = "SYNC_IN_PROGRESS"
	CodeLocked         = "LOCKED"
	CodeSyncFailed     = "SYNC_FAILED"
	CodeStateError     = "STATE_ERROR"
	CodeRateLimited    = "RATE_LIMIT_EXCEEDED"
)

var (
	// ErrInvalidDryRun is returned for a dry_run query value that is not a boolean.
	ErrInvalidDryRun = errors.New("dry_run must be true or false")

	// ErrBodyTooLarge is returned when the sync request body exceeds maxBodyBytes.
	ErrBodyTooLarge = errors.New("request body too large")
)
