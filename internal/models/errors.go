// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures for routing: retry queue, manual review or run abort.
type ErrorKind string

const (
	// KindTransport covers network errors, timeouts, 5xx and rate limiting. Retryable.
	KindTransport ErrorKind = "transport"

	// KindProviderRejection is a 4xx from the provider. Permanent.
	KindProviderRejection ErrorKind = "provider_rejection"

	// KindUnknownUsername means the provider confirmed the username does not exist.
	KindUnknownUsername ErrorKind = "unknown_username"

	// KindValidation is a malformed transaction or product mapping. Permanent.
	KindValidation ErrorKind = "validation"

	// KindPersistence is a state store failure. Fatal to the product run.
	KindPersistence ErrorKind = "persistence"
)

// Retryable reports whether a failure of this kind belongs in the retry queue.
func (k ErrorKind) Retryable() bool {
	return k == KindTransport
}

var (
	// ErrStateLocked is returned when another run holds the product lease.
	ErrStateLocked = errors.New("product state is locked by another run")

	// ErrNoProductMapping is returned for transactions whose product is not configured.
	ErrNoProductMapping = errors.New("no product mapping")
)

// SyncError carries an ErrorKind alongside the failing operation.
type SyncError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewSyncError wraps err with a kind and operation name.
func NewSyncError(kind ErrorKind, op string, err error) *SyncError {
	return &SyncError{Kind: kind, Op: op, Err: err}
}

func (e *SyncError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind from err. Unclassified errors are treated as
// transport failures so they are retried rather than lost.
func KindOf(err error) ErrorKind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransport
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Kind == kind
}
