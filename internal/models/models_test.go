// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"direct", NewSyncError(KindProviderRejection, "grant", base), KindProviderRejection},
		{"wrapped", fmt.Errorf("outer: %w", NewSyncError(KindUnknownUsername, "validate", nil)), KindUnknownUsername},
		{"unclassified", base, KindTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSyncErrorUnwrap(t *testing.T) {
	err := NewSyncError(KindPersistence, "save", ErrStateLocked)
	if !errors.Is(err, ErrStateLocked) {
		t.Error("expected errors.Is to see the wrapped sentinel")
	}
	if !IsKind(err, KindPersistence) {
		t.Error("expected persistence kind")
	}
	if KindTransport.Retryable() != true || KindProviderRejection.Retryable() {
		t.Error("only transport failures are retryable")
	}
}

func TestExpiryDate(t *testing.T) {
	// 2024-03-01T12:00:00Z
	if got := ExpiryDate(1709294400); got != "2024-03-01" {
		t.Errorf("ExpiryDate() = %s, want 2024-03-01", got)
	}
}
