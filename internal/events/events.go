// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

// Package events publishes access changes to a Watermill pub/sub backend so
// downstream systems (CRM, analytics, support tooling) can react to grants,
// extensions and manual review escalations without polling the state store.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Type identifies an access event.
type Type string

const (
	TypeGranted       Type = "access.granted"
	TypeExtended      Type = "access.extended"
	TypeManualReview  Type = "access.manual_review"
	TypeRetryQueued   Type = "access.retry_queued"
	TypeSyncCompleted Type = "sync.completed"
)

// AccessEvent describes one outcome of a sync run.
type AccessEvent struct {
	EventID       string    `json:"event_id"`
	Type          Type      `json:"type"`
	RunID         string    `json:"run_id,omitempty"`
	ScriptID      string    `json:"script_id,omitempty"`
	Username      string    `json:"username,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Expiry        int64     `json:"expiry,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// NewAccessEvent creates an event with a fresh ID and timestamp.
func NewAccessEvent(t Type) AccessEvent {
	return AccessEvent{
		EventID:    uuid.New().String(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
	}
}

// Validate checks the fields every consumer relies on.
func (e *AccessEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.Type == "" {
		return fmt.Errorf("type is required")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	return nil
}

// Topic returns the topic for the event under prefix.
func (e *AccessEvent) Topic(prefix string) string {
	if prefix == "" {
		return string(e.Type)
	}
	return prefix + "." + string(e.Type)
}

// Marshal encodes the event as JSON.
func (e *AccessEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalAccessEvent decodes an event payload.
func UnmarshalAccessEvent(data []byte) (*AccessEvent, error) {
	var e AccessEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode access event: %w", err)
	}
	return &e, nil
}

// Publisher publishes access events.
type Publisher interface {
	Publish(ctx context.Context, event AccessEvent) error
	Close() error
}

// NopPublisher discards events. Used when the event stream is disabled.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, AccessEvent) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }
