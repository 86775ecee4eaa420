// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package provider

import (
	"context"

	"github.com/tomtom215/accessync/internal/logging"
	"github.com/tomtom215/accessync/internal/models"
)

// DryRunGateway forwards read-only calls and turns Grant and Update into
// logged no-ops that always succeed.
type DryRunGateway struct {
	next Gateway
}

// NewDryRunGateway wraps next.
func NewDryRunGateway(next Gateway) *DryRunGateway {
	return &DryRunGateway{next: next}
}

// Grant logs the payload.
func (g *DryRunGateway) Grant(ctx context.Context, payload models.AccessPayload) error {
	logDryRun(ctx, "grant", payload)
	return nil
}

// Update logs the payload.
func (g *DryRunGateway) Update(ctx context.Context, payload models.AccessPayload) error {
	logDryRun(ctx, "update", payload)
	return nil
}

// ValidateUsername implements Gateway.
func (g *DryRunGateway) ValidateUsername(ctx context.Context, username string) (*Validation, error) {
	return g.next.ValidateUsername(ctx, username)
}

// ListUsers implements Gateway.
func (g *DryRunGateway) ListUsers(ctx context.Context, scriptID string) ([]models.ProviderUser, error) {
	return g.next.ListUsers(ctx, scriptID)
}

func logDryRun(ctx context.Context, op string, p models.AccessPayload) {
	logging.Ctx(ctx).Info().
		Str("operation", op).
		Str("script_id", p.ScriptID).
		Str("username", p.Username).
		Str("email", p.Email).
		Str("expiry", p.Expiry).
		Str("subscription_type", p.SubscriptionType).
		Str("wp_username", p.WPUsername).
		Str("remarks", p.Remarks).
		Msg("Dry run: would call provider")
}
