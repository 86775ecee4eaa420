// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

/*
Package models defines the data shared between the feed, provider, decision,
state and sync packages.

Key types:

  - Transaction: a normalized paid transaction from the membership feed
  - ProviderUser: an access record reported by the provider's list endpoint
  - AccessPayload: the grant/update request body sent to the provider
  - SyncError: the error taxonomy used to route failed transactions

Timestamps are UNIX seconds throughout. Durations attached to transactions
(PlanDuration) are seconds as well.
*/
package models
