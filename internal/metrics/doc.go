// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

/*
Package metrics provides Prometheus metrics collection and export for observability.

All collectors are registered on the default registry through promauto and are
exposed at the /metrics endpoint in Prometheus text format:

	curl http://localhost:8080/metrics

# Available Metrics

Sync Metrics:
  - accessync_sync_runs_total: Completed runs (counter)
    Labels: mode (scheduled, manual, batch), result (success, partial, failed, dry_run)
  - accessync_sync_duration_seconds: Run latency (histogram)
  - accessync_transactions_total: Per-transaction outcomes (counter)
    Labels: outcome (granted, extended, retried, manual_review, skipped, error)
  - accessync_retry_queue_depth, accessync_manual_review_depth: Queue sizes (gauge)
    Labels: script_id
  - accessync_watermark_timestamp: lastProcessedAt per product (gauge)
    Labels: script_id

Provider Metrics:
  - accessync_provider_requests_total: Provider calls (counter)
    Labels: operation (grant, update, validate, list_users), outcome
  - accessync_provider_request_duration_seconds: Call latency including retries (histogram)
  - circuit_breaker_*: Breaker state, requests and transitions

Side-channel Metrics:
  - accessync_notifications_total: Labels channel (email, discord), result
  - accessync_events_published_total: Labels topic, result

HTTP Metrics:
  - accessync_http_requests_total, accessync_http_request_duration_seconds
*/
package metrics
