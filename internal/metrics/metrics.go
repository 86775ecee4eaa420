// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync Metrics
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessync_sync_runs_total",
			Help: "Total number of completed sync runs",
		},
		[]string{"mode", "result"},
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "accessync_sync_duration_seconds",
			Help:    "Duration of sync runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "accessync_sync_last_success_timestamp",
			Help: "Unix timestamp of the last run that finished without product failures",
		},
	)

	TransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessync_transactions_total",
			Help: "Total number of transactions by outcome",
		},
		[]string{"outcome"},
	)

	RetryQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "accessync_retry_queue_depth",
			Help: "Transactions waiting in the retry queue",
		},
		[]string{"script_id"},
	)

	ManualReviewDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "accessync_manual_review_depth",
			Help: "Transactions awaiting manual review",
		},
		[]string{"script_id"},
	)

	WatermarkTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "accessync_watermark_timestamp",
			Help: "Last processed transaction timestamp per product",
		},
		[]string{"script_id"},
	)

	StateSaveErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessync_state_save_errors_total",
			Help: "Total number of failed state saves",
		},
		[]string{"script_id"},
	)

	// Provider Metrics
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessync_provider_requests_total",
			Help: "Total number of access provider calls",
		},
		[]string{"operation", "outcome"},
	)

	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "accessync_provider_request_duration_seconds",
			Help:    "Duration of access provider calls including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 60, 120},
		},
		[]string{"operation"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Notification and Event Metrics
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessync_notifications_total",
			Help: "Total number of notifications sent",
		},
		[]string{"channel", "result"},
	)

	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessync_events_published_total",
			Help: "Total number of access events published",
		},
		[]string{"topic", "result"},
	)

	// HTTP Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessync_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "accessync_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordSyncRun records a finished run.
func RecordSyncRun(mode, result string, duration time.Duration) {
	SyncRunsTotal.WithLabelValues(mode, result).Inc()
	SyncDuration.Observe(duration.Seconds())
	if result == "success" {
		SyncLastSuccess.Set(float64(time.Now().Unix()))
	}
}

// RecordTransaction counts one transaction outcome.
func RecordTransaction(outcome string) {
	TransactionsTotal.WithLabelValues(outcome).Inc()
}

// UpdateProductGauges publishes a product's queue depths and watermark after a save.
func UpdateProductGauges(scriptID string, retryDepth, manualDepth int, watermark int64) {
	RetryQueueDepth.WithLabelValues(scriptID).Set(float64(retryDepth))
	ManualReviewDepth.WithLabelValues(scriptID).Set(float64(manualDepth))
	WatermarkTimestamp.WithLabelValues(scriptID).Set(float64(watermark))
}

// RecordProviderRequest records one provider call and its normalized outcome.
func RecordProviderRequest(operation, outcome string, duration time.Duration) {
	ProviderRequestsTotal.WithLabelValues(operation, outcome).Inc()
	ProviderRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordNotification records a notification attempt.
func RecordNotification(channel string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	NotificationsTotal.WithLabelValues(channel, result).Inc()
}

// RecordEventPublish records an event publish attempt.
func RecordEventPublish(topic string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	EventsPublishedTotal.WithLabelValues(topic, result).Inc()
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
