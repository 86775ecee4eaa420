// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package provider

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/accessync/internal/logging"
	"github.com/tomtom215/accessync/internal/metrics"
	"github.com/tomtom215/accessync/internal/models"
)

// CircuitBreakerGateway wraps a Gateway with a circuit breaker so an
// unavailable provider fails fast instead of tying up each transaction for the
// full retry schedule. Rejections while open are retryable transport failures.
//
// Only transport failures count against the breaker; a 4xx rejection means
// the provider is up.
type CircuitBreakerGateway struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// CircuitBreakerSettings tunes the breaker. Zero values use the defaults.
type CircuitBreakerSettings struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

// NewCircuitBreakerGateway wraps next.
// Circuit breaker defaults:
// - Max 3 concurrent requests in half-open state
// - 1 minute measurement window
// - 2 minute timeout before attempting recovery
// - Opens after 60% failure rate with minimum 10 requests
func NewCircuitBreakerGateway(next Gateway, s CircuitBreakerSettings) *CircuitBreakerGateway {
	if s.MaxRequests == 0 {
		s.MaxRequests = 3
	}
	if s.Interval == 0 {
		s.Interval = time.Minute
	}
	if s.Timeout == 0 {
		s.Timeout = 2 * time.Minute
	}
	if s.MinRequests == 0 {
		s.MinRequests = 10
	}
	if s.FailureRatio == 0 {
		s.FailureRatio = 0.6
	}

	name := "access-provider"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= s.FailureRatio
			if shouldTrip {
				logging.Warn().Uint32("failures", counts.TotalFailures).Float64("failure_rate", failureRatio*100).Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return shouldTrip
		},

		IsSuccessful: func(err error) bool {
			return err == nil || !models.KindOf(err).Retryable()
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := from.String(), to.String()
			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
			if to == gobreaker.StateClosed {
				metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
			}
		},
	})

	return &CircuitBreakerGateway{next: next, cb: cb, name: name}
}

// State returns the breaker state.
func (g *CircuitBreakerGateway) State() gobreaker.State {
	return g.cb.State()
}

func (g *CircuitBreakerGateway) execute(op string, fn func() (any, error)) (any, error) {
	result, err := g.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(g.name, "rejected").Inc()
			logging.Warn().Err(err).Str("operation", op).Msg("[CIRCUIT BREAKER] Request rejected")
			return nil, models.NewSyncError(models.KindTransport, op, err)
		}
		metrics.CircuitBreakerRequests.WithLabelValues(g.name, "failure").Inc()
		metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(g.name).Set(float64(g.cb.Counts().ConsecutiveFailures))
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(g.name, "success").Inc()
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(g.name).Set(0)
	return result, nil
}

// Grant implements Gateway.
func (g *CircuitBreakerGateway) Grant(ctx context.Context, payload models.AccessPayload) error {
	_, err := g.execute("grant", func() (any, error) {
		return nil, g.next.Grant(ctx, payload)
	})
	return err
}

// Update implements Gateway.
func (g *CircuitBreakerGateway) Update(ctx context.Context, payload models.AccessPayload) error {
	_, err := g.execute("update", func() (any, error) {
		return nil, g.next.Update(ctx, payload)
	})
	return err
}

// ValidateUsername implements Gateway.
func (g *CircuitBreakerGateway) ValidateUsername(ctx context.Context, username string) (*Validation, error) {
	res, err := g.execute("validate", func() (any, error) {
		return g.next.ValidateUsername(ctx, username)
	})
	if err != nil {
		return nil, err
	}
	v, _ := res.(*Validation)
	return v, nil
}

// ListUsers implements Gateway.
func (g *CircuitBreakerGateway) ListUsers(ctx context.Context, scriptID string) ([]models.ProviderUser, error) {
	res, err := g.execute("list_users", func() (any, error) {
		return g.next.ListUsers(ctx, scriptID)
	})
	if err != nil {
		return nil, err
	}
	users, _ := res.([]models.ProviderUser)
	return users, nil
}

// stateToFloat converts circuit breaker state to numeric value for metrics
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
