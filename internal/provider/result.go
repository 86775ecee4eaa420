// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package provider

import (
	"fmt"
	"net/http"

	"github.com/tomtom215/accessync/internal/models"
)

// Outcome is the normalized result of a provider call.
type Outcome int

const (
	Success Outcome = iota
	RetryableFailure
	PermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case RetryableFailure:
		return "retryable_failure"
	case PermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// OutcomeOf normalizes an error returned by a Gateway method.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return Success
	}
	if models.KindOf(err).Retryable() {
		return RetryableFailure
	}
	return PermanentFailure
}

// StatusError is a non-2xx response from the provider.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("provider returned HTTP %d: %s", e.StatusCode, e.Body)
}

// classifyStatus maps an HTTP status to an error kind. 408, 429 and 5xx are
// transient; every other 4xx is a permanent rejection.
func classifyStatus(code int) models.ErrorKind {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return models.KindTransport
	default:
		return models.KindProviderRejection
	}
}
