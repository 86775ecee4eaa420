// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	runIDKey         contextKey = "run_id"
	requestIDKey     contextKey = "request_id"
	correlationIDKey contextKey = "correlation_id"
	scriptIDKey      contextKey = "script_id"
)

// GenerateRunID returns a new sync run identifier.
func GenerateRunID() string {
	return uuid.New().String()
}

// GenerateRequestID returns a new HTTP request identifier.
func GenerateRequestID() string {
	return uuid.New().String()
}

// GenerateCorrelationID returns a short correlation identifier for log grouping.
func GenerateCorrelationID() string {
	return uuid.New().String()[:8]
}

// ContextWithRunID tags ctx with the sync run identifier.
func ContextWithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext returns the run identifier or "".
func RunIDFromContext(ctx context.Context) string {
	return stringValue(ctx, runIDKey)
}

// ContextWithRequestID tags ctx with an HTTP request identifier.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request identifier or "".
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// ContextWithCorrelationID tags ctx with a correlation identifier.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// ContextWithNewCorrelationID tags ctx with a freshly generated correlation identifier.
func ContextWithNewCorrelationID(ctx context.Context) context.Context {
	return ContextWithCorrelationID(ctx, GenerateCorrelationID())
}

// CorrelationIDFromContext returns the correlation identifier or "".
func CorrelationIDFromContext(ctx context.Context) string {
	return stringValue(ctx, correlationIDKey)
}

// ContextWithScriptID tags ctx with the product script being synced.
func ContextWithScriptID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, scriptIDKey, id)
}

// ScriptIDFromContext returns the script identifier or "".
func ScriptIDFromContext(ctx context.Context) string {
	return stringValue(ctx, scriptIDKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// Ctx returns the global logger enriched with every identifier present in ctx.
//
//	logging.Ctx(ctx).Info().Msg("Fetching transactions")
func Ctx(ctx context.Context) *zerolog.Logger {
	lc := With()
	for _, key := range []contextKey{runIDKey, requestIDKey, correlationIDKey, scriptIDKey} {
		if v := stringValue(ctx, key); v != "" {
			lc = lc.Str(string(key), v)
		}
	}
	l := lc.Logger()
	return &l
}
