// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

// Package identity checks transaction usernames against the access provider
// before any grant or update is attempted.
package identity

import (
	"context"
	"strings"

	"github.com/tomtom215/accessync/internal/logging"
	"github.com/tomtom215/accessync/internal/models"
	"github.com/tomtom215/accessync/internal/provider"
	"github.com/tomtom215/accessync/internal/validation"
)

// Status is the validator's answer.
type Status int

const (
	// Valid means the provider recognizes the username.
	Valid Status = iota
	// Invalid means the provider confirmed the username does not exist.
	Invalid
	// Unknown means the provider could not be asked; Err says why.
	Unknown
)

func (s Status) String() string {
	switch s {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Verdict is the result of validating one username.
type Verdict struct {
	Status Status

	// Username is the name to send to the provider. It is the provider's
	// verified spelling when that differs only in case.
	Username    string
	Suggestions []string
	Err         error
}

// UsernameChecker is the provider operation the validator needs.
type UsernameChecker interface {
	ValidateUsername(ctx context.Context, username string) (*provider.Validation, error)
}

// Validator validates usernames. It keeps no cache: every call asks the provider.
type Validator struct {
	checker UsernameChecker
}

// NewValidator creates a validator backed by checker.
func NewValidator(checker UsernameChecker) *Validator {
	return &Validator{checker: checker}
}

// Validate checks username. A malformed username is Invalid without a
// provider call. A failed provider call is Unknown and carries the error,
// which keeps its kind for routing (transport errors are retryable).
func (v *Validator) Validate(ctx context.Context, username string) Verdict {
	username = strings.TrimSpace(username)
	if !validation.ValidUsername(username) {
		return Verdict{Status: Invalid, Username: username}
	}

	res, err := v.checker.ValidateUsername(ctx, username)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("username", username).Msg("Username validation failed")
		return Verdict{Status: Unknown, Username: username, Err: err}
	}
	if res == nil || !res.Valid {
		var suggestions []string
		if res != nil {
			suggestions = res.Suggestions
		}
		return Verdict{Status: Invalid, Username: username, Suggestions: suggestions}
	}

	effective := username
	if res.VerifiedUsername != "" && res.VerifiedUsername != username {
		if strings.EqualFold(res.VerifiedUsername, username) {
			effective = res.VerifiedUsername
		} else {
			logging.Ctx(ctx).Warn().
				Str("username", username).
				Str("verified_username", res.VerifiedUsername).
				Msg("Provider verified a different username; keeping the submitted one")
		}
	}
	return Verdict{Status: Valid, Username: effective}
}

// Error returns the verdict as an error suitable for queue routing, or nil
// when the username is valid.
func (v Verdict) Error() error {
	switch v.Status {
	case Valid:
		return nil
	case Invalid:
		return models.NewSyncError(models.KindUnknownUsername, "validate username", nil)
	default:
		if v.Err != nil {
			return v.Err
		}
		return models.NewSyncError(models.KindTransport, "validate username", nil)
	}
}
