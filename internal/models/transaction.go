// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package models

import "time"

// SecondsPerDay converts configured plan lengths (days) into PlanDuration seconds.
const SecondsPerDay int64 = 86400

// Transaction is a paid membership transaction after normalization.
type Transaction struct {
	ID               string `json:"id" validate:"required,max=128"`
	Username         string `json:"username" validate:"required,username"`
	Email            string `json:"email" validate:"required,email"`
	ProductID        string `json:"product_id" validate:"required"`
	ScriptID         string `json:"script_id,omitempty"`
	Timestamp        int64  `json:"timestamp" validate:"gte=0"`
	PlanDuration     int64  `json:"plan_duration"`
	SubscriptionType string `json:"subscription_type,omitempty"`

	// Membership-side identity, sent to the provider as wp_username.
	WPUsername  string `json:"wp_username,omitempty"`
	WPUserID    string `json:"wp_user_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Remarks     string `json:"remarks,omitempty"`
	Status      string `json:"status,omitempty"`
}

// CreatedAt returns the transaction timestamp as a UTC time.
func (t *Transaction) CreatedAt() time.Time {
	return time.Unix(t.Timestamp, 0).UTC()
}

// ProviderUser is a user already holding access on the provider side.
type ProviderUser struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Expiry   int64  `json:"expiry"`
}

// AccessPayload is the body of a grant or update call.
type AccessPayload struct {
	ScriptID         string `json:"scriptId"`
	Username         string `json:"username"`
	Email            string `json:"email"`
	Expiry           string `json:"expiry"`
	SubscriptionType string `json:"subscription_type,omitempty"`
	WPUsername       string `json:"wp_username,omitempty"`
	Remarks          string `json:"remarks,omitempty"`
}

// ExpiryDate formats a UNIX-seconds expiry the way the provider expects it.
func ExpiryDate(expiry int64) string {
	return time.Unix(expiry, 0).UTC().Format("2006-01-02")
}
