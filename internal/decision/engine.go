// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

// Package decision decides whether a paid transaction grants new access,
// extends existing access or needs manual review, and computes the expiry.
//
// Stacking rule: newExpiry = max(now, currentExpiry) + planDuration. A lapsed
// subscription gets no backdated credit; an active one is extended from its
// real end.
package decision

import (
	"fmt"
	"time"

	"github.com/tomtom215/accessync/internal/models"
	"github.com/tomtom215/accessync/internal/state"
)

// Kind is the action type.
type Kind int

const (
	Grant Kind = iota
	Extend
	Reject
)

func (k Kind) String() string {
	switch k {
	case Grant:
		return "grant"
	case Extend:
		return "extend"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Rejection reasons.
const (
	ReasonStackingDisabled = "stacking disabled, active subscription exists"
	ReasonInvalidMapping   = "invalid product mapping"
)

// Action is the decided outcome for one transaction. Payload and Expiry are
// set for Grant and Extend; Reason is set for Reject.
type Action struct {
	Kind           Kind
	Payload        models.AccessPayload
	Expiry         int64
	PreviousExpiry int64
	Reason         string
}

// Engine makes decisions against a product catalog.
type Engine struct {
	catalog        models.Catalog
	now            func() time.Time
	defaultRemarks string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithDefaultRemarks sets the remarks sent when a transaction has none.
func WithDefaultRemarks(remarks string) Option {
	return func(e *Engine) { e.defaultRemarks = remarks }
}

// NewEngine creates an engine.
func NewEngine(catalog models.Catalog, opts ...Option) *Engine {
	e := &Engine{catalog: catalog, now: time.Now, defaultRemarks: "paid"}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time {
	return e.now()
}

// Decide computes the action for txn against st. It performs no I/O.
//
// A product without a script mapping, mapped to a different script, or with
// a non-positive plan duration is rejected before anything else. With
// stacking disabled, a user whose access is still running is rejected; a
// lapsed user is renewed from now.
func (e *Engine) Decide(txn *models.Transaction, st *state.ProductState) Action {
	product, ok := e.catalog.Lookup(txn.ProductID)
	if !ok || product.ScriptID == "" || product.ScriptID != st.ScriptID || txn.PlanDuration <= 0 {
		return Action{Kind: Reject, Reason: ReasonInvalidMapping}
	}

	now := e.now().Unix()
	existing, found := st.User(txn.Username)

	if !found {
		expiry := now + txn.PlanDuration
		return Action{Kind: Grant, Expiry: expiry, Payload: e.payload(txn, product, expiry)}
	}

	current := existing.Expiry
	if !product.StackingAllowed && current > now {
		return Action{Kind: Reject, Reason: ReasonStackingDisabled, PreviousExpiry: current}
	}

	expiry := max(now, current) + txn.PlanDuration
	return Action{
		Kind:           Extend,
		Expiry:         expiry,
		PreviousExpiry: current,
		Payload:        e.payload(txn, product, expiry),
	}
}

func (e *Engine) payload(txn *models.Transaction, product models.Product, expiry int64) models.AccessPayload {
	subType := txn.SubscriptionType
	if subType == "" {
		subType = product.SubscriptionType
	}
	remarks := txn.Remarks
	if remarks == "" {
		remarks = e.defaultRemarks
	}
	return models.AccessPayload{
		ScriptID:         product.ScriptID,
		Username:         txn.Username,
		Email:            txn.Email,
		Expiry:           models.ExpiryDate(expiry),
		SubscriptionType: subType,
		WPUsername:       txn.WPUsername,
		Remarks:          remarks,
	}
}
