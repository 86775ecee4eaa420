// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package models

import "sort"

// Product maps a membership product to the provider script it unlocks.
type Product struct {
	ProductID        string `json:"product_id"`
	ScriptID         string `json:"script_id"`
	PlanDuration     int64  `json:"plan_duration"`
	SubscriptionType string `json:"subscription_type,omitempty"`
	StackingAllowed  bool   `json:"stacking_allowed"`
}

// Catalog is the configured product mapping keyed by product ID.
type Catalog map[string]Product

// Lookup returns the product for productID.
func (c Catalog) Lookup(productID string) (Product, bool) {
	p, ok := c[productID]
	return p, ok
}

// ScriptIDs returns the distinct script IDs in a stable order.
func (c Catalog) ScriptIDs() []string {
	seen := make(map[string]struct{}, len(c))
	out := make([]string, 0, len(c))
	for _, p := range c {
		if _, ok := seen[p.ScriptID]; ok {
			continue
		}
		seen[p.ScriptID] = struct{}{}
		out = append(out, p.ScriptID)
	}
	sort.Strings(out)
	return out
}

// ProductIDsFor returns the product IDs mapped onto scriptID, sorted.
func (c Catalog) ProductIDsFor(scriptID string) []string {
	var out []string
	for id, p := range c {
		if p.ScriptID == scriptID {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Scope restricts a run to a set of product IDs. An empty Scope means all products.
type Scope []string

// Includes reports whether productID is in scope.
func (s Scope) Includes(productID string) bool {
	if len(s) == 0 {
		return true
	}
	for _, id := range s {
		if id == productID {
			return true
		}
	}
	return false
}
