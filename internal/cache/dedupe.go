// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

// Package cache provides a bounded, expiring set of recently seen keys.
// The notification dispatcher uses it to avoid sending the same alert or
// customer email twice within a window.
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Dedupe remembers keys for a fixed TTL. When full, the least recently
// seen key is evicted first. Safe for concurrent use.
type Dedupe struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, time.Time]
	ttl time.Duration

	hits   int64
	misses int64
}

// NewDedupe creates a set holding at most capacity keys for ttl each.
// Non-positive values default to 10000 keys and 5 minutes.
func NewDedupe(capacity int, ttl time.Duration) *Dedupe {
	if capacity <= 0 {
		capacity = 10000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Dedupe{
		lru: expirable.NewLRU[string, time.Time](capacity, nil, ttl),
		ttl: ttl,
	}
}

// Seen reports whether key was recorded within the TTL. A key that was not
// seen is recorded, so the first call returns false and later calls return
// true until the entry expires.
func (d *Dedupe) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.lru.Get(key); ok {
		d.hits++
		return true
	}
	d.lru.Add(key, time.Now())
	d.misses++
	return false
}

// Forget removes key so the next Seen records it afresh. Used when the
// action the key guarded did not happen after all.
func (d *Dedupe) Forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lru.Remove(key)
}

// Len returns the number of keys held, including any not yet reaped.
func (d *Dedupe) Len() int {
	return d.lru.Len()
}

// TTL returns how long keys are remembered.
func (d *Dedupe) TTL() time.Duration {
	return d.ttl
}

// Stats returns duplicate (hits) and first-seen (misses) counts.
func (d *Dedupe) Stats() (hits, misses int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hits, d.misses
}
