// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package state

import (
	"github.com/goccy/go-json"
)

// DefaultWindowCapacity is the number of processed transaction IDs remembered per product.
const DefaultWindowCapacity = 500

// IDWindow is a fixed-capacity ordered set of transaction IDs. Membership is
// O(1) through the index map; once full, each Add evicts the oldest ID.
//
// An evicted ID no longer blocks reprocessing. The since watermark keeps old
// transactions out of normal fetches, so only a re-delivery older than the
// last 500 processed IDs can slip through.
type IDWindow struct {
	ring  []string
	head  int // index of the oldest entry
	size  int
	index map[string]struct{}
}

// NewIDWindow returns an empty window. A non-positive capacity uses DefaultWindowCapacity.
func NewIDWindow(capacity int) *IDWindow {
	if capacity <= 0 {
		capacity = DefaultWindowCapacity
	}
	return &IDWindow{
		ring:  make([]string, capacity),
		index: make(map[string]struct{}, capacity),
	}
}

// Capacity returns the maximum number of IDs held.
func (w *IDWindow) Capacity() int {
	return len(w.ring)
}

// Len returns the number of IDs held.
func (w *IDWindow) Len() int {
	return w.size
}

// Contains reports whether id is in the window.
func (w *IDWindow) Contains(id string) bool {
	_, ok := w.index[id]
	return ok
}

// Add inserts id. It returns the evicted ID, if any. Adding an ID already
// present is a no-op and does not refresh its position.
func (w *IDWindow) Add(id string) (evicted string, didEvict bool) {
	if w.Contains(id) {
		return "", false
	}

	if w.size == len(w.ring) {
		evicted = w.ring[w.head]
		delete(w.index, evicted)
		w.ring[w.head] = id
		w.head = (w.head + 1) % len(w.ring)
		w.index[id] = struct{}{}
		return evicted, true
	}

	w.ring[(w.head+w.size)%len(w.ring)] = id
	w.size++
	w.index[id] = struct{}{}
	return "", false
}

// IDs returns the held IDs oldest first.
func (w *IDWindow) IDs() []string {
	out := make([]string, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.ring[(w.head+i)%len(w.ring)]
	}
	return out
}

// Clone returns an independent copy.
func (w *IDWindow) Clone() *IDWindow {
	c := NewIDWindow(len(w.ring))
	for _, id := range w.IDs() {
		c.Add(id)
	}
	return c
}

// MarshalJSON encodes the window as an oldest-first array.
func (w *IDWindow) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.IDs())
}

// UnmarshalJSON decodes an oldest-first array. When the stored list is longer
// than the capacity only the newest IDs are kept.
func (w *IDWindow) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	capacity := len(w.ring)
	if capacity == 0 {
		capacity = DefaultWindowCapacity
	}
	*w = *NewIDWindow(capacity)
	for _, id := range ids {
		w.Add(id)
	}
	return nil
}
