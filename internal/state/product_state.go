// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

// Package state holds the per-product sync state and its BadgerDB-backed store.
//
// One ProductState exists per provider script. It records known users and
// their expiries, a bounded window of processed transaction IDs, the retry and
// manual-review queues and the since watermark. A run loads it under an
// exclusive lease, mutates it in memory and saves it with a single atomic
// write; nothing is visible to readers until that write commits.
package state

import (
	"strings"

	"github.com/tomtom215/accessync/internal/models"
)

// Grant history actions.
const (
	ActionGrant     = "grant"
	ActionExtend    = "extend"
	ActionBootstrap = "bootstrap"
)

// GrantEvent records one change to a user's expiry.
type GrantEvent struct {
	Action         string `json:"action"`
	TransactionID  string `json:"transaction_id,omitempty"`
	AppliedAt      int64  `json:"applied_at"`
	PreviousExpiry int64  `json:"previous_expiry,omitempty"`
	Expiry         int64  `json:"expiry"`
}

// UserRecord is a user's access state for one product.
type UserRecord struct {
	Username     string       `json:"username"`
	Email        string       `json:"email,omitempty"`
	Expiry       int64        `json:"expiry"`
	GrantHistory []GrantEvent `json:"grant_history,omitempty"`
}

// PendingTransaction is a transaction waiting in the retry or manual-review queue.
type PendingTransaction struct {
	Transaction   models.Transaction `json:"transaction"`
	Reason        string             `json:"reason"`
	Kind          models.ErrorKind   `json:"kind,omitempty"`
	Attempts      int                `json:"attempts"`
	FirstSeenAt   int64              `json:"first_seen_at"`
	LastAttemptAt int64              `json:"last_attempt_at"`
}

// ProductState is the persisted sync state of one provider script.
type ProductState struct {
	ScriptID        string                 `json:"script_id"`
	Users           map[string]*UserRecord `json:"users"`
	Processed       *IDWindow              `json:"processed_transaction_ids"`
	RetryQueue      []PendingTransaction   `json:"retry_queue"`
	ManualReview    []PendingTransaction   `json:"manual_review"`
	LastProcessedAt int64                  `json:"last_processed_at"`
	Bootstrapped    bool                   `json:"bootstrapped"`
	UpdatedAt       int64                  `json:"updated_at"`

	// Version is incremented on every save and checked against the stored copy.
	Version int64 `json:"version"`
}

// NewProductState returns an empty state for scriptID.
func NewProductState(scriptID string) *ProductState {
	return &ProductState{
		ScriptID:     scriptID,
		Users:        make(map[string]*UserRecord),
		Processed:    NewIDWindow(DefaultWindowCapacity),
		RetryQueue:   []PendingTransaction{},
		ManualReview: []PendingTransaction{},
	}
}

// userKey normalizes usernames; the provider treats them case-insensitively.
func userKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// User returns the record for username.
func (s *ProductState) User(username string) (*UserRecord, bool) {
	u, ok := s.Users[userKey(username)]
	return u, ok
}

// PutUser inserts or replaces a user record.
func (s *ProductState) PutUser(u *UserRecord) {
	s.Users[userKey(u.Username)] = u
}

// ApplyExpiry records a successful grant or extension. The expiry never moves
// backwards: a smaller value keeps the current expiry but is still logged.
func (s *ProductState) ApplyExpiry(txn *models.Transaction, username, action string, expiry, appliedAt int64) *UserRecord {
	u, ok := s.User(username)
	if !ok {
		u = &UserRecord{Username: username}
		s.PutUser(u)
	}
	prev := u.Expiry
	if expiry > u.Expiry {
		u.Expiry = expiry
	}
	if txn.Email != "" {
		u.Email = txn.Email
	}
	u.GrantHistory = append(u.GrantHistory, GrantEvent{
		Action:         action,
		TransactionID:  txn.ID,
		AppliedAt:      appliedAt,
		PreviousExpiry: prev,
		Expiry:         u.Expiry,
	})
	return u
}

// MarkProcessed adds a transaction ID to the processed window.
func (s *ProductState) MarkProcessed(transactionID string) {
	s.Processed.Add(transactionID)
}

// IsProcessed reports whether a transaction ID is in the processed window.
func (s *ProductState) IsProcessed(transactionID string) bool {
	return s.Processed.Contains(transactionID)
}

// AdvanceWatermark moves LastProcessedAt forward. It never moves backwards.
func (s *ProductState) AdvanceWatermark(ts int64) {
	if ts > s.LastProcessedAt {
		s.LastProcessedAt = ts
	}
}

// EnqueueRetry appends p to the retry queue, or updates the existing entry
// for the same transaction.
func (s *ProductState) EnqueueRetry(p PendingTransaction) {
	s.RetryQueue = upsertPending(s.RetryQueue, p)
}

// EnqueueManualReview moves a transaction to manual review, removing it from
// the retry queue if present.
func (s *ProductState) EnqueueManualReview(p PendingTransaction) {
	s.RetryQueue = removePending(s.RetryQueue, p.Transaction.ID)
	s.ManualReview = upsertPending(s.ManualReview, p)
}

// Resolve removes a transaction from both queues. It reports whether anything was removed.
func (s *ProductState) Resolve(transactionID string) bool {
	before := len(s.RetryQueue) + len(s.ManualReview)
	s.RetryQueue = removePending(s.RetryQueue, transactionID)
	s.ManualReview = removePending(s.ManualReview, transactionID)
	return len(s.RetryQueue)+len(s.ManualReview) != before
}

// PendingRetry returns the retry entry for a transaction.
func (s *ProductState) PendingRetry(transactionID string) (PendingTransaction, bool) {
	for _, p := range s.RetryQueue {
		if p.Transaction.ID == transactionID {
			return p, true
		}
	}
	return PendingTransaction{}, false
}

// InManualReview reports whether a transaction awaits operator action.
func (s *ProductState) InManualReview(transactionID string) bool {
	for _, p := range s.ManualReview {
		if p.Transaction.ID == transactionID {
			return true
		}
	}
	return false
}

func upsertPending(queue []PendingTransaction, p PendingTransaction) []PendingTransaction {
	for i := range queue {
		if queue[i].Transaction.ID == p.Transaction.ID {
			if p.FirstSeenAt == 0 {
				p.FirstSeenAt = queue[i].FirstSeenAt
			}
			queue[i] = p
			return queue
		}
	}
	return append(queue, p)
}

func removePending(queue []PendingTransaction, transactionID string) []PendingTransaction {
	out := queue[:0]
	for _, p := range queue {
		if p.Transaction.ID != transactionID {
			out = append(out, p)
		}
	}
	return out
}

// Clone returns a deep copy, used by dry runs and to keep uncommitted changes
// away from the caller's copy.
func (s *ProductState) Clone() *ProductState {
	c := &ProductState{
		ScriptID:        s.ScriptID,
		Users:           make(map[string]*UserRecord, len(s.Users)),
		Processed:       s.Processed.Clone(),
		RetryQueue:      append([]PendingTransaction{}, s.RetryQueue...),
		ManualReview:    append([]PendingTransaction{}, s.ManualReview...),
		LastProcessedAt: s.LastProcessedAt,
		Bootstrapped:    s.Bootstrapped,
		UpdatedAt:       s.UpdatedAt,
		Version:         s.Version,
	}
	for k, u := range s.Users {
		uc := *u
		uc.GrantHistory = append([]GrantEvent(nil), u.GrantHistory...)
		c.Users[k] = &uc
	}
	return c
}

// normalize fills nil collections after decoding an older or partial document.
func (s *ProductState) normalize() {
	if s.Users == nil {
		s.Users = make(map[string]*UserRecord)
	}
	if s.Processed == nil {
		s.Processed = NewIDWindow(DefaultWindowCapacity)
	}
	if s.RetryQueue == nil {
		s.RetryQueue = []PendingTransaction{}
	}
	if s.ManualReview == nil {
		s.ManualReview = []PendingTransaction{}
	}
}
