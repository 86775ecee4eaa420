// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/accessync/internal/logging"
	"github.com/tomtom215/accessync/internal/models"
)

// Lease is an exclusive claim on one product's state, held for the
// load→decide→save critical section of a run.
type Lease struct {
	ScriptID string    `json:"script_id"`
	Holder   string    `json:"holder"`
	Expiry   time.Time `json:"expiry"`
}

// AcquireLease claims scriptID for holder until now+ttl. A live lease held by
// the same holder is extended. A live lease held by anyone else yields
// models.ErrStateLocked. Lease keys carry a Badger TTL, so a crashed holder's
// claim disappears on its own.
func (s *Store) AcquireLease(ctx context.Context, scriptID, holder string, ttl time.Duration) (*Lease, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	lease := &Lease{ScriptID: scriptID, Holder: holder, Expiry: now.Add(ttl)}
	key := []byte(prefixLease + scriptID)

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("get lease: %w", err)
		}
		if err == nil {
			var current Lease
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &current)
			}); err != nil {
				return fmt.Errorf("unmarshal lease: %w", err)
			}
			if now.Before(current.Expiry) && current.Holder != holder {
				logging.Trace().
					Str("script_id", scriptID).
					Str("lease_holder", current.Holder).
					Time("lease_expiry", current.Expiry).
					Msg("State lease held by another run")
				return models.ErrStateLocked
			}
		}

		data, err := json.Marshal(lease)
		if err != nil {
			return fmt.Errorf("marshal lease: %w", err)
		}
		return txn.SetEntry(badger.NewEntry(key, data).WithTTL(ttl))
	})
	if errors.Is(err, badger.ErrConflict) {
		// Another run committed a claim between our read and write.
		return nil, models.ErrStateLocked
	}
	if err != nil {
		return nil, err
	}

	logging.Debug().
		Str("script_id", scriptID).
		Str("lease_holder", holder).
		Time("lease_expiry", lease.Expiry).
		Msg("Acquired state lease")
	return lease, nil
}

// RenewLease extends a lease the caller already holds.
func (s *Store) RenewLease(ctx context.Context, lease *Lease, ttl time.Duration) error {
	renewed, err := s.AcquireLease(ctx, lease.ScriptID, lease.Holder, ttl)
	if err != nil {
		return err
	}
	lease.Expiry = renewed.Expiry
	return nil
}

// ReleaseLease drops the lease if holder still owns it. Releasing a lease that
// expired or was never taken is not an error.
func (s *Store) ReleaseLease(ctx context.Context, lease *Lease) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	key := []byte(prefixLease + lease.ScriptID)
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return fmt.Errorf("get lease: %w", err)
		}

		var current Lease
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &current)
		}); err != nil {
			return fmt.Errorf("unmarshal lease: %w", err)
		}
		if current.Holder != lease.Holder {
			return nil
		}

		logging.Debug().
			Str("script_id", lease.ScriptID).
			Str("lease_holder", lease.Holder).
			Msg("Released state lease")
		return txn.Delete(key)
	})
}

// LeaseHolder returns the current holder of scriptID's lease, or "" when free.
func (s *Store) LeaseHolder(ctx context.Context, scriptID string) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}

	var holder string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixLease + scriptID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		var current Lease
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &current)
		}); err != nil {
			return err
		}
		if time.Now().Before(current.Expiry) {
			holder = current.Holder
		}
		return nil
	})
	return holder, err
}
