// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package state

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/accessync/internal/logging"
	"github.com/tomtom215/accessync/internal/models"
)

// UserLister returns the users the provider already has on record for a script.
type UserLister interface {
	ListUsers(ctx context.Context, scriptID string) ([]models.ProviderUser, error)
}

// Repository loads and saves ProductState, bootstrapping new products from
// the provider's user list.
type Repository struct {
	store  *Store
	lister UserLister
	now    func() time.Time
}

// NewRepository creates a repository. lister may be nil, in which case new
// products start with no users.
func NewRepository(store *Store, lister UserLister) *Repository {
	return &Repository{store: store, lister: lister, now: time.Now}
}

// SetClock overrides the time source. Used by tests.
func (r *Repository) SetClock(now func() time.Time) {
	r.now = now
}

// Store returns the underlying store.
func (r *Repository) Store() *Store {
	return r.store
}

// Load returns the state for scriptID, creating it when absent. A state with
// no users that has never been bootstrapped is seeded from the provider's
// user list so access the provider already has is not granted again. The
// seeded state is only persisted by a later Save.
//
// Store failures are returned as persistence errors; a failed provider
// listing is returned with its own kind and leaves nothing seeded.
func (r *Repository) Load(ctx context.Context, scriptID string) (*ProductState, error) {
	st, found, err := r.store.Get(ctx, scriptID)
	if err != nil {
		return nil, models.NewSyncError(models.KindPersistence, "load state", err)
	}
	if !found {
		st = NewProductState(scriptID)
	}

	if len(st.Users) == 0 && !st.Bootstrapped {
		if err := r.bootstrap(ctx, st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// Peek returns the stored state without creating or bootstrapping it.
func (r *Repository) Peek(ctx context.Context, scriptID string) (*ProductState, bool, error) {
	st, found, err := r.store.Get(ctx, scriptID)
	if err != nil {
		return nil, false, models.NewSyncError(models.KindPersistence, "peek state", err)
	}
	return st, found, nil
}

// Save atomically replaces the stored state. Any failure is a persistence
// error and the caller must treat the run's in-memory changes as uncommitted.
func (r *Repository) Save(ctx context.Context, st *ProductState) error {
	if err := r.store.Put(ctx, st, r.now()); err != nil {
		return models.NewSyncError(models.KindPersistence, "save state", err)
	}
	return nil
}

func (r *Repository) bootstrap(ctx context.Context, st *ProductState) error {
	if r.lister == nil {
		st.Bootstrapped = true
		return nil
	}

	users, err := r.lister.ListUsers(ctx, st.ScriptID)
	if err != nil {
		return fmt.Errorf("bootstrap %s: %w", st.ScriptID, err)
	}

	now := r.now().Unix()
	for _, pu := range users {
		if pu.Username == "" {
			continue
		}
		if existing, ok := st.User(pu.Username); ok && existing.Expiry >= pu.Expiry {
			continue
		}
		st.PutUser(&UserRecord{
			Username: pu.Username,
			Email:    pu.Email,
			Expiry:   pu.Expiry,
			GrantHistory: []GrantEvent{{
				Action:    ActionBootstrap,
				AppliedAt: now,
				Expiry:    pu.Expiry,
			}},
		})
	}
	st.Bootstrapped = true

	logging.Ctx(ctx).Info().
		Str("script_id", st.ScriptID).
		Int("users", len(st.Users)).
		Msg("Bootstrapped product state from provider")
	return nil
}
