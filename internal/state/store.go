// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/accessync/internal/logging"
)

// Key prefixes. Each product occupies one state key and at most one lease key.
const (
	prefixState = "state:"
	prefixLease = "lease:"
)

var (
	// ErrStoreClosed is returned when the store is closed.
	ErrStoreClosed = errors.New("state store is closed")

	// ErrVersionConflict is returned when the stored state changed since it was loaded.
	ErrVersionConflict = errors.New("state version conflict")
)

// StoreConfig configures the BadgerDB state store.
type StoreConfig struct {
	Path     string
	InMemory bool

	// SyncWrites fsyncs every commit. Defaults to true for on-disk stores.
	SyncWrites bool

	// GCRatio is the discard ratio passed to RunValueLogGC.
	GCRatio float64

	CloseTimeout time.Duration
}

// Store persists ProductState documents in BadgerDB. Each save is a single
// transaction replacing the whole document, so readers only ever observe a
// fully committed state.
type Store struct {
	db     *badger.DB
	config StoreConfig

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the state store.
func Open(cfg StoreConfig) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("state path is required for an on-disk store")
	}
	if cfg.GCRatio <= 0 || cfg.GCRatio >= 1 {
		cfg.GCRatio = 0.5
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 30 * time.Second
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
		opts.SyncWrites = cfg.SyncWrites
	}

	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Msg("State store opened")

	return &Store{db: db, config: cfg}, nil
}

// OpenInMemory opens an in-memory store. Used by tests and dry-run tooling.
func OpenInMemory() (*Store, error) {
	return Open(StoreConfig{InMemory: true})
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Get returns the stored state for scriptID. found is false when no state exists yet.
func (s *Store) Get(ctx context.Context, scriptID string) (st *ProductState, found bool, err error) {
	raw, err := s.GetRaw(ctx, scriptID)
	if err != nil || raw == nil {
		return nil, false, err
	}
	st, err = decodeState(raw)
	if err != nil {
		return nil, false, fmt.Errorf("decode state %s: %w", scriptID, err)
	}
	return st, true, nil
}

// GetRaw returns the stored document bytes, or nil when absent.
func (s *Store) GetRaw(ctx context.Context, scriptID string) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixState + scriptID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return fmt.Errorf("get state: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// Put replaces the stored state for st.ScriptID. The write is rejected with
// ErrVersionConflict when the stored version differs from st.Version. On
// success st.Version and st.UpdatedAt reflect the committed document.
func (s *Store) Put(ctx context.Context, st *ProductState, now time.Time) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	next := *st
	next.Version = st.Version + 1
	next.UpdatedAt = now.Unix()

	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	key := []byte(prefixState + st.ScriptID)
	err = s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			if st.Version != 0 {
				return fmt.Errorf("%w: state for %s no longer exists", ErrVersionConflict, st.ScriptID)
			}
		case err != nil:
			return fmt.Errorf("get state: %w", err)
		default:
			var stored struct {
				Version int64 `json:"version"`
			}
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			}); err != nil {
				return fmt.Errorf("unmarshal stored version: %w", err)
			}
			if stored.Version != st.Version {
				return fmt.Errorf("%w: stored %d, loaded %d", ErrVersionConflict, stored.Version, st.Version)
			}
		}
		return txn.Set(key, data)
	})
	if errors.Is(err, badger.ErrConflict) {
		err = fmt.Errorf("%w: concurrent transaction", ErrVersionConflict)
	}
	if err != nil {
		return err
	}

	st.Version = next.Version
	st.UpdatedAt = next.UpdatedAt

	logging.Debug().
		Str("script_id", st.ScriptID).
		Int64("version", st.Version).
		Int("bytes", len(data)).
		Msg("State saved")
	return nil
}

// ScriptIDs lists the products that have stored state, sorted.
func (s *Store) ScriptIDs(ctx context.Context) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixState)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), prefixState))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// RunGC triggers BadgerDB value log garbage collection until nothing is rewritten.
func (s *Store) RunGC() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.config.InMemory {
		return nil
	}

	for {
		err := s.db.RunValueLogGC(s.config.GCRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Close closes the database, giving up after CloseTimeout.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	timeout := s.config.CloseTimeout
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- s.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		logging.Info().Msg("State store closed")
		return nil
	case <-time.After(timeout):
		logging.Warn().Dur("timeout", timeout).Msg("BadgerDB close timed out")
		return fmt.Errorf("badgerdb close timeout after %v", timeout)
	}
}

func decodeState(raw []byte) (*ProductState, error) {
	st := &ProductState{Processed: NewIDWindow(DefaultWindowCapacity)}
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, err
	}
	st.normalize()
	return st, nil
}
