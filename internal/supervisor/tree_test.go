// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

// mockService runs until canceled, optionally failing its first runs.
type mockService struct {
	name       string
	startCount atomic.Int32
	failsLeft  atomic.Int32
}

func newMockService(name string, fails int32) *mockService {
	m := &mockService{name: name}
	m.failsLeft.Store(fails)
	return m
}

func (m *mockService) Serve(ctx context.Context) error {
	m.startCount.Add(1)
	if m.failsLeft.Add(-1) >= 0 {
		return errors.New("simulated failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockService) String() string { return m.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSupervisorTreeConstruction(t *testing.T) {
	t.Run("applies default values for zero config", func(t *testing.T) {
		tree, err := NewSupervisorTree(testLogger(), TreeConfig{})
		if err != nil {
			t.Fatalf("failed to create tree: %v", err)
		}
		if tree.Root() == nil {
			t.Fatal("root supervisor should not be nil")
		}

		want := DefaultTreeConfig()
		if tree.config != want {
			t.Errorf("config = %+v, want %+v", tree.config, want)
		}
	})

	t.Run("rejects nil logger", func(t *testing.T) {
		if _, err := NewSupervisorTree(nil, TreeConfig{}); err == nil {
			t.Error("expected error for nil logger")
		}
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		tree, _ := NewSupervisorTree(testLogger(), TreeConfig{FailureBackoff: time.Second})
		if tree.config.FailureBackoff != time.Second {
			t.Errorf("FailureBackoff = %v, want 1s", tree.config.FailureBackoff)
		}
	})
}

func TestSupervisorTreeLifecycle(t *testing.T) {
	tree, err := NewSupervisorTree(testLogger(), TreeConfig{
		FailureBackoff:  50 * time.Millisecond,
		ShutdownTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create tree: %v", err)
	}

	data := newMockService("mock-data", 0)
	syncSvc := newMockService("mock-sync", 2)
	api := newMockService("mock-api", 0)
	tree.AddDataService(data)
	tree.AddSyncService(syncSvc)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for syncSvc.startCount.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := syncSvc.startCount.Load(); got < 3 {
		t.Errorf("failing sync service started %d times, want restarts", got)
	}
	if data.startCount.Load() != 1 || api.startCount.Load() != 1 {
		t.Errorf("healthy layers restarted: data=%d api=%d", data.startCount.Load(), api.startCount.Load())
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not shut down in time")
	}
}

func TestSupervisorTreeAdd(t *testing.T) {
	tree, err := NewSupervisorTree(testLogger(), TreeConfig{})
	if err != nil {
		t.Fatalf("failed to create tree: %v", err)
	}

	tree.AddSyncService(newMockService("sync-scheduler", 0))
	tree.AddAPIService(newMockService("http-server", 0))
	tree.AddDataService(newMockService("state-gc", 0))
	if _, err := tree.Add(LayerData, newMockService("another", 0)); err != nil {
		t.Fatalf("Add(LayerData): %v", err)
	}
	if _, err := tree.Add(Layer("cache-layer"), newMockService("x", 0)); err == nil {
		t.Error("expected error for unknown layer")
	}

	got := tree.Services()
	if len(got[LayerData]) != 2 || got[LayerData][0] != "another" || got[LayerData][1] != "state-gc" {
		t.Errorf("data layer = %v", got[LayerData])
	}
	if len(got[LayerSync]) != 1 || got[LayerSync][0] != "sync-scheduler" {
		t.Errorf("sync layer = %v", got[LayerSync])
	}
	if len(got[LayerAPI]) != 1 {
		t.Errorf("api layer = %v", got[LayerAPI])
	}
	if _, ok := got[Layer("cache-layer")]; ok {
		t.Error("rejected service was recorded")
	}
}
