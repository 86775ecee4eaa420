// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

/*
Package services provides suture.Service wrappers for Accessync components.

Each wrapper translates a component's lifecycle (Start/Stop, ListenAndServe,
a periodic task) into suture's context-aware Serve:

	type Service interface {
	    Serve(ctx context.Context) error
	}

Available services:

  - HTTPServerService: *http.Server with graceful shutdown
  - SyncService: sync.Manager schedule (Start/Stop)
  - StateGCService: periodic BadgerDB value log GC on the state store

Every wrapper implements fmt.Stringer so supervisor events name the service.
Serve returns ctx.Err() on a requested shutdown and a wrapped error on
failure, which suture answers with a restart.
*/
package services
