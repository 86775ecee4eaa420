// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

/*
Package supervisor provides process supervision for Accessync using suture v4.

The tree organizes long-running services into three layers:

	RootSupervisor ("accessync")
	├── DataSupervisor ("data-layer")
	│   └── StateGCService
	├── SyncSupervisor ("sync-layer")
	│   └── SyncService (sync.Manager schedule)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

Crashed services restart with suture's backoff. Supervisor events (start,
failure, restart, backoff) are logged through sutureslog into the zerolog
stream via logging.NewSlogLogger.

# Usage Example

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddDataService(services.NewStateGCService(store, cfg.State.GCInterval))
	tree.AddSyncService(services.NewSyncService(syncManager))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	_ = tree.Serve(ctx)
*/
package supervisor
