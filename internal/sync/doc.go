// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

/*
Package sync runs the access sync: it turns paid membership transactions into
provider grants and extensions and records every outcome in per-product state.

Key Components:

  - Orchestrator: Drives one run over a set of products (RunSync, RunBatch)
  - Manager: Schedules runs on an interval and serves on-demand runs
  - RunSummary: Per-run and per-product counts, phases and planned actions

Product Run:

Each product (provider script) is run under a lease on its state, through
these phases:

 1. Fetching: transactions with timestamp >= the product watermark
 2. Deduplicating: drop IDs already processed or waiting in a queue
 3. Processing: retry queue first, then new transactions in timestamp order;
    each one is validated, decided and sent to the provider, and ends up
    applied, queued for retry, or parked for manual review
 4. Persisting: one atomic save; notifications and events are sent only
    after the save succeeds
 5. Done

The watermark advances to the last transaction of the contiguous prefix
that is processed or in manual review, and never past a queued retry.

Dry Runs:

With dryRun set the provider gateway only logs its payloads, the lease is
not taken and nothing is saved, notified or published. Identity validation
still queries the provider.

Usage Example:

	orch := sync.NewOrchestrator(sync.Config{MaxRetryAttempts: 5}, sync.Deps{
	    Catalog: catalog,
	    Repo:    repo,
	    Source:  feedClient,
	    Gateway: gateway,
	})
	summary, err := orch.RunSync(ctx, nil, false)
*/
package sync
