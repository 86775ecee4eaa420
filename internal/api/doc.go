// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

/*
Package api provides the operator HTTP API for Accessync.

The API is small: it reports health, triggers sync runs and exposes a
read-only view of each product's stored state. Every JSON response uses the
models.APIResponse envelope.

Routes:

  - GET  /health, /health/live: liveness and last successful sync time
  - POST /sync: run a sync (live or dry) and return its RunSummary
  - GET  /api/v1/state/{scriptId}: ProductState snapshot
  - GET  /metrics: Prometheus exposition

Triggering a sync:

	POST /sync?dry_run=true&product=prod_monthly
	POST /sync  {"dry_run": false, "product_ids": ["prod_monthly", "prod_yearly"]}

Query parameters and body fields are merged. With no product the run covers
the whole catalog. Status codes:

  - 200: run finished, possibly with per-product errors (see summary.errors)
  - 400: malformed request or unknown product
  - 409: a live run is in progress, or every requested product is locked
  - 500: no product finished

Middleware (chi): request ID with logging context, RealIP, Recoverer, CORS
(go-chi/cors), per-IP rate limits (go-chi/httprate) and request metrics.

Usage Example:

	handler := api.NewHandler(syncManager, repo, cfg.Catalog())
	router := api.NewRouter(handler, api.NewChiMiddlewareFromConfig(&cfg.Server))
	srv := &http.Server{Addr: ":8080", Handler: router.SetupChi()}
*/
package api
