// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

// Command accessync-batch replays a file of payment transactions through the
// sync pipeline without touching the feed watermark. It is meant for
// backfills and for re-processing a known set of payments after an outage.
//
// The input is a JSON array or a CSV file with a header row. Records carry
// at least id, username and product_id; script_id and plan_duration override
// the product catalog when present.
//
// Example:
//
//	accessync-batch --config /etc/accessync/config.yaml --file payments.csv --dry-run
//	accessync-batch --file payments.json --batch-size 200 --max-batches 5
//
// The run summary is written to stdout as JSON. Logs go to stderr. The exit
// code is 0 on success, 1 when no product finished, and 2 on usage or
// configuration errors.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()

	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "Error:", err)

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}
	os.Exit(ExitUsage)
}
