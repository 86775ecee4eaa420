// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tomtom215/accessync/internal/app"
	"github.com/tomtom215/accessync/internal/config"
	"github.com/tomtom215/accessync/internal/feed"
	"github.com/tomtom215/accessync/internal/logging"
	"github.com/tomtom215/accessync/internal/sync"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// ExitError carries a process exit code with its cause.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

func exitError(code int, msg string, err error) *ExitError {
	if err != nil {
		return &ExitError{Code: code, Err: fmt.Errorf("%s: %w", msg, err)}
	}
	return &ExitError{Code: code, Err: fmt.Errorf("%s", msg)}
}

type batchOptions struct {
	ConfigPath    string
	File          string
	BatchSize     int
	MaxBatches    int
	DryRun        bool
	InMemoryState bool
	Pretty        bool
}

func newRootCommand() *cobra.Command {
	opts := &batchOptions{}

	cmd := &cobra.Command{
		Use:   "accessync-batch --file <path>",
		Short: "Replay a file of transactions through the access sync pipeline",
		Long: `Replay a JSON or CSV file of payment transactions through the access
sync pipeline.

Transactions are grouped by script and processed in batches. State is saved
after every batch, so an interrupted run picks up where it stopped; IDs that
were already processed are skipped. The feed watermark is never moved.

Configuration is read the same way as the server: defaults, then the YAML
file (--config or CONFIG_PATH), then environment variables.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBatch(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "path to JSON or CSV transaction file (required)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "transactions per batch (default: sync.batch_size)")
	cmd.Flags().IntVar(&opts.MaxBatches, "max-batches", 0, "stop each product after this many batches (0 = no cap)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "plan actions without calling the provider or saving state")
	cmd.Flags().BoolVar(&opts.InMemoryState, "in-memory-state", false, "use a throwaway in-memory state store")
	cmd.Flags().BoolVar(&opts.Pretty, "pretty", false, "indent the JSON summary")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runBatch(ctx context.Context, opts *batchOptions, out io.Writer) error {
	if opts.BatchSize < 0 || opts.MaxBatches < 0 {
		return exitError(ExitUsage, "--batch-size and --max-batches must not be negative", nil)
	}

	cfg, err := config.LoadFromPath(opts.ConfigPath)
	if err != nil {
		return exitError(ExitUsage, "load configuration", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	logCfg.Caller = cfg.Logging.Caller
	logging.Init(logCfg)

	engine, err := app.Build(cfg, app.Options{InMemoryState: opts.InMemoryState})
	if err != nil {
		return exitError(ExitUsage, "build engine", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing engine components")
		}
	}()

	txns, err := feed.LoadFile(opts.File, engine.Catalog)
	if err != nil {
		return exitError(ExitUsage, "load transactions", err)
	}
	logging.Info().
		Str("file", opts.File).
		Int("transactions", len(txns)).
		Bool("dry_run", opts.DryRun).
		Msg("Batch file loaded")

	summary, runErr := engine.Orchestrator.RunBatch(ctx, txns, sync.BatchOptions{
		BatchSize:  opts.BatchSize,
		MaxBatches: opts.MaxBatches,
		DryRun:     opts.DryRun,
	})
	if summary == nil {
		return exitError(ExitFailure, "batch run", runErr)
	}
	if runErr != nil {
		logging.Warn().Err(runErr).Msg("Batch run finished with errors")
	}

	if err := writeSummary(out, summary, opts.Pretty); err != nil {
		return exitError(ExitFailure, "write summary", err)
	}

	if summary.Failed() {
		return exitError(ExitFailure, "no product finished", runErr)
	}
	return nil
}

func writeSummary(w io.Writer, summary *sync.RunSummary, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(summary)
}
