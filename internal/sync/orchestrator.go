// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/accessync/internal/decision"
	"github.com/tomtom215/accessync/internal/events"
	"github.com/tomtom215/accessync/internal/feed"
	"github.com/tomtom215/accessync/internal/identity"
	"github.com/tomtom215/accessync/internal/logging"
	"github.com/tomtom215/accessync/internal/metrics"
	"github.com/tomtom215/accessync/internal/models"
	"github.com/tomtom215/accessync/internal/notify"
	"github.com/tomtom215/accessync/internal/provider"
	"github.com/tomtom215/accessync/internal/state"
)

// Run modes.
const (
	ModeLive  = "live"
	ModeBatch = "batch"
)

// Config holds orchestrator settings.
type Config struct {
	// MaxRetryAttempts is the number of attempts a transaction gets before
	// it is escalated from the retry queue to manual review.
	MaxRetryAttempts int

	// LockTTL is the lease length; the lease is renewed every LockTTL/3.
	LockTTL time.Duration

	// ProductConcurrency bounds the number of products run in parallel.
	ProductConcurrency int

	BatchSize  int
	MaxBatches int
}

// Deps are the orchestrator's collaborators. Notifier and Events are optional.
type Deps struct {
	Catalog  models.Catalog
	Repo     *state.Repository
	Source   feed.Source
	Gateway  provider.Gateway
	Engine   *decision.Engine
	Notifier notify.Notifier
	Events   events.Publisher
}

// Orchestrator drives sync runs: fetch, deduplicate, validate, decide, call
// the provider and persist, once per product.
type Orchestrator struct {
	cfg      Config
	catalog  models.Catalog
	repo     *state.Repository
	source   feed.Source
	gateway  provider.Gateway
	dryRun   provider.Gateway
	engine   *decision.Engine
	notifier notify.Notifier
	events   events.Publisher
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg Config, deps Deps) *Orchestrator {
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 5
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.ProductConcurrency <= 0 {
		cfg.ProductConcurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}

	o := &Orchestrator{
		cfg:      cfg,
		catalog:  deps.Catalog,
		repo:     deps.Repo,
		source:   deps.Source,
		gateway:  deps.Gateway,
		dryRun:   provider.NewDryRunGateway(deps.Gateway),
		engine:   deps.Engine,
		notifier: deps.Notifier,
		events:   deps.Events,
	}
	if o.engine == nil {
		o.engine = decision.NewEngine(deps.Catalog)
	}
	if o.events == nil {
		o.events = events.NopPublisher{}
	}
	return o
}

// target is one product state and the catalog products feeding it.
type target struct {
	ScriptID   string
	ProductIDs models.Scope
}

// plan describes where a product run gets its transactions and how it
// iterates over them.
type plan struct {
	mode  string
	fetch func(ctx context.Context, st *state.ProductState, t target) ([]models.Transaction, error)

	batchSize  int
	maxBatches int

	// advanceWatermark is false for pre-supplied lists, whose timestamps say
	// nothing about what the live feed has delivered.
	advanceWatermark bool
}

// runInfo is shared by every product of one run.
type runInfo struct {
	id        string
	mode      string
	dryRun    bool
	gateway   provider.Gateway
	validator *identity.Validator
}

// RunSync runs every product in scope (all products when scope is empty)
// against the live feed. With dryRun set, provider writes are logged instead
// of performed and no state is saved.
//
// Per-transaction failures never fail the run. The returned error joins the
// failures of products that could not run at all (lease held, state store
// unreachable, feed down); the summary is returned in every case.
func (o *Orchestrator) RunSync(ctx context.Context, scope models.Scope, dryRun bool) (*RunSummary, error) {
	targets, err := o.targets(scope)
	if err != nil {
		return nil, err
	}
	p := plan{
		mode: ModeLive,
		fetch: func(ctx context.Context, st *state.ProductState, t target) ([]models.Transaction, error) {
			return o.source.FetchTransactions(ctx, t.ProductIDs, st.LastProcessedAt)
		},
		advanceWatermark: true,
	}
	return o.execute(ctx, targets, p, dryRun)
}

// BatchOptions controls RunBatch.
type BatchOptions struct {
	BatchSize  int // 0 uses the configured batch size
	MaxBatches int // per product; 0 processes everything
	DryRun     bool
}

// RunBatch runs the same pipeline over a pre-supplied list of transactions.
// State is saved after every batch, so an interrupted or capped invocation
// resumes where it stopped; already-processed IDs are skipped.
func (o *Orchestrator) RunBatch(ctx context.Context, txns []models.Transaction, opts BatchOptions) (*RunSummary, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = o.cfg.BatchSize
	}
	if opts.MaxBatches < 0 {
		opts.MaxBatches = 0
	}

	byScript := make(map[string][]models.Transaction)
	unattributed := 0
	for _, txn := range txns {
		if txn.ScriptID == "" {
			unattributed++
			logging.Warn().
				Str("transaction_id", txn.ID).
				Str("product_id", txn.ProductID).
				Msg("Batch transaction has no script mapping, skipping")
			continue
		}
		byScript[txn.ScriptID] = append(byScript[txn.ScriptID], txn)
	}

	targets := make([]target, 0, len(byScript))
	for scriptID := range byScript {
		feed.SortTransactions(byScript[scriptID])
		targets = append(targets, target{ScriptID: scriptID, ProductIDs: o.catalogProducts(scriptID)})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].ScriptID < targets[j].ScriptID })

	p := plan{
		mode: ModeBatch,
		fetch: func(_ context.Context, _ *state.ProductState, t target) ([]models.Transaction, error) {
			return byScript[t.ScriptID], nil
		},
		batchSize:  opts.BatchSize,
		maxBatches: opts.MaxBatches,
	}
	summary, err := o.execute(ctx, targets, p, opts.DryRun)
	if summary != nil {
		summary.Skipped += unattributed
	}
	return summary, err
}

// targets groups the catalog products in scope by script.
func (o *Orchestrator) targets(scope models.Scope) ([]target, error) {
	for _, id := range scope {
		if _, ok := o.catalog.Lookup(id); !ok {
			return nil, models.NewSyncError(models.KindValidation, "resolve scope",
				fmt.Errorf("%w: %s", models.ErrNoProductMapping, id))
		}
	}

	var targets []target
	for _, scriptID := range o.catalog.ScriptIDs() {
		var ids models.Scope
		for _, id := range o.catalog.ProductIDsFor(scriptID) {
			if scope.Includes(id) {
				ids = append(ids, id)
			}
		}
		if len(ids) > 0 {
			targets = append(targets, target{ScriptID: scriptID, ProductIDs: ids})
		}
	}
	return targets, nil
}

func (o *Orchestrator) catalogProducts(scriptID string) models.Scope {
	return models.Scope(o.catalog.ProductIDsFor(scriptID))
}

func (o *Orchestrator) execute(ctx context.Context, targets []target, p plan, dryRun bool) (*RunSummary, error) {
	runID := logging.GenerateRunID()
	ctx = logging.ContextWithRunID(ctx, runID)
	logger := logging.Ctx(ctx)

	gw := o.gateway
	if dryRun {
		gw = o.dryRun
	}
	info := &runInfo{
		id:        runID,
		mode:      p.mode,
		dryRun:    dryRun,
		gateway:   gw,
		validator: identity.NewValidator(gw),
	}

	summary := &RunSummary{
		RunID:     runID,
		Mode:      p.mode,
		DryRun:    dryRun,
		StartedAt: time.Now().UTC(),
		Products:  make([]ProductSummary, 0, len(targets)),
	}

	logger.Info().
		Str("mode", p.mode).
		Bool("dry_run", dryRun).
		Int("products", len(targets)).
		Msg("Starting sync run")

	results := make([]ProductSummary, len(targets))
	errs := make([]error, len(targets))
	sem := make(chan struct{}, o.cfg.ProductConcurrency)
	var wg sync.WaitGroup

	for i, t := range targets {
		wg.Add(1)
		go func(i int, t target) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = ProductSummary{ScriptID: t.ScriptID, Phase: PhaseFailed, Error: ctx.Err().Error()}
				errs[i] = fmt.Errorf("%s: %w", t.ScriptID, ctx.Err())
				return
			}
			defer func() { <-sem }()
			results[i], errs[i] = o.runProduct(ctx, info, t, p)
		}(i, t)
	}
	wg.Wait()

	for _, r := range results {
		summary.add(r)
	}
	summary.FinishedAt = time.Now().UTC()
	err := errors.Join(errs...)

	result := "success"
	switch {
	case summary.Failed():
		result = "failure"
	case err != nil:
		result = "partial"
	}
	metricMode := p.mode
	if dryRun {
		metricMode += "_dry_run"
	}
	metrics.RecordSyncRun(metricMode, result, summary.Duration())

	if !dryRun {
		ev := events.NewAccessEvent(events.TypeSyncCompleted)
		ev.RunID = runID
		ev.Reason = result
		if perr := o.events.Publish(ctx, ev); perr != nil {
			logger.Warn().Err(perr).Msg("Failed to publish sync completed event")
		}
	}

	logEvent := logger.Info()
	if err != nil {
		logEvent = logger.Warn().Err(err)
	}
	logEvent.
		Str("result", result).
		Int("processed", summary.Processed).
		Int("retried", summary.Retried).
		Int("manual_review", summary.ManualReview).
		Int("errors", summary.Errors).
		Int("skipped", summary.Skipped).
		Dur("duration", summary.Duration()).
		Msg("Sync run finished")

	return summary, err
}

// runProduct takes the product's lease and runs the state machine
// Fetching → Deduplicating → Processing → Persisting → Done.
func (o *Orchestrator) runProduct(ctx context.Context, info *runInfo, t target, p plan) (ProductSummary, error) {
	ctx = logging.ContextWithScriptID(ctx, t.ScriptID)
	logger := logging.Ctx(ctx)
	ps := ProductSummary{ScriptID: t.ScriptID, Phase: PhaseFetching}

	fail := func(err error) (ProductSummary, error) {
		logger.Error().Err(err).Str("phase", string(ps.Phase)).Msg("Product sync failed")
		ps.Locked = errors.Is(err, models.ErrStateLocked)
		if !info.dryRun && !ps.Locked {
			o.alertFailure(ctx, info, t.ScriptID, ps.Phase, err)
		}
		ps.Phase = PhaseFailed
		ps.Error = err.Error()
		return ps, fmt.Errorf("%s: %w", t.ScriptID, err)
	}

	if !info.dryRun {
		store := o.repo.Store()
		lease, err := store.AcquireLease(ctx, t.ScriptID, info.id, o.cfg.LockTTL)
		if err != nil {
			return fail(err)
		}
		stopRenew := o.keepLease(ctx, lease)
		defer func() {
			stopRenew()
			if err := store.ReleaseLease(context.WithoutCancel(ctx), lease); err != nil {
				logger.Warn().Err(err).Msg("Failed to release state lease")
			}
		}()
	}

	st, err := o.repo.Load(ctx, t.ScriptID)
	if err != nil {
		return fail(err)
	}
	pr := newProductRun(o, info, st, &ps)

	txns, err := p.fetch(ctx, st, t)
	if err != nil {
		return fail(err)
	}
	ps.Fetched = len(txns)

	ps.Phase = PhaseDeduplicating
	fresh := pr.dedupe(txns)

	ps.Phase = PhaseProcessing
	pr.retryPass(ctx)

	batches := chunk(fresh, p.batchSize)
	for i, batch := range batches {
		if p.maxBatches > 0 && i >= p.maxBatches {
			logger.Info().
				Int("remaining_batches", len(batches)-i).
				Msg("Batch limit reached, remaining transactions left for the next invocation")
			break
		}
		for j := range batch {
			if ctx.Err() != nil {
				break
			}
			pr.processNew(ctx, batch[j])
		}
		ps.Batches++

		if ctx.Err() != nil {
			break
		}
		if i < len(batches)-1 && !info.dryRun {
			if err := pr.persist(ctx); err != nil {
				return fail(err)
			}
		}
	}

	if p.advanceWatermark {
		pr.advanceWatermark(txns)
	}

	ps.Phase = PhasePersisting
	if !info.dryRun {
		// Progress made before a cancellation is still committed.
		if err := pr.persist(context.WithoutCancel(ctx)); err != nil {
			return fail(err)
		}
	}
	ps.Watermark = st.LastProcessedAt

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	ps.Phase = PhaseDone

	logger.Info().
		Int("fetched", ps.Fetched).
		Int("processed", ps.Processed).
		Int("retried", ps.Retried).
		Int("manual_review", ps.ManualReview).
		Int("skipped", ps.Skipped).
		Int64("watermark", ps.Watermark).
		Msg("Product sync finished")
	return ps, nil
}

func (o *Orchestrator) alertFailure(ctx context.Context, info *runInfo, scriptID string, phase Phase, err error) {
	if o.notifier == nil || errors.Is(err, context.Canceled) {
		return
	}
	alert := notify.Alert{
		Severity: notify.SeverityCritical,
		Title:    "Product sync failed",
		Message:  err.Error(),
		Fields: map[string]string{
			"Script": scriptID,
			"Phase":  string(phase),
			"Run":    info.id,
			"Kind":   string(models.KindOf(err)),
		},
		CreatedAt: time.Now().UTC(),
	}
	if aerr := o.notifier.Alert(context.WithoutCancel(ctx), alert); aerr != nil {
		logging.Ctx(ctx).Warn().Err(aerr).Msg("Failed to send failure alert")
	}
}

// keepLease renews lease every LockTTL/3 until the returned stop is called.
func (o *Orchestrator) keepLease(ctx context.Context, lease *state.Lease) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	interval := max(o.cfg.LockTTL/3, time.Second)

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := o.repo.Store().RenewLease(ctx, lease, o.cfg.LockTTL); err != nil {
					logging.Ctx(ctx).Warn().Err(err).Msg("Failed to renew state lease")
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// chunk splits txns into batches of size; size <= 0 yields a single batch.
func chunk(txns []models.Transaction, size int) [][]models.Transaction {
	if len(txns) == 0 {
		return nil
	}
	if size <= 0 || size >= len(txns) {
		return [][]models.Transaction{txns}
	}
	out := make([][]models.Transaction, 0, (len(txns)+size-1)/size)
	for start := 0; start < len(txns); start += size {
		end := min(start+size, len(txns))
		out = append(out, txns[start:end])
	}
	return out
}
