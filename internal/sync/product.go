// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package sync

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strconv"
	"time"

	"github.com/tomtom215/accessync/internal/decision"
	"github.com/tomtom215/accessync/internal/events"
	"github.com/tomtom215/accessync/internal/identity"
	"github.com/tomtom215/accessync/internal/logging"
	"github.com/tomtom215/accessync/internal/metrics"
	"github.com/tomtom215/accessync/internal/models"
	"github.com/tomtom215/accessync/internal/notify"
	"github.com/tomtom215/accessync/internal/state"
	"github.com/tomtom215/accessync/internal/validation"
)

// invalidUsernameNotice is a notification held until the state that
// produced it has been saved.
type invalidUsernameNotice struct {
	txn         models.Transaction
	suggestions []string
}

// productRun is the mutable context of one product within a run.
type productRun struct {
	o       *Orchestrator
	info    *runInfo
	st      *state.ProductState
	summary *ProductSummary

	// dirty is set by any change that must be saved.
	dirty bool

	// settled holds the IDs this run applied, parked for manual review or
	// found already handled. The processed window alone cannot answer this
	// once a run handles more IDs than the window holds.
	settled map[string]struct{}

	notices []invalidUsernameNotice
	alerts  []notify.Alert
	events  []events.AccessEvent
}

func newProductRun(o *Orchestrator, info *runInfo, st *state.ProductState, summary *ProductSummary) *productRun {
	return &productRun{
		o:       o,
		info:    info,
		st:      st,
		summary: summary,
		dirty:   st.Version == 0,
		settled: make(map[string]struct{}),
	}
}

func (pr *productRun) now() int64 {
	return pr.o.engine.Now().Unix()
}

// dedupe drops transactions that were already handled or are waiting in a
// queue, plus repeats within txns. Retry-queue entries are picked up by the
// retry pass instead.
func (pr *productRun) dedupe(txns []models.Transaction) []models.Transaction {
	seen := make(map[string]struct{}, len(txns))
	fresh := make([]models.Transaction, 0, len(txns))
	for _, txn := range txns {
		_, dup := seen[txn.ID]
		_, queued := pr.st.PendingRetry(txn.ID)
		if dup || queued {
			pr.summary.Skipped++
			continue
		}
		if pr.st.IsProcessed(txn.ID) || pr.st.InManualReview(txn.ID) {
			pr.settled[txn.ID] = struct{}{}
			pr.summary.Skipped++
			continue
		}
		seen[txn.ID] = struct{}{}
		fresh = append(fresh, txn)
	}
	return fresh
}

// retryPass retries the retry queue oldest first. Entries that have used up
// their attempts go to manual review without another provider call.
func (pr *productRun) retryPass(ctx context.Context) {
	if len(pr.st.RetryQueue) == 0 {
		return
	}
	queue := append([]state.PendingTransaction(nil), pr.st.RetryQueue...)
	sort.SliceStable(queue, func(i, j int) bool {
		a, b := queue[i].Transaction, queue[j].Transaction
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return a.ID < b.ID
	})

	logging.Ctx(ctx).Debug().Int("entries", len(queue)).Msg("Processing retry queue")

	for i := range queue {
		if ctx.Err() != nil {
			return
		}
		entry := queue[i]
		if pr.st.IsProcessed(entry.Transaction.ID) {
			pr.settled[entry.Transaction.ID] = struct{}{}
			pr.st.Resolve(entry.Transaction.ID)
			pr.dirty = true
			continue
		}
		if entry.Attempts >= pr.o.cfg.MaxRetryAttempts {
			pr.manualReview(ctx, entry.Transaction, "", entry.Kind, "retry attempts exhausted: "+entry.Reason, &entry)
			continue
		}
		pr.guarded(ctx, entry.Transaction, func() { pr.process(ctx, entry.Transaction, &entry) })
	}
}

func (pr *productRun) processNew(ctx context.Context, txn models.Transaction) {
	pr.guarded(ctx, txn, func() { pr.process(ctx, txn, nil) })
}

// guarded runs fn and turns a panic into an error outcome for txn. The
// transaction is left unsettled, so the watermark stays below it and the
// next run sees it again.
func (pr *productRun) guarded(ctx context.Context, txn models.Transaction, fn func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		logging.Ctx(ctx).Error().
			Str("transaction_id", txn.ID).
			Interface("panic", r).
			Bytes("stack", debug.Stack()).
			Msg("Transaction processing panicked")
		pr.record(txn, "", 0, OutcomeError, fmt.Sprint("internal error: ", r))
	}()
	fn()
}

// process runs one transaction through validation, decision and the
// provider call, and routes the result. prior is the retry-queue entry when
// the transaction is being retried.
func (pr *productRun) process(ctx context.Context, txn models.Transaction, prior *state.PendingTransaction) {
	logger := logging.Ctx(ctx).With().
		Str("transaction_id", txn.ID).
		Str("product_id", txn.ProductID).
		Logger()

	if err := validation.ValidateStructExcept(&txn, "Username"); err != nil {
		logger.Warn().Err(err).Msg("Malformed transaction")
		pr.manualReview(ctx, txn, "", models.KindValidation, err.Error(), prior)
		return
	}

	verdict := pr.info.validator.Validate(ctx, txn.Username)
	switch verdict.Status {
	case identity.Invalid:
		if prior == nil || prior.Kind != models.KindUnknownUsername {
			pr.notices = append(pr.notices, invalidUsernameNotice{txn: txn, suggestions: verdict.Suggestions})
		}
		pr.manualReview(ctx, txn, "validate", models.KindUnknownUsername, "unknown username", prior)
		return
	case identity.Unknown:
		err := verdict.Error()
		pr.retry(ctx, txn, "validate", models.KindOf(err), err.Error(), prior)
		return
	}
	txn.Username = verdict.Username

	action := pr.o.engine.Decide(&txn, pr.st)
	if action.Kind == decision.Reject {
		pr.manualReview(ctx, txn, action.Kind.String(), models.KindValidation, action.Reason, prior)
		return
	}

	var err error
	if action.Kind == decision.Grant {
		err = pr.info.gateway.Grant(ctx, action.Payload)
	} else {
		err = pr.info.gateway.Update(ctx, action.Payload)
	}
	if err != nil {
		kind := models.KindOf(err)
		if kind.Retryable() {
			pr.retry(ctx, txn, action.Kind.String(), kind, err.Error(), prior)
		} else {
			pr.manualReview(ctx, txn, action.Kind.String(), kind, err.Error(), prior)
		}
		return
	}

	historyAction := state.ActionGrant
	eventType := events.TypeGranted
	if action.Kind == decision.Extend {
		historyAction = state.ActionExtend
		eventType = events.TypeExtended
	}
	user := pr.st.ApplyExpiry(&txn, txn.Username, historyAction, action.Expiry, pr.now())
	pr.st.MarkProcessed(txn.ID)
	pr.st.Resolve(txn.ID)
	pr.settled[txn.ID] = struct{}{}
	pr.dirty = true

	logger.Info().
		Str("username", txn.Username).
		Str("action", action.Kind.String()).
		Int64("expiry", user.Expiry).
		Int64("previous_expiry", action.PreviousExpiry).
		Msg("Access applied")

	pr.record(txn, action.Kind.String(), action.Expiry, OutcomeApplied, "")
	ev := pr.event(eventType, txn)
	ev.Expiry = user.Expiry
	pr.events = append(pr.events, ev)
}

// retry queues txn for the next run, or escalates it when the attempt that
// just failed was its last.
func (pr *productRun) retry(ctx context.Context, txn models.Transaction, action string, kind models.ErrorKind, reason string, prior *state.PendingTransaction) {
	now := pr.now()
	entry := state.PendingTransaction{
		Transaction:   txn,
		Reason:        reason,
		Kind:          kind,
		Attempts:      1,
		FirstSeenAt:   now,
		LastAttemptAt: now,
	}
	if prior != nil {
		entry.Attempts = prior.Attempts + 1
		entry.FirstSeenAt = prior.FirstSeenAt
	}
	if entry.Attempts >= pr.o.cfg.MaxRetryAttempts {
		pr.manualReview(ctx, txn, action, kind, "retry attempts exhausted: "+reason, &entry)
		return
	}

	pr.st.EnqueueRetry(entry)
	pr.dirty = true

	logging.Ctx(ctx).Warn().
		Str("transaction_id", txn.ID).
		Str("kind", string(kind)).
		Int("attempts", entry.Attempts).
		Str("reason", reason).
		Msg("Transaction queued for retry")

	pr.record(txn, action, 0, OutcomeRetry, reason)
	ev := pr.event(events.TypeRetryQueued, txn)
	ev.Reason = reason
	pr.events = append(pr.events, ev)
}

// manualReview parks txn for operator action.
func (pr *productRun) manualReview(ctx context.Context, txn models.Transaction, action string, kind models.ErrorKind, reason string, prior *state.PendingTransaction) {
	now := pr.now()
	entry := state.PendingTransaction{
		Transaction:   txn,
		Reason:        reason,
		Kind:          kind,
		Attempts:      1,
		FirstSeenAt:   now,
		LastAttemptAt: now,
	}
	if prior != nil {
		entry.Attempts = max(prior.Attempts, 1)
		entry.FirstSeenAt = prior.FirstSeenAt
	}
	pr.st.EnqueueManualReview(entry)
	pr.settled[txn.ID] = struct{}{}
	pr.dirty = true

	logging.Ctx(ctx).Warn().
		Str("transaction_id", txn.ID).
		Str("username", txn.Username).
		Str("kind", string(kind)).
		Str("reason", reason).
		Msg("Transaction moved to manual review")

	// Unknown usernames reach the customer by email instead.
	if kind != models.KindUnknownUsername {
		pr.alerts = append(pr.alerts, notify.Alert{
			Severity: notify.SeverityWarning,
			Title:    "Transaction moved to manual review",
			Message:  reason,
			Fields: map[string]string{
				"Script":      pr.st.ScriptID,
				"Transaction": txn.ID,
				"Username":    txn.Username,
				"Kind":        string(kind),
				"Attempts":    strconv.Itoa(entry.Attempts),
			},
			CreatedAt: time.Unix(now, 0).UTC(),
		})
	}

	pr.record(txn, action, 0, OutcomeManualReview, reason)
	ev := pr.event(events.TypeManualReview, txn)
	ev.Reason = reason
	pr.events = append(pr.events, ev)
}

func (pr *productRun) record(txn models.Transaction, action string, expiry int64, outcome, reason string) {
	pr.summary.count(outcome)
	a := PlannedAction{
		TransactionID: txn.ID,
		Username:      txn.Username,
		Action:        action,
		Outcome:       outcome,
		Reason:        reason,
	}
	if expiry > 0 {
		a.Expiry = models.ExpiryDate(expiry)
	}
	pr.summary.addAction(a)
	if !pr.info.dryRun {
		metrics.RecordTransaction(outcome)
	}
}

func (pr *productRun) event(t events.Type, txn models.Transaction) events.AccessEvent {
	ev := events.NewAccessEvent(t)
	ev.RunID = pr.info.id
	ev.ScriptID = pr.st.ScriptID
	ev.Username = txn.Username
	ev.TransactionID = txn.ID
	return ev
}

// advanceWatermark moves the watermark to the latest transaction of the
// contiguous settled prefix of txns (sorted). The first transaction this run
// has not settled stops the walk, and the watermark never passes any queued
// retry.
func (pr *productRun) advanceWatermark(txns []models.Transaction) {
	mark := pr.st.LastProcessedAt
	for i := range txns {
		if _, ok := pr.settled[txns[i].ID]; !ok {
			break
		}
		mark = max(mark, txns[i].Timestamp)
	}
	for _, p := range pr.st.RetryQueue {
		mark = min(mark, p.Transaction.Timestamp)
	}

	before := pr.st.LastProcessedAt
	pr.st.AdvanceWatermark(mark)
	if pr.st.LastProcessedAt != before {
		pr.dirty = true
	}
}

// persist saves the state when it changed, then flushes the notifications
// and events held back for it. Nothing is flushed if the save fails.
func (pr *productRun) persist(ctx context.Context) error {
	if pr.dirty {
		if err := pr.o.repo.Save(ctx, pr.st); err != nil {
			return err
		}
		pr.dirty = false
	}

	metrics.UpdateProductGauges(pr.st.ScriptID, len(pr.st.RetryQueue), len(pr.st.ManualReview), pr.st.LastProcessedAt)
	pr.flush(ctx)
	return nil
}

func (pr *productRun) flush(ctx context.Context) {
	if pr.o.notifier != nil {
		for i := range pr.notices {
			n := &pr.notices[i]
			if err := pr.o.notifier.SendInvalidUsername(ctx, &n.txn, n.suggestions); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Str("transaction_id", n.txn.ID).Msg("Failed to send invalid username notification")
			}
		}
		for _, a := range pr.alerts {
			if err := pr.o.notifier.Alert(ctx, a); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Str("title", a.Title).Msg("Failed to send alert")
			}
		}
	}
	for _, ev := range pr.events {
		if err := pr.o.events.Publish(ctx, ev); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("event_type", string(ev.Type)).Msg("Failed to publish access event")
		}
	}
	pr.notices = pr.notices[:0]
	pr.alerts = pr.alerts[:0]
	pr.events = pr.events[:0]
}
