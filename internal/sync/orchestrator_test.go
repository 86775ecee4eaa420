// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/accessync/internal/decision"
	"github.com/tomtom215/accessync/internal/events"
	"github.com/tomtom215/accessync/internal/models"
	"github.com/tomtom215/accessync/internal/notify"
	"github.com/tomtom215/accessync/internal/state"
)

func TestRunSync_GrantsNewUser(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.add(makeTxn("tx1", "alice", "p1", 100))

	summary := h.run(t)

	if summary.Processed != 1 || summary.Errors != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	grants, updates := h.gateway.writes()
	if grants != 1 || updates != 0 {
		t.Fatalf("grants=%d updates=%d, want 1/0", grants, updates)
	}
	p := h.gateway.grants[0]
	if p.ScriptID != alphaScript || p.Username != "alice" || p.Expiry != models.ExpiryDate(testNow+month) {
		t.Errorf("payload = %+v", p)
	}

	st := h.state(t, alphaScript)
	alice, ok := st.User("alice")
	if !ok || alice.Expiry != testNow+month {
		t.Fatalf("alice = %+v", alice)
	}
	if len(alice.GrantHistory) != 1 || alice.GrantHistory[0].Action != state.ActionGrant || alice.GrantHistory[0].TransactionID != "tx1" {
		t.Errorf("history = %+v", alice.GrantHistory)
	}
	if !st.IsProcessed("tx1") || st.LastProcessedAt != 100 {
		t.Errorf("processed=%v watermark=%d", st.IsProcessed("tx1"), st.LastProcessedAt)
	}
	if h.events.count(events.TypeGranted) != 1 || h.events.count(events.TypeSyncCompleted) != 1 {
		t.Errorf("events = %+v", h.events.events)
	}
}

func TestRunSync_Idempotent(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.add(
		makeTxn("tx1", "alice", "p1", 100),
		makeTxn("tx2", "bob", "p1", 150),
	)

	h.run(t)
	before := h.raw(t, alphaScript)

	summary := h.run(t)
	if summary.Processed != 0 || summary.Skipped != 1 {
		t.Errorf("second run processed=%d skipped=%d, want 0/1", summary.Processed, summary.Skipped)
	}
	if grants, updates := h.gateway.writes(); grants != 2 || updates != 0 {
		t.Errorf("grants=%d updates=%d after rerun, want 2/0", grants, updates)
	}
	if after := h.raw(t, alphaScript); !bytes.Equal(before, after) {
		t.Errorf("state changed on a run with no new transactions:\nbefore %s\nafter  %s", before, after)
	}
}

func TestRunSync_ExtendsActiveSubscription(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.add(makeTxn("tx1", "alice", "p1", 100))
	h.run(t)

	h.source.add(makeTxn("tx2", "ALICE", "p1", 200))
	summary := h.run(t)

	if summary.Processed != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	grants, updates := h.gateway.writes()
	if grants != 1 || updates != 1 {
		t.Fatalf("grants=%d updates=%d, want 1/1", grants, updates)
	}
	want := testNow + 2*month
	if h.gateway.updates[0].Expiry != models.ExpiryDate(want) {
		t.Errorf("update expiry = %s, want %s", h.gateway.updates[0].Expiry, models.ExpiryDate(want))
	}

	st := h.state(t, alphaScript)
	alice, _ := st.User("alice")
	if alice.Expiry != want || len(alice.GrantHistory) != 2 || alice.GrantHistory[1].Action != state.ActionExtend {
		t.Errorf("alice = %+v", alice)
	}
	if alice.GrantHistory[1].PreviousExpiry != testNow+month {
		t.Errorf("previous expiry = %d", alice.GrantHistory[1].PreviousExpiry)
	}
}

func TestRunSync_StackingDisabled(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.add(makeTxn("t1", "carol", "p2", 100))
	h.run(t)

	h.source.add(makeTxn("t2", "carol", "p2", 200))
	summary := h.run(t)

	if summary.ManualReview != 1 || summary.Processed != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if grants, updates := h.gateway.writes(); grants != 1 || updates != 0 {
		t.Errorf("grants=%d updates=%d, want 1/0", grants, updates)
	}

	st := h.state(t, betaScript)
	if len(st.ManualReview) != 1 || st.ManualReview[0].Reason != decision.ReasonStackingDisabled {
		t.Fatalf("manual review = %+v", st.ManualReview)
	}
	carol, _ := st.User("carol")
	if carol.Expiry != testNow+week {
		t.Errorf("expiry changed to %d", carol.Expiry)
	}
	// Manual review counts as settled, so the watermark moves on.
	if st.LastProcessedAt != 200 {
		t.Errorf("watermark = %d, want 200", st.LastProcessedAt)
	}
}

func TestRunSync_InvalidUsernameNotifiesOnce(t *testing.T) {
	h := newHarness(t, Config{})
	h.gateway.invalid["bob_typo"] = []string{"bob", "bobby"}
	h.source.add(makeTxn("tx9", "bob_typo", "p1", 100))

	summary := h.run(t)
	if summary.ManualReview != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if grants, _ := h.gateway.writes(); grants != 0 {
		t.Errorf("grant attempted for an invalid username")
	}
	if h.notifier.count() != 1 {
		t.Fatalf("notifications = %d, want 1", h.notifier.count())
	}
	n := h.notifier.sent[0]
	if n.txnID != "tx9" || strings.Join(n.suggestions, ",") != "bob,bobby" {
		t.Errorf("notice = %+v", n)
	}

	st := h.state(t, alphaScript)
	if len(st.ManualReview) != 1 || st.ManualReview[0].Kind != models.KindUnknownUsername {
		t.Errorf("manual review = %+v", st.ManualReview)
	}

	validations := h.gateway.validateCalls.Load()
	h.run(t)
	if h.notifier.count() != 1 {
		t.Errorf("notifications after rerun = %d, want 1", h.notifier.count())
	}
	if h.gateway.validateCalls.Load() != validations {
		t.Error("parked transaction was validated again")
	}
}

func TestRunSync_MalformedUsernameSkipsProvider(t *testing.T) {
	h := newHarness(t, Config{})
	bad := makeTxn("tx1", "not a username!", "p1", 100)
	bad.Email = "someone@example.com"
	h.source.add(bad)

	summary := h.run(t)

	if summary.ManualReview != 1 || h.notifier.count() != 1 {
		t.Fatalf("manual=%d notifications=%d", summary.ManualReview, h.notifier.count())
	}
	if h.gateway.validateCalls.Load() != 0 {
		t.Error("malformed username should not reach the provider")
	}
}

func TestRunSync_MalformedTransaction(t *testing.T) {
	h := newHarness(t, Config{})
	bad := makeTxn("tx1", "alice", "p1", 100)
	bad.Email = "not-an-email"
	h.source.add(bad)

	summary := h.run(t)

	if summary.ManualReview != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	st := h.state(t, alphaScript)
	if st.ManualReview[0].Kind != models.KindValidation {
		t.Errorf("kind = %s", st.ManualReview[0].Kind)
	}
}

func TestRunSync_WatermarkStopsAtFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.gateway.fail("carol", models.NewSyncError(models.KindTransport, "grant", errors.New("timeout")))
	h.source.add(
		makeTxn("t100", "carol", "p1", 100),
		makeTxn("t200", "alice", "p1", 200),
	)

	summary := h.run(t)
	if summary.Processed != 1 || summary.Retried != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	st := h.state(t, alphaScript)
	if st.LastProcessedAt >= 100 {
		t.Errorf("watermark = %d, must stay below the failed transaction", st.LastProcessedAt)
	}
	if len(st.RetryQueue) != 1 || st.RetryQueue[0].Transaction.ID != "t100" || st.RetryQueue[0].Attempts != 1 {
		t.Fatalf("retry queue = %+v", st.RetryQueue)
	}
	if h.events.count(events.TypeRetryQueued) != 1 {
		t.Errorf("retry event not published")
	}

	h.gateway.fail("carol", nil)
	summary = h.run(t)
	if summary.Processed != 1 {
		t.Fatalf("second run = %+v", summary)
	}
	st = h.state(t, alphaScript)
	if len(st.RetryQueue) != 0 || !st.IsProcessed("t100") {
		t.Errorf("retry not resolved: %+v", st.RetryQueue)
	}
	if st.LastProcessedAt != 200 {
		t.Errorf("watermark = %d, want 200", st.LastProcessedAt)
	}
	if grants, _ := h.gateway.writes(); grants != 2 {
		t.Errorf("grants = %d, want 2", grants)
	}
}

func TestRunSync_RetryEscalatesAfterMaxAttempts(t *testing.T) {
	h := newHarness(t, Config{MaxRetryAttempts: 3})
	h.gateway.fail("dave", models.NewSyncError(models.KindTransport, "grant", errors.New("503")))
	h.source.add(makeTxn("t1", "dave", "p1", 100))

	for i := 1; i <= 2; i++ {
		h.run(t)
		st := h.state(t, alphaScript)
		if len(st.RetryQueue) != 1 || st.RetryQueue[0].Attempts != i {
			t.Fatalf("run %d: retry queue = %+v", i, st.RetryQueue)
		}
	}

	summary := h.run(t)
	if summary.ManualReview != 1 {
		t.Fatalf("third run = %+v", summary)
	}
	st := h.state(t, alphaScript)
	if len(st.RetryQueue) != 0 || len(st.ManualReview) != 1 {
		t.Fatalf("retry=%d manual=%d", len(st.RetryQueue), len(st.ManualReview))
	}
	if !strings.HasPrefix(st.ManualReview[0].Reason, "retry attempts exhausted") || st.ManualReview[0].Attempts != 3 {
		t.Errorf("manual entry = %+v", st.ManualReview[0])
	}
	if st.LastProcessedAt != 100 {
		t.Errorf("watermark = %d, want 100 once the failure is settled", st.LastProcessedAt)
	}
}

func TestRunSync_PermanentFailureGoesToManualReview(t *testing.T) {
	h := newHarness(t, Config{})
	h.gateway.fail("erin", models.NewSyncError(models.KindProviderRejection, "grant", errors.New("400 bad request")))
	h.source.add(makeTxn("t1", "erin", "p1", 100))

	summary := h.run(t)

	if summary.ManualReview != 1 || summary.Retried != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	st := h.state(t, alphaScript)
	if len(st.RetryQueue) != 0 || st.ManualReview[0].Kind != models.KindProviderRejection {
		t.Errorf("state = retry %+v manual %+v", st.RetryQueue, st.ManualReview)
	}
	if h.notifier.alertCount(notify.SeverityWarning) != 1 {
		t.Errorf("alerts = %+v, want one manual review warning", h.notifier.alerts)
	}
}

func TestRunSync_ValidationOutageIsRetried(t *testing.T) {
	h := newHarness(t, Config{})
	h.gateway.validateErr = models.NewSyncError(models.KindTransport, "validate username", errors.New("connection refused"))
	h.source.add(makeTxn("t1", "alice", "p1", 100))

	summary := h.run(t)

	if summary.Retried != 1 || h.notifier.count() != 0 {
		t.Fatalf("retried=%d notifications=%d", summary.Retried, h.notifier.count())
	}
}

func TestRunSync_ProcessedWindowBound(t *testing.T) {
	h := newHarness(t, Config{})
	for i := 1; i <= state.DefaultWindowCapacity+1; i++ {
		h.source.add(makeTxn(fmt.Sprintf("tx%04d", i), "alice", "p1", int64(i)))
	}

	summary := h.run(t)
	if summary.Processed != state.DefaultWindowCapacity+1 {
		t.Fatalf("processed = %d", summary.Processed)
	}
	st := h.state(t, alphaScript)
	if st.Processed.Len() != state.DefaultWindowCapacity {
		t.Errorf("window len = %d, want %d", st.Processed.Len(), state.DefaultWindowCapacity)
	}
	if st.IsProcessed("tx0001") || !st.IsProcessed("tx0501") {
		t.Error("oldest id should be evicted and newest kept")
	}

	// The watermark keeps evicted IDs out of the next fetch.
	h.run(t)
	grants, updates := h.gateway.writes()
	if grants+updates != state.DefaultWindowCapacity+1 {
		t.Errorf("provider writes = %d, want %d", grants+updates, state.DefaultWindowCapacity+1)
	}
}

func TestRunSync_BacklogLargerThanWindowIsIdempotent(t *testing.T) {
	h := newHarness(t, Config{})
	backlog := state.DefaultWindowCapacity + 1
	for i := 1; i <= backlog; i++ {
		h.source.add(makeTxn(fmt.Sprintf("tx%04d", i), fmt.Sprintf("u%04d", i), "p1", int64(i)))
	}

	h.run(t)
	first := h.state(t, alphaScript)
	if first.LastProcessedAt != int64(backlog) {
		t.Fatalf("watermark after first run = %d, want %d", first.LastProcessedAt, backlog)
	}
	u, ok := first.User("u0001")
	if !ok {
		t.Fatal("u0001 not recorded")
	}
	expiry := u.Expiry

	for run := 2; run <= 4; run++ {
		summary := h.run(t)
		if summary.Processed != 0 {
			t.Errorf("run %d processed %d transactions, want 0", run, summary.Processed)
		}
	}

	grants, updates := h.gateway.writes()
	if grants != backlog || updates != 0 {
		t.Errorf("provider writes: grants=%d updates=%d, want %d and 0", grants, updates, backlog)
	}
	st := h.state(t, alphaScript)
	u, _ = st.User("u0001")
	if u.Expiry != expiry || len(u.GrantHistory) != 1 {
		t.Errorf("u0001 expiry = %d history = %d, want %d and 1", u.Expiry, len(u.GrantHistory), expiry)
	}
}

func TestRunSync_PanicIsCountedAsError(t *testing.T) {
	h := newHarness(t, Config{})
	h.gateway.onWrite = func() {
		h.gateway.mu.Lock()
		last := h.gateway.grants[len(h.gateway.grants)-1].Username
		h.gateway.mu.Unlock()
		if last == "mallory" {
			panic("nil response body")
		}
	}
	h.source.add(
		makeTxn("t100", "alice", "p1", 100),
		makeTxn("t200", "mallory", "p1", 200),
		makeTxn("t300", "bob", "p1", 300),
	)

	summary := h.run(t)
	if summary.Processed != 2 || summary.Errors != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	p := summary.Products[0]
	if p.Phase != PhaseDone || p.Errors != 1 {
		t.Errorf("product phase = %s errors = %d", p.Phase, p.Errors)
	}
	st := h.state(t, alphaScript)
	if st.LastProcessedAt != 100 || st.IsProcessed("t200") {
		t.Errorf("watermark = %d, t200 processed = %v; want 100 and false", st.LastProcessedAt, st.IsProcessed("t200"))
	}

	h.gateway.mu.Lock()
	h.gateway.onWrite = nil
	h.gateway.mu.Unlock()

	summary = h.run(t)
	if summary.Processed != 1 || summary.Errors != 0 {
		t.Fatalf("second run = %+v", summary)
	}
	if st := h.state(t, alphaScript); st.LastProcessedAt != 300 || !st.IsProcessed("t200") {
		t.Errorf("watermark = %d after recovery, want 300", st.LastProcessedAt)
	}
}

func TestRunSync_DryRunWritesNothing(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.add(makeTxn("tx1", "alice", "p1", 100))
	h.run(t)
	before := h.raw(t, alphaScript)
	betaBefore := h.raw(t, betaScript)
	eventsBefore := len(h.events.events)

	h.gateway.invalid["ghost"] = nil
	h.source.add(
		makeTxn("tx2", "alice", "p1", 200),
		makeTxn("tx3", "ghost", "p1", 300),
		makeTxn("tx4", "frank", "p2", 300),
	)

	// Dry runs do not take the lease.
	if _, err := h.store.AcquireLease(context.Background(), alphaScript, "other-run", time.Minute); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		summary, err := h.orch.RunSync(context.Background(), nil, true)
		if err != nil {
			t.Fatalf("dry run: %v", err)
		}
		if !summary.DryRun || summary.Processed != 2 || summary.ManualReview != 1 {
			t.Fatalf("dry run %d summary = %+v", i, summary)
		}
	}

	if grants, updates := h.gateway.writes(); grants != 1 || updates != 0 {
		t.Errorf("dry run reached the provider: grants=%d updates=%d", grants, updates)
	}
	if after := h.raw(t, alphaScript); !bytes.Equal(before, after) {
		t.Error("dry run changed stored state")
	}
	if after := h.raw(t, betaScript); !bytes.Equal(betaBefore, after) {
		t.Error("dry run changed state of a product it granted on")
	}
	if h.notifier.count() != 0 || len(h.events.events) != eventsBefore {
		t.Error("dry run sent notifications or events")
	}
}

func TestRunSync_DryRunReportsPlannedActions(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.add(makeTxn("tx1", "alice", "p1", 100))

	summary, err := h.orch.RunSync(context.Background(), models.Scope{"p1"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.Products) != 1 || len(summary.Products[0].Actions) != 1 {
		t.Fatalf("products = %+v", summary.Products)
	}
	a := summary.Products[0].Actions[0]
	if a.Action != "grant" || a.Outcome != OutcomeApplied || a.Expiry != models.ExpiryDate(testNow+month) {
		t.Errorf("action = %+v", a)
	}
}

func TestRunSync_LockedProduct(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.add(makeTxn("tx1", "alice", "p1", 100))
	if _, err := h.store.AcquireLease(context.Background(), alphaScript, "other-run", time.Minute); err != nil {
		t.Fatal(err)
	}

	summary, err := h.orch.RunSync(context.Background(), models.Scope{"p1"}, false)
	if !errors.Is(err, models.ErrStateLocked) {
		t.Fatalf("err = %v, want ErrStateLocked", err)
	}
	if !summary.AllLocked() || !summary.Failed() {
		t.Errorf("summary = %+v", summary)
	}
	if grants, _ := h.gateway.writes(); grants != 0 {
		t.Error("locked product reached the provider")
	}
}

func TestRunSync_ScopeAndUnknownProduct(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.add(
		makeTxn("a1", "alice", "p1", 100),
		makeTxn("b1", "bob", "p2", 100),
	)

	summary := h.run(t, "p2")
	if len(summary.Products) != 1 || summary.Products[0].ScriptID != betaScript {
		t.Fatalf("products = %+v", summary.Products)
	}
	if raw := h.raw(t, alphaScript); raw != nil {
		t.Error("out-of-scope product was touched")
	}

	_, err := h.orch.RunSync(context.Background(), models.Scope{"nope"}, false)
	if !models.IsKind(err, models.KindValidation) || !errors.Is(err, models.ErrNoProductMapping) {
		t.Errorf("err = %v", err)
	}
}

func TestRunSync_FeedFailureIsProductLevel(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.err = models.NewSyncError(models.KindTransport, "fetch transactions", errors.New("502"))

	summary, err := h.orch.RunSync(context.Background(), nil, false)
	if err == nil {
		t.Fatal("expected error")
	}
	if summary == nil || !summary.Failed() || summary.Errors != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	for _, p := range summary.Products {
		if p.Phase != PhaseFailed || p.Locked {
			t.Errorf("product = %+v", p)
		}
	}
	if h.notifier.alertCount(notify.SeverityCritical) != 2 {
		t.Errorf("critical alerts = %d, want one per failed product", h.notifier.alertCount(notify.SeverityCritical))
	}
}

func TestRunSync_SaveFailureCommitsNothing(t *testing.T) {
	h := newHarness(t, Config{})
	h.gateway.invalid["ghost"] = nil
	h.source.add(
		makeTxn("tx1", "ghost", "p1", 100),
		makeTxn("tx2", "alice", "p1", 200),
	)
	// A competing writer bumps the stored version mid-run.
	h.gateway.onWrite = func() {
		_ = h.store.Put(context.Background(), state.NewProductState(alphaScript), time.Now())
	}

	summary, err := h.orch.RunSync(context.Background(), models.Scope{"p1"}, false)
	if !models.IsKind(err, models.KindPersistence) {
		t.Fatalf("err = %v, want persistence error", err)
	}
	if summary.Products[0].Phase != PhaseFailed {
		t.Errorf("phase = %s", summary.Products[0].Phase)
	}
	if h.notifier.count() != 0 || h.events.count(events.TypeGranted) != 0 {
		t.Error("notifications or events sent for an uncommitted run")
	}
	st := h.state(t, alphaScript)
	if st.IsProcessed("tx2") || st.LastProcessedAt != 0 {
		t.Error("failed save left partial state")
	}
}

func TestRunSync_BootstrapsFromProvider(t *testing.T) {
	h := newHarness(t, Config{})
	h.gateway.users = []models.ProviderUser{{Username: "alice", Expiry: testNow + 1000}}
	h.source.add(makeTxn("tx1", "alice", "p1", 100))

	h.run(t)

	grants, updates := h.gateway.writes()
	if grants != 0 || updates != 1 {
		t.Fatalf("grants=%d updates=%d, want an update for a bootstrapped user", grants, updates)
	}
	if h.gateway.updates[0].Expiry != models.ExpiryDate(testNow+1000+month) {
		t.Errorf("expiry = %s", h.gateway.updates[0].Expiry)
	}
}

func TestRunSync_CancelledRunKeepsProgress(t *testing.T) {
	h := newHarness(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.source.add(
		makeTxn("t1", "alice", "p1", 100),
		makeTxn("t2", "bob", "p1", 200),
	)
	h.gateway.onWrite = cancel

	summary, err := h.orch.RunSync(ctx, models.Scope{"p1"}, false)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if summary.Processed != 1 {
		t.Errorf("processed = %d, want 1", summary.Processed)
	}
	st := h.state(t, alphaScript)
	if !st.IsProcessed("t1") || st.IsProcessed("t2") || st.LastProcessedAt != 100 {
		t.Errorf("processed t1=%v t2=%v watermark=%d", st.IsProcessed("t1"), st.IsProcessed("t2"), st.LastProcessedAt)
	}
}

func TestRunBatch_ResumesAcrossInvocations(t *testing.T) {
	h := newHarness(t, Config{})
	var txns []models.Transaction
	for i := 1; i <= 5; i++ {
		txns = append(txns, makeTxn(fmt.Sprintf("b%d", i), fmt.Sprintf("user%d", i), "p1", int64(i*10)))
	}
	orphan := makeTxn("x1", "zed", "p1", 5)
	orphan.ScriptID = ""
	txns = append(txns, orphan)

	opts := BatchOptions{BatchSize: 2, MaxBatches: 1}
	wantProcessed := []int{2, 2, 1, 0}
	for i, want := range wantProcessed {
		summary, err := h.orch.RunBatch(context.Background(), txns, opts)
		if err != nil {
			t.Fatalf("invocation %d: %v", i, err)
		}
		if summary.Mode != ModeBatch || summary.Processed != want {
			t.Fatalf("invocation %d processed = %d, want %d", i, summary.Processed, want)
		}
	}

	if grants, _ := h.gateway.writes(); grants != 5 {
		t.Errorf("grants = %d, want 5", grants)
	}
	st := h.state(t, alphaScript)
	if st.LastProcessedAt != 0 {
		t.Errorf("batch mode moved the watermark to %d", st.LastProcessedAt)
	}
}

func TestRunBatch_SavesEachBatch(t *testing.T) {
	h := newHarness(t, Config{})
	txns := []models.Transaction{
		makeTxn("b1", "ann", "p1", 10),
		makeTxn("b2", "ben", "p1", 20),
		makeTxn("b3", "cat", "p1", 30),
	}

	summary, err := h.orch.RunBatch(context.Background(), txns, BatchOptions{BatchSize: 1})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Products[0].Batches != 3 || summary.Processed != 3 {
		t.Fatalf("product = %+v", summary.Products[0])
	}
	if st := h.state(t, alphaScript); st.Version != 3 {
		t.Errorf("version = %d, want one save per batch", st.Version)
	}
}

func TestChunk(t *testing.T) {
	txns := make([]models.Transaction, 5)
	tests := []struct {
		size int
		want []int
	}{
		{0, []int{5}},
		{2, []int{2, 2, 1}},
		{5, []int{5}},
		{10, []int{5}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("size_%d", tt.size), func(t *testing.T) {
			got := chunk(txns, tt.size)
			if len(got) != len(tt.want) {
				t.Fatalf("batches = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if len(got[i]) != tt.want[i] {
					t.Errorf("batch %d len = %d, want %d", i, len(got[i]), tt.want[i])
				}
			}
		})
	}
	if chunk(nil, 2) != nil {
		t.Error("empty input should yield no batches")
	}
}
