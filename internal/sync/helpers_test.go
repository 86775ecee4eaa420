// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package sync

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/accessync/internal/decision"
	"github.com/tomtom215/accessync/internal/events"
	"github.com/tomtom215/accessync/internal/feed"
	"github.com/tomtom215/accessync/internal/models"
	"github.com/tomtom215/accessync/internal/notify"
	"github.com/tomtom215/accessync/internal/provider"
	"github.com/tomtom215/accessync/internal/state"
)

const (
	testNow     int64 = 1_700_000_000
	month       int64 = 30 * 86400
	week        int64 = 7 * 86400
	alphaScript       = "PUB;alpha"
	betaScript        = "PUB;beta"
)

func testCatalog() models.Catalog {
	return models.Catalog{
		"p1": {ProductID: "p1", ScriptID: alphaScript, PlanDuration: month, SubscriptionType: "paid", StackingAllowed: true},
		"p2": {ProductID: "p2", ScriptID: betaScript, PlanDuration: week, SubscriptionType: "trial"},
	}
}

func makeTxn(id, username, productID string, ts int64) models.Transaction {
	p := testCatalog()[productID]
	return models.Transaction{
		ID:               id,
		Username:         username,
		Email:            username + "@example.com",
		ProductID:        productID,
		ScriptID:         p.ScriptID,
		Timestamp:        ts,
		PlanDuration:     p.PlanDuration,
		SubscriptionType: p.SubscriptionType,
	}
}

// fakeSource serves a fixed transaction list with the feed's since semantics.
type fakeSource struct {
	mu    sync.Mutex
	txns  []models.Transaction
	err   error
	calls atomic.Int64
}

func (s *fakeSource) add(txns ...models.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txns = append(s.txns, txns...)
}

func (s *fakeSource) FetchTransactions(_ context.Context, scope models.Scope, since int64) ([]models.Transaction, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := feed.Filter(append([]models.Transaction(nil), s.txns...), scope, since)
	feed.SortTransactions(out)
	return out, nil
}

// fakeGateway records provider calls. Behaviour is keyed by username.
type fakeGateway struct {
	mu          sync.Mutex
	grants      []models.AccessPayload
	updates     []models.AccessPayload
	invalid     map[string][]string
	failures    map[string]error
	validateErr error
	users       []models.ProviderUser
	onWrite     func()

	validateCalls atomic.Int64
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		invalid:  make(map[string][]string),
		failures: make(map[string]error),
	}
}

func (g *fakeGateway) write(list *[]models.AccessPayload, p models.AccessPayload) error {
	g.mu.Lock()
	hook := g.onWrite
	err := g.failures[p.Username]
	if err == nil {
		*list = append(*list, p)
	}
	g.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (g *fakeGateway) Grant(_ context.Context, p models.AccessPayload) error {
	return g.write(&g.grants, p)
}

func (g *fakeGateway) Update(_ context.Context, p models.AccessPayload) error {
	return g.write(&g.updates, p)
}

func (g *fakeGateway) ValidateUsername(_ context.Context, username string) (*provider.Validation, error) {
	g.validateCalls.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.validateErr != nil {
		return nil, g.validateErr
	}
	if suggestions, ok := g.invalid[username]; ok {
		return &provider.Validation{Valid: false, Suggestions: suggestions}, nil
	}
	return &provider.Validation{Valid: true, VerifiedUsername: username}, nil
}

func (g *fakeGateway) ListUsers(context.Context, string) ([]models.ProviderUser, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.users, nil
}

func (g *fakeGateway) fail(username string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.failures, username)
		return
	}
	g.failures[username] = err
}

func (g *fakeGateway) writes() (grants, updates int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.grants), len(g.updates)
}

type sentNotice struct {
	txnID       string
	username    string
	suggestions []string
}

type recordingNotifier struct {
	mu     sync.Mutex
	sent   []sentNotice
	alerts []notify.Alert
}

func (n *recordingNotifier) Name() string { return "recording" }

func (n *recordingNotifier) SendInvalidUsername(_ context.Context, txn *models.Transaction, suggestions []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotice{txnID: txn.ID, username: txn.Username, suggestions: suggestions})
	return nil
}

func (n *recordingNotifier) Alert(_ context.Context, a notify.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *recordingNotifier) alertCount(severity notify.Severity) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, a := range n.alerts {
		if a.Severity == severity {
			c++
		}
	}
	return c
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.AccessEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e events.AccessEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count(t events.Type) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type harness struct {
	orch     *Orchestrator
	store    *state.Store
	repo     *state.Repository
	source   *fakeSource
	gateway  *fakeGateway
	notifier *recordingNotifier
	events   *recordingPublisher
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	store, err := state.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	clock := func() time.Time { return time.Unix(testNow, 0) }
	h := &harness{
		store:    store,
		source:   &fakeSource{},
		gateway:  newFakeGateway(),
		notifier: &recordingNotifier{},
		events:   &recordingPublisher{},
	}
	h.repo = state.NewRepository(store, h.gateway)
	h.repo.SetClock(clock)

	h.orch = NewOrchestrator(cfg, Deps{
		Catalog:  testCatalog(),
		Repo:     h.repo,
		Source:   h.source,
		Gateway:  h.gateway,
		Engine:   decision.NewEngine(testCatalog(), decision.WithClock(clock)),
		Notifier: h.notifier,
		Events:   h.events,
	})
	return h
}

func (h *harness) run(t *testing.T, scope ...string) *RunSummary {
	t.Helper()
	summary, err := h.orch.RunSync(context.Background(), models.Scope(scope), false)
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	return summary
}

func (h *harness) state(t *testing.T, scriptID string) *state.ProductState {
	t.Helper()
	st, found, err := h.store.Get(context.Background(), scriptID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatalf("no state stored for %s", scriptID)
	}
	return st
}

func (h *harness) raw(t *testing.T, scriptID string) []byte {
	t.Helper()
	raw, err := h.store.GetRaw(context.Background(), scriptID)
	if err != nil {
		t.Fatalf("GetRaw: %v", err)
	}
	return raw
}
