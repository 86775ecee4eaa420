// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/tomtom215/accessync/internal/models"
)

func testCatalog() models.Catalog {
	return models.Catalog{
		"P1": {ProductID: "P1", ScriptID: "PUB;alpha", PlanDuration: 30 * models.SecondsPerDay, SubscriptionType: "monthly", StackingAllowed: true},
		"P2": {ProductID: "P2", ScriptID: "PUB;beta", PlanDuration: 365 * models.SecondsPerDay, StackingAllowed: true},
	}
}

func TestParseCreatedAt(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"2024-01-01T00:00:00Z", 1704067200, true},
		{"2024-01-01T01:00:00+01:00", 1704067200, true},
		{"2024-01-01 00:00:00", 1704067200, true},
		{"2024-01-01T00:00:00", 1704067200, true},
		{"1704067200", 1704067200, true},
		{"", 0, false},
		{"yesterday", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseCreatedAt(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseCreatedAt(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	raws := []RawTransaction{
		{TransactionID: "t2", User: &RawUser{Username: "bob", Email: "bob@example.com", DisplayName: "Bob"}, ProductID: "P1", CreatedAt: "2024-01-02 00:00:00", Status: "complete"},
		{ID: "t1", UserLogin: "alice", UserEmail: "alice@example.com", ProductID: "P2", CreatedAt: "2024-01-01 00:00:00", UserMeta: map[string]any{"first_name": "Alice", "last_name": "Doe"}},
		{TransactionID: "t3", UserLogin: "carol", ProductID: "P1", CreatedAt: "2024-01-02 00:00:00", Status: "refunded"},
		{TransactionID: "", UserLogin: "dave", ProductID: "P1", CreatedAt: "2024-01-02 00:00:00"},
		{TransactionID: "t5", UserLogin: "erin", ProductID: "P1", CreatedAt: "garbage"},
		{TransactionID: "t6", UserLogin: "frank", ProductID: "UNMAPPED", CreatedAt: "2024-01-03 00:00:00", Note: "gift"},
	}

	got := NewNormalizer(testCatalog(), nil).Normalize(raws)
	if len(got) != 4 {
		t.Fatalf("Normalize returned %d transactions, want 4", len(got))
	}

	if got[0].ID != "t1" || got[1].ID != "t2" || got[2].ID != "t3" || got[3].ID != "t6" {
		t.Errorf("order = %s,%s,%s,%s", got[0].ID, got[1].ID, got[2].ID, got[3].ID)
	}
	alice := got[0]
	if alice.ScriptID != "PUB;beta" || alice.PlanDuration != 365*models.SecondsPerDay {
		t.Errorf("alice mapping = %+v", alice)
	}
	if alice.DisplayName != "Alice Doe" || alice.Remarks != "paid" {
		t.Errorf("alice extras = %q %q", alice.DisplayName, alice.Remarks)
	}
	if got[1].DisplayName != "Bob" || got[1].SubscriptionType != "monthly" {
		t.Errorf("bob = %+v", got[1])
	}
	if got[2].Remarks != "refunded" {
		t.Errorf("carol remarks = %q", got[2].Remarks)
	}
	if got[3].PlanDuration != 0 || got[3].ScriptID != "" || got[3].Remarks != "gift" {
		t.Errorf("unmapped = %+v", got[3])
	}
}

func TestNormalize_StatusFilter(t *testing.T) {
	raws := []RawTransaction{
		{TransactionID: "a", UserLogin: "a", ProductID: "P1", CreatedAt: "1", Status: "Complete"},
		{TransactionID: "b", UserLogin: "b", ProductID: "P1", CreatedAt: "2", TxnStatus: "pending"},
	}
	got := NewNormalizer(testCatalog(), []string{"complete"}).Normalize(raws)
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("got %+v", got)
	}
}

func TestFilter(t *testing.T) {
	txns := []models.Transaction{
		{ID: "a", ProductID: "P1", Timestamp: 10},
		{ID: "b", ProductID: "P2", Timestamp: 20},
		{ID: "c", ProductID: "P1", Timestamp: 30},
	}
	if got := Filter(txns, models.Scope{"P1"}, 20); len(got) != 1 || got[0].ID != "c" {
		t.Errorf("Filter scope+since = %+v", got)
	}
	if got := Filter(txns, nil, 20); len(got) != 2 {
		t.Errorf("Filter empty scope = %+v", got)
	}
	if len(txns) != 3 {
		t.Error("Filter must not modify its input")
	}
}

func TestClient_FetchTransactions_Paging(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.URL.Query().Get("since"); got != "2023-11-14T22:13:20Z" {
			t.Errorf("since = %q", got)
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		w.Header().Set("Content-Type", "application/json")
		switch page {
		case 1:
			_, _ = w.Write([]byte(`{"data":[
				{"id":101,"user":{"username":"alice","email":"alice@example.com"},"product_id":"P1","created_at":"2023-11-15 00:00:00","status":"complete"},
				{"id":102,"user":{"username":"bob","email":"bob@example.com"},"product_id":"P2","created_at":"2023-11-15 01:00:00","status":"complete"}
			]}`))
		case 2:
			_, _ = w.Write([]byte(`[{"id":"103","user_login":"carol","user_email":"carol@example.com","product_id":"P1","created_at":"2023-11-16T00:00:00Z"}]`))
		default:
			t.Errorf("unexpected page %d", page)
		}
	}))
	defer server.Close()

	c := NewClient(Config{URL: server.URL, APIKey: "secret", PerPage: 2}, testCatalog())
	txns, err := c.FetchTransactions(context.Background(), models.Scope{"P1"}, 1_700_000_000)
	if err != nil {
		t.Fatalf("FetchTransactions: %v", err)
	}
	if requests.Load() != 2 {
		t.Errorf("requests = %d, want 2", requests.Load())
	}
	if len(txns) != 2 || txns[0].ID != "101" || txns[1].ID != "103" {
		t.Errorf("txns = %+v", txns)
	}
}

func TestClient_FetchTransactions_RepeatedPageStops(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte(`[{"id":"1","user_login":"a","product_id":"P1","created_at":"5"}]`))
	}))
	defer server.Close()

	c := NewClient(Config{URL: server.URL, PerPage: 1, Username: "u", Password: "p"}, testCatalog())
	txns, err := c.FetchTransactions(context.Background(), nil, 0)
	if err != nil {
		t.Fatalf("FetchTransactions: %v", err)
	}
	if requests.Load() != 2 || len(txns) != 1 {
		t.Errorf("requests = %d, txns = %d", requests.Load(), len(txns))
	}
}

func TestClient_FetchTransactions_ErrorIsTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewClient(Config{URL: server.URL}, testCatalog())
	_, err := c.FetchTransactions(context.Background(), nil, 0)
	if !models.IsKind(err, models.KindTransport) {
		t.Errorf("err = %v, want transport", err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "batch.csv")
	csvData := "id,username,email,product_id,timestamp,script_id,plan_duration\n" +
		"b2,bob,bob@example.com,P1,200,,\n" +
		"b1,alice,alice@example.com,P1,100,PUB;other,-1\n"
	if err := os.WriteFile(csvPath, []byte(csvData), 0o600); err != nil {
		t.Fatal(err)
	}
	txns, err := LoadFile(csvPath, testCatalog())
	if err != nil {
		t.Fatalf("LoadFile csv: %v", err)
	}
	if len(txns) != 2 || txns[0].ID != "b1" {
		t.Fatalf("csv txns = %+v", txns)
	}
	if txns[0].ScriptID != "PUB;other" || txns[0].PlanDuration != -1 {
		t.Errorf("overrides not applied: %+v", txns[0])
	}
	if txns[1].ScriptID != "PUB;alpha" || txns[1].PlanDuration != 30*models.SecondsPerDay {
		t.Errorf("catalog defaults not applied: %+v", txns[1])
	}

	jsonPath := filepath.Join(dir, "batch.json")
	jsonData := `[{"id":"j1","username":"carol","email":"carol@example.com","product_id":"P2","created_at":"2024-01-01T00:00:00Z"}]`
	if err := os.WriteFile(jsonPath, []byte(jsonData), 0o600); err != nil {
		t.Fatal(err)
	}
	txns, err = LoadFile(jsonPath, testCatalog())
	if err != nil {
		t.Fatalf("LoadFile json: %v", err)
	}
	if len(txns) != 1 || txns[0].Timestamp != 1704067200 || txns[0].ScriptID != "PUB;beta" {
		t.Errorf("json txns = %+v", txns)
	}

	badPath := filepath.Join(dir, "bad.csv")
	if err := os.WriteFile(badPath, []byte("id,username\nx,y\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(badPath, testCatalog()); !models.IsKind(err, models.KindValidation) {
		t.Errorf("missing columns err = %v, want validation", err)
	}
}
