// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/accessync/internal/models"
)

func newTestClient(url string) *Client {
	return NewClient(Config{
		BaseURL:      url,
		APIKey:       "test-key",
		Timeout:      500 * time.Millisecond,
		MaxRetries:   3,
		RetryBackoff: []time.Duration{time.Millisecond},
	})
}

func testPayload() models.AccessPayload {
	return models.AccessPayload{
		ScriptID:         "PUB;alpha",
		Username:         "alice",
		Email:            "alice@example.com",
		Expiry:           "2024-03-01",
		SubscriptionType: "monthly",
		WPUsername:       "alice_wp",
		Remarks:          "paid",
	}
}

func TestClient_GrantSendsPayload(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != grantPath {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	if err := newTestClient(server.URL).Grant(context.Background(), testPayload()); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	want := map[string]string{
		"scriptId":          "PUB;alpha",
		"username":          "alice",
		"email":             "alice@example.com",
		"expiry":            "2024-03-01",
		"subscription_type": "monthly",
		"wp_username":       "alice_wp",
		"remarks":           "paid",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("payload[%s] = %q, want %q", k, got[k], v)
		}
	}
}

func TestClient_Classification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
		want      Outcome
		wantKind  models.ErrorKind
	}{
		{"server error retried", http.StatusBadGateway, 3, RetryableFailure, models.KindTransport},
		{"rate limited retried", http.StatusTooManyRequests, 3, RetryableFailure, models.KindTransport},
		{"bad request permanent", http.StatusBadRequest, 1, PermanentFailure, models.KindProviderRejection},
		{"forbidden permanent", http.StatusForbidden, 1, PermanentFailure, models.KindProviderRejection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			err := newTestClient(server.URL).Update(context.Background(), testPayload())
			if OutcomeOf(err) != tt.want {
				t.Errorf("OutcomeOf = %s, want %s (err=%v)", OutcomeOf(err), tt.want, err)
			}
			if models.KindOf(err) != tt.wantKind {
				t.Errorf("kind = %s, want %s", models.KindOf(err), tt.wantKind)
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls.Load(), tt.wantCalls)
			}
		})
	}
}

func TestClient_RecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := newTestClient(server.URL).Grant(context.Background(), testPayload()); err != nil {
		t.Fatalf("Grant should succeed on second attempt: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestClient_TimeoutIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL, APIKey: "k", Timeout: 50 * time.Millisecond, MaxRetries: 1})
	err := c.Grant(context.Background(), testPayload())
	if OutcomeOf(err) != RetryableFailure {
		t.Errorf("timeout outcome = %s (err=%v)", OutcomeOf(err), err)
	}
}

func TestClient_ValidateUsername(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, validatePath)
		switch name {
		case "alice":
			_, _ = w.Write([]byte(`{"validUser":true,"verifiedUserName":"Alice"}`))
		case "alic":
			_, _ = w.Write([]byte(`{"validUser":false,"allUserSuggestions":[{"username":"alice"},"alicia"]}`))
		case "ghost":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()
	c := newTestClient(server.URL)
	ctx := context.Background()

	v, err := c.ValidateUsername(ctx, "alice")
	if err != nil || !v.Valid || v.VerifiedUsername != "Alice" {
		t.Errorf("alice: %+v, %v", v, err)
	}

	v, err = c.ValidateUsername(ctx, "alic")
	if err != nil || v.Valid {
		t.Fatalf("alic: %+v, %v", v, err)
	}
	if len(v.Suggestions) != 2 || v.Suggestions[0] != "alice" || v.Suggestions[1] != "alicia" {
		t.Errorf("suggestions = %v", v.Suggestions)
	}

	v, err = c.ValidateUsername(ctx, "ghost")
	if err != nil || v.Valid {
		t.Errorf("404 should be a definite invalid: %+v, %v", v, err)
	}

	if _, err = c.ValidateUsername(ctx, "broken"); OutcomeOf(err) != RetryableFailure {
		t.Errorf("500 should be retryable, got %v", err)
	}
}

func TestClient_ListUsers(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bare array", `[{"username":"bob","email":"bob@example.com","expiry":"2024-03-01"},{"name":"carol","expiry":1709294400},{"email":"x"}]`},
		{"wrapped", `{"data":[{"username":"bob","email":"bob@example.com","expiry":"2024-03-01T00:00:00Z"},{"name":"carol","expiry":1709294400}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != listUsersPath+"PUB;alpha" {
					t.Errorf("path = %s", r.URL.Path)
				}
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			users, err := newTestClient(server.URL).ListUsers(context.Background(), "PUB;alpha")
			if err != nil {
				t.Fatalf("ListUsers: %v", err)
			}
			if len(users) != 2 {
				t.Fatalf("users = %+v", users)
			}
			if users[0].Username != "bob" || users[0].Expiry != 1709251200 {
				t.Errorf("bob = %+v", users[0])
			}
			if users[1].Username != "carol" || users[1].Expiry != 1709294400 {
				t.Errorf("carol = %+v", users[1])
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"2", 2 * time.Second},
		{"garbage", 0},
		{now.Add(10 * time.Second).Format(http.TimeFormat), 10 * time.Second},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in, now); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDryRunGateway(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"validUser":true}`))
	}))
	defer server.Close()

	g := NewDryRunGateway(newTestClient(server.URL))
	ctx := context.Background()
	if err := g.Grant(ctx, testPayload()); err != nil {
		t.Fatal(err)
	}
	if err := g.Update(ctx, testPayload()); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 0 {
		t.Errorf("dry run made %d write calls", calls.Load())
	}
	if _, err := g.ValidateUsername(ctx, "alice"); err != nil || calls.Load() != 1 {
		t.Errorf("validate should pass through: calls=%d err=%v", calls.Load(), err)
	}
}
