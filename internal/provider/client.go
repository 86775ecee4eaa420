// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

/*
Package provider talks to the access provider (TradingView access API).

Client Features:
  - Per-attempt timeout; a timed-out attempt is a retryable failure
  - API key header authentication (default x-api-key)
  - Token bucket rate limiting shared by all calls
  - Bounded retries with a backoff schedule, honouring Retry-After on 429
  - Error normalization into models.ErrorKind (see OutcomeOf)

Every Gateway method returns nil on success or a *models.SyncError. Retries
are exhausted inside the client before a transport failure is returned.
*/
package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/accessync/internal/logging"
	"github.com/tomtom215/accessync/internal/metrics"
	"github.com/tomtom215/accessync/internal/models"
)

// Provider endpoint paths.
const (
	grantPath     = "/tradingview/access/grant"
	updatePath    = "/tradingview/access/update"
	listUsersPath = "/tradingview/access/scriptUsers/"
	validatePath  = "/tradingview/validate/"
)

// maxErrorBodySize limits how much of an error response is kept for diagnostics.
const maxErrorBodySize = 4 * 1024

// Gateway is the set of provider operations the sync engine uses.
type Gateway interface {
	Grant(ctx context.Context, payload models.AccessPayload) error
	Update(ctx context.Context, payload models.AccessPayload) error
	ValidateUsername(ctx context.Context, username string) (*Validation, error)
	ListUsers(ctx context.Context, scriptID string) ([]models.ProviderUser, error)
}

// Validation is the provider's answer for a username lookup.
type Validation struct {
	Valid            bool
	VerifiedUsername string
	Suggestions      []string
}

// Config configures the HTTP client.
type Config struct {
	BaseURL      string
	APIKey       string
	APIKeyHeader string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff []time.Duration
	RateLimit    float64
	RateBurst    int

	// HTTPClient overrides the default client. Used by tests.
	HTTPClient *http.Client
}

// Client is the HTTP implementation of Gateway.
//
// Thread Safety: Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	keyHeader  string
	timeout    time.Duration
	attempts   int
	backoff    []time.Duration
	limiter    *rate.Limiter
	httpClient *http.Client
}

// NewClient creates a provider client.
func NewClient(cfg Config) *Client {
	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	header := cfg.APIKeyHeader
	if header == "" {
		header = "x-api-key"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		keyHeader:  header,
		timeout:    timeout,
		attempts:   attempts,
		backoff:    cfg.RetryBackoff,
		limiter:    limiter,
		httpClient: httpClient,
	}
}

// Grant provisions access for a user that has none.
func (c *Client) Grant(ctx context.Context, payload models.AccessPayload) error {
	return c.post(ctx, "grant", grantPath, payload)
}

// Update extends an existing user's access.
func (c *Client) Update(ctx context.Context, payload models.AccessPayload) error {
	return c.post(ctx, "update", updatePath, payload)
}

func (c *Client) post(ctx context.Context, op, path string, payload models.AccessPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return models.NewSyncError(models.KindValidation, op, fmt.Errorf("marshal payload: %w", err))
	}
	_, err = c.do(ctx, op, http.MethodPost, path, body)
	if err == nil {
		logging.Ctx(ctx).Info().
			Str("operation", op).
			Str("script_id", payload.ScriptID).
			Str("username", payload.Username).
			Str("expiry", payload.Expiry).
			Msg("Provider access call succeeded")
	}
	return err
}

type validateResponse struct {
	ValidUser          bool              `json:"validUser"`
	VerifiedUserName   string            `json:"verifiedUserName"`
	AllUserSuggestions []json.RawMessage `json:"allUserSuggestions"`
}

// ValidateUsername asks the provider whether username exists. A 404 is a
// definite "no such user", not an error.
func (c *Client) ValidateUsername(ctx context.Context, username string) (*Validation, error) {
	data, err := c.do(ctx, "validate", http.MethodGet, validatePath+url.PathEscape(username), nil)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return &Validation{Valid: false}, nil
		}
		return nil, err
	}

	var resp validateResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, models.NewSyncError(models.KindProviderRejection, "validate", fmt.Errorf("decode response: %w", err))
	}

	v := &Validation{
		Valid:            resp.ValidUser,
		VerifiedUsername: resp.VerifiedUserName,
		Suggestions:      decodeSuggestions(resp.AllUserSuggestions),
	}
	return v, nil
}

// decodeSuggestions accepts both plain strings and {"username": ...} objects.
func decodeSuggestions(raw []json.RawMessage) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			if s != "" {
				out = append(out, s)
			}
			continue
		}
		var obj struct {
			Username string `json:"username"`
			Name     string `json:"name"`
		}
		if err := json.Unmarshal(r, &obj); err == nil {
			if obj.Username != "" {
				out = append(out, obj.Username)
			} else if obj.Name != "" {
				out = append(out, obj.Name)
			}
		}
	}
	return out
}

type listedUser struct {
	Username string          `json:"username"`
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Expiry   json.RawMessage `json:"expiry"`
}

// ListUsers returns the users holding access to scriptID. The response may be
// a bare array or wrapped as {"data": [...]}.
func (c *Client) ListUsers(ctx context.Context, scriptID string) ([]models.ProviderUser, error) {
	data, err := c.do(ctx, "list_users", http.MethodGet, listUsersPath+url.PathEscape(scriptID), nil)
	if err != nil {
		return nil, err
	}

	var listed []listedUser
	if err := json.Unmarshal(data, &listed); err != nil {
		var wrapped struct {
			Data []listedUser `json:"data"`
		}
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil {
			return nil, models.NewSyncError(models.KindProviderRejection, "list_users", fmt.Errorf("decode response: %w", err))
		}
		listed = wrapped.Data
	}

	users := make([]models.ProviderUser, 0, len(listed))
	for _, u := range listed {
		name := u.Username
		if name == "" {
			name = u.Name
		}
		if name == "" {
			continue
		}
		users = append(users, models.ProviderUser{
			Username: name,
			Email:    u.Email,
			Expiry:   parseExpiry(u.Expiry),
		})
	}
	return users, nil
}

// parseExpiry accepts UNIX seconds or an ISO-8601 date or timestamp.
// Unparseable values yield 0, which the decision engine treats as lapsed.
func parseExpiry(raw json.RawMessage) int64 {
	if len(raw) == 0 || string(raw) == "null" {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return 0
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix()
		}
	}
	return 0
}

// do executes a request with rate limiting and retries. It returns the
// response body of the first 2xx attempt.
func (c *Client) do(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	start := time.Now()
	var lastErr error
	attempt := 0

	defer func() {
		metrics.RecordProviderRequest(op, OutcomeOf(lastErr).String(), time.Since(start))
	}()

	for attempt = 1; attempt <= c.attempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				lastErr = models.NewSyncError(models.KindTransport, op, fmt.Errorf("rate limiter: %w", err))
				return nil, lastErr
			}
		}

		data, retryAfter, err := c.attempt(ctx, op, method, path, body)
		if err == nil {
			lastErr = nil
			return data, nil
		}
		lastErr = err

		if !models.KindOf(err).Retryable() || attempt == c.attempts || ctx.Err() != nil {
			break
		}

		delay := c.backoffFor(attempt)
		if retryAfter > 0 {
			delay = retryAfter
		}

		logging.Ctx(ctx).Warn().
			Err(err).
			Str("operation", op).
			Int("attempt", attempt).
			Int("max_attempts", c.attempts).
			Dur("retry_delay", delay).
			Msg("Provider call failed, retrying")

		select {
		case <-ctx.Done():
			lastErr = models.NewSyncError(models.KindTransport, op, ctx.Err())
			return nil, lastErr
		case <-time.After(delay):
		}
	}

	return nil, lastErr
}

func (c *Client) backoffFor(attempt int) time.Duration {
	if len(c.backoff) == 0 {
		return 0
	}
	i := attempt - 1
	if i >= len(c.backoff) {
		i = len(c.backoff) - 1
	}
	return c.backoff[i]
}

func (c *Client) attempt(ctx context.Context, op, method, path string, body []byte) ([]byte, time.Duration, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, models.NewSyncError(models.KindValidation, op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set(c.keyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := logging.RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, models.NewSyncError(models.KindTransport, op, fmt.Errorf("execute request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(errBody))}
		var retryAfter time.Duration
		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		}
		return nil, retryAfter, models.NewSyncError(classifyStatus(resp.StatusCode), op, statusErr)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, models.NewSyncError(models.KindTransport, op, fmt.Errorf("read response: %w", err))
	}
	return data, 0, nil
}

// parseRetryAfter reads a Retry-After header as delay-seconds or an HTTP date (RFC 9110).
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
