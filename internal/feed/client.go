// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

// Package feed reads paid transactions from the membership site
// (MemberPress-style REST endpoint) and from batch files.
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/accessync/internal/logging"
	"github.com/tomtom215/accessync/internal/models"
)

// maxErrorBodySize limits the maximum amount of response body read for error reporting
const maxErrorBodySize = 4 * 1024

// Source supplies transactions to the sync engine.
type Source interface {
	FetchTransactions(ctx context.Context, scope models.Scope, since int64) ([]models.Transaction, error)
}

// Config configures the feed client.
type Config struct {
	URL          string
	APIKey       string
	Username     string
	Password     string
	StatusFilter []string
	SinceParam   string
	PerPage      int
	MaxPages     int
	Timeout      time.Duration

	HTTPClient *http.Client
}

// Client fetches transactions over HTTP.
type Client struct {
	cfg        Config
	normalizer *Normalizer
	httpClient *http.Client
}

// NewClient creates a feed client. The catalog supplies script IDs and plan
// durations during normalization.
func NewClient(cfg Config, catalog models.Catalog) *Client {
	if cfg.SinceParam == "" {
		cfg.SinceParam = "since"
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		cfg:        cfg,
		normalizer: NewNormalizer(catalog, cfg.StatusFilter),
		httpClient: httpClient,
	}
}

// FetchTransactions returns paid transactions for products in scope with
// timestamp >= since, ordered by (timestamp, id). Any HTTP or decode failure
// is a transport error; nothing partial is returned.
func (c *Client) FetchTransactions(ctx context.Context, scope models.Scope, since int64) ([]models.Transaction, error) {
	var raws []RawTransaction
	var firstID string

	for page := 1; c.cfg.MaxPages <= 0 || page <= c.cfg.MaxPages; page++ {
		batch, err := c.fetchPage(ctx, since, page)
		if err != nil {
			return nil, models.NewSyncError(models.KindTransport, "fetch transactions", err)
		}
		if len(batch) == 0 {
			break
		}

		// An endpoint that ignores paging returns the same first record every time.
		id := string(batch[0].TransactionID) + "/" + string(batch[0].ID)
		if page > 1 && id == firstID {
			break
		}
		if page == 1 {
			firstID = id
		}

		raws = append(raws, batch...)
		if len(batch) < c.cfg.PerPage {
			break
		}
	}

	txns := Filter(c.normalizer.Normalize(raws), scope, since)

	logging.Ctx(ctx).Debug().
		Int("fetched", len(raws)).
		Int("in_scope", len(txns)).
		Int64("since", since).
		Msg("Fetched transactions from feed")
	return txns, nil
}

func (c *Client) fetchPage(ctx context.Context, since int64, page int) ([]RawTransaction, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse feed URL: %w", err)
	}
	q := u.Query()
	if since > 0 {
		q.Set(c.cfg.SinceParam, time.Unix(since, 0).UTC().Format(time.RFC3339))
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(c.cfg.PerPage))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	switch {
	case c.cfg.APIKey != "":
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	case c.cfg.Username != "":
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, fmt.Errorf("feed returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return decodeRecords(data)
}

// decodeRecords accepts {"data": [...]} or a bare array.
func decodeRecords(data []byte) ([]RawTransaction, error) {
	var raws []RawTransaction
	if err := json.Unmarshal(data, &raws); err == nil {
		return raws, nil
	}
	var wrapped struct {
		Data []RawTransaction `json:"data"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return wrapped.Data, nil
}
