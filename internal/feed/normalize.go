// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package feed

import (
	"bytes"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/accessync/internal/logging"
	"github.com/tomtom215/accessync/internal/models"
)

// flexString decodes JSON strings and numbers alike; membership plugins are
// inconsistent about IDs.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(string(data))
	return nil
}

// RawUser is the nested user object on a feed record.
type RawUser struct {
	ID          flexString `json:"id"`
	Email       string     `json:"email"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name"`
}

// RawTransaction is one record as served by the membership feed.
type RawTransaction struct {
	TransactionID flexString     `json:"transaction_id"`
	ID            flexString     `json:"id"`
	User          *RawUser       `json:"user"`
	UserID        flexString     `json:"user_id"`
	UserEmail     string         `json:"user_email"`
	UserLogin     string         `json:"user_login"`
	DisplayName   string         `json:"display_name"`
	UserMeta      map[string]any `json:"user_meta"`
	Status        string         `json:"status"`
	TxnStatus     string         `json:"txn_status"`
	ProductID     flexString     `json:"product_id"`
	CreatedAt     string         `json:"created_at"`
	Remarks       string         `json:"remarks"`
	Note          string         `json:"note"`
}

// createdAtLayouts are tried in order. Values without a zone are UTC.
var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000000",
}

// ParseCreatedAt parses a feed timestamp into UNIX seconds.
func ParseCreatedAt(v string) (int64, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	for _, layout := range createdAtLayouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t.Unix(), true
		}
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
		return n, true
	}
	return 0, false
}

// Normalizer turns raw feed records into transactions.
type Normalizer struct {
	catalog  models.Catalog
	statuses map[string]struct{}
}

// NewNormalizer creates a normalizer. An empty status filter accepts every status.
func NewNormalizer(catalog models.Catalog, statusFilter []string) *Normalizer {
	statuses := make(map[string]struct{}, len(statusFilter))
	for _, s := range statusFilter {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			statuses[s] = struct{}{}
		}
	}
	return &Normalizer{catalog: catalog, statuses: statuses}
}

// Normalize filters and converts raw records, returning them sorted by
// (timestamp, id).
//
// Records without an id or a parseable created_at cannot be keyed or ordered
// and are dropped with a warning. Records with an unknown product keep a zero
// plan duration and records missing a username or email are kept as is; the
// sync engine routes both to manual review.
func (n *Normalizer) Normalize(raws []RawTransaction) []models.Transaction {
	out := make([]models.Transaction, 0, len(raws))
	for i := range raws {
		if txn, ok := n.normalizeOne(&raws[i]); ok {
			out = append(out, txn)
		}
	}
	SortTransactions(out)
	return out
}

func (n *Normalizer) normalizeOne(raw *RawTransaction) (models.Transaction, bool) {
	id := firstNonEmpty(string(raw.TransactionID), string(raw.ID))
	if id == "" {
		logging.Warn().Str("product_id", string(raw.ProductID)).Msg("Dropping feed record without transaction id")
		return models.Transaction{}, false
	}

	status := strings.TrimSpace(firstNonEmpty(raw.Status, raw.TxnStatus))
	if len(n.statuses) > 0 {
		if _, ok := n.statuses[strings.ToLower(status)]; !ok {
			return models.Transaction{}, false
		}
	}

	ts, ok := ParseCreatedAt(raw.CreatedAt)
	if !ok {
		logging.Warn().Str("transaction_id", id).Str("created_at", raw.CreatedAt).Msg("Dropping feed record with invalid created_at")
		return models.Transaction{}, false
	}

	var user RawUser
	if raw.User != nil {
		user = *raw.User
	}

	username := strings.TrimSpace(firstNonEmpty(user.Username, raw.UserLogin))
	txn := models.Transaction{
		ID:          id,
		Username:    username,
		Email:       strings.TrimSpace(firstNonEmpty(user.Email, raw.UserEmail)),
		ProductID:   string(raw.ProductID),
		Timestamp:   ts,
		WPUsername:  username,
		WPUserID:    firstNonEmpty(string(user.ID), string(raw.UserID)),
		DisplayName: displayName(user, raw),
		Remarks:     remarks(raw, status),
		Status:      status,
	}

	if product, ok := n.catalog.Lookup(txn.ProductID); ok {
		txn.ScriptID = product.ScriptID
		txn.PlanDuration = product.PlanDuration
		txn.SubscriptionType = product.SubscriptionType
	} else {
		logging.Warn().Str("transaction_id", id).Str("product_id", txn.ProductID).Msg("Feed record has no product mapping")
	}
	return txn, true
}

func displayName(user RawUser, raw *RawTransaction) string {
	if name := firstNonEmpty(user.DisplayName, raw.DisplayName); name != "" {
		return name
	}
	if raw.UserMeta == nil {
		return ""
	}
	var parts []string
	for _, key := range []string{"first_name", "last_name"} {
		if v, ok := raw.UserMeta[key].(string); ok && strings.TrimSpace(v) != "" {
			parts = append(parts, strings.TrimSpace(v))
		}
	}
	return strings.Join(parts, " ")
}

func remarks(raw *RawTransaction, status string) string {
	if r := firstNonEmpty(raw.Remarks, raw.Note); r != "" {
		return r
	}
	if status == "" || strings.EqualFold(status, "complete") {
		return "paid"
	}
	return status
}

// SortTransactions orders by timestamp, then id, so runs are deterministic.
func SortTransactions(txns []models.Transaction) {
	sort.SliceStable(txns, func(i, j int) bool {
		if txns[i].Timestamp != txns[j].Timestamp {
			return txns[i].Timestamp < txns[j].Timestamp
		}
		return txns[i].ID < txns[j].ID
	})
}

// Filter keeps transactions in scope with timestamp >= since.
func Filter(txns []models.Transaction, scope models.Scope, since int64) []models.Transaction {
	out := txns[:0:0]
	for _, t := range txns {
		if t.Timestamp >= since && scope.Includes(t.ProductID) {
			out = append(out, t)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
