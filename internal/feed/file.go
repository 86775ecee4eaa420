// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/accessync/internal/logging"
	"github.com/tomtom215/accessync/internal/models"
)

// BatchRecord is one row of a batch file. ScriptID and PlanDuration, when
// set, override the catalog so operators can replay historical mappings.
type BatchRecord struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	ProductID    string `json:"product_id"`
	Timestamp    int64  `json:"timestamp"`
	CreatedAt    string `json:"created_at"`
	ScriptID     string `json:"script_id"`
	PlanDuration int64  `json:"plan_duration"`
	Remarks      string `json:"remarks"`
}

// LoadFile reads a batch of transactions from a JSON array or a CSV file
// with a header row. The format is chosen by extension.
func LoadFile(path string, catalog models.Catalog) ([]models.Transaction, error) {
	f, err := os.Open(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("open batch file: %w", err)
	}
	defer f.Close()

	var records []BatchRecord
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		records, err = readCSV(f)
	case ".json", "":
		records, err = readJSON(f)
	default:
		return nil, fmt.Errorf("unsupported batch file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, models.NewSyncError(models.KindValidation, "load batch file", err)
	}
	return FromBatch(records, catalog), nil
}

// FromBatch converts batch records, filling gaps from the catalog.
func FromBatch(records []BatchRecord, catalog models.Catalog) []models.Transaction {
	out := make([]models.Transaction, 0, len(records))
	for i := range records {
		r := &records[i]
		if r.ID == "" {
			logging.Warn().Int("row", i+1).Msg("Skipping batch record without id")
			continue
		}
		ts := r.Timestamp
		if ts == 0 && r.CreatedAt != "" {
			parsed, ok := ParseCreatedAt(r.CreatedAt)
			if !ok {
				logging.Warn().Str("transaction_id", r.ID).Str("created_at", r.CreatedAt).Msg("Skipping batch record with invalid created_at")
				continue
			}
			ts = parsed
		}

		txn := models.Transaction{
			ID:           r.ID,
			Username:     strings.TrimSpace(r.Username),
			Email:        strings.TrimSpace(r.Email),
			ProductID:    r.ProductID,
			Timestamp:    ts,
			ScriptID:     r.ScriptID,
			PlanDuration: r.PlanDuration,
			WPUsername:   strings.TrimSpace(r.Username),
			Remarks:      r.Remarks,
		}
		if product, ok := catalog.Lookup(r.ProductID); ok {
			if txn.ScriptID == "" {
				txn.ScriptID = product.ScriptID
			}
			if r.PlanDuration == 0 {
				txn.PlanDuration = product.PlanDuration
			}
			txn.SubscriptionType = product.SubscriptionType
		}
		out = append(out, txn)
	}
	SortTransactions(out)
	return out
}

func readJSON(r io.Reader) ([]BatchRecord, error) {
	var records []BatchRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}
	return records, nil
}

func readCSV(r io.Reader) ([]BatchRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"id", "username", "email", "product_id"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("CSV header missing column %q", required)
		}
	}

	field := func(row []string, name string) string {
		if i, ok := cols[name]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	var records []BatchRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV line %d: %w", line, err)
		}

		rec := BatchRecord{
			ID:        field(row, "id"),
			Username:  field(row, "username"),
			Email:     field(row, "email"),
			ProductID: field(row, "product_id"),
			CreatedAt: field(row, "created_at"),
			ScriptID:  field(row, "script_id"),
			Remarks:   field(row, "remarks"),
		}
		if v := field(row, "timestamp"); v != "" {
			if rec.Timestamp, err = strconv.ParseInt(v, 10, 64); err != nil {
				return nil, fmt.Errorf("CSV line %d: invalid timestamp %q", line, v)
			}
		}
		if v := field(row, "plan_duration"); v != "" {
			if rec.PlanDuration, err = strconv.ParseInt(v, 10, 64); err != nil {
				return nil, fmt.Errorf("CSV line %d: invalid plan_duration %q", line, v)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}
