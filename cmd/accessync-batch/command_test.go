// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

const testConfigYAML = `
feed:
  url: https://members.example.com/wp-json/mp/v1/transactions
provider:
  base_url: http://127.0.0.1:1
  api_key: tv-secret
products:
  "101":
    script_id: "PUB;alpha"
    duration_days: 30
state:
  in_memory: true
logging:
  level: error
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func exitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return -1
}

func TestBatch_UnmappedRecordsAreSkipped(t *testing.T) {
	cfgPath := writeFile(t, "config.yaml", testConfigYAML)
	// Neither product is in the catalog, so nothing reaches the provider.
	file := writeFile(t, "payments.json", `[
		{"id": "t1", "username": "alice", "product_id": "999", "timestamp": 1700000000},
		{"id": "t2", "username": "bob", "product_id": "998", "timestamp": 1700000100}
	]`)

	out, err := execute(t, "--config", cfgPath, "--file", file, "--dry-run")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	var summary struct {
		DryRun  bool `json:"dry_run"`
		Skipped int  `json:"skipped"`
	}
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("summary is not JSON: %v\n%s", err, out)
	}
	if !summary.DryRun {
		t.Error("dry_run = false")
	}
	if summary.Skipped != 2 {
		t.Errorf("skipped = %d, want 2", summary.Skipped)
	}
}

func TestBatch_Errors(t *testing.T) {
	cfgPath := writeFile(t, "config.yaml", testConfigYAML)
	okFile := writeFile(t, "payments.json", `[]`)

	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantErr  string
	}{
		{
			name:     "missing file flag",
			args:     []string{"--config", cfgPath},
			wantCode: -1,
			wantErr:  "file",
		},
		{
			name:     "negative batch size",
			args:     []string{"--config", cfgPath, "--file", okFile, "--batch-size=-1"},
			wantCode: ExitUsage,
			wantErr:  "must not be negative",
		},
		{
			name:     "missing config file",
			args:     []string{"--config", filepath.Join(t.TempDir(), "nope.yaml"), "--file", okFile},
			wantCode: ExitUsage,
			wantErr:  "load configuration",
		},
		{
			name:     "missing transaction file",
			args:     []string{"--config", cfgPath, "--file", filepath.Join(t.TempDir(), "nope.json")},
			wantCode: ExitUsage,
			wantErr:  "load transactions",
		},
		{
			name:     "unsupported extension",
			args:     []string{"--config", cfgPath, "--file", writeFile(t, "payments.xml", "<x/>")},
			wantCode: ExitUsage,
			wantErr:  "unsupported batch file extension",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := exitCode(err); got != tt.wantCode {
				t.Errorf("exit code = %d, want %d (%v)", got, tt.wantCode, err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestBatch_UnopenableStateStore(t *testing.T) {
	blocker := writeFile(t, "not-a-dir", "x")
	cfg := strings.Replace(testConfigYAML, "  in_memory: true", "  path: "+filepath.Join(blocker, "state"), 1)
	cfgPath := writeFile(t, "config.yaml", cfg)
	file := writeFile(t, "payments.json", `[]`)

	_, err := execute(t, "--config", cfgPath, "--file", file)
	if got := exitCode(err); got != ExitUsage {
		t.Fatalf("exit code = %d, want %d (%v)", got, ExitUsage, err)
	}
	if !strings.Contains(err.Error(), "build engine") {
		t.Errorf("error = %v", err)
	}
}

func TestWriteSummary_Pretty(t *testing.T) {
	cfgPath := writeFile(t, "config.yaml", testConfigYAML)
	file := writeFile(t, "payments.json", `[]`)

	out, err := execute(t, "--config", cfgPath, "--file", file, "--in-memory-state", "--pretty")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "\n  \"run_id\"") {
		t.Errorf("expected indented output, got:\n%s", out)
	}
}
