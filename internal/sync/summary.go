// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package sync

import (
	"time"
)

// Phase is the state of one product's run.
type Phase string

const (
	PhaseFetching      Phase = "fetching"
	PhaseDeduplicating Phase = "deduplicating"
	PhaseProcessing    Phase = "processing"
	PhasePersisting    Phase = "persisting"
	PhaseDone          Phase = "done"
	PhaseFailed        Phase = "failed"
)

// Transaction outcomes, also used as metric labels.
const (
	OutcomeApplied      = "applied"
	OutcomeRetry        = "retry"
	OutcomeManualReview = "manual_review"
	OutcomeSkipped      = "skipped"
	OutcomeError        = "error"
)

// maxPlannedActions caps PlannedAction entries per product summary.
const maxPlannedActions = 1000

// PlannedAction is one decided action, reported in summaries.
type PlannedAction struct {
	TransactionID string `json:"transaction_id"`
	Username      string `json:"username"`
	Action        string `json:"action"`
	Expiry        string `json:"expiry,omitempty"`
	Outcome       string `json:"outcome"`
	Reason        string `json:"reason,omitempty"`
}

// ProductSummary reports one product's run.
type ProductSummary struct {
	ScriptID     string          `json:"script_id"`
	Phase        Phase           `json:"phase"`
	Fetched      int             `json:"fetched"`
	Processed    int             `json:"processed"`
	Retried      int             `json:"retried"`
	ManualReview int             `json:"manual_review"`
	Errors       int             `json:"errors"` // transactions that panicked
	Skipped      int             `json:"skipped"`
	Batches      int             `json:"batches,omitempty"`
	Watermark    int64           `json:"watermark"`
	Locked       bool            `json:"locked,omitempty"`
	Error        string          `json:"error,omitempty"`
	Actions      []PlannedAction `json:"actions,omitempty"`
	Truncated    bool            `json:"actions_truncated,omitempty"`
}

func (p *ProductSummary) addAction(a PlannedAction) {
	if len(p.Actions) >= maxPlannedActions {
		p.Truncated = true
		return
	}
	p.Actions = append(p.Actions, a)
}

func (p *ProductSummary) count(outcome string) {
	switch outcome {
	case OutcomeApplied:
		p.Processed++
	case OutcomeRetry:
		p.Retried++
	case OutcomeManualReview:
		p.ManualReview++
	case OutcomeSkipped:
		p.Skipped++
	case OutcomeError:
		p.Errors++
	}
}

// RunSummary reports a whole run. Counts are totals over Products; Errors
// also counts products whose run failed as a whole.
type RunSummary struct {
	RunID        string           `json:"run_id"`
	Mode         string           `json:"mode"`
	DryRun       bool             `json:"dry_run"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   time.Time        `json:"finished_at"`
	Processed    int              `json:"processed"`
	Retried      int              `json:"retried"`
	ManualReview int              `json:"manual_review"`
	Errors       int              `json:"errors"`
	Skipped      int              `json:"skipped"`
	Products     []ProductSummary `json:"products"`
}

// Duration returns the run's wall time.
func (s *RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// AllLocked reports whether every product was skipped because another run
// held its lease.
func (s *RunSummary) AllLocked() bool {
	if len(s.Products) == 0 {
		return false
	}
	for i := range s.Products {
		if !s.Products[i].Locked {
			return false
		}
	}
	return true
}

// Failed reports whether no product finished.
func (s *RunSummary) Failed() bool {
	for i := range s.Products {
		if s.Products[i].Phase == PhaseDone {
			return false
		}
	}
	return len(s.Products) > 0
}

func (s *RunSummary) add(p ProductSummary) {
	s.Products = append(s.Products, p)
	s.Processed += p.Processed
	s.Retried += p.Retried
	s.ManualReview += p.ManualReview
	s.Errors += p.Errors
	s.Skipped += p.Skipped
	if p.Phase == PhaseFailed {
		s.Errors++
	}
}
