// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

// Package notify delivers customer and operator notifications.
//
// Customers whose username the provider does not recognise get an email
// with the provider's suggestions. Operators get Discord alerts for manual
// review escalations and failed runs. Delivery is fire-and-forget: the
// Dispatcher runs every send in the background and only logs failures.
package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/accessync/internal/cache"
	"github.com/tomtom215/accessync/internal/logging"
	"github.com/tomtom215/accessync/internal/metrics"
	"github.com/tomtom215/accessync/internal/models"
)

// Severity of an operator alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is an operator-facing message.
type Alert struct {
	Severity  Severity
	Title     string
	Message   string
	Fields    map[string]string
	CreatedAt time.Time
}

// Notifier is a notification channel. Channels that do not handle a message
// type return nil for it.
type Notifier interface {
	Name() string
	SendInvalidUsername(ctx context.Context, txn *models.Transaction, suggestions []string) error
	Alert(ctx context.Context, alert Alert) error
}

// Dispatcher fans notifications out to every configured channel in the
// background. Its methods never return an error.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	wg        sync.WaitGroup

	// recent suppresses repeats; nil sends everything.
	recent *cache.Dedupe
}

// NewDispatcher creates a dispatcher. Each send is bounded by timeout.
func NewDispatcher(timeout time.Duration, notifiers ...Notifier) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{notifiers: notifiers, timeout: timeout}
}

// Name implements Notifier.
func (d *Dispatcher) Name() string {
	return "dispatcher"
}

// SuppressDuplicates drops a notification when an identical one was queued
// within the set's TTL. Invalid-username notices are keyed by customer, so
// several payments under the same bad username produce one email. Must be
// called before the dispatcher is used.
func (d *Dispatcher) SuppressDuplicates(recent *cache.Dedupe) {
	d.recent = recent
}

// Len returns the number of channels.
func (d *Dispatcher) Len() int {
	return len(d.notifiers)
}

// SendInvalidUsername queues the invalid-username notice on every channel.
func (d *Dispatcher) SendInvalidUsername(ctx context.Context, txn *models.Transaction, suggestions []string) error {
	key := "invalid_username:" + strings.ToLower(txn.Email) + ":" + strings.ToLower(txn.Username)
	if d.suppressed(ctx, "invalid_username", key) {
		return nil
	}
	t := *txn
	s := append([]string(nil), suggestions...)
	d.dispatch(ctx, "invalid_username", func(ctx context.Context, n Notifier) error {
		return n.SendInvalidUsername(ctx, &t, s)
	})
	return nil
}

// Alert queues an operator alert on every channel.
func (d *Dispatcher) Alert(ctx context.Context, alert Alert) error {
	if d.suppressed(ctx, "alert", alertKey(&alert)) {
		return nil
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}
	d.dispatch(ctx, "alert", func(ctx context.Context, n Notifier) error {
		return n.Alert(ctx, alert)
	})
	return nil
}

// alertKey identifies repeats of an alert. Alerts about a transaction are
// only repeats when they concern the same transaction.
func alertKey(a *Alert) string {
	key := "alert:" + string(a.Severity) + ":" + a.Title + ":" + a.Message
	if txn := a.Fields["Transaction"]; txn != "" {
		key += ":" + txn
	}
	return key
}

// Wait blocks until all queued sends have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) suppressed(ctx context.Context, kind, key string) bool {
	if d.recent == nil || len(d.notifiers) == 0 || !d.recent.Seen(key) {
		return false
	}
	logging.Ctx(ctx).Debug().
		Str("notification", kind).
		Dur("window", d.recent.TTL()).
		Msg("Duplicate notification suppressed")
	return true
}

func (d *Dispatcher) dispatch(ctx context.Context, kind string, send func(context.Context, Notifier) error) {
	// Sends outlive the run that triggered them.
	base := context.WithoutCancel(ctx)
	logger := logging.Ctx(ctx)

	for _, n := range d.notifiers {
		d.wg.Add(1)
		go func(n Notifier) {
			defer d.wg.Done()
			sendCtx, cancel := context.WithTimeout(base, d.timeout)
			defer cancel()

			err := send(sendCtx, n)
			metrics.RecordNotification(n.Name(), err)
			if err != nil {
				logger.Error().Err(err).
					Str("channel", n.Name()).
					Str("notification", kind).
					Msg("Notification delivery failed")
			}
		}(n)
	}
}
