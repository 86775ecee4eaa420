// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/accessync/internal/models"
)

// DiscordAuthor is the embed author and webhook username.
const DiscordAuthor = "Access Sync Bot"

// DiscordConfig configures the Discord notifier.
type DiscordConfig struct {
	WebhookURL string
	RateLimit  time.Duration // Minimum time between messages
	HTTPClient *http.Client
}

// DiscordNotifier sends operator alerts to a Discord webhook.
type DiscordNotifier struct {
	webhookURL string
	client     *http.Client
	rateLimit  time.Duration

	mu       sync.Mutex
	lastSent time.Time
}

// NewDiscordNotifier creates a Discord notifier.
func NewDiscordNotifier(cfg DiscordConfig) *DiscordNotifier {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = time.Second
	}
	return &DiscordNotifier{
		webhookURL: cfg.WebhookURL,
		client:     client,
		rateLimit:  cfg.RateLimit,
	}
}

// Name returns the channel name.
func (n *DiscordNotifier) Name() string {
	return "discord"
}

// SendInvalidUsername tells operators a customer was sent to manual review.
func (n *DiscordNotifier) SendInvalidUsername(ctx context.Context, txn *models.Transaction, suggestions []string) error {
	fields := map[string]string{
		"Username":    txn.Username,
		"Email":       txn.Email,
		"Product":     txn.ProductID,
		"Transaction": txn.ID,
	}
	if len(suggestions) > 0 {
		fields["Suggestions"] = strings.Join(suggestions, ", ")
	}
	return n.Alert(ctx, Alert{
		Severity:  SeverityWarning,
		Title:     "Invalid TradingView username",
		Message:   "Transaction moved to manual review; the customer has been emailed.",
		Fields:    fields,
		CreatedAt: time.Now(),
	})
}

// Alert posts an embed to the webhook.
func (n *DiscordNotifier) Alert(ctx context.Context, alert Alert) error {
	if n.webhookURL == "" {
		return nil
	}

	if err := n.waitRateLimit(ctx); err != nil {
		return err
	}

	payload := discordWebhookPayload{
		Username: DiscordAuthor,
		Embeds:   []discordEmbed{buildEmbed(alert)},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal Discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create Discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Discord webhook: %w", err)
	}
	defer resp.Body.Close()

	n.mu.Lock()
	n.lastSent = time.Now()
	n.mu.Unlock()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("discord webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (n *DiscordNotifier) waitRateLimit(ctx context.Context) error {
	n.mu.Lock()
	wait := n.rateLimit - time.Since(n.lastSent)
	n.mu.Unlock()
	if wait <= 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildEmbed(alert Alert) discordEmbed {
	keys := make([]string, 0, len(alert.Fields))
	for k := range alert.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]discordEmbedField, 0, len(keys))
	for _, k := range keys {
		if v := alert.Fields[k]; v != "" {
			fields = append(fields, discordEmbedField{Name: k, Value: v, Inline: true})
		}
	}

	createdAt := alert.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return discordEmbed{
		Title:       alert.Title,
		Description: alert.Message,
		Color:       severityColor(alert.Severity),
		Timestamp:   createdAt.UTC().Format(time.RFC3339),
		Author:      discordEmbedAuthor{Name: DiscordAuthor},
		Fields:      fields,
	}
}

func severityColor(severity Severity) int {
	switch severity {
	case SeverityCritical:
		return 0xFF0000 // Red
	case SeverityWarning:
		return 0xFFA500 // Orange
	case SeverityInfo:
		return 0x3498DB // Blue
	default:
		return 0x95A5A6 // Gray
	}
}

type discordWebhookPayload struct {
	Username string         `json:"username,omitempty"`
	Content  string         `json:"content,omitempty"`
	Embeds   []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
	Author      discordEmbedAuthor  `json:"author"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
}

type discordEmbedAuthor struct {
	Name string `json:"name"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}
