// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/accessync/internal/logging"
	"github.com/tomtom215/accessync/internal/models"
)

// InvalidUsernameSubject is the subject line of the invalid-username email.
const InvalidUsernameSubject = "Action needed: update your TradingView username"

var invalidUsernameTemplate = template.Must(template.New("invalid_username").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; background: #f5f5fa; padding: 24px;">
<div style="max-width: 560px; margin: 0 auto; background: #ffffff; padding: 24px; border-radius: 8px;">
<h2 style="color: #160c66;">We could not find your TradingView account</h2>
<p style="color: #160c66; font-size: 15px;">Hi{{if .DisplayName}} {{.DisplayName}}{{end}},</p>
<p style="color: #160c66; font-size: 15px;">Thanks for your purchase. We tried to give <strong>{{.Username}}</strong> access to your indicators, but TradingView does not recognise that username.</p>
{{- if .Suggestions}}
<h3 style="color: #ff8f0f; font-size: 20px;">Did you mean?</h3>
<ul style="color: #160c66; font-size: 15px; padding-left: 20px;">
{{- range .Suggestions}}
<li><strong>{{.}}</strong></li>
{{- end}}
</ul>
{{- else}}
<p style="color: #160c66; font-size: 15px;">TradingView did not return any suggestions for the username you entered.</p>
{{- end}}
<p style="color: #160c66; font-size: 15px;">Please update your TradingView username in your account profile and reply to this email. Your access will be granted as soon as it is corrected.</p>
</div>
</body>
</html>
`))

type invalidUsernameData struct {
	Username    string
	DisplayName string
	Suggestions []string
}

// RenderInvalidUsername renders the HTML body of the invalid-username email.
func RenderInvalidUsername(txn *models.Transaction, suggestions []string) (string, error) {
	var buf bytes.Buffer
	err := invalidUsernameTemplate.Execute(&buf, invalidUsernameData{
		Username:    txn.Username,
		DisplayName: txn.DisplayName,
		Suggestions: suggestions,
	})
	if err != nil {
		return "", fmt.Errorf("render invalid username email: %w", err)
	}
	return buf.String(), nil
}

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	BCC      []string
	UseTLS   bool
	Timeout  time.Duration
}

// EmailNotifier sends customer emails over SMTP.
type EmailNotifier struct {
	cfg EmailConfig
}

// NewEmailNotifier creates an SMTP notifier.
func NewEmailNotifier(cfg EmailConfig) *EmailNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.FromName == "" {
		cfg.FromName = "Access Sync"
	}
	return &EmailNotifier{cfg: cfg}
}

// Name returns the channel name.
func (n *EmailNotifier) Name() string {
	return "email"
}

// SendInvalidUsername emails the customer the suggestions the provider returned.
func (n *EmailNotifier) SendInvalidUsername(ctx context.Context, txn *models.Transaction, suggestions []string) error {
	addr, err := mail.ParseAddress(txn.Email)
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", txn.Email, err)
	}

	body, err := RenderInvalidUsername(txn, suggestions)
	if err != nil {
		return err
	}

	msg := n.buildMessage(addr.Address, InvalidUsernameSubject, body)
	recipients := append([]string{addr.Address}, n.cfg.BCC...)
	if err := n.send(ctx, recipients, msg); err != nil {
		return err
	}

	logging.Ctx(ctx).Info().
		Str("to", addr.Address).
		Int("bcc", len(n.cfg.BCC)).
		Str("transaction_id", txn.ID).
		Msg("Sent invalid username email")
	return nil
}

// Alert is not delivered by email.
func (n *EmailNotifier) Alert(context.Context, Alert) error {
	return nil
}

// buildMessage constructs the message with headers. BCC recipients only
// appear in the envelope.
func (n *EmailNotifier) buildMessage(to, subject, htmlBody string) []byte {
	from := mail.Address{Name: n.cfg.FromName, Address: n.cfg.From}

	var msg strings.Builder
	msg.WriteString("From: " + from.String() + "\r\n")
	msg.WriteString("To: " + to + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)
	return []byte(msg.String())
}

func (n *EmailNotifier) send(ctx context.Context, recipients []string, msg []byte) error {
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))

	dialer := &net.Dialer{Timeout: n.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer func() { _ = conn.Close() }() //nolint:errcheck // Best effort cleanup

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline) //nolint:errcheck // Best effort
	}

	client, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer func() { _ = client.Close() }() //nolint:errcheck // Best effort cleanup

	if n.cfg.UseTLS {
		tlsConfig := &tls.Config{
			ServerName: n.cfg.Host,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if n.cfg.Username != "" && n.cfg.Password != "" {
		auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(n.cfg.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, rcpt := range recipients {
		if rcpt == "" {
			continue
		}
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", rcpt, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start message: %w", err)
	}
	if _, err := writer.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close message: %w", err)
	}

	// The message is accepted once DATA closes.
	_ = client.Quit() //nolint:errcheck // Best effort
	return nil
}
